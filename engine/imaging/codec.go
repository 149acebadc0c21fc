package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/compozy/animagen/engine/core"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp" // registers the webp decoder
)

// Format is an encoded image format name as reported by image.Decode.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
)

const jpegQuality = 90

// MIME returns the content type of the format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the file extension, dot included, for an image content
// type. Unknown types map to .png.
func Extension(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".png"
}

// Decode parses buf as png, jpeg, gif or webp.
func Decode(buf []byte) (image.Image, Format, error) {
	if len(buf) == 0 {
		return nil, "", core.Errorf(core.ErrCodeImageProcessing, "empty image buffer")
	}
	mt := mimetype.Detect(buf)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, "", core.Errorf(core.ErrCodeImageProcessing, "unsupported content type %s", mt.String())
	}
	img, name, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, "", core.NewError(
			fmt.Errorf("failed to decode %s image: %w", mt.String(), err),
			core.ErrCodeImageProcessing,
			map[string]any{"mime": mt.String()},
		)
	}
	return img, Format(name), nil
}

// Encode serializes img. webp has no encoder and falls back to png.
func Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, core.NewError(
			fmt.Errorf("failed to encode %s image: %w", format, err),
			core.ErrCodeImageProcessing,
			nil,
		)
	}
	return buf.Bytes(), nil
}
