package imaging

import (
	"image"

	"github.com/compozy/animagen/engine/core"
	"golang.org/x/image/draw"
)

// CropFormat selects the aspect ratio of a crop-resize block.
type CropFormat string

const (
	CropSquare    CropFormat = "square"
	CropPortrait  CropFormat = "portrait"
	CropLandscape CropFormat = "landscape"
	CropOriginal  CropFormat = "original"
)

// MaxDimension bounds the long edge a crop-resize block may request.
const MaxDimension = 4096

func (f CropFormat) IsValid() bool {
	switch f {
	case CropSquare, CropPortrait, CropLandscape, CropOriginal:
		return true
	}
	return false
}

// ratio returns width and height units, or 0, 0 to keep the source aspect.
func (f CropFormat) ratio() (int, int) {
	switch f {
	case CropSquare:
		return 1, 1
	case CropPortrait:
		return 3, 4
	case CropLandscape:
		return 4, 3
	}
	return 0, 0
}

// CropResize center-crops buf to the aspect of format and scales it so that
// its long edge equals dimension. A non-positive dimension keeps the cropped
// size. The result is PNG encoded.
func CropResize(buf []byte, format CropFormat, dimension int) ([]byte, error) {
	if format == "" {
		format = CropOriginal
	}
	if !format.IsValid() {
		return nil, core.Errorf(core.ErrCodeInvalidConfig, "unknown crop format %q", format)
	}
	if dimension > MaxDimension {
		return nil, core.Errorf(core.ErrCodeInvalidConfig, "dimension %d exceeds the maximum of %d", dimension, MaxDimension)
	}
	src, _, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	crop := centerCrop(src.Bounds(), format)
	dw, dh := scaledSize(crop.Dx(), crop.Dy(), dimension)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return Encode(dst, FormatPNG)
}

func centerCrop(b image.Rectangle, format CropFormat) image.Rectangle {
	rw, rh := format.ratio()
	w, h := b.Dx(), b.Dy()
	if rw == 0 || w == 0 || h == 0 {
		return b
	}
	cw, ch := w, h
	if w*rh > h*rw {
		cw = h * rw / rh
	} else {
		ch = w * rh / rw
	}
	cw = max(cw, 1)
	ch = max(ch, 1)
	x0 := b.Min.X + (w-cw)/2
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

func scaledSize(w, h, dimension int) (int, int) {
	if dimension <= 0 || w == 0 || h == 0 {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return dimension, max((h*dimension+w/2)/w, 1)
	}
	return max((w*dimension+h/2)/h, 1), dimension
}
