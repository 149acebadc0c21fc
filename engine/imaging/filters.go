package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/compozy/animagen/engine/core"
	"golang.org/x/image/draw"
)

const (
	FilterGrayscale  = "grayscale"
	FilterSepia      = "sepia"
	FilterBrightness = "brightness"
	FilterContrast   = "contrast"
	FilterInvert     = "invert"
)

// Filter is one step of a filters block. Amount is used by brightness and
// contrast and ranges from -1 to 1.
type Filter struct {
	Name   string  `json:"name"             yaml:"name"             mapstructure:"name"`
	Amount float64 `json:"amount,omitempty" yaml:"amount,omitempty" mapstructure:"amount"`
}

func (f Filter) Validate() error {
	switch strings.ToLower(f.Name) {
	case FilterGrayscale, FilterSepia, FilterInvert:
		return nil
	case FilterBrightness, FilterContrast:
		if f.Amount < -1 || f.Amount > 1 {
			return fmt.Errorf("filter %s: amount %v out of range [-1, 1]", f.Name, f.Amount)
		}
		return nil
	}
	return fmt.Errorf("unknown filter %q", f.Name)
}

type pixelFunc func(r, g, b float64) (float64, float64, float64)

func (f Filter) pixelFunc() pixelFunc {
	switch strings.ToLower(f.Name) {
	case FilterGrayscale:
		return func(r, g, b float64) (float64, float64, float64) {
			l := 0.299*r + 0.587*g + 0.114*b
			return l, l, l
		}
	case FilterSepia:
		return func(r, g, b float64) (float64, float64, float64) {
			return 0.393*r + 0.769*g + 0.189*b,
				0.349*r + 0.686*g + 0.168*b,
				0.272*r + 0.534*g + 0.131*b
		}
	case FilterBrightness:
		factor := 1 + f.Amount
		return func(r, g, b float64) (float64, float64, float64) {
			return r * factor, g * factor, b * factor
		}
	case FilterContrast:
		factor := 1 + f.Amount
		return func(r, g, b float64) (float64, float64, float64) {
			return (r-128)*factor + 128, (g-128)*factor + 128, (b-128)*factor + 128
		}
	case FilterInvert:
		return func(r, g, b float64) (float64, float64, float64) {
			return 255 - r, 255 - g, 255 - b
		}
	}
	return nil
}

// ApplyFilters runs filters in order over buf and returns a PNG. An empty
// filter list returns buf unchanged.
func ApplyFilters(buf []byte, filters []Filter) ([]byte, error) {
	if len(filters) == 0 {
		return buf, nil
	}
	funcs := make([]pixelFunc, 0, len(filters))
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, core.NewError(err, core.ErrCodeInvalidConfig, map[string]any{"filter": f.Name})
		}
		funcs = append(funcs, f.pixelFunc())
	}
	src, _, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	for y := 0; y < img.Rect.Dy(); y++ {
		for x := 0; x < img.Rect.Dx(); x++ {
			c := img.NRGBAAt(x, y)
			r, g, bl := float64(c.R), float64(c.G), float64(c.B)
			for _, fn := range funcs {
				r, g, bl = fn(r, g, bl)
			}
			img.SetNRGBA(x, y, color.NRGBA{R: clamp(r), G: clamp(g), B: clamp(bl), A: c.A})
		}
	}
	return Encode(img, FormatPNG)
}

func clamp(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
