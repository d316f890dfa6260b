package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// DepthField is a dense per-pixel relative depth map stored in row-major order. Values produced by
// depth predictors are normalized into [0, 1] and are assumed to be inversely proportional to
// distance.
type DepthField struct {
	width  int
	height int
	data   []float64
}

// NewDepthField returns a zero-filled field.
func NewDepthField(width, height int) *DepthField {
	return &DepthField{width: width, height: height, data: make([]float64, width*height)}
}

// NewDepthFieldFromData wraps data, which must hold exactly width*height values.
func NewDepthFieldFromData(width, height int, data []float64) (*DepthField, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth field size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("depth field %dx%d needs %d values, got %d", width, height, width*height, len(data))
	}
	return &DepthField{width: width, height: height, data: data}, nil
}

// NewDepthFieldFromGray builds a field from a grayscale raster, scaling intensities into [0, 1].
func NewDepthFieldFromGray(img image.Image) *DepthField {
	bounds := img.Bounds()
	df := NewDepthField(bounds.Dx(), bounds.Dy())
	for y := 0; y < df.height; y++ {
		for x := 0; x < df.width; x++ {
			//nolint:forcetypeassert
			g := color.Gray16Model.Convert(img.At(x+bounds.Min.X, y+bounds.Min.Y)).(color.Gray16)
			df.data[y*df.width+x] = float64(g.Y) / math.MaxUint16
		}
	}
	return df
}

// Width returns the horizontal size.
func (df *DepthField) Width() int {
	return df.width
}

// Height returns the vertical size.
func (df *DepthField) Height() int {
	return df.height
}

// Bounds returns the field's rectangle.
func (df *DepthField) Bounds() image.Rectangle {
	return image.Rect(0, 0, df.width, df.height)
}

// At returns the value at (x, y).
func (df *DepthField) At(x, y int) float64 {
	return df.data[y*df.width+x]
}

// Set stores the value at (x, y).
func (df *DepthField) Set(x, y int, v float64) {
	df.data[y*df.width+x] = v
}

// MinMax returns the smallest and largest finite values.
func (df *DepthField) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range df.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Normalize rescales the field in place so its finite values span [0, 1]. Non-finite values
// become 0. A flat field has no range to stretch, so its values are clamped into [0, 1] instead.
func (df *DepthField) Normalize() {
	lo, hi := df.MinMax()
	span := hi - lo
	for i, v := range df.data {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			df.data[i] = 0
		case span > 1e-12:
			df.data[i] = (v - lo) / span
		default:
			df.data[i] = math.Max(0, math.Min(1, v))
		}
	}
}

// Resize returns the field resampled to width x height with bilinear interpolation on pixel
// centers.
func (df *DepthField) Resize(width, height int) *DepthField {
	if width == df.width && height == df.height {
		out := NewDepthField(width, height)
		copy(out.data, df.data)
		return out
	}
	out := NewDepthField(width, height)
	scaleX := float64(df.width) / float64(width)
	scaleY := float64(df.height) / float64(height)
	for y := 0; y < height; y++ {
		sy := clampFloat((float64(y)+0.5)*scaleY-0.5, 0, float64(df.height-1))
		y0 := int(sy)
		y1 := minInt(y0+1, df.height-1)
		fy := sy - float64(y0)
		for x := 0; x < width; x++ {
			sx := clampFloat((float64(x)+0.5)*scaleX-0.5, 0, float64(df.width-1))
			x0 := int(sx)
			x1 := minInt(x0+1, df.width-1)
			fx := sx - float64(x0)
			top := df.At(x0, y0)*(1-fx) + df.At(x1, y0)*fx
			bottom := df.At(x0, y1)*(1-fx) + df.At(x1, y1)*fx
			out.data[y*width+x] = top*(1-fy) + bottom*fy
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
