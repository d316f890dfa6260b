package rimage

import (
	"bufio"
	"image"
	"image/color"
	"image/draw"
	// register jpeg decoder.
	_ "image/jpeg"
	// register png decoder.
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	_ "github.com/xfmoulet/qoi" // register qoi
	"go.viam.com/utils"
)

// ErrUndecodableImage is returned when an input cannot be decoded as a raster image.
var ErrUndecodableImage = errors.New("image cannot be decoded")

// ImageExtensions are the file extensions treated as raster inputs.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".ppm", ".qoi"}

// IsImageFile reports whether the path has a raster image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, known := range ImageExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// ReadImageFromFile decodes the image at path.
func ReadImageFromFile(path string) (*image.NRGBA, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, err := DecodeImage(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return img, nil
}

// DecodeImage decodes any registered image format and returns it as NRGBA so that pixel colors
// can be sampled without further conversion.
func DecodeImage(r io.Reader) (*image.NRGBA, error) {
	img, _, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(ErrUndecodableImage, err.Error())
	}
	if img.Bounds().Empty() {
		return nil, errors.Wrap(ErrUndecodableImage, "image has no pixels")
	}
	return ConvertToNRGBA(img), nil
}

// ConvertToNRGBA returns img as an NRGBA image whose bounds start at the origin.
func ConvertToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}

// MakeGray converts an image to 8-bit luminance.
func MakeGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// BlurGray applies a gaussian blur with the given sigma and returns luminance.
func BlurGray(img image.Image, sigma float64) *image.Gray {
	if sigma <= 0 {
		return MakeGray(img)
	}
	return MakeGray(imaging.Blur(img, sigma))
}

// ColorAt samples the color at (x, y), clamping the coordinates to the image bounds.
func ColorAt(img image.Image, x, y int) color.NRGBA {
	bounds := img.Bounds()
	x = clampInt(x+bounds.Min.X, bounds.Min.X, bounds.Max.X-1)
	y = clampInt(y+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y-1)
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba.NRGBAAt(x, y)
	}
	//nolint:forcetypeassert
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
