package reconstruction

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// blockCanvas fills an image with square blocks of random colors.
func blockCanvas(width, height, block int, seed int64) *image.NRGBA {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for by := 0; by < height; by += block {
		for bx := 0; bx < width; bx += block {
			c := color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
			for y := by; y < by+block && y < height; y++ {
				for x := bx; x < bx+block && x < width; x++ {
					img.SetNRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

func crop(img *image.NRGBA, x0, width int) *image.NRGBA {
	//nolint:forcetypeassert
	sub := img.SubImage(image.Rect(x0, 0, x0+width, img.Bounds().Dy())).(*image.NRGBA)
	out := image.NewNRGBA(image.Rect(0, 0, width, img.Bounds().Dy()))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < width; x++ {
			out.SetNRGBA(x, y, sub.NRGBAAt(x0+x, y))
		}
	}
	return out
}

func writePNG(t *testing.T, path string, img image.Image) string {
	t.Helper()
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, img), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
	return path
}

// writeShiftedPair writes two 640x480 views of a textured plane. The content of the second view
// sits 20 pixels further right than in the first.
func writeShiftedPair(t *testing.T, dir string) []string {
	t.Helper()
	canvas := blockCanvas(660, 480, 8, 11)
	return []string{
		writePNG(t, filepath.Join(dir, "left.png"), crop(canvas, 20, 640)),
		writePNG(t, filepath.Join(dir, "right.png"), crop(canvas, 0, 640)),
	}
}

func writeFlat(t *testing.T, path string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return writePNG(t, path, img)
}
