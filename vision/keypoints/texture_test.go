package keypoints

import (
	"image"
	"math"
	"math/rand"
)

// blockTexture fills a width x height image with square blocks of random gray levels.
func blockTexture(width, height, block int, seed int64) *image.Gray {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for by := 0; by < height; by += block {
		for bx := 0; bx < width; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < by+block && y < height; y++ {
				for x := bx; x < bx+block && x < width; x++ {
					img.Pix[y*img.Stride+x] = v
				}
			}
		}
	}
	return img
}

// cropColumns copies the columns [x0, x0+width) of img into a new image.
func cropColumns(img *image.Gray, x0, width int) *image.Gray {
	height := img.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+width], img.Pix[y*img.Stride+x0:y*img.Stride+x0+width])
	}
	return out
}

// shiftedPair returns two 640x480 views of the same texture, the second showing the content 20
// pixels further right.
func shiftedPair() (*image.Gray, *image.Gray) {
	canvas := blockTexture(660, 480, 8, 42)
	return cropColumns(canvas, 20, 640), cropColumns(canvas, 0, 640)
}

// shiftConsistency returns the fraction of matches displaced by (dx, 0) within a pixel.
func shiftConsistency(matches []Match, query, train *Features, dx float64) float64 {
	if len(matches) == 0 {
		return 0
	}
	good := 0
	for _, m := range matches {
		p1 := query.KeyPoints[m.QueryIdx]
		p2 := train.KeyPoints[m.TrainIdx]
		if math.Abs(p2.X-p1.X-dx) <= 1 && math.Abs(p2.Y-p1.Y) <= 1 {
			good++
		}
	}
	return float64(good) / float64(len(matches))
}
