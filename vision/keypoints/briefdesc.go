package keypoints

import (
	"image"
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// SamplePairs are N pairs of points used to create the BRIEF Descriptors of a patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs draws n point pairs from an isotropic gaussian with sigma patchSize/5,
// clamped to the patch.
func GenerateSamplePairs(rng *rand.Rand, n, patchSize int) *SamplePairs {
	half := patchSize / 2
	sigma := float64(patchSize) / 5
	sample := func() int {
		v := int(math.Round(rng.NormFloat64() * sigma))
		if v < -half {
			return -half
		}
		if v > half {
			return half
		}
		return v
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for len(p0) < n {
		a := image.Point{X: sample(), Y: sample()}
		b := image.Point{X: sample(), Y: sample()}
		if a == b {
			continue
		}
		p0 = append(p0, a)
		p1 = append(p1, b)
	}
	return &SamplePairs{P0: p0, P1: p1, N: n}
}

// BRIEFConfig stores the parameters.
type BRIEFConfig struct {
	// N is the number of bits and must be a multiple of 64.
	N              int     `json:"n"`
	PatchSize      int     `json:"patch_size"`
	UseOrientation bool    `json:"use_orientation"`
	BlurSigma      float64 `json:"blur_sigma"`
}

// DefaultBRIEFConfig returns 256 bit steered BRIEF over a 31 pixel patch.
func DefaultBRIEFConfig() *BRIEFConfig {
	return &BRIEFConfig{N: 256, PatchSize: 31, UseOrientation: true, BlurSigma: 2}
}

// Validate ensures all parts of the config are valid.
func (cfg *BRIEFConfig) Validate() error {
	if cfg.N <= 0 || cfg.N%64 != 0 {
		return errors.Errorf("brief n should be a positive multiple of 64, got %d", cfg.N)
	}
	if cfg.PatchSize < 5 {
		return errors.Errorf("brief patch_size should be at least 5, got %d", cfg.PatchSize)
	}
	if cfg.BlurSigma < 0 {
		return errors.Errorf("brief blur_sigma should not be negative, got %v", cfg.BlurSigma)
	}
	return nil
}

// margin is the distance from the image edge a keypoint needs for every sample to be inside.
func (cfg *BRIEFConfig) margin() int {
	half := float64(cfg.PatchSize / 2)
	if cfg.UseOrientation {
		half *= math.Sqrt2
	}
	return int(math.Ceil(half)) + 1
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on the smoothed image at keypoints given in
// that image's coordinates. Every keypoint must be at least cfg.margin() from the image edges.
func ComputeBRIEFDescriptors(smoothed *image.Gray, sp *SamplePairs, kps []image.Point, angles []float64, cfg *BRIEFConfig) [][]uint64 {
	descs := make([][]uint64, len(kps))
	for k, kp := range kps {
		cosTheta, sinTheta := 1.0, 0.0
		if cfg.UseOrientation && angles != nil {
			cosTheta = math.Cos(angles[k])
			sinTheta = math.Sin(angles[k])
		}
		descriptor := make([]uint64, sp.N/64)
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			p0Val := smoothed.Pix[(kp.Y+outy0)*smoothed.Stride+kp.X+outx0]
			p1Val := smoothed.Pix[(kp.Y+outy1)*smoothed.Stride+kp.X+outx1]
			if p0Val > p1Val {
				descriptor[i/64] |= 1 << (i % 64)
			}
		}
		descs[k] = descriptor
	}
	return descs
}
