package transform

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// RansacConfig configures the robust model estimator.
type RansacConfig struct {
	// Threshold is the inlier distance in pixels.
	Threshold float64 `json:"threshold_px"`
	// Confidence is the probability that at least one all-inlier sample was drawn.
	Confidence    float64 `json:"confidence"`
	MaxIterations int     `json:"max_iterations"`
	Seed          int64   `json:"seed"`
}

// DefaultRansacConfig returns a 1 pixel threshold at 99.9% confidence.
func DefaultRansacConfig() RansacConfig {
	return RansacConfig{
		Threshold:     1.0,
		Confidence:    0.999,
		MaxIterations: 2000,
		Seed:          1,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *RansacConfig) Validate() error {
	if cfg.Threshold <= 0 {
		return errors.Errorf("ransac threshold must be positive, got %v", cfg.Threshold)
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return errors.Errorf("ransac confidence must be in (0, 1), got %v", cfg.Confidence)
	}
	if cfg.MaxIterations <= 0 {
		return errors.Errorf("ransac max_iterations must be positive, got %d", cfg.MaxIterations)
	}
	return nil
}

// ransacResult holds the best hypothesis found by ransac.
type ransacResult[M any] struct {
	model      M
	inliers    []bool
	numInliers int
}

// ransac runs a generic hypothesize-and-verify loop over n observations. fit builds a model from
// the sampled indices and reports false for degenerate samples; isInlier scores one observation.
// The iteration count adapts to the best inlier ratio seen so far.
func ransac[M any](
	n, sampleSize int,
	cfg RansacConfig,
	rng *rand.Rand,
	fit func(sample []int) (M, bool),
	isInlier func(model M, idx int) bool,
) (ransacResult[M], bool) {
	var best ransacResult[M]
	if n < sampleSize {
		return best, false
	}
	found := false
	sample := make([]int, sampleSize)
	maxIters := cfg.MaxIterations
	for iter := 0; iter < maxIters; iter++ {
		drawSample(rng, n, sample)
		model, ok := fit(sample)
		if !ok {
			continue
		}
		inliers := make([]bool, n)
		count := 0
		for i := 0; i < n; i++ {
			if isInlier(model, i) {
				inliers[i] = true
				count++
			}
		}
		if count < sampleSize || count <= best.numInliers {
			continue
		}
		best = ransacResult[M]{model: model, inliers: inliers, numInliers: count}
		found = true
		maxIters = adaptiveIterations(cfg.Confidence, float64(count)/float64(n), sampleSize, maxIters)
	}
	return best, found
}

// drawSample fills sample with distinct indices in [0, n).
func drawSample(rng *rand.Rand, n int, sample []int) {
	for i := range sample {
		for {
			candidate := rng.Intn(n)
			duplicate := false
			for _, prev := range sample[:i] {
				if prev == candidate {
					duplicate = true
					break
				}
			}
			if !duplicate {
				sample[i] = candidate
				break
			}
		}
	}
}

// adaptiveIterations returns the number of draws needed to pick one all-inlier sample with the
// given confidence, never more than the current bound.
func adaptiveIterations(confidence, inlierRatio float64, sampleSize, current int) int {
	if inlierRatio >= 1 {
		return 0
	}
	num := math.Log(1 - confidence)
	denom := math.Log(1 - math.Pow(inlierRatio, float64(sampleSize)))
	if denom >= 0 || math.IsNaN(denom) {
		return current
	}
	needed := num / denom
	if needed >= float64(current) {
		return current
	}
	return int(math.Ceil(needed))
}
