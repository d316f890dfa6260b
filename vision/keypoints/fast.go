package keypoints

import (
	"image"
	"sort"

	"github.com/pkg/errors"
)

// FASTConfig holds the parameters of the FAST corner detector.
type FASTConfig struct {
	// Threshold is the intensity difference for a circle pixel to count as brighter or darker.
	Threshold int `json:"threshold"`
	// NMatchesCircle is the number of contiguous circle pixels needed for a corner.
	NMatchesCircle int `json:"n_matches"`
	// NMSWinSize is the side of the non maximum suppression window.
	NMSWinSize int `json:"nms_win_size"`
}

// DefaultFASTConfig returns FAST-9 with a threshold of 20 and 3x3 suppression.
func DefaultFASTConfig() *FASTConfig {
	return &FASTConfig{Threshold: 20, NMatchesCircle: 9, NMSWinSize: 3}
}

// Validate ensures all parts of the config are valid.
func (cfg *FASTConfig) Validate() error {
	if cfg.Threshold <= 0 || cfg.Threshold > 255 {
		return errors.Errorf("fast threshold should be in (0, 255], got %d", cfg.Threshold)
	}
	if cfg.NMatchesCircle < 1 || cfg.NMatchesCircle > len(CircleIdx) {
		return errors.Errorf("fast n_matches should be in [1, %d], got %d", len(CircleIdx), cfg.NMatchesCircle)
	}
	if cfg.NMSWinSize < 1 || cfg.NMSWinSize%2 == 0 {
		return errors.Errorf("fast nms_win_size should be a positive odd number, got %d", cfg.NMSWinSize)
	}
	return nil
}

// CircleIdx is the Bresenham circle of radius 3 around a candidate pixel, in order.
var CircleIdx = []image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// hasContiguousArc reports whether flags holds at least n consecutive set entries, wrapping around.
func hasContiguousArc(flags []bool, n int) bool {
	run := 0
	size := len(flags)
	for i := 0; i < 2*size; i++ {
		if flags[i%size] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// fastScore returns the corner score of (x, y), or 0 if the pixel is not a corner. The score is the
// summed absolute difference beyond the threshold over the brighter or darker circle pixels,
// whichever is larger.
func fastScore(img *image.Gray, x, y int, cfg *FASTConfig) int {
	center := int(img.Pix[y*img.Stride+x])
	var brighter, darker [16]bool
	brightSum, darkSum := 0, 0
	for i, off := range CircleIdx {
		v := int(img.Pix[(y+off.Y)*img.Stride+x+off.X])
		switch {
		case v > center+cfg.Threshold:
			brighter[i] = true
			brightSum += v - center - cfg.Threshold
		case v < center-cfg.Threshold:
			darker[i] = true
			darkSum += center - v - cfg.Threshold
		}
	}
	isCorner := hasContiguousArc(brighter[:], cfg.NMatchesCircle) || hasContiguousArc(darker[:], cfg.NMatchesCircle)
	if !isCorner {
		return 0
	}
	if brightSum > darkSum {
		return brightSum
	}
	return darkSum
}

// detectFAST returns the FAST corners of img that lie at least border pixels from its edges,
// strongest first.
func detectFAST(img *image.Gray, cfg *FASTConfig, border int) []KeyPoint {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if border < 3 {
		border = 3
	}
	if width <= 2*border || height <= 2*border {
		return nil
	}
	scores := make([]int, width*height)
	for y := border; y < height-border; y++ {
		for x := border; x < width-border; x++ {
			scores[y*width+x] = fastScore(img, x, y, cfg)
		}
	}

	half := cfg.NMSWinSize / 2
	kps := make([]KeyPoint, 0)
	for y := border; y < height-border; y++ {
		for x := border; x < width-border; x++ {
			s := scores[y*width+x]
			if s == 0 || !isLocalMaxInt(scores, width, height, x, y, half) {
				continue
			}
			kps = append(kps, KeyPoint{X: float64(x), Y: float64(y), Response: float64(s)})
		}
	}
	sortByResponse(kps)
	return kps
}

// isLocalMaxInt reports whether the value at (x, y) is the maximum of its window. Ties are broken
// in favor of the first pixel in raster order.
func isLocalMaxInt(values []int, width, height, x, y, half int) bool {
	v := values[y*width+x]
	for dy := -half; dy <= half; dy++ {
		ny := y + dy
		if ny < 0 || ny >= height {
			continue
		}
		for dx := -half; dx <= half; dx++ {
			nx := x + dx
			if nx < 0 || nx >= width || (dx == 0 && dy == 0) {
				continue
			}
			other := values[ny*width+nx]
			before := dy < 0 || (dy == 0 && dx < 0)
			if other > v || (before && other == v) {
				return false
			}
		}
	}
	return true
}

// sortByResponse orders keypoints strongest first, keeping raster order among equals.
func sortByResponse(kps []KeyPoint) {
	sort.SliceStable(kps, func(i, j int) bool {
		return kps[i].Response > kps[j].Response
	})
}

// sortIndicesByResponse orders indices into kps strongest first, keeping index order among equals.
func sortIndicesByResponse(order []int, kps []KeyPoint) {
	sort.SliceStable(order, func(i, j int) bool {
		return kps[order[i]].Response > kps[order[j]].Response
	})
}
