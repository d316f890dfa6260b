package keypoints

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// CornerConfig holds the parameters of the minimum eigenvalue corner detector.
type CornerConfig struct {
	// QualityLevel discards corners weaker than this fraction of the strongest one.
	QualityLevel float64 `json:"quality_level"`
	// MinDistance is the smallest allowed distance in pixels between two corners.
	MinDistance  float64 `json:"min_distance"`
	MaxKeypoints int     `json:"max_keypoints"`
	// BlockSize is the side of the window over which gradients are accumulated.
	BlockSize int     `json:"block_size"`
	BlurSigma float64 `json:"blur_sigma"`
}

// DefaultCornerConfig returns the corner parameters used by the histogram detector.
func DefaultCornerConfig() *CornerConfig {
	return &CornerConfig{
		QualityLevel: 0.01,
		MinDistance:  4,
		MaxKeypoints: 1500,
		BlockSize:    5,
		BlurSigma:    1,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *CornerConfig) Validate() error {
	if cfg.QualityLevel <= 0 || cfg.QualityLevel >= 1 {
		return errors.Errorf("corner quality_level should be in (0, 1), got %v", cfg.QualityLevel)
	}
	if cfg.MinDistance < 0 {
		return errors.Errorf("corner min_distance should not be negative, got %v", cfg.MinDistance)
	}
	if cfg.MaxKeypoints <= 0 {
		return errors.Errorf("corner max_keypoints should be > 0, got %d", cfg.MaxKeypoints)
	}
	if cfg.BlockSize < 3 || cfg.BlockSize%2 == 0 {
		return errors.Errorf("corner block_size should be an odd number >= 3, got %d", cfg.BlockSize)
	}
	return nil
}

// floatImage is a row-major single channel image of float64.
type floatImage struct {
	width, height int
	data          []float64
}

func newFloatImage(width, height int) *floatImage {
	return &floatImage{width: width, height: height, data: make([]float64, width*height)}
}

func floatImageFromGray(img *image.Gray) *floatImage {
	b := img.Bounds()
	out := newFloatImage(b.Dx(), b.Dy())
	for y := 0; y < out.height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+out.width]
		for x, v := range row {
			out.data[y*out.width+x] = float64(v)
		}
	}
	return out
}

func (f *floatImage) at(x, y int) float64 {
	return f.data[y*f.width+x]
}

// sobel returns the horizontal and vertical Sobel derivatives. Edge pixels are left at zero.
func sobel(img *floatImage) (*floatImage, *floatImage) {
	gx := newFloatImage(img.width, img.height)
	gy := newFloatImage(img.width, img.height)
	for y := 1; y < img.height-1; y++ {
		for x := 1; x < img.width-1; x++ {
			tl, tc, tr := img.at(x-1, y-1), img.at(x, y-1), img.at(x+1, y-1)
			ml, mr := img.at(x-1, y), img.at(x+1, y)
			bl, bc, br := img.at(x-1, y+1), img.at(x, y+1), img.at(x+1, y+1)
			gx.data[y*img.width+x] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy.data[y*img.width+x] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}
	return gx, gy
}

// boxSum replaces every pixel by the sum over the (2*half+1)^2 window around it, using a summed
// area table. Windows are clipped at the edges.
func boxSum(img *floatImage, half int) *floatImage {
	w, h := img.width, img.height
	table := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		rowSum := 0.0
		for x := 0; x < w; x++ {
			rowSum += img.at(x, y)
			table[(y+1)*(w+1)+x+1] = table[y*(w+1)+x+1] + rowSum
		}
	}
	out := newFloatImage(w, h)
	for y := 0; y < h; y++ {
		y0, y1 := maxInt(y-half, 0), minInt(y+half+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := maxInt(x-half, 0), minInt(x+half+1, w)
			out.data[y*w+x] = table[y1*(w+1)+x1] - table[y0*(w+1)+x1] - table[y1*(w+1)+x0] + table[y0*(w+1)+x0]
		}
	}
	return out
}

// minEigenResponse computes the smaller eigenvalue of the gradient structure tensor at each pixel.
func minEigenResponse(gx, gy *floatImage, blockSize int) *floatImage {
	w, h := gx.width, gx.height
	xx, xy, yy := newFloatImage(w, h), newFloatImage(w, h), newFloatImage(w, h)
	for i := range gx.data {
		dx, dy := gx.data[i], gy.data[i]
		xx.data[i] = dx * dx
		xy.data[i] = dx * dy
		yy.data[i] = dy * dy
	}
	half := blockSize / 2
	a, b, c := boxSum(xx, half), boxSum(xy, half), boxSum(yy, half)
	out := newFloatImage(w, h)
	for i := range out.data {
		mean := (a.data[i] + c.data[i]) / 2
		diff := (a.data[i] - c.data[i]) / 2
		out.data[i] = mean - math.Sqrt(diff*diff+b.data[i]*b.data[i])
	}
	return out
}

// detectCorners returns minimum eigenvalue corners of the smoothed image at least border pixels
// from its edges, strongest first, spaced by at least cfg.MinDistance.
func detectCorners(smoothed *floatImage, cfg *CornerConfig, border int) []KeyPoint {
	w, h := smoothed.width, smoothed.height
	if w <= 2*border || h <= 2*border {
		return nil
	}
	gx, gy := sobel(smoothed)
	response := minEigenResponse(gx, gy, cfg.BlockSize)

	maxResponse := 0.0
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			maxResponse = math.Max(maxResponse, response.at(x, y))
		}
	}
	if maxResponse <= 0 {
		return nil
	}
	threshold := cfg.QualityLevel * maxResponse

	candidates := make([]KeyPoint, 0)
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			v := response.at(x, y)
			if v < threshold || !isLocalMaxFloat(response, x, y) {
				continue
			}
			candidates = append(candidates, KeyPoint{X: float64(x), Y: float64(y), Response: v})
		}
	}
	sortByResponse(candidates)
	return spaceOut(candidates, cfg.MinDistance, cfg.MaxKeypoints, w, h)
}

// isLocalMaxFloat reports whether (x, y) is the maximum of its 3x3 neighborhood. Ties are broken in
// favor of the first pixel in raster order.
func isLocalMaxFloat(img *floatImage, x, y int) bool {
	v := img.at(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			other := img.at(x+dx, y+dy)
			before := dy < 0 || (dy == 0 && dx < 0)
			if other > v || (before && other == v) {
				return false
			}
		}
	}
	return true
}

// spaceOut greedily accepts keypoints in order, skipping any closer than minDistance to an
// accepted one, until maxCount are accepted.
func spaceOut(kps []KeyPoint, minDistance float64, maxCount, width, height int) []KeyPoint {
	if minDistance < 1 {
		if len(kps) > maxCount {
			return kps[:maxCount]
		}
		return kps
	}
	cell := minDistance
	cols := int(math.Ceil(float64(width)/cell)) + 1
	rows := int(math.Ceil(float64(height)/cell)) + 1
	grid := make([][]KeyPoint, cols*rows)
	minDistSq := minDistance * minDistance
	out := make([]KeyPoint, 0, minInt(len(kps), maxCount))
	for _, kp := range kps {
		cx, cy := int(kp.X/cell), int(kp.Y/cell)
		tooClose := false
		for ny := maxInt(cy-1, 0); ny <= minInt(cy+1, rows-1) && !tooClose; ny++ {
			for nx := maxInt(cx-1, 0); nx <= minInt(cx+1, cols-1) && !tooClose; nx++ {
				for _, other := range grid[ny*cols+nx] {
					dx, dy := other.X-kp.X, other.Y-kp.Y
					if dx*dx+dy*dy < minDistSq {
						tooClose = true
						break
					}
				}
			}
		}
		if tooClose {
			continue
		}
		grid[cy*cols+cx] = append(grid[cy*cols+cx], kp)
		out = append(out, kp)
		if len(out) == maxCount {
			break
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
