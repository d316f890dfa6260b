package keypoints

import (
	"image"
	"math"

	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"

	"github.com/photocloud/photocloud/rimage"
)

// HistogramDetectorName is the registry name of the gradient histogram detector.
const HistogramDetectorName = "histogram"

const (
	histogramCells     = 4
	histogramCellSize  = 4
	histogramBins      = 8
	histogramPatchHalf = histogramCells * histogramCellSize / 2
	// HistogramDescriptorSize is the length of a histogram descriptor.
	HistogramDescriptorSize = histogramCells * histogramCells * histogramBins
	orientationBins         = 36
	descriptorClip          = 0.2
)

// HistogramConfig contains the parameters of the histogram detector.
type HistogramConfig struct {
	Corners *CornerConfig `json:"corners"`
	// Oriented rotates each patch to its dominant gradient orientation before describing it.
	Oriented bool `json:"oriented"`
}

// DefaultHistogramConfig returns unoriented descriptors over the default corners.
func DefaultHistogramConfig() *HistogramConfig {
	return &HistogramConfig{Corners: DefaultCornerConfig()}
}

// Validate ensures all parts of the config are valid.
func (cfg *HistogramConfig) Validate(path string) error {
	if cfg.Corners == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "corners")
	}
	if err := cfg.Corners.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

type histogramDetector struct {
	cfg *HistogramConfig
}

// NewHistogramDetector returns a detector describing minimum eigenvalue corners with 128
// dimensional gradient orientation histograms.
func NewHistogramDetector(cfg *HistogramConfig) (Detector, error) {
	if cfg == nil {
		cfg = DefaultHistogramConfig()
	}
	if err := cfg.Validate("features.histogram"); err != nil {
		return nil, err
	}
	return &histogramDetector{cfg: cfg}, nil
}

func (d *histogramDetector) Name() string {
	return HistogramDetectorName
}

func (d *histogramDetector) Kind() DescriptorKind {
	return FloatDescriptor
}

// gradientField holds per pixel gradient magnitude and angle in [0, 2pi).
type gradientField struct {
	width, height int
	magnitude     []float64
	angle         []float64
}

func computeGradientField(img *floatImage) *gradientField {
	w, h := img.width, img.height
	field := &gradientField{width: w, height: h, magnitude: make([]float64, w*h), angle: make([]float64, w*h)}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			dx := img.at(x+1, y) - img.at(x-1, y)
			dy := img.at(x, y+1) - img.at(x, y-1)
			i := y*w + x
			field.magnitude[i] = math.Hypot(dx, dy)
			a := math.Atan2(dy, dx)
			if a < 0 {
				a += 2 * math.Pi
			}
			field.angle[i] = a
		}
	}
	return field
}

func (d *histogramDetector) Detect(img image.Image) (*Features, error) {
	smoothed := floatImageFromGray(rimage.BlurGray(img, d.cfg.Corners.BlurSigma))
	border := int(math.Ceil(histogramPatchHalf*math.Sqrt2)) + 2
	corners := detectCorners(smoothed, d.cfg.Corners, border)
	gradients := computeGradientField(smoothed)

	features := &Features{
		Detector:  HistogramDetectorName,
		Kind:      FloatDescriptor,
		KeyPoints: make([]KeyPoint, 0, len(corners)),
		Float:     make([][]float64, 0, len(corners)),
	}
	for _, c := range corners {
		x, y := int(c.X), int(c.Y)
		angle := 0.0
		if d.cfg.Oriented {
			angle = dominantOrientation(gradients, x, y)
		}
		c.Angle = angle
		c.Size = 2 * histogramPatchHalf
		features.KeyPoints = append(features.KeyPoints, c)
		features.Float = append(features.Float, describeHistogram(gradients, x, y, angle))
	}
	return features, nil
}

// dominantOrientation returns the peak of a gaussian weighted 36 bin orientation histogram around
// (x, y), refined by a parabola through the neighboring bins.
func dominantOrientation(g *gradientField, x, y int) float64 {
	var hist [orientationBins]float64
	sigma := float64(histogramPatchHalf) / 2
	for dy := -histogramPatchHalf; dy <= histogramPatchHalf; dy++ {
		for dx := -histogramPatchHalf; dx <= histogramPatchHalf; dx++ {
			px, py := x+dx, y+dy
			if px < 0 || py < 0 || px >= g.width || py >= g.height {
				continue
			}
			i := py*g.width + px
			weight := math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
			bin := int(g.angle[i]/(2*math.Pi)*orientationBins) % orientationBins
			hist[bin] += weight * g.magnitude[i]
		}
	}
	best := 0
	for i := range hist {
		if hist[i] > hist[best] {
			best = i
		}
	}
	left := hist[(best+orientationBins-1)%orientationBins]
	right := hist[(best+1)%orientationBins]
	offset := 0.0
	if denom := left - 2*hist[best] + right; denom != 0 {
		offset = 0.5 * (left - right) / denom
	}
	return (float64(best) + 0.5 + offset) * 2 * math.Pi / orientationBins
}

// describeHistogram builds a 4x4 grid of 8 bin gradient orientation histograms over the 16x16
// patch centered on (x, y), rotated by angle. The vector is L2 normalized, clipped at 0.2 and
// normalized again.
func describeHistogram(g *gradientField, x, y int, angle float64) []float64 {
	desc := make([]float64, HistogramDescriptorSize)
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	sigma := float64(histogramPatchHalf)
	for row := 0; row < 2*histogramPatchHalf; row++ {
		for col := 0; col < 2*histogramPatchHalf; col++ {
			ox := float64(col-histogramPatchHalf) + 0.5
			oy := float64(row-histogramPatchHalf) + 0.5
			px := x + int(math.Floor(cosA*ox-sinA*oy+0.5))
			py := y + int(math.Floor(sinA*ox+cosA*oy+0.5))
			if px < 0 || py < 0 || px >= g.width || py >= g.height {
				continue
			}
			i := py*g.width + px
			weight := math.Exp(-(ox*ox + oy*oy) / (2 * sigma * sigma))
			rel := g.angle[i] - angle
			for rel < 0 {
				rel += 2 * math.Pi
			}
			for rel >= 2*math.Pi {
				rel -= 2 * math.Pi
			}
			bin := rel / (2 * math.Pi) * histogramBins
			b0 := int(bin) % histogramBins
			frac := bin - math.Floor(bin)
			cell := (row/histogramCellSize)*histogramCells + col/histogramCellSize
			v := weight * g.magnitude[i]
			desc[cell*histogramBins+b0] += v * (1 - frac)
			desc[cell*histogramBins+(b0+1)%histogramBins] += v * frac
		}
	}
	normalizeDescriptor(desc)
	for i, v := range desc {
		if v > descriptorClip {
			desc[i] = descriptorClip
		}
	}
	normalizeDescriptor(desc)
	return desc
}

func normalizeDescriptor(desc []float64) {
	norm := floats.Norm(desc, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, desc)
}
