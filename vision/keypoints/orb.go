package keypoints

import (
	"image"
	"math"
	"math/rand"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/rimage"
)

// ORBDetectorName is the registry name of the ORB detector.
const ORBDetectorName = "orb"

// orientationRadius is the radius of the disc used for intensity centroid orientation.
const orientationRadius = 15

// ORBConfig contains the parameters / configs needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor int          `json:"downscale_factor"`
	MaxKeypoints    int          `json:"max_keypoints"`
	Seed            int64        `json:"seed"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// DefaultORBConfig returns a three layer pyramid with up to 5000 keypoints.
func DefaultORBConfig() *ORBConfig {
	return &ORBConfig{
		Layers:          3,
		DownscaleFactor: 2,
		MaxKeypoints:    5000,
		Seed:            1,
		FastConf:        DefaultFASTConfig(),
		BRIEFConf:       DefaultBRIEFConfig(),
	}
}

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate(path string) error {
	if config.Layers < 1 {
		return utils.NewConfigValidationError(path, errors.New("n_layers should be >= 1"))
	}
	if config.DownscaleFactor <= 1 {
		return utils.NewConfigValidationError(path, errors.New("downscale_factor should be greater than 1"))
	}
	if config.MaxKeypoints <= 0 {
		return utils.NewConfigValidationError(path, errors.New("max_keypoints should be > 0"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	if err := config.FastConf.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if config.BRIEFConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "brief")
	}
	if err := config.BRIEFConf.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

type orbDetector struct {
	cfg         *ORBConfig
	samplePairs *SamplePairs
	mask        []int
}

// NewORBDetector returns a detector computing steered BRIEF descriptors at FAST corners over a
// scale pyramid.
func NewORBDetector(cfg *ORBConfig) (Detector, error) {
	if cfg == nil {
		cfg = DefaultORBConfig()
	}
	if err := cfg.Validate("features.orb"); err != nil {
		return nil, err
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &orbDetector{
		cfg:         cfg,
		samplePairs: GenerateSamplePairs(rng, cfg.BRIEFConf.N, cfg.BRIEFConf.PatchSize),
		mask:        circularMask(orientationRadius),
	}, nil
}

func (d *orbDetector) Name() string {
	return ORBDetectorName
}

func (d *orbDetector) Kind() DescriptorKind {
	return BinaryDescriptor
}

// imagePyramid returns the layers of img, each DownscaleFactor smaller than the previous, with
// their scale relative to the original. Layers too small to hold a keypoint are dropped.
func imagePyramid(img *image.Gray, layers, factor, minSize int) ([]*image.Gray, []float64) {
	images := []*image.Gray{img}
	scales := []float64{1}
	for i := 1; i < layers; i++ {
		scale := math.Pow(float64(factor), float64(i))
		w := int(float64(img.Bounds().Dx()) / scale)
		h := int(float64(img.Bounds().Dy()) / scale)
		if w < minSize || h < minSize {
			break
		}
		images = append(images, rimage.MakeGray(resize.Resize(uint(w), uint(h), img, resize.Bilinear)))
		scales = append(scales, scale)
	}
	return images, scales
}

func (d *orbDetector) Detect(img image.Image) (*Features, error) {
	gray := rimage.MakeGray(img)
	border := d.cfg.BRIEFConf.margin()
	if border < orientationRadius+1 {
		border = orientationRadius + 1
	}
	images, scales := imagePyramid(gray, d.cfg.Layers, d.cfg.DownscaleFactor, 2*border+1)

	features := &Features{Detector: ORBDetectorName, Kind: BinaryDescriptor}
	for layer, layerImg := range images {
		corners := detectFAST(layerImg, d.cfg.FastConf, border)
		if len(corners) == 0 {
			continue
		}
		smoothed := rimage.BlurGray(layerImg, d.cfg.BRIEFConf.BlurSigma)
		pts := make([]image.Point, len(corners))
		angles := make([]float64, len(corners))
		for i, c := range corners {
			pts[i] = image.Point{X: int(c.X), Y: int(c.Y)}
			angles[i] = intensityCentroidAngle(layerImg, pts[i].X, pts[i].Y, d.mask)
		}
		descs := ComputeBRIEFDescriptors(smoothed, d.samplePairs, pts, angles, d.cfg.BRIEFConf)
		scale := scales[layer]
		for i, c := range corners {
			features.KeyPoints = append(features.KeyPoints, KeyPoint{
				X:        c.X * scale,
				Y:        c.Y * scale,
				Size:     float64(d.cfg.BRIEFConf.PatchSize) * scale,
				Angle:    angles[i],
				Response: c.Response,
				Octave:   layer,
			})
			features.Binary = append(features.Binary, descs[i])
		}
	}
	keepStrongest(features, d.cfg.MaxKeypoints)
	return features, nil
}

// keepStrongest truncates features to the n keypoints with the highest response, preserving the
// relative order of the survivors.
func keepStrongest(features *Features, n int) {
	if features.Len() <= n {
		return
	}
	order := make([]int, features.Len())
	for i := range order {
		order[i] = i
	}
	kps := features.KeyPoints
	sortIndicesByResponse(order, kps)
	keep := make([]bool, len(kps))
	for _, idx := range order[:n] {
		keep[idx] = true
	}
	out := &Features{Detector: features.Detector, Kind: features.Kind}
	for i, k := range keep {
		if !k {
			continue
		}
		out.KeyPoints = append(out.KeyPoints, kps[i])
		if features.Float != nil {
			out.Float = append(out.Float, features.Float[i])
		}
		if features.Binary != nil {
			out.Binary = append(out.Binary, features.Binary[i])
		}
	}
	*features = *out
}
