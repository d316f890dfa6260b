package keypoints

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/rimage"
)

// DefaultDetectorName is the detector used when none is configured.
const DefaultDetectorName = HistogramDetectorName

// Detector finds keypoints in an image and describes them. A detector always produces
// descriptors of a single DescriptorKind.
type Detector interface {
	Name() string
	Kind() DescriptorKind
	// Detect returns the keypoints of img. An image without texture yields empty Features.
	Detect(img image.Image) (*Features, error)
}

// Config selects a detector and carries the parameters of the built-in ones.
type Config struct {
	Detector  string           `json:"detector"`
	ORB       *ORBConfig       `json:"orb,omitempty"`
	Histogram *HistogramConfig `json:"histogram,omitempty"`
}

// DefaultConfig returns the histogram detector with default parameters for every family.
func DefaultConfig() *Config {
	return &Config{
		Detector:  DefaultDetectorName,
		ORB:       DefaultORBConfig(),
		Histogram: DefaultHistogramConfig(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Detector == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "detector")
	}
	if !IsRegistered(cfg.Detector) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown detector %q, available: %v", cfg.Detector, RegisteredDetectors()))
	}
	if cfg.ORB != nil {
		if err := cfg.ORB.Validate(path + ".orb"); err != nil {
			return err
		}
	}
	if cfg.Histogram != nil {
		if err := cfg.Histogram.Validate(path + ".histogram"); err != nil {
			return err
		}
	}
	return nil
}

// Constructor builds a detector from the feature configuration.
type Constructor func(cfg *Config) (Detector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// RegisterDetector makes a detector available by name. It panics when the name is taken.
func RegisterDetector(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(errors.Errorf("detector %q registered twice", name))
	}
	registry[name] = constructor
}

// IsRegistered reports whether a detector with this name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// RegisteredDetectors returns the sorted names of all registered detectors.
func RegisteredDetectors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDetector constructs the detector named by cfg.Detector.
func NewDetector(cfg *Config) (Detector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	name := cfg.Detector
	if name == "" {
		name = DefaultDetectorName
	}
	registryMu.RLock()
	constructor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown detector %q, available: %v", name, RegisteredDetectors())
	}
	return constructor(cfg)
}

func init() {
	RegisterDetector(ORBDetectorName, func(cfg *Config) (Detector, error) {
		return NewORBDetector(cfg.ORB)
	})
	RegisterDetector(HistogramDetectorName, func(cfg *Config) (Detector, error) {
		return NewHistogramDetector(cfg.Histogram)
	})
}

// ExtractFromFile decodes the image at path and runs det on it. Decoding failures wrap
// rimage.ErrUndecodableImage.
func ExtractFromFile(path string, det Detector) (*Features, *image.NRGBA, error) {
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, nil, err
	}
	features, err := det.Detect(img)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "detecting %s features in %s", det.Name(), path)
	}
	return features, img, nil
}
