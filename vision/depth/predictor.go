// Package depth provides monocular relative depth predictors. A predictor maps an image to a
// dense field whose values grow as surfaces get closer to the camera.
package depth

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/rimage"
)

// ErrPredictionFailed is wrapped by every predictor failure.
var ErrPredictionFailed = errors.New("depth prediction failed")

// Predictor names.
const (
	GradientPredictorName = "gradient"
	FilePredictorName     = "file"
	ConstantPredictorName = "constant"
)

// FileSuffix is appended to an input's base name to find its precomputed depth image.
const FileSuffix = ".depth.png"

// Predictor estimates the relative depth of an image. path names the file img was decoded
// from and may be empty.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, path string, img image.Image) (*rimage.DepthField, error)
}

// Config selects a predictor.
type Config struct {
	Predictor string `json:"predictor"`
	// Value is the relative depth produced by the constant predictor.
	Value float64 `json:"value,omitempty"`
}

// DefaultConfig returns the gradient predictor.
func DefaultConfig() *Config {
	return &Config{Predictor: GradientPredictorName}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	switch cfg.Predictor {
	case GradientPredictorName, FilePredictorName:
	case ConstantPredictorName:
		if cfg.Value < 0 || cfg.Value > 1 {
			return utils.NewConfigValidationError(path, errors.Errorf("constant value should be in [0, 1], got %v", cfg.Value))
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "predictor")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown depth predictor %q", cfg.Predictor))
	}
	return nil
}

// NewPredictor builds the predictor named by cfg.
func NewPredictor(cfg *Config, logger logging.Logger) (Predictor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate("monocular.depth"); err != nil {
		return nil, err
	}
	switch cfg.Predictor {
	case FilePredictorName:
		return &filePredictor{logger: logger}, nil
	case ConstantPredictorName:
		return NewConstantPredictor(cfg.Value), nil
	default:
		return gradientPredictor{}, nil
	}
}

// gradientPredictor assumes the scene recedes toward the top-left corner: relative depth grows
// linearly with (x + y) / 2.
type gradientPredictor struct{}

func (gradientPredictor) Name() string {
	return GradientPredictorName
}

func (gradientPredictor) Predict(ctx context.Context, _ string, img image.Image) (*rimage.DepthField, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrPredictionFailed, err.Error())
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrap(ErrPredictionFailed, "empty image")
	}
	field := rimage.NewDepthField(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			field.Set(x, y, float64(x+y)/2)
		}
	}
	field.Normalize()
	return field, nil
}

// ConstantPredictor returns a uniform field.
type ConstantPredictor struct {
	Value float64
}

// NewConstantPredictor returns a predictor reporting value at every pixel.
func NewConstantPredictor(value float64) *ConstantPredictor {
	return &ConstantPredictor{Value: value}
}

// Name returns the predictor name.
func (p *ConstantPredictor) Name() string {
	return ConstantPredictorName
}

// Predict returns a field of p.Value with the size of img.
func (p *ConstantPredictor) Predict(_ context.Context, _ string, img image.Image) (*rimage.DepthField, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrap(ErrPredictionFailed, "empty image")
	}
	field := rimage.NewDepthField(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			field.Set(x, y, p.Value)
		}
	}
	return field, nil
}

// filePredictor reads depth computed offline by an external model and stored as a grayscale
// image next to the input, e.g. photo.jpg -> photo.depth.png.
type filePredictor struct {
	logger logging.Logger
}

func (p *filePredictor) Name() string {
	return FilePredictorName
}

// DepthPath returns where the precomputed depth of the image at path is expected.
func DepthPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + FileSuffix
}

func (p *filePredictor) Predict(_ context.Context, path string, img image.Image) (*rimage.DepthField, error) {
	if path == "" {
		return nil, errors.Wrap(ErrPredictionFailed, "no source path to look up depth for")
	}
	depthPath := DepthPath(path)
	if _, err := os.Stat(depthPath); err != nil {
		return nil, errors.Wrapf(ErrPredictionFailed, "no depth image at %s", depthPath)
	}
	raw, err := rimage.ReadImageFromFile(depthPath)
	if err != nil {
		return nil, errors.Wrapf(ErrPredictionFailed, "reading %s: %v", depthPath, err)
	}
	field := rimage.NewDepthFieldFromGray(raw)
	if bounds := img.Bounds(); field.Width() != bounds.Dx() || field.Height() != bounds.Dy() {
		if p.logger != nil {
			p.logger.Debugw("resampling depth image", "path", depthPath,
				"from", field.Bounds().Size(), "to", bounds.Size())
		}
		field = field.Resize(bounds.Dx(), bounds.Dy())
	}
	field.Normalize()
	return field, nil
}
