package reconstruction

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/rimage/transform"
	"github.com/photocloud/photocloud/vision/depth"
	"github.com/photocloud/photocloud/vision/keypoints"
)

// DefaultMinMatches is the smallest number of matches for which multi-view reconstruction is tried.
const DefaultMinMatches = 50

// Config contains the parameters of both reconstruction paths.
type Config struct {
	Features   *keypoints.Config                  `json:"features"`
	Matching   *keypoints.MatchingConfig          `json:"matching"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Ransac     transform.RansacConfig             `json:"ransac"`
	MinMatches int                                `json:"min_matches"`
	// MaxRadius bounds the distance of triangulated points from the reference camera.
	MaxRadius float64                         `json:"max_point_radius"`
	Monocular *transform.BackProjectionConfig `json:"monocular"`
	Depth     *depth.Config                   `json:"depth"`
	// DisableMultiView always takes the monocular path.
	DisableMultiView bool `json:"disable_multi_view"`
}

// DefaultConfig returns the parameters used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Features:   keypoints.DefaultConfig(),
		Matching:   keypoints.DefaultMatchingConfig(),
		Intrinsics: transform.DefaultStereoIntrinsics(),
		Ransac:     transform.DefaultRansacConfig(),
		MinMatches: DefaultMinMatches,
		MaxRadius:  pointcloud.DefaultMaxRadius,
		Monocular:  transform.DefaultBackProjectionConfig(),
		Depth:      depth.DefaultConfig(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Features == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "features")
	}
	if err := cfg.Features.Validate(path + ".features"); err != nil {
		return err
	}
	if cfg.Matching == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "matching")
	}
	if err := cfg.Matching.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".matching", err)
	}
	if cfg.Intrinsics == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "intrinsic_parameters")
	}
	if err := cfg.Intrinsics.CheckValid(); err != nil {
		return utils.NewConfigValidationError(path+".intrinsic_parameters", err)
	}
	if err := cfg.Ransac.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".ransac", err)
	}
	if cfg.MinMatches < transform.MinPoseCorrespondences {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min_matches should be at least %d, got %d", transform.MinPoseCorrespondences, cfg.MinMatches))
	}
	if cfg.MaxRadius <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_point_radius should be > 0, got %v", cfg.MaxRadius))
	}
	if cfg.Monocular == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "monocular")
	}
	if err := cfg.Monocular.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".monocular", err)
	}
	if cfg.Depth == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "depth")
	}
	return cfg.Depth.Validate(path + ".depth")
}
