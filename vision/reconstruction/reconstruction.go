// Package reconstruction turns photographs into colored point clouds. Two or more images are
// triangulated from their first pair; when that is impossible or fails, the first image is
// back-projected with a monocular depth prediction.
package reconstruction

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/vision/depth"
	"github.com/photocloud/photocloud/vision/keypoints"
)

// Method names the path that produced a point cloud.
type Method string

// Reconstruction methods.
const (
	MethodSFM       Method = "sfm"
	MethodMonocular Method = "monocular"
	MethodUpload    Method = "upload"
)

// Outcome is the point cloud of a reconstruction and how it was obtained.
type Outcome struct {
	Method Method
	Cloud  pointcloud.PointCloud
	// MultiView is the multi-view attempt, nil when none was made.
	MultiView *Result
	Warnings  []string
}

// Reconstructor runs the reconstruction pipeline. It is safe for concurrent use.
type Reconstructor struct {
	cfg       *Config
	detector  keypoints.Detector
	predictor depth.Predictor
	logger    logging.Logger
}

// NewReconstructor validates cfg and builds its detector and depth predictor.
func NewReconstructor(cfg *Config, logger logging.Logger) (*Reconstructor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate("reconstruction"); err != nil {
		return nil, err
	}
	logger = logger.Sublogger("reconstruction")
	detector, err := keypoints.NewDetector(cfg.Features)
	if err != nil {
		return nil, err
	}
	predictor, err := depth.NewPredictor(cfg.Depth, logger)
	if err != nil {
		return nil, err
	}
	return NewReconstructorWithPredictor(cfg, detector, predictor, logger), nil
}

// NewReconstructorWithPredictor returns a Reconstructor using the given collaborators as is.
func NewReconstructorWithPredictor(
	cfg *Config,
	detector keypoints.Detector,
	predictor depth.Predictor,
	logger logging.Logger,
) *Reconstructor {
	return &Reconstructor{cfg: cfg, detector: detector, predictor: predictor, logger: logger}
}

// Reconstruct builds a point cloud from the images at paths. Multi-view reconstruction is
// attempted when there are at least two images and any of its failures falls back to the
// monocular path on the first image. An error is returned only when the selected path cannot
// produce a cloud.
func (r *Reconstructor) Reconstruct(ctx context.Context, paths []string) (*Outcome, error) {
	if len(paths) == 0 {
		return nil, newStageError(StageInput, KindInput, ErrNoInputs)
	}
	outcome := &Outcome{}
	if len(paths) > 2 && !r.cfg.DisableMultiView {
		outcome.Warnings = append(outcome.Warnings,
			fmt.Sprintf("only the first 2 images are used, %d ignored", len(paths)-2))
	}
	if len(paths) >= 2 && !r.cfg.DisableMultiView {
		result := r.ReconstructMultiView(ctx, paths)
		outcome.MultiView = result
		if result.Success {
			outcome.Method = MethodSFM
			outcome.Cloud = result.Cloud
			return outcome, nil
		}
		r.logger.Warnw("multi-view reconstruction failed, falling back to monocular", "error", result.Error)
		outcome.Warnings = append(outcome.Warnings, "multi-view reconstruction failed: "+result.Error)
	}

	cloud, err := r.ReconstructMonocular(ctx, paths[0])
	if err != nil {
		if outcome.MultiView != nil {
			return nil, errors.Wrapf(err, "after multi-view failure (%s)", outcome.MultiView.Error)
		}
		return nil, err
	}
	outcome.Method = MethodMonocular
	outcome.Cloud = cloud
	return outcome, nil
}
