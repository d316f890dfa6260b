package reconstruction

import (
	"context"

	"github.com/pkg/errors"

	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/rimage"
	"github.com/photocloud/photocloud/rimage/transform"
	"github.com/photocloud/photocloud/vision/depth"
)

// ReconstructMonocular back-projects every pixel of the image at path using the configured
// depth predictor.
func (r *Reconstructor) ReconstructMonocular(ctx context.Context, path string) (pointcloud.PointCloud, error) {
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, newStageError(StageInput, KindInput, err)
	}
	field, err := r.predictor.Predict(ctx, path, img)
	if err != nil {
		if !errors.Is(err, depth.ErrPredictionFailed) {
			err = errors.Wrap(depth.ErrPredictionFailed, err.Error())
		}
		return nil, newStageError(StageDepth, KindExternal, err)
	}
	if field == nil {
		return nil, newStageError(StageDepth, KindExternal, errors.Wrap(depth.ErrPredictionFailed, "predictor returned no depth"))
	}
	cloud, err := transform.BackProjectDepth(img, field, r.cfg.Monocular)
	if err != nil {
		return nil, newStageError(StageBackProject, KindInput, err)
	}
	r.logger.Infow("monocular reconstruction succeeded", "predictor", r.predictor.Name(), "points", cloud.Size())
	return cloud, nil
}
