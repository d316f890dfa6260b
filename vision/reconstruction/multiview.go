package reconstruction

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/rimage"
	"github.com/photocloud/photocloud/rimage/transform"
	"github.com/photocloud/photocloud/vision/keypoints"
)

// Result is the outcome of a multi-view reconstruction attempt.
type Result struct {
	Success bool                  `json:"success"`
	Cloud   pointcloud.PointCloud `json:"-"`
	// NumPoints is the size of Cloud.
	NumPoints  int                   `json:"num_points"`
	NumImages  int                   `json:"num_images"`
	NumMatches int                   `json:"num_matches"`
	Cameras    []*transform.CamPose  `json:"cameras,omitempty"`
	Error      string                `json:"error,omitempty"`
	// FallbackNeeded is set when the failure concerns the multi-view attempt only.
	FallbackNeeded bool `json:"fallback_needed,omitempty"`
	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

func failedResult(numImages, numMatches int, err *StageError) *Result {
	return &Result{
		NumImages:      numImages,
		NumMatches:     numMatches,
		Error:          err.Error(),
		FallbackNeeded: true,
		Err:            err,
	}
}

// pairFeatures are the features and decoded images of an image pair.
type pairFeatures struct {
	features [2]*keypoints.Features
	images   [2]*image.NRGBA
}

// extractPair runs the detector on both images concurrently.
func (r *Reconstructor) extractPair(ctx context.Context, paths []string) (*pairFeatures, error) {
	var pair pairFeatures
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			features, img, err := keypoints.ExtractFromFile(paths[i], r.detector)
			if err != nil {
				return err
			}
			pair.features[i] = features
			pair.images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pair, nil
}

// ReconstructMultiView triangulates the first two of paths. Failures are reported through the
// result rather than an error so the caller can fall back.
func (r *Reconstructor) ReconstructMultiView(ctx context.Context, paths []string) *Result {
	numImages := len(paths)
	if numImages < 2 {
		return failedResult(numImages, 0, newStageError(StageInput, KindGeometry,
			errors.Errorf("multi-view reconstruction needs 2 images, got %d", numImages)))
	}
	if numImages > 2 {
		r.logger.Infow("only the first two images are used for multi-view reconstruction", "num_images", numImages)
	}

	pair, err := r.extractPair(ctx, paths)
	if err != nil {
		return failedResult(numImages, 0, newStageError(StageFeatures, KindGeometry, err))
	}
	f1, f2 := pair.features[0], pair.features[1]
	r.logger.Debugw("extracted features", "detector", r.detector.Name(), "image1", f1.Len(), "image2", f2.Len())

	matches, err := keypoints.MatchFeatures(f1, f2, r.cfg.Matching)
	if err != nil {
		return failedResult(numImages, 0, newStageError(StageMatching, KindGeometry, err))
	}
	if len(matches) < r.cfg.MinMatches {
		return failedResult(numImages, len(matches), newStageError(StageMatching, KindGeometry,
			errors.Wrapf(ErrTooFewMatches, "found %d, need %d", len(matches), r.cfg.MinMatches)))
	}
	pts1, pts2, err := keypoints.GetMatchingKeyPoints(matches, f1, f2)
	if err != nil {
		return failedResult(numImages, len(matches), newStageError(StageMatching, KindGeometry, err))
	}

	estimate, err := transform.EstimateNewPose(pts1, pts2, r.cfg.Intrinsics, r.cfg.Ransac)
	if err != nil {
		return failedResult(numImages, len(matches), newStageError(StagePose, KindGeometry, err))
	}
	r.logger.Debugw("estimated pose",
		"inliers", estimate.NumInliers,
		"in_front", estimate.NumInFront,
		"pure_translation", estimate.PureTranslation,
		"rotation_deg", estimate.Pose.RotationAngle()*180/math.Pi)

	in1 := make([]r2.Point, 0, estimate.NumInliers)
	in2 := make([]r2.Point, 0, estimate.NumInliers)
	for i, ok := range estimate.Inliers {
		if ok {
			in1 = append(in1, pts1[i])
			in2 = append(in2, pts2[i])
		}
	}
	positions, err := transform.TriangulatePoints(r.cfg.Intrinsics, estimate.Pose, in1, in2)
	if err != nil {
		return failedResult(numImages, len(matches), newStageError(StageTriangulation, KindGeometry, err))
	}
	raw := pointcloud.NewWithPrealloc(len(positions))
	for i, pos := range positions {
		c := rimage.ColorAt(pair.images[0], int(math.Round(in1[i].X)), int(math.Round(in1[i].Y)))
		c.A = 255
		raw.Append(pointcloud.Point{Position: pos, Color: c})
	}

	cloud := pointcloud.FilterOutliers(raw, r.cfg.MaxRadius)
	if cloud.Size() == 0 {
		return failedResult(numImages, len(matches), newStageError(StageFilter, KindGeometry,
			errors.Wrapf(ErrNoSurvivingPoints, "all %d triangulated points rejected", raw.Size())))
	}
	r.logger.Infow("multi-view reconstruction succeeded",
		"matches", len(matches), "triangulated", raw.Size(), "kept", cloud.Size())
	return &Result{
		Success:    true,
		Cloud:      cloud,
		NumPoints:  cloud.Size(),
		NumImages:  numImages,
		NumMatches: len(matches),
		Cameras:    []*transform.CamPose{transform.NewIdentityCamPose(), estimate.Pose},
	}
}
