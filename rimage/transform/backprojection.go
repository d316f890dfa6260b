package transform

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/rimage"
)

// BackProjectionConfig holds the camera and depth assumptions of monocular reconstruction.
type BackProjectionConfig struct {
	// FieldOfView is the assumed horizontal field of view in degrees.
	FieldOfView float64 `json:"fov_degrees"`
	// Epsilon keeps the inversion of a zero relative depth finite.
	Epsilon  float64 `json:"epsilon"`
	MinDepth float64 `json:"min_depth"`
	MaxDepth float64 `json:"max_depth"`
}

// DefaultBackProjectionConfig returns a 60 degree camera with depths clipped to [0, 100].
func DefaultBackProjectionConfig() *BackProjectionConfig {
	return &BackProjectionConfig{FieldOfView: 60, Epsilon: 1e-6, MinDepth: 0, MaxDepth: 100}
}

// Validate ensures all parts of the config are valid.
func (cfg *BackProjectionConfig) Validate() error {
	if cfg.FieldOfView <= 0 || cfg.FieldOfView >= 180 {
		return errors.Errorf("fov_degrees should be in (0, 180), got %v", cfg.FieldOfView)
	}
	if cfg.Epsilon <= 0 {
		return errors.Errorf("epsilon should be > 0, got %v", cfg.Epsilon)
	}
	if cfg.MinDepth < 0 || cfg.MaxDepth <= cfg.MinDepth {
		return errors.Errorf("depth range [%v, %v] is invalid", cfg.MinDepth, cfg.MaxDepth)
	}
	return nil
}

// DepthFromRelative inverts a relative depth, where larger means closer, into a clipped
// distance along the optical axis.
func (cfg *BackProjectionConfig) DepthFromRelative(relative float64) float64 {
	z := 1 / (relative + cfg.Epsilon)
	if z < cfg.MinDepth {
		return cfg.MinDepth
	}
	if z > cfg.MaxDepth {
		return cfg.MaxDepth
	}
	return z
}

// BackProjectDepth lifts every pixel of img to 3D using the relative depth field, already
// normalized to [0, 1] by its predictor, and a camera derived from cfg.FieldOfView. Depth values
// are used as given; the field is only resampled when its size differs from img. The cloud holds
// exactly one point per pixel in row-major order and is not filtered.
func BackProjectDepth(img image.Image, depth *rimage.DepthField, cfg *BackProjectionConfig) (pointcloud.PointCloud, error) {
	if cfg == nil {
		cfg = DefaultBackProjectionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if depth == nil {
		return nil, errors.New("no depth field to back project")
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	intrinsics, err := NewPinholeCameraIntrinsicsFromFOV(width, height, cfg.FieldOfView)
	if err != nil {
		return nil, err
	}
	depth = depth.Resize(width, height)

	cloud := pointcloud.NewWithPrealloc(width * height)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			z := cfg.DepthFromRelative(depth.At(u, v))
			x, y, z := intrinsics.PixelToPoint(float64(u), float64(v), z)
			c := rimage.ColorAt(img, u, v)
			c.A = 255
			cloud.Append(pointcloud.Point{Position: r3.Vector{X: x, Y: y, Z: z}, Color: c})
		}
	}
	return cloud, nil
}
