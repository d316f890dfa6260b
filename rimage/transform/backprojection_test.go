package transform

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/photocloud/photocloud/rimage"
)

func gradientImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestBackProjectDepthInvertible(t *testing.T) {
	const width, height = 64, 48
	img := gradientImage(width, height)
	depth := rimage.NewDepthField(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			depth.Set(x, y, float64(x+y)/float64(width+height-2))
		}
	}
	cfg := DefaultBackProjectionConfig()
	cloud, err := BackProjectDepth(img, depth, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, width*height)

	intrinsics, err := NewPinholeCameraIntrinsicsFromFOV(width, height, cfg.FieldOfView)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Fx, test.ShouldAlmostEqual, width/(2*math.Tan(math.Pi/6)))

	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			p := cloud.At(v*width + u)
			test.That(t, p.Position.Z, test.ShouldBeBetween, 0.99, cfg.MaxDepth+1e-9)
			px, py := intrinsics.PointToPixel(p.Position.X, p.Position.Y, p.Position.Z)
			test.That(t, px, test.ShouldAlmostEqual, float64(u), 1e-6)
			test.That(t, py, test.ShouldAlmostEqual, float64(v), 1e-6)
			test.That(t, p.Color, test.ShouldResemble, img.NRGBAAt(u, v))
		}
	}
	// nearest pixel is the one with the largest relative depth
	test.That(t, cloud.At(width*height-1).Position.Z, test.ShouldAlmostEqual, 1, 1e-5)
	test.That(t, cloud.At(0).Position.Z, test.ShouldEqual, cfg.MaxDepth)
}

func TestBackProjectDepthKeepsValues(t *testing.T) {
	values := []float64{0.5, 0.6, 0.7, 0.8}
	depth, err := rimage.NewDepthFieldFromData(len(values), 1, values)
	test.That(t, err, test.ShouldBeNil)
	cfg := DefaultBackProjectionConfig()

	cloud, err := BackProjectDepth(gradientImage(len(values), 1), depth, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, len(values))
	for i, d := range values {
		test.That(t, cloud.At(i).Position.Z, test.ShouldAlmostEqual, 1/(d+cfg.Epsilon), 1e-9)
	}
	// the caller's field is left untouched
	test.That(t, depth.At(0, 0), test.ShouldEqual, 0.5)
}

func TestBackProjectDepthUniform(t *testing.T) {
	img := gradientImage(40, 30)
	depth := rimage.NewDepthField(40, 30)
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			depth.Set(x, y, 0.5)
		}
	}
	cloud, err := BackProjectDepth(img, depth, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 40*30)
	test.That(t, cloud.At(17).Position.Z, test.ShouldAlmostEqual, 1/(0.5+1e-6))
}

func TestBackProjectDepthResamples(t *testing.T) {
	img := gradientImage(40, 30)
	depth := rimage.NewDepthField(20, 15)
	cloud, err := BackProjectDepth(img, depth, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 40*30)
	// an all zero field is as far as it gets
	test.That(t, cloud.At(0).Position.Z, test.ShouldEqual, 100.0)
}

func TestBackProjectionConfig(t *testing.T) {
	cfg := DefaultBackProjectionConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.DepthFromRelative(0), test.ShouldEqual, cfg.MaxDepth)
	test.That(t, cfg.DepthFromRelative(1), test.ShouldAlmostEqual, 1, 1e-5)

	_, err := BackProjectDepth(gradientImage(4, 4), nil, cfg)
	test.That(t, err, test.ShouldNotBeNil)

	bad := *cfg
	bad.FieldOfView = 180
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = *cfg
	bad.MaxDepth = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = *cfg
	bad.Epsilon = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}
