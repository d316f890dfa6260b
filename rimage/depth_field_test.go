package rimage

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestDepthFieldNormalize(t *testing.T) {
	df, err := NewDepthFieldFromData(2, 2, []float64{2, 4, math.NaN(), 6})
	test.That(t, err, test.ShouldBeNil)
	df.Normalize()
	test.That(t, df.At(0, 0), test.ShouldEqual, 0.)
	test.That(t, df.At(1, 0), test.ShouldEqual, 0.5)
	test.That(t, df.At(0, 1), test.ShouldEqual, 0.)
	test.That(t, df.At(1, 1), test.ShouldEqual, 1.)

	flat, err := NewDepthFieldFromData(2, 1, []float64{0.25, 0.25})
	test.That(t, err, test.ShouldBeNil)
	flat.Normalize()
	test.That(t, flat.At(0, 0), test.ShouldEqual, 0.25)
	test.That(t, flat.At(1, 0), test.ShouldEqual, 0.25)

	_, err = NewDepthFieldFromData(2, 2, []float64{1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDepthFieldFromData(0, 2, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthFieldResize(t *testing.T) {
	df := NewDepthField(2, 2)
	df.Set(0, 0, 0)
	df.Set(1, 0, 1)
	df.Set(0, 1, 0)
	df.Set(1, 1, 1)

	up := df.Resize(4, 4)
	test.That(t, up.Width(), test.ShouldEqual, 4)
	test.That(t, up.Height(), test.ShouldEqual, 4)
	test.That(t, up.At(0, 0), test.ShouldEqual, 0.)
	test.That(t, up.At(3, 3), test.ShouldEqual, 1.)
	test.That(t, up.At(1, 2), test.ShouldAlmostEqual, 0.25)
	test.That(t, up.At(2, 1), test.ShouldAlmostEqual, 0.75)

	same := df.Resize(2, 2)
	same.Set(0, 0, 9)
	test.That(t, df.At(0, 0), test.ShouldEqual, 0.)

	uniform := NewDepthField(3, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 3; x++ {
			uniform.Set(x, y, 0.4)
		}
	}
	down := uniform.Resize(7, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 7; x++ {
			test.That(t, down.At(x, y), test.ShouldAlmostEqual, 0.4)
		}
	}
}

func TestDepthFieldFromGray(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 1))
	img.SetGray16(1, 0, color.Gray16{math.MaxUint16})
	df := NewDepthFieldFromGray(img)
	test.That(t, df.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 1))
	test.That(t, df.At(0, 0), test.ShouldEqual, 0.)
	test.That(t, df.At(1, 0), test.ShouldEqual, 1.)
	lo, hi := df.MinMax()
	test.That(t, lo, test.ShouldEqual, 0.)
	test.That(t, hi, test.ShouldEqual, 1.)
}
