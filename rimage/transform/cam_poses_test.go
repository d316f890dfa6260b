package transform

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestEstimateNewPoseGeneralMotion(t *testing.T) {
	intrinsics := DefaultStereoIntrinsics()
	truth := &CamPose{Rotation: rotationY(0.09), Translation: r3.Vector{X: 1, Y: 0.1, Z: 0.05}.Normalize()}
	_, pts1, pts2 := syntheticScene(intrinsics, truth, 120, 11)
	// corrupt a handful of correspondences
	for i := 0; i < 10; i++ {
		pts2[i] = r2.Point{X: pts2[i].X + 35, Y: pts2[i].Y - 27}
	}

	estimate, err := EstimateNewPose(pts1, pts2, intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.PureTranslation, test.ShouldBeFalse)
	test.That(t, estimate.NumInliers, test.ShouldEqual, 110)
	for i := 0; i < 10; i++ {
		test.That(t, estimate.Inliers[i], test.ShouldBeFalse)
	}
	test.That(t, rotationDistance(estimate.Pose.Rotation, truth.Rotation), test.ShouldBeLessThan, 1e-6)
	test.That(t, estimate.Pose.Translation.Dot(truth.Translation), test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, estimate.NumInFront, test.ShouldEqual, 110)
}

func TestEstimateNewPoseHorizontalShift(t *testing.T) {
	intrinsics := DefaultStereoIntrinsics()
	pts1, pts2 := shiftedPair(200, -20, 13)

	estimate, err := EstimateNewPose(pts1, pts2, intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.PureTranslation, test.ShouldBeTrue)
	test.That(t, estimate.NumInliers, test.ShouldEqual, 200)
	test.That(t, estimate.Pose.RotationAngle(), test.ShouldBeLessThan, 1e-6)
	// content moved left, so the second camera sits to the right: t = -C points along -x
	test.That(t, estimate.Pose.Translation.X, test.ShouldAlmostEqual, -1, 1e-9)

	flipped, err := EstimateNewPose(pts2, pts1, intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, flipped.Pose.Translation.X, test.ShouldAlmostEqual, 1, 1e-9)
}

// addPixelNoise perturbs both coordinates of every point by gaussian noise of the given sigma.
func addPixelNoise(rng *rand.Rand, pts []r2.Point, sigma float64) {
	for i := range pts {
		pts[i] = r2.Point{X: pts[i].X + rng.NormFloat64()*sigma, Y: pts[i].Y + rng.NormFloat64()*sigma}
	}
}

func TestEstimateNewPoseSmallRotationWithNoise(t *testing.T) {
	intrinsics := DefaultStereoIntrinsics()
	truth := &CamPose{Rotation: rotationY(0.02), Translation: r3.Vector{X: 1, Y: 0.1, Z: 0.05}.Normalize()}
	_, pts1, pts2 := syntheticScene(intrinsics, truth, 300, 23)
	//nolint:gosec
	rng := rand.New(rand.NewSource(29))
	addPixelNoise(rng, pts1, 0.4)
	addPixelNoise(rng, pts2, 0.4)
	for i := 0; i < 30; i++ {
		pts1 = append(pts1, r2.Point{X: rng.Float64() * 640, Y: rng.Float64() * 480})
		pts2 = append(pts2, r2.Point{X: rng.Float64() * 640, Y: rng.Float64() * 480})
	}

	estimate, err := EstimateNewPose(pts1, pts2, intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.PureTranslation, test.ShouldBeFalse)
	test.That(t, estimate.NumInliers, test.ShouldBeGreaterThan, 250)
	test.That(t, rotationDistance(estimate.Pose.Rotation, truth.Rotation), test.ShouldBeLessThan, 0.01)
	test.That(t, estimate.Pose.Translation.Dot(truth.Translation), test.ShouldBeGreaterThan, 0.95)
}

func TestEstimateNewPoseNoisyShift(t *testing.T) {
	intrinsics := DefaultStereoIntrinsics()
	pts1, pts2 := shiftedPair(300, -20, 31)
	//nolint:gosec
	rng := rand.New(rand.NewSource(37))
	addPixelNoise(rng, pts1, 0.4)
	addPixelNoise(rng, pts2, 0.4)

	estimate, err := EstimateNewPose(pts1, pts2, intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.PureTranslation, test.ShouldBeTrue)
	test.That(t, estimate.Pose.RotationAngle(), test.ShouldBeLessThan, 1e-6)
	test.That(t, estimate.Pose.Translation.X, test.ShouldBeLessThan, -0.99)
}

func TestRotationFromVector(t *testing.T) {
	test.That(t, rotationDistance(rotationFromVector(r3.Vector{Y: 0.3}), rotationY(0.3)), test.ShouldBeLessThan, 1e-6)
	test.That(t, (&CamPose{Rotation: rotationFromVector(r3.Vector{})}).RotationAngle(), test.ShouldEqual, 0.)
}

func TestEstimateNewPoseFailures(t *testing.T) {
	intrinsics := DefaultStereoIntrinsics()
	pts1, pts2 := shiftedPair(7, -20, 17)
	_, err := EstimateNewPose(pts1, pts2, intrinsics, DefaultRansacConfig())
	test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)

	_, err = EstimateNewPose(pts1, pts2[:6], intrinsics, DefaultRansacConfig())
	test.That(t, err, test.ShouldNotBeNil)

	same := make([]r2.Point, 20)
	for i := range same {
		same[i] = r2.Point{X: 100, Y: 100}
	}
	_, err = EstimateNewPose(same, same, intrinsics, DefaultRansacConfig())
	test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)

	still, _ := shiftedPair(50, 0, 19)
	_, err = EstimateNewPose(still, still, intrinsics, DefaultRansacConfig())
	test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)

	bad := DefaultRansacConfig()
	bad.Confidence = 1
	_, err = EstimateNewPose(pts1, pts2, intrinsics, bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCamPoseJSON(t *testing.T) {
	pose := NewIdentityCamPose()
	pose.Translation = r3.Vector{X: -1}
	out, err := json.Marshal(pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `{"rotation":[[1,0,0],[0,1,0],[0,0,1]],"translation":[-1,0,0]}`)

	fromMat := NewCamPoseFromMat(pose.PoseMat())
	test.That(t, fromMat.Translation, test.ShouldResemble, pose.Translation)
	test.That(t, fromMat.RotationAngle(), test.ShouldEqual, 0.)
}

func TestAdaptiveIterations(t *testing.T) {
	test.That(t, adaptiveIterations(0.999, 1, 8, 2000), test.ShouldEqual, 0)
	test.That(t, adaptiveIterations(0.999, 0.5, 2, 2000), test.ShouldEqual, 25)
	test.That(t, adaptiveIterations(0.999, 0.01, 8, 2000), test.ShouldEqual, 2000)
}
