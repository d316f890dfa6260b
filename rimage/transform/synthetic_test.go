package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// rotationY returns the rotation of angle radians about the y axis.
func rotationY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// syntheticScene projects random points in a box in front of the reference camera into both views.
func syntheticScene(intrinsics *PinholeCameraIntrinsics, pose *CamPose, n int, seed int64) ([]r3.Vector, []r2.Point, []r2.Point) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	pts3d := make([]r3.Vector, n)
	pts1 := make([]r2.Point, n)
	pts2 := make([]r2.Point, n)
	for i := 0; i < n; i++ {
		pt := r3.Vector{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*3 - 1.5,
			Z: 5 + rng.Float64()*5,
		}
		pts3d[i] = pt
		pts1[i] = intrinsics.Project(pt)
		pts2[i] = intrinsics.Project(pose.Apply(pt))
	}
	return pts3d, pts1, pts2
}

// shiftedPair returns pixel correspondences of a fronto-parallel texture shifted horizontally by dx.
func shiftedPair(n int, dx float64, seed int64) ([]r2.Point, []r2.Point) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	pts1 := make([]r2.Point, n)
	pts2 := make([]r2.Point, n)
	for i := 0; i < n; i++ {
		pts1[i] = r2.Point{X: float64(30 + rng.Intn(580)), Y: float64(30 + rng.Intn(420))}
		pts2[i] = r2.Point{X: pts1[i].X + dx, Y: pts1[i].Y}
	}
	return pts1, pts2
}

// rotationDistance returns the angle of Ra^T Rb.
func rotationDistance(ra, rb *mat.Dense) float64 {
	var diff mat.Dense
	diff.Mul(ra.T(), rb)
	return (&CamPose{Rotation: &diff}).RotationAngle()
}
