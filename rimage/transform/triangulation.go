package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TriangulatePoint solves the direct linear transform for one correspondence seen by the 3x4
// projection matrices p1 and p2 and returns the Euclidean point. A homogeneous coordinate of zero
// yields non-finite components; callers filter those.
func TriangulatePoint(p1, p2 *mat.Dense, x1, x2 r2.Point) r3.Vector {
	a := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		a.Set(0, j, x1.X*p1.At(2, j)-p1.At(0, j))
		a.Set(1, j, x1.Y*p1.At(2, j)-p1.At(1, j))
		a.Set(2, j, x2.X*p2.At(2, j)-p2.At(0, j))
		a.Set(3, j, x2.Y*p2.At(2, j)-p2.At(1, j))
	}
	var svd mat.SVD
	if !allFinite(a) || !svd.Factorize(a, mat.SVDFull) {
		return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	return r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}
}

// TriangulatePoints lifts pixel correspondences into the reference camera frame. The reference
// camera is K[I|0] and the second camera is K[R|t] for the given pose.
func TriangulatePoints(
	intrinsics *PinholeCameraIntrinsics,
	pose *CamPose,
	pts1, pts2 []r2.Point,
) ([]r3.Vector, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	p1 := NewIdentityCamPose().ProjectionMatrix(intrinsics)
	p2 := pose.ProjectionMatrix(intrinsics)
	pts3d := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		pts3d[i] = TriangulatePoint(p1, p2, pts1[i], pts2[i])
	}
	return pts3d, nil
}
