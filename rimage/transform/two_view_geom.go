package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// degenerateRatio is the relative eigenvalue of a normal matrix A^T A below which A is treated as
// rank deficient.
const degenerateRatio = 1e-12

var errDegenerateSample = errors.New("sample does not determine a unique model")

// ComputeEssentialMatrix estimates the essential matrix from at least 8 correspondences given in
// normalized image coordinates, with Hartley normalization and the two equal singular values of an
// essential matrix enforced. It fails when the correspondences leave the solution ambiguous, as they
// do when the second view is a pure shift of the first.
func ComputeEssentialMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 8 {
		return nil, errors.New("sets of points must have at least 8 elements")
	}
	points1, t1, ok1 := normalizePoints(pts1)
	points2, t2, ok2 := normalizePoints(pts2)
	if !ok1 || !ok2 {
		return nil, errDegenerateSample
	}

	m := mat.NewDense(len(points1), 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	mats := performSVD(normalMatrix(m))
	if mats == nil {
		return nil, errors.New("failed to factorize the epipolar system")
	}
	values := mats.values
	if values[0] == 0 || values[7]/values[0] < degenerateRatio {
		return nil, errDegenerateSample
	}
	lastColV := mats.V.ColView(8)
	eData := make([]float64, 9)
	for i := range eData {
		eData[i] = lastColV.AtVec(i)
	}
	essMat := mat.NewDense(3, 3, eData)

	// undo the normalization: T2^T E T1
	essMat.Mul(transposeDense(t2), essMat)
	essMat.Mul(essMat, t1)

	return enforceEssentialConstraint(essMat)
}

// EssentialFromTranslation returns [t]x, the essential matrix of a motion without rotation.
func EssentialFromTranslation(t r3.Vector) *mat.Dense {
	return getCrossProductMatFromPoint(t.Normalize())
}

// ComputePureTranslation estimates the direction of a rotation-free motion from at least 2
// correspondences in normalized image coordinates. Every correspondence constrains t to be
// orthogonal to x1 × x2, so t spans the null space of the stacked cross products.
func ComputePureTranslation(pts1, pts2 []r2.Point) (r3.Vector, error) {
	if len(pts1) != len(pts2) {
		return r3.Vector{}, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 2 {
		return r3.Vector{}, errors.New("sets of points must have at least 2 elements")
	}
	m := mat.NewDense(len(pts1), 3, nil)
	for i := range pts1 {
		c := homogeneous(pts1[i]).Cross(homogeneous(pts2[i]))
		m.SetRow(i, []float64{c.X, c.Y, c.Z})
	}
	mats := performSVD(normalMatrix(m))
	if mats == nil {
		return r3.Vector{}, errors.New("failed to factorize the translation system")
	}
	values := mats.values
	if values[0] == 0 || values[1]/values[0] < degenerateRatio {
		return r3.Vector{}, errDegenerateSample
	}
	col := mats.V.ColView(2)
	t := r3.Vector{X: col.AtVec(0), Y: col.AtVec(1), Z: col.AtVec(2)}
	return t.Normalize(), nil
}

// SampsonDistance returns the squared first-order geometric error of a correspondence, in
// normalized image coordinates, with respect to the essential matrix.
func SampsonDistance(essMat *mat.Dense, p1, p2 r2.Point) float64 {
	var e [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			e[i][j] = essMat.At(i, j)
		}
	}
	// E x1
	ex0 := e[0][0]*p1.X + e[0][1]*p1.Y + e[0][2]
	ex1 := e[1][0]*p1.X + e[1][1]*p1.Y + e[1][2]
	ex2 := e[2][0]*p1.X + e[2][1]*p1.Y + e[2][2]
	// E^T x2
	etx0 := e[0][0]*p2.X + e[1][0]*p2.Y + e[2][0]
	etx1 := e[0][1]*p2.X + e[1][1]*p2.Y + e[2][1]

	num := p2.X*ex0 + p2.Y*ex1 + ex2
	den := ex0*ex0 + ex1*ex1 + etx0*etx0 + etx1*etx1
	if den == 0 {
		if num == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return num * num / den
}

// DecomposeEssentialMatrix decomposes the Essential matrix into 2 possible 3D rotations and a 3D translation.
func DecomposeEssentialMatrix(essMat *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	mats := performSVD(essMat)
	if mats == nil {
		return nil, nil, r3.Vector{}, errors.New("failed to factorize the essential matrix")
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	W := mat.NewDense(3, 3, nil)
	W.Set(0, 1, 1)
	W.Set(1, 0, -1)
	W.Set(2, 2, 1)

	var R1, R2 mat.Dense
	// UWV^T
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, transposeDense(W))
	R2.Mul(&R2, mats.VT)

	U3 := mats.U.ColView(2)
	t := r3.Vector{X: U3.AtVec(0), Y: U3.AtVec(1), Z: U3.AtVec(2)}
	return &R1, &R2, t, nil
}

// enforceEssentialConstraint projects a 3x3 matrix onto the essential manifold, singular values
// (1, 1, 0).
func enforceEssentialConstraint(m *mat.Dense) (*mat.Dense, error) {
	if !allFinite(m) {
		return nil, errDegenerateSample
	}
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize the essential matrix")
	}
	if mats.values[1] == 0 {
		return nil, errDegenerateSample
	}
	S := eye(3)
	S.Set(2, 2, 0)
	var essMat mat.Dense
	essMat.Mul(mats.U, S)
	essMat.Mul(&essMat, mats.VT)
	return &essMat, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1. ok is false
// when the points have no spread.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, bool) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, false
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, true
}

// normalMatrix returns A^T A, whose eigenvectors are the right singular vectors of A.
func normalMatrix(a *mat.Dense) *mat.Dense {
	_, c := a.Dims()
	gram := mat.NewDense(c, c, nil)
	gram.Mul(a.T(), a)
	return gram
}

func homogeneous(pt r2.Point) r3.Vector {
	return r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// mat.Dense utils.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	VT     *mat.Dense
	values []float64
}

// performSVD performs a full SVD on inputMatrix, nil if the factorization fails.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	if !allFinite(inputMatrix) {
		return nil
	}
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	return &matsSVD{u, v, vt, svd.Values(nil)}
}
