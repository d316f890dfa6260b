package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// rotationEvidence is how many mean squared residuals of the general model the rotation-free model
// has to lose over their shared inliers before the general model, and its rotation, is selected.
// The general model has 3 more degrees of freedom and fits part of the noise with them.
const rotationEvidence = 30

// minResidualSq floors the mean squared residual, in squared pixels, on noise-free data.
const minResidualSq = 1e-6

// epipolarSet holds correspondences in normalized image coordinates together with the inlier
// threshold, and scores essential matrices against them.
type epipolarSet struct {
	n1, n2 []r2.Point
	// pixelScale converts squared normalized distances into squared pixels.
	pixelScale  float64
	thresholdSq float64
}

func (s *epipolarSet) isInlier(essMat *mat.Dense, idx int) bool {
	return SampsonDistance(essMat, s.n1[idx], s.n2[idx]) <= s.thresholdSq
}

func (s *epipolarSet) inliers(essMat *mat.Dense) ([]bool, int) {
	in := make([]bool, len(s.n1))
	count := 0
	for i := range s.n1 {
		if s.isInlier(essMat, i) {
			in[i] = true
			count++
		}
	}
	return in, count
}

// truncatedCost sums the Sampson errors of the correspondences at idxs, or of all of them when idxs
// is nil, each capped at the inlier threshold, in squared pixels.
func (s *epipolarSet) truncatedCost(essMat *mat.Dense, idxs []int) float64 {
	total := 0.
	add := func(i int) {
		total += math.Min(SampsonDistance(essMat, s.n1[i], s.n2[i]), s.thresholdSq)
	}
	if idxs == nil {
		for i := range s.n1 {
			add(i)
		}
	} else {
		for _, i := range idxs {
			add(i)
		}
	}
	return total * s.pixelScale
}

// polish minimizes the truncated Sampson cost over all correspondences starting from a ransac
// winner. The general model varies rotation and translation direction, the rotation-free one only
// the translation direction. The result is kept only if it lowers the cost.
func (s *epipolarSet) polish(res ransacResult[*mat.Dense], rotationFree bool) ransacResult[*mat.Dense] {
	rot, _, t, err := DecomposeEssentialMatrix(res.model)
	if err != nil {
		return res
	}
	if rotationFree {
		rot = eye(3)
	}
	t = t.Normalize()
	b1 := t.Ortho()
	b2 := t.Cross(b1).Normalize()
	build := func(x []float64) *mat.Dense {
		skew := EssentialFromTranslation(t.Add(b1.Mul(x[0])).Add(b2.Mul(x[1])))
		if rotationFree {
			return skew
		}
		var r, out mat.Dense
		r.Mul(rotationFromVector(r3.Vector{X: x[2], Y: x[3], Z: x[4]}), rot)
		out.Mul(skew, &r)
		return &out
	}
	dims := 5
	if rotationFree {
		dims = 2
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return s.truncatedCost(build(x), nil)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 4000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-9, Relative: 1e-9, Iterations: 50},
	}
	result, err := optimize.Minimize(problem, make([]float64, dims), settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != dims {
		return res
	}
	if err != nil && result.Status != optimize.FunctionEvaluationLimit {
		return res
	}
	if result.F >= s.truncatedCost(res.model, nil) {
		return res
	}
	model := build(result.X)
	inliers, count := s.inliers(model)
	return ransacResult[*mat.Dense]{model: model, inliers: inliers, numInliers: count}
}

// preferRotationFree reports whether the rotation-free model explains the union of both inlier
// sets nearly as well as the general model. Near-equal costs mean the rotation of the general
// model is fitted noise, as it is for planar scenes seen under pure translation.
func (s *epipolarSet) preferRotationFree(general, translation ransacResult[*mat.Dense]) bool {
	var union []int
	for i := range s.n1 {
		if general.inliers[i] || translation.inliers[i] {
			union = append(union, i)
		}
	}
	if len(union) == 0 {
		return true
	}
	costGeneral := s.truncatedCost(general.model, union)
	costTranslation := s.truncatedCost(translation.model, union)
	meanSq := math.Max(costGeneral/float64(len(union)), minResidualSq)
	return costTranslation-costGeneral <= rotationEvidence*meanSq
}

// rotationFromVector returns the rotation of |w| radians about w.
func rotationFromVector(w r3.Vector) *mat.Dense {
	angle := w.Norm()
	if angle == 0 {
		return eye(3)
	}
	k := w.Mul(1 / angle)
	kx := getCrossProductMatFromPoint(k)
	var kx2 mat.Dense
	kx2.Mul(kx, kx)
	out := eye(3)
	var term mat.Dense
	term.Scale(math.Sin(angle), kx)
	out.Add(out, &term)
	term.Scale(1-math.Cos(angle), &kx2)
	out.Add(out, &term)
	return out
}
