package transform

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientCorrespondences is returned when too few matches are given to determine a pose.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	// ErrDegenerateGeometry is returned when no valid essential matrix or pose explains the matches.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
)

// MinPoseCorrespondences is the smallest number of matches accepted by EstimateNewPose.
const MinPoseCorrespondences = 8

// CamPose is a camera rotation and a translation defined up to scale, relative to a reference
// camera at the identity pose.
type CamPose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewIdentityCamPose returns the reference pose [I|0].
func NewIdentityCamPose() *CamPose {
	return &CamPose{Rotation: eye(3), Translation: r3.Vector{}}
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		Rotation:    rot,
		Translation: r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)},
	}
}

// PoseMat returns the 3x4 matrix [R|t].
func (cp *CamPose) PoseMat() *mat.Dense {
	var pose mat.Dense
	pose.Augment(cp.Rotation, mat.NewDense(3, 1, []float64{cp.Translation.X, cp.Translation.Y, cp.Translation.Z}))
	return &pose
}

// ProjectionMatrix returns K[R|t].
func (cp *CamPose) ProjectionMatrix(intrinsics *PinholeCameraIntrinsics) *mat.Dense {
	var proj mat.Dense
	proj.Mul(intrinsics.GetCameraMatrix(), cp.PoseMat())
	return &proj
}

// Apply maps a point from the reference camera frame into this camera's frame.
func (cp *CamPose) Apply(pt r3.Vector) r3.Vector {
	r := cp.Rotation
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + cp.Translation.X,
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + cp.Translation.Y,
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + cp.Translation.Z,
	}
}

// RotationAngle returns the angle in radians of the pose's rotation.
func (cp *CamPose) RotationAngle() float64 {
	cos := (mat.Trace(cp.Rotation) - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, cos)))
}

type camPoseJSON struct {
	Rotation    [3][3]float64 `json:"rotation"`
	Translation [3]float64    `json:"translation"`
}

// MarshalJSON encodes the pose as a row-major rotation and a translation triple.
func (cp *CamPose) MarshalJSON() ([]byte, error) {
	var out camPoseJSON
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Rotation[i][j] = cp.Rotation.At(i, j)
		}
	}
	out.Translation = [3]float64{cp.Translation.X, cp.Translation.Y, cp.Translation.Z}
	return json.Marshal(out)
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*CamPose, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	return []*CamPose{
		{Rotation: R1, Translation: t},
		{Rotation: R1, Translation: t.Mul(-1)},
		{Rotation: R2, Translation: t},
		{Rotation: R2, Translation: t.Mul(-1)},
	}, nil
}

// GetNumberPositiveDepth counts the correspondences, given in normalized image coordinates, that
// triangulate in front of both the reference camera and the camera at pose.
func GetNumberPositiveDepth(pose *CamPose, pts1, pts2 []r2.Point) int {
	p1 := NewIdentityCamPose().PoseMat()
	p2 := pose.PoseMat()
	nPositiveDepth := 0
	for i := range pts1 {
		pt := TriangulatePoint(p1, p2, pts1[i], pts2[i])
		if pt.Z > 0 && pose.Apply(pt).Z > 0 {
			nPositiveDepth++
		}
	}
	return nPositiveDepth
}

// GetCorrectCameraPose returns the pose with the most points in front of both cameras, and that
// count.
func GetCorrectCameraPose(poses []*CamPose, pts1, pts2 []r2.Point) (*CamPose, int) {
	maxNumPosDepth := 0
	var correctPose *CamPose
	for _, pose := range poses {
		if nPosDepth := GetNumberPositiveDepth(pose, pts1, pts2); nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = pose
		}
	}
	return correctPose, maxNumPosDepth
}

// PoseEstimate is the outcome of EstimateNewPose.
type PoseEstimate struct {
	Pose      *CamPose
	Essential *mat.Dense
	// Inliers flags the correspondences consistent with Essential.
	Inliers    []bool
	NumInliers int
	// NumInFront is the number of inliers that triangulate in front of both cameras.
	NumInFront int
	// PureTranslation is set when the rotation-free model was selected: the general model did not
	// fit or did not lower the truncated Sampson cost of the shared inliers by enough to trust its
	// rotation.
	PureTranslation bool
}

// EstimateNewPose estimates the pose of the camera that observed pts2 relative to the camera that
// observed pts1, both given in pixels and sharing intrinsics. The essential matrix is found by two
// competing RANSAC searches: the general 8 point model and a rotation-free model from 2 points.
// Each winner is polished by minimizing its truncated Sampson cost. The rotation-free model is kept
// unless the general model explains the shared inliers clearly better, which resolves planar scenes
// seen under pure translation where the 8 point system is rank deficient. The four decompositions
// of the selected matrix are disambiguated with the cheirality check.
func EstimateNewPose(
	pts1, pts2 []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	cfg RansacConfig,
) (*PoseEstimate, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	if len(pts1) < MinPoseCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "need at least %d, got %d", MinPoseCorrespondences, len(pts1))
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n1 := make([]r2.Point, len(pts1))
	n2 := make([]r2.Point, len(pts2))
	for i := range pts1 {
		n1[i] = intrinsics.Normalize(pts1[i])
		n2[i] = intrinsics.Normalize(pts2[i])
	}
	focal := intrinsics.MeanFocal()
	threshold := cfg.Threshold / focal
	set := &epipolarSet{n1: n1, n2: n2, pixelScale: focal * focal, thresholdSq: threshold * threshold}
	subset := func(pts []r2.Point, idxs []int) []r2.Point {
		out := make([]r2.Point, len(idxs))
		for i, idx := range idxs {
			out[i] = pts[idx]
		}
		return out
	}
	fitGeneral := func(sample []int) (*mat.Dense, bool) {
		essMat, err := ComputeEssentialMatrix(subset(n1, sample), subset(n2, sample))
		return essMat, err == nil
	}
	fitTranslation := func(sample []int) (*mat.Dense, bool) {
		t, err := ComputePureTranslation(subset(n1, sample), subset(n2, sample))
		if err != nil {
			return nil, false
		}
		return EssentialFromTranslation(t), true
	}

	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))
	general, generalOK := ransac(len(n1), 8, cfg, rng, fitGeneral, set.isInlier)
	if generalOK {
		general = set.polish(refine(general, len(n1), fitGeneral, set.isInlier), false)
	}
	translation, translationOK := ransac(len(n1), 2, cfg, rng, fitTranslation, set.isInlier)
	if translationOK {
		translation = set.polish(refine(translation, len(n1), fitTranslation, set.isInlier), true)
	}

	var best ransacResult[*mat.Dense]
	pureTranslation := false
	switch {
	case translationOK && (!generalOK || set.preferRotationFree(general, translation)):
		best = translation
		pureTranslation = true
	case generalOK:
		best = general
	default:
		return nil, errors.Wrap(ErrDegenerateGeometry, "no essential matrix fits the correspondences")
	}

	var in1, in2 []r2.Point
	for i, ok := range best.inliers {
		if ok {
			in1 = append(in1, n1[i])
			in2 = append(in2, n2[i])
		}
	}
	poses, err := GetPossibleCameraPoses(best.model)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	pose, inFront := GetCorrectCameraPose(poses, in1, in2)
	if pose == nil {
		return nil, errors.Wrap(ErrDegenerateGeometry, "no pose places the points in front of both cameras")
	}
	return &PoseEstimate{
		Pose:            pose,
		Essential:       best.model,
		Inliers:         best.inliers,
		NumInliers:      best.numInliers,
		NumInFront:      inFront,
		PureTranslation: pureTranslation,
	}, nil
}

// refine refits a ransac winner on all of its inliers, keeping the refit only if it explains at
// least as many correspondences.
func refine(
	res ransacResult[*mat.Dense],
	n int,
	fit func(sample []int) (*mat.Dense, bool),
	isInlier func(essMat *mat.Dense, idx int) bool,
) ransacResult[*mat.Dense] {
	idxs := make([]int, 0, res.numInliers)
	for i, in := range res.inliers {
		if in {
			idxs = append(idxs, i)
		}
	}
	model, fitOK := fit(idxs)
	if !fitOK {
		return res
	}
	inliers := make([]bool, n)
	count := 0
	for i := 0; i < n; i++ {
		if isInlier(model, i) {
			inliers[i] = true
			count++
		}
	}
	if count < res.numInliers {
		return res
	}
	return ransacResult[*mat.Dense]{model: model, inliers: inliers, numInliers: count}
}
