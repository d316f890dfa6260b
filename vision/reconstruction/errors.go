package reconstruction

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage names a step of the reconstruction pipeline.
type Stage string

// The pipeline stages, in execution order.
const (
	StageInput         Stage = "input"
	StageFeatures      Stage = "features"
	StageMatching      Stage = "matching"
	StagePose          Stage = "pose"
	StageTriangulation Stage = "triangulation"
	StageFilter        Stage = "filter"
	StageDepth         Stage = "depth"
	StageBackProject   Stage = "back_projection"
	StageExport        Stage = "export"
)

// Kind classifies a failure by how the orchestrator reacts to it.
type Kind int

const (
	// KindInput failures are caused by unusable inputs and fail the job.
	KindInput Kind = iota
	// KindGeometry failures mean the images do not support multi-view reconstruction. They
	// trigger the monocular fallback.
	KindGeometry
	// KindExternal failures come from a collaborator such as the depth predictor.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindGeometry:
		return "geometry"
	case KindExternal:
		return "external"
	}
	return "unknown"
}

var (
	// ErrNoInputs is returned when a reconstruction is requested without images.
	ErrNoInputs = errors.New("no input images")
	// ErrTooFewMatches is returned when the match gate rejects an image pair.
	ErrTooFewMatches = errors.New("too few feature matches")
	// ErrNoSurvivingPoints is returned when every triangulated point is filtered out.
	ErrNoSurvivingPoints = errors.New("no points survived outlier filtering")
)

// StageError is the failure of one pipeline stage.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage Stage, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the kind of the first StageError in err's chain. Errors outside the pipeline
// count as input errors.
func KindOf(err error) Kind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	return KindInput
}
