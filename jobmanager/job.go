package jobmanager

import (
	"time"
)

// Status is the lifecycle state of a job. A job moves from queued to processing to exactly one
// of completed or failed, and never back.
type Status string

// Job statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the lifecycle.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Job is the status record of one submitted reconstruction.
type Job struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Inputs      []string  `json:"-"`
	InputCount  int       `json:"input_count"`
	// Result is the file name of the exported point cloud.
	Result    string   `json:"result,omitempty"`
	Method    string   `json:"method,omitempty"`
	Error     string   `json:"error,omitempty"`
	NumPoints int      `json:"num_points,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	out := j
	if j.Inputs != nil {
		out.Inputs = append([]string(nil), j.Inputs...)
	}
	if j.Warnings != nil {
		out.Warnings = append([]string(nil), j.Warnings...)
	}
	return out
}

// Result is what a Runner reports for a successful job.
type Result struct {
	// File is the base name of the artifact in the results directory.
	File      string
	Method    string
	NumPoints int
	Warnings  []string
}
