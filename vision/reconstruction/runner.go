package reconstruction

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/jobmanager"
	"github.com/photocloud/photocloud/pointcloud"
)

// JobRunner executes reconstruction jobs and exports their clouds to a results directory.
type JobRunner struct {
	reconstructor *Reconstructor
	resultsDir    string
}

// NewJobRunner returns a runner writing <job id>.ply files into resultsDir.
func NewJobRunner(reconstructor *Reconstructor, resultsDir string) *JobRunner {
	return &JobRunner{reconstructor: reconstructor, resultsDir: resultsDir}
}

// ResultFileName is the artifact name of a job.
func ResultFileName(jobID string) string {
	return jobID + ".ply"
}

// Run implements jobmanager.Runner. A job made of a single ply file is passed through as is;
// anything else is reconstructed.
func (jr *JobRunner) Run(ctx context.Context, job jobmanager.Job) (*jobmanager.Result, error) {
	target := filepath.Join(jr.resultsDir, ResultFileName(job.ID))
	if len(job.Inputs) == 1 && strings.EqualFold(filepath.Ext(job.Inputs[0]), ".ply") {
		return jr.passThrough(job.Inputs[0], target)
	}

	outcome, err := jr.reconstructor.Reconstruct(ctx, job.Inputs)
	if err != nil {
		return nil, err
	}
	if err := pointcloud.WriteToPLYFile(outcome.Cloud, target); err != nil {
		return nil, newStageError(StageExport, KindInput, err)
	}
	return &jobmanager.Result{
		File:      filepath.Base(target),
		Method:    string(outcome.Method),
		NumPoints: outcome.Cloud.Size(),
		Warnings:  outcome.Warnings,
	}, nil
}

// passThrough validates an uploaded ply file and copies it to target.
func (jr *JobRunner) passThrough(src, target string) (*jobmanager.Result, error) {
	cloud, err := pointcloud.NewFromFile(src)
	if err != nil {
		return nil, newStageError(StageInput, KindInput, errors.Wrapf(err, "reading %s", src))
	}
	if err := copyFile(src, target); err != nil {
		return nil, newStageError(StageExport, KindInput, err)
	}
	return &jobmanager.Result{
		File:      filepath.Base(target),
		Method:    string(MethodUpload),
		NumPoints: cloud.Size(),
	}, nil
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(in.Close)
	//nolint:gosec
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	_, err = io.Copy(out, in)
	return err
}
