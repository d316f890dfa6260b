package jobmanager

import (
	"context"
	"database/sql"
	// schema.sql is embedded below.
	_ "embed"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// InterruptedError is recorded on jobs that were still running when the process stopped.
const InterruptedError = "interrupted by restart"

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists jobs in a sqlite database so records survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path. Jobs left queued or processing by a
// previous process are marked failed, since no worker will ever pick them up again.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, errors.Wrap(err, "creating job schema")
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?)`,
		StatusFailed, InterruptedError, time.Now().UnixNano(), StatusQueued, StatusProcessing,
	); err != nil {
		return nil, errors.Wrap(err, "failing interrupted jobs")
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts or replaces the job row.
func (s *SQLiteStore) Put(ctx context.Context, job Job) error {
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(job.Warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
			(id, status, submitted_at, updated_at, inputs, result, method, error, num_points, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.SubmittedAt.UnixNano(), job.UpdatedAt.UnixNano(), string(inputs),
		job.Result, job.Method, job.Error, job.NumPoints, string(warnings),
	)
	return errors.Wrapf(err, "storing job %s", job.ID)
}

const selectJobs = `SELECT id, status, submitted_at, updated_at, inputs, result, method, error, num_points, warnings FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job                   Job
		status                string
		submitted, updated    int64
		inputsRaw, warningRaw string
	)
	if err := row.Scan(&job.ID, &status, &submitted, &updated, &inputsRaw,
		&job.Result, &job.Method, &job.Error, &job.NumPoints, &warningRaw); err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.SubmittedAt = time.Unix(0, submitted).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(inputsRaw), &job.Inputs); err != nil {
		return Job{}, errors.Wrapf(err, "decoding inputs of job %s", job.ID)
	}
	if err := json.Unmarshal([]byte(warningRaw), &job.Warnings); err != nil {
		return Job{}, errors.Wrapf(err, "decoding warnings of job %s", job.ID)
	}
	job.InputCount = len(job.Inputs)
	return job, nil
}

// Get returns the job with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, errors.Wrap(ErrJobNotFound, id)
	}
	return job, err
}

// List returns all jobs ordered by submission time.
func (s *SQLiteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJobs+` ORDER BY submitted_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		rows.Close()
	}()
	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes a job. Unknown ids are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
