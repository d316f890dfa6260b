// Package jobmanager runs reconstructions as background jobs. Submissions are queued without
// blocking, a fixed pool of workers processes them, and every job exposes a status record that
// can be polled while it runs.
package jobmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/logging"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("job manager is closed")

// Runner executes one job. It must not retain the job after returning.
type Runner interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job Job) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job Job) (*Result, error) {
	return f(ctx, job)
}

// Config contains the parameters of the job manager.
type Config struct {
	Workers int `json:"workers"`
	// Store is either "memory" or "sqlite".
	Store        string `json:"store"`
	DatabasePath string `json:"database_path,omitempty"`
	ResultsDir   string `json:"results_dir"`
	// Retention is how long finished jobs and their artifacts are kept, e.g. "24h". Empty keeps
	// them forever.
	Retention string `json:"retention,omitempty"`
	// SweepInterval is how often expired jobs are looked for. Defaults to a tenth of Retention.
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// DefaultConfig returns two workers with an in-memory store.
func DefaultConfig() *Config {
	return &Config{Workers: 2, Store: "memory", ResultsDir: "results"}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Workers < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers should be >= 1, got %d", cfg.Workers))
	}
	switch cfg.Store {
	case "memory":
	case "sqlite":
		if cfg.DatabasePath == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "database_path")
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown store %q", cfg.Store))
	}
	if cfg.ResultsDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "results_dir")
	}
	if _, _, err := cfg.durations(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg *Config) durations() (time.Duration, time.Duration, error) {
	if cfg.Retention == "" {
		return 0, 0, nil
	}
	retention, err := time.ParseDuration(cfg.Retention)
	if err != nil || retention <= 0 {
		return 0, 0, errors.Errorf("retention %q should be a positive duration", cfg.Retention)
	}
	interval := retention / 10
	if cfg.SweepInterval != "" {
		interval, err = time.ParseDuration(cfg.SweepInterval)
		if err != nil || interval <= 0 {
			return 0, 0, errors.Errorf("sweep_interval %q should be a positive duration", cfg.SweepInterval)
		}
	}
	return retention, interval, nil
}

// OpenStore returns the store selected by cfg.
func OpenStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg.Store == "sqlite" {
		return NewSQLiteStore(ctx, cfg.DatabasePath)
	}
	return NewMemoryStore(), nil
}

// Jobmanager owns the job queue, its workers and the retention sweep.
type Jobmanager struct {
	cfg        *Config
	store      Store
	runner     Runner
	logger     logging.Logger
	scheduler  gocron.Scheduler
	retention  time.Duration
	now        func() time.Time
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []string
	closed     bool
	started    bool
	workers    sync.WaitGroup
	closeOnce  sync.Once
	closeError error
}

// New returns a job manager that has not started its workers yet.
func New(cfg *Config, store Store, runner Runner, logger logging.Logger) (*Jobmanager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate("jobs"); err != nil {
		return nil, err
	}
	retention, interval, err := cfg.durations()
	if err != nil {
		return nil, err
	}
	jm := &Jobmanager{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		logger:    logger.Sublogger("jobs"),
		retention: retention,
		now:       time.Now,
	}
	jm.cond = sync.NewCond(&jm.mu)

	if retention > 0 {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if _, err := jm.Sweep(context.Background()); err != nil {
					jm.logger.Errorw("retention sweep failed", "error", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, multierr.Combine(err, scheduler.Shutdown())
		}
		jm.scheduler = scheduler
	}
	return jm, nil
}

// Start launches the workers and the retention sweep.
func (jm *Jobmanager) Start() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if jm.started || jm.closed {
		return
	}
	jm.started = true
	for i := 0; i < jm.cfg.Workers; i++ {
		jm.workers.Add(1)
		workerLogger := jm.logger.Sublogger(fmt.Sprintf("worker%d", i))
		utils.PanicCapturingGo(func() {
			defer jm.workers.Done()
			jm.work(workerLogger)
		})
	}
	if jm.scheduler != nil {
		jm.scheduler.Start()
	}
	jm.logger.Infow("job manager started", "workers", jm.cfg.Workers, "store", jm.cfg.Store)
}

// Submit records a queued job for inputs and returns its id without waiting for it to run.
func (jm *Jobmanager) Submit(ctx context.Context, inputs []string) (string, error) {
	now := jm.now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		Status:      StatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
		Inputs:      append([]string(nil), inputs...),
		InputCount:  len(inputs),
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()
	if jm.closed {
		return "", ErrClosed
	}
	if err := jm.store.Put(ctx, job); err != nil {
		return "", err
	}
	jm.queue = append(jm.queue, job.ID)
	jm.cond.Signal()
	jm.logger.Infow("job queued", "id", job.ID, "inputs", len(inputs))
	return job.ID, nil
}

// Status returns a snapshot of the job with the given id.
func (jm *Jobmanager) Status(ctx context.Context, id string) (Job, error) {
	return jm.store.Get(ctx, id)
}

// List returns snapshots of all jobs ordered by submission time.
func (jm *Jobmanager) List(ctx context.Context) ([]Job, error) {
	return jm.store.List(ctx)
}

// ResultsDir is where runners place artifacts.
func (jm *Jobmanager) ResultsDir() string {
	return jm.cfg.ResultsDir
}

// next blocks until a job id is queued or the manager is closed.
func (jm *Jobmanager) next() (string, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	for len(jm.queue) == 0 && !jm.closed {
		jm.cond.Wait()
	}
	if jm.closed {
		return "", false
	}
	id := jm.queue[0]
	jm.queue = jm.queue[1:]
	return id, true
}

func (jm *Jobmanager) work(logger logging.Logger) {
	for {
		id, ok := jm.next()
		if !ok {
			return
		}
		jm.process(context.Background(), id, logger)
	}
}

// transition moves job to next, refusing to go backwards.
func (jm *Jobmanager) transition(ctx context.Context, job *Job, next Status) error {
	if next.rank() <= job.Status.rank() {
		return errors.Errorf("job %s cannot go from %s to %s", job.ID, job.Status, next)
	}
	job.Status = next
	job.UpdatedAt = jm.now().UTC()
	return jm.store.Put(ctx, *job)
}

func (jm *Jobmanager) process(ctx context.Context, id string, logger logging.Logger) {
	job, err := jm.store.Get(ctx, id)
	if err != nil {
		logger.Errorw("cannot load queued job", "id", id, "error", err)
		return
	}
	if err := jm.transition(ctx, &job, StatusProcessing); err != nil {
		logger.Errorw("cannot start job", "id", id, "error", err)
		return
	}
	start := time.Now()
	result, err := jm.runSafely(ctx, job)
	if err != nil {
		job.Error = err.Error()
		if terr := jm.transition(ctx, &job, StatusFailed); terr != nil {
			logger.Errorw("cannot record job failure", "id", id, "error", terr)
		}
		logger.Warnw("job failed", "id", id, "duration", time.Since(start), "error", err)
		return
	}
	job.Result = result.File
	job.Method = result.Method
	job.NumPoints = result.NumPoints
	job.Warnings = append([]string(nil), result.Warnings...)
	if err := jm.transition(ctx, &job, StatusCompleted); err != nil {
		logger.Errorw("cannot record job completion", "id", id, "error", err)
		return
	}
	logger.Infow("job completed", "id", id, "duration", time.Since(start),
		"method", result.Method, "points", result.NumPoints)
}

// runSafely runs the job, turning a panic into an error so one job cannot take a worker down.
func (jm *Jobmanager) runSafely(ctx context.Context, job Job) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Errorf("job panicked: %v", r)
		}
	}()
	result, err = jm.runner.Run(ctx, job.Clone())
	if err == nil && result == nil {
		err = errors.New("runner returned no result")
	}
	return result, err
}

// Sweep removes finished jobs older than the retention window along with their artifacts and
// returns how many were removed.
func (jm *Jobmanager) Sweep(ctx context.Context) (int, error) {
	if jm.retention <= 0 {
		return 0, nil
	}
	jobs, err := jm.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := jm.now().Add(-jm.retention)
	removed := 0
	var errs error
	for _, job := range jobs {
		if !job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if job.Result != "" {
			artifact := filepath.Join(jm.cfg.ResultsDir, filepath.Base(job.Result))
			if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
				errs = multierr.Append(errs, err)
				continue
			}
		}
		if err := jm.store.Delete(ctx, job.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		jm.logger.Infow("removed expired jobs", "count", removed)
	}
	return removed, errs
}

// Close stops accepting jobs, waits for running jobs to finish, fails the jobs still queued,
// and closes the store.
func (jm *Jobmanager) Close() error {
	jm.closeOnce.Do(func() {
		jm.mu.Lock()
		jm.closed = true
		pending := jm.queue
		jm.queue = nil
		jm.cond.Broadcast()
		jm.mu.Unlock()

		jm.workers.Wait()

		var errs error
		if jm.scheduler != nil {
			errs = multierr.Append(errs, jm.scheduler.Shutdown())
		}
		ctx := context.Background()
		for _, id := range pending {
			job, err := jm.store.Get(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			job.Error = "job manager shut down before the job started"
			errs = multierr.Append(errs, jm.transition(ctx, &job, StatusFailed))
		}
		errs = multierr.Append(errs, jm.store.Close())
		jm.closeError = errs
		jm.logger.Info("job manager closed")
	})
	return jm.closeError
}
