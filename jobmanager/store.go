package jobmanager

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store persists job records. Put replaces the whole record, so readers observe either the
// previous or the next version of a job, never a mix.
type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns all jobs ordered by submission time.
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps jobs in a map guarded by a read/write lock.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}}
}

// Put stores a copy of job.
func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, errors.Wrap(ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// List returns copies of all jobs ordered by submission time.
func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.RUnlock()
	sortJobs(jobs)
	return jobs, nil
}

// Delete removes a job. Unknown ids are ignored.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// Close does nothing.
func (s *MemoryStore) Close() error {
	return nil
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
}
