// Package storage contains the in-memory persistence layer used when no
// database is configured, and by tests.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

var (
	// ErrNotFound is shared by every store implementation so callers can
	// compare with errors.Is regardless of backend.
	ErrNotFound = errors.New("record not found")
)

// MemoryJobStore keeps report jobs in a map guarded by an RWMutex.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.ReportJob
}

// NewMemoryJobStore constructs a MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*model.ReportJob),
	}
}

// Create inserts a job.
func (m *MemoryJobStore) Create(_ context.Context, job *model.ReportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	copy := *job
	m.jobs[job.ID] = &copy
	return nil
}

// Get returns a job copy.
func (m *MemoryJobStore) Get(_ context.Context, id string) (*model.ReportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *job
	return &copy, nil
}

// List returns every job, newest first.
func (m *MemoryJobStore) List(_ context.Context) ([]model.ReportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ReportJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Transition applies upd only when the job's current status is in from. The
// boolean reports whether the update was applied.
func (m *MemoryJobStore) Transition(_ context.Context, id string, from []model.JobStatus, upd model.JobUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !statusIn(job.Status, from) {
		return false, nil
	}
	job.Status = upd.Status
	setIfNotEmpty(&job.Strategy, upd.Strategy)
	setIfNotEmpty(&job.Filename, upd.Filename)
	setIfNotEmpty(&job.FilePath, upd.FilePath)
	setIfNotEmpty(&job.ErrorMessage, upd.ErrorMessage)
	setIfNotEmpty(&job.ErrorCode, upd.ErrorCode)
	job.UpdatedAt = upd.At
	return true, nil
}

// UpdateProgress stores a progress snapshot while the job is processing.
func (m *MemoryJobStore) UpdateProgress(_ context.Context, id string, p model.Progress, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != model.StatusProcessing {
		return nil
	}
	job.Progress = p
	job.UpdatedAt = at
	return nil
}

// ListStale returns jobs in status whose last update is before cutoff.
func (m *MemoryJobStore) ListStale(_ context.Context, status model.JobStatus, cutoff time.Time) ([]model.ReportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ReportJob
	for _, job := range m.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

// DeleteFinishedBefore removes terminal jobs created before cutoff and
// returns them.
func (m *MemoryJobStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]model.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReportJob
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
			out = append(out, *job)
			delete(m.jobs, id)
		}
	}
	return out, nil
}

// Delete removes a job.
func (m *MemoryJobStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func statusIn(s model.JobStatus, set []model.JobStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
