package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

// SweepOrphans fails processing jobs that have not reported progress within
// staleAfter, typically because the process running them died.
func (m *Manager) SweepOrphans(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := m.store.ListStale(ctx, model.StatusProcessing, m.now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	swept := 0
	for _, job := range stale {
		ok := m.transition(ctx, job.ID, []model.JobStatus{model.StatusProcessing}, model.JobUpdate{
			Status:       model.StatusError,
			ErrorCode:    string(apperror.CodeGeneration),
			ErrorMessage: fmt.Sprintf("abandoned after %s without progress", staleAfter),
		})
		if !ok {
			continue
		}
		m.mu.Lock()
		if f, running := m.flags[job.ID]; running {
			f.Cancel()
		}
		m.mu.Unlock()
		m.discard(job.ID)
		m.log.WithFields(logrus.Fields{"job_id": job.ID, "last_update": job.UpdatedAt}).Warn("orphaned job marked as error")
		swept++
	}
	return swept, nil
}

// PurgeExpired deletes finished jobs created more than maxAge ago together
// with their files.
func (m *Manager) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	purged, err := m.store.DeleteFinishedBefore(ctx, m.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	for i := range purged {
		m.discard(purged[i].ID)
		m.unarchive(ctx, &purged[i])
	}
	if len(purged) > 0 {
		m.log.WithField("count", len(purged)).Info("expired jobs purged")
	}
	return len(purged), nil
}

// CleanupReport summarizes one maintenance pass.
type CleanupReport struct {
	Orphaned     int `json:"orphaned"`
	Purged       int `json:"purged"`
	Evicted      int `json:"evicted"`
	InvalidFiles int `json:"invalid_files"`
}

// Cleanup sweeps orphans, purges expired jobs and applies file retention.
func (m *Manager) Cleanup(ctx context.Context) (*CleanupReport, error) {
	var rep CleanupReport
	var err error
	if rep.Orphaned, err = m.SweepOrphans(ctx, m.opts.OrphanTimeout); err != nil {
		return nil, err
	}
	if rep.Purged, err = m.PurgeExpired(ctx, m.opts.Retention); err != nil {
		return nil, err
	}
	if m.opts.MaxReports > 0 {
		if rep.Evicted, err = m.files.EnforceLimit(m.opts.MaxReports); err != nil {
			return nil, fmt.Errorf("enforce report limit: %w", err)
		}
	}
	if rep.InvalidFiles, err = m.files.CleanupInvalid(); err != nil {
		return nil, fmt.Errorf("remove invalid files: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"orphaned": rep.Orphaned,
		"purged":   rep.Purged,
		"evicted":  rep.Evicted,
		"invalid":  rep.InvalidFiles,
	}).Info("cleanup finished")
	return &rep, nil
}

// LongRunningJob is a job that has been processing for longer than the
// configured threshold.
type LongRunningJob struct {
	ID       string         `json:"id"`
	Strategy string         `json:"strategy,omitempty"`
	Running  time.Duration  `json:"running_ns"`
	Progress model.Progress `json:"progress"`
}

// Stats counts jobs per status.
type Stats struct {
	Total       int                     `json:"total"`
	ByStatus    map[model.JobStatus]int `json:"by_status"`
	LongRunning []LongRunningJob        `json:"long_running"`
}

// Stats reports job counts and the jobs that look stuck.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	st := &Stats{Total: len(all), ByStatus: make(map[model.JobStatus]int), LongRunning: []LongRunningJob{}}
	for _, job := range all {
		st.ByStatus[job.Status]++
		if job.Status != model.StatusProcessing {
			continue
		}
		if running := now.Sub(job.CreatedAt); running > m.opts.LongRunning {
			st.LongRunning = append(st.LongRunning, LongRunningJob{
				ID:       job.ID,
				Strategy: job.Strategy,
				Running:  running,
				Progress: job.Progress,
			})
		}
	}
	sort.Slice(st.LongRunning, func(i, j int) bool { return st.LongRunning[i].Running > st.LongRunning[j].Running })
	return st, nil
}
