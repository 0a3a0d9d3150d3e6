// Package scheduler runs periodic maintenance with robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
)

const runTimeout = 5 * time.Minute

// Cleaner performs one maintenance pass.
type Cleaner interface {
	Cleanup(ctx context.Context) (*jobs.CleanupReport, error)
}

// CleanupScheduler triggers Cleaner on a cron spec.
type CleanupScheduler struct {
	cronEngine *cron.Cron
	cleaner    Cleaner
	spec       string
	log        logrus.FieldLogger
}

// New builds a scheduler for spec, e.g. "*/10 * * * *".
func New(cleaner Cleaner, spec string, log logrus.FieldLogger) *CleanupScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CleanupScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)),
		cleaner:    cleaner,
		spec:       spec,
		log:        log.WithField("component", "scheduler"),
	}
}

// Start registers the cleanup job and starts the cron engine.
func (s *CleanupScheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.spec, s.RunOnce); err != nil {
		return fmt.Errorf("add cleanup job %q: %w", s.spec, err)
	}
	s.cronEngine.Start()
	s.log.WithField("spec", s.spec).Info("cleanup scheduler started")
	return nil
}

// RunOnce performs a single cleanup pass.
func (s *CleanupScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if _, err := s.cleaner.Cleanup(ctx); err != nil {
		s.log.WithError(err).Error("scheduled cleanup failed")
	}
}

// Stop waits for a running cleanup to finish.
func (s *CleanupScheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.log.Info("cleanup scheduler stopped")
}
