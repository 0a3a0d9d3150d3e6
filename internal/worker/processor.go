// Package worker runs queued report jobs inside the asynq server loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
	"github.com/dharsanguruparan/ClockSheet/internal/queue"
)

// Runner executes a pending job to completion.
type Runner interface {
	Run(ctx context.Context, id string, work jobs.Work) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	jobs Runner
	work jobs.Work
	log  logrus.FieldLogger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner, work jobs.Work, log logrus.FieldLogger) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{jobs: runner, work: work, log: log.WithField("component", "worker")}
}

// Handler registers the generate job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.GenerateReportTask, p.HandleGenerate)
	return mux
}

// HandleGenerate runs one report job. Failures are recorded on the job, so
// asynq is told not to retry them.
func (p *Processor) HandleGenerate(ctx context.Context, task *asynq.Task) error {
	var payload queue.GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.WithField("job_id", payload.JobID)
	err := p.jobs.Run(ctx, payload.JobID, p.work)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrNotRunnable):
		log.Info("job is no longer pending, skipping")
		return nil
	default:
		log.WithError(err).Warn("report job failed")
		return fmt.Errorf("run job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
}
