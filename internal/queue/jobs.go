// Package queue carries report generation to an out-of-process worker through
// asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// GenerateReportTask is scheduled each time a report job is created.
	GenerateReportTask = "report:generate"
)

// GeneratePayload names the job the worker should run. The request itself is
// read from the shared job store.
type GeneratePayload struct {
	JobID string `json:"job_id"`
}

// EnqueueGenerate enqueues a report generation job. Generation is not
// retried by asynq because a failed job is already terminal in the store.
func EnqueueGenerate(ctx context.Context, client *asynq.Client, payload GeneratePayload, timeout time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(GenerateReportTask, data)
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.TaskID(payload.JobID)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue generate task: %w", err)
	}
	return nil
}

// Launcher hands new jobs to the asynq worker fleet.
type Launcher struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewLauncher constructs a Launcher.
func NewLauncher(client *asynq.Client, timeout time.Duration) *Launcher {
	return &Launcher{client: client, timeout: timeout}
}

// Launch enqueues the job.
func (l *Launcher) Launch(ctx context.Context, jobID string) error {
	return EnqueueGenerate(ctx, l.client, GeneratePayload{JobID: jobID}, l.timeout)
}
