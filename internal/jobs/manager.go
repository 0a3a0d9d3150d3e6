// Package jobs owns the report job lifecycle: creation, a bounded pool of
// background workers, cooperative cancellation, orphan recovery and
// retention.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
)

var (
	// ErrNotRunnable is returned when starting a job that is no longer pending.
	ErrNotRunnable = errors.New("job is not pending")
	// ErrQueueFull is returned when the worker queue has no free slot.
	ErrQueueFull = errors.New("processing queue full")
)

// Store persists jobs. Every status change goes through Transition so that
// concurrent writers cannot move a job out of a terminal state.
type Store interface {
	Create(ctx context.Context, job *model.ReportJob) error
	Get(ctx context.Context, id string) (*model.ReportJob, error)
	List(ctx context.Context) ([]model.ReportJob, error)
	Transition(ctx context.Context, id string, from []model.JobStatus, upd model.JobUpdate) (bool, error)
	UpdateProgress(ctx context.Context, id string, p model.Progress, at time.Time) error
	ListStale(ctx context.Context, status model.JobStatus, cutoff time.Time) ([]model.ReportJob, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]model.ReportJob, error)
	Delete(ctx context.Context, id string) error
}

// Files is where finished reports are written.
type Files interface {
	Save(data []byte, reportID string, format model.Format, name string) (string, string, error)
	Delete(reportID string) (int, error)
	EnforceLimit(max int) (int, error)
	CleanupInvalid() (int, error)
}

// Archiver mirrors finished reports to object storage.
type Archiver interface {
	ArchiveReport(ctx context.Context, key string, data []byte, contentType string) error
	RemoveReport(ctx context.Context, key string) error
}

// Task is what a Work function receives.
type Task struct {
	Job   model.ReportJob
	Token cancel.Token
	// Progress publishes a pagination snapshot.
	Progress func(model.Progress)
	// Strategy records the chosen strategy as soon as it is known.
	Strategy func(name string)
}

// Result is a generated report ready to be stored.
type Result struct {
	Data     []byte
	Format   model.Format
	Name     string
	Strategy string
}

// Work produces the report of one job.
type Work func(ctx context.Context, task Task) (*Result, error)

// Options tunes the manager.
type Options struct {
	Workers       int
	QueueSize     int
	CheckInterval time.Duration
	MaxReports    int
	OrphanTimeout time.Duration
	Retention     time.Duration
	LongRunning   time.Duration
	Archiver      Archiver
	Logger        logrus.FieldLogger
	Metrics       *metrics.Metrics
}

type queued struct {
	id   string
	work Work
}

// Manager runs report jobs on a fixed pool of goroutines fed by a buffered
// channel.
type Manager struct {
	store   Store
	files   Files
	opts    Options
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	queue chan queued

	mu    sync.Mutex
	flags map[string]*cancel.Flag
}

// NewManager builds a Manager. Workers are launched by StartWorkers.
func NewManager(store Store, files Files, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 4
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 2 * time.Second
	}
	if opts.OrphanTimeout <= 0 {
		opts.OrphanTimeout = 30 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.LongRunning <= 0 {
		opts.LongRunning = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		files:   files,
		opts:    opts,
		log:     opts.Logger.WithField("component", "jobs"),
		metrics: opts.Metrics,
		now:     time.Now,
		root:    root,
		stop:    stop,
		queue:   make(chan queued, opts.QueueSize),
		flags:   make(map[string]*cancel.Flag),
	}
}

// StartWorkers launches the worker goroutines. They exit when ctx is done or
// Shutdown is called.
func (m *Manager) StartWorkers(ctx context.Context) {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
}

// Shutdown stops the workers and interrupts running work.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.root.Done():
			return
		case item := <-m.queue:
			job, err := m.store.Get(m.root, item.id)
			if err != nil {
				m.log.WithError(err).WithField("job_id", item.id).Warn("queued job vanished")
				continue
			}
			m.execute(m.root, job, item.work)
		}
	}
}

// Create validates req and stores a pending job.
func (m *Manager) Create(ctx context.Context, req model.ReportRequest) (*model.ReportJob, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := m.now()
	job := &model.ReportJob{
		ID:        uuid.NewString(),
		Status:    model.StatusPending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	m.log.WithFields(logrus.Fields{"job_id": job.ID, "report_type": req.ReportType, "format": req.Format}).Info("report job created")
	return job, nil
}

// Start marks the job processing before returning and hands work to the
// pool. A full queue fails the job instead of blocking the caller.
func (m *Manager) Start(ctx context.Context, id string, work Work) error {
	if err := m.begin(ctx, id); err != nil {
		return err
	}
	select {
	case m.queue <- queued{id: id, work: work}:
		return nil
	default:
		m.log.WithField("job_id", id).Warn("processing queue full, failing job")
		m.fail(ctx, id, apperror.Wrap(apperror.CodeLimitExceeded, "too many reports are being generated, try again later", ErrQueueFull))
		m.release(id)
		return ErrQueueFull
	}
}

// Run executes a pending job on the calling goroutine.
func (m *Manager) Run(ctx context.Context, id string, work Work) error {
	if err := m.begin(ctx, id); err != nil {
		return err
	}
	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.release(id)
		return err
	}
	return m.execute(ctx, job, work)
}

func (m *Manager) begin(ctx context.Context, id string) error {
	ok, err := m.store.Transition(ctx, id, []model.JobStatus{model.StatusPending}, model.JobUpdate{
		Status: model.StatusProcessing,
		At:     m.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRunnable
	}
	m.mu.Lock()
	m.flags[id] = &cancel.Flag{}
	m.mu.Unlock()
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.flags, id)
	m.mu.Unlock()
}

func (m *Manager) flag(id string) *cancel.Flag {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flags[id]
	if !ok {
		f = &cancel.Flag{}
		m.flags[id] = f
	}
	return f
}

func (m *Manager) execute(ctx context.Context, job *model.ReportJob, work Work) error {
	defer m.release(job.ID)
	log := m.log.WithField("job_id", job.ID)
	started := m.now()
	m.metrics.JobStarted()

	strategy := job.Strategy
	task := Task{
		Job:   *job,
		Token: m.token(job.ID),
		Progress: func(p model.Progress) {
			if err := m.store.UpdateProgress(ctx, job.ID, p, m.now()); err != nil {
				log.WithError(err).Debug("progress update failed")
			}
		},
		Strategy: func(name string) {
			strategy = name
			m.transition(ctx, job.ID, []model.JobStatus{model.StatusProcessing}, model.JobUpdate{Status: model.StatusProcessing, Strategy: name})
		},
	}

	res, err := work(ctx, task)
	if err == nil {
		if res.Strategy != "" {
			strategy = res.Strategy
		}
		err = m.complete(ctx, job, res)
	}

	status := model.StatusCompleted
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"strategy": strategy, "elapsed": m.now().Sub(started)}).Info("report completed")
	case errors.Is(err, cancel.ErrCancelled):
		status = model.StatusCancelled
		m.discard(job.ID)
		m.transition(ctx, job.ID, activeStatuses, model.JobUpdate{
			Status:       model.StatusCancelled,
			ErrorCode:    string(apperror.CodeCancelled),
			ErrorMessage: "report cancelled",
		})
		log.Info("report cancelled")
	default:
		status = model.StatusError
		m.discard(job.ID)
		m.fail(ctx, job.ID, err)
		log.WithError(err).WithField("code", apperror.CodeOf(err)).Error("report failed")
	}
	m.metrics.JobFinished(string(status), strategy, m.now().Sub(started))
	return err
}

var activeStatuses = []model.JobStatus{model.StatusPending, model.StatusProcessing}

// complete saves the report and marks the job completed. If the job was
// cancelled meanwhile the file is discarded.
func (m *Manager) complete(ctx context.Context, job *model.ReportJob, res *Result) error {
	format := res.Format
	if format == "" {
		format = job.Request.Format
	}
	path, filename, err := m.files.Save(res.Data, job.ID, format, res.Name)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeInternal {
			err = apperror.Wrap(apperror.CodeFile, "could not store the report file", err)
		}
		return err
	}
	ok := m.transition(ctx, job.ID, []model.JobStatus{model.StatusProcessing}, model.JobUpdate{
		Status:   model.StatusCompleted,
		Strategy: res.Strategy,
		Filename: filename,
		FilePath: path,
	})
	if !ok {
		return cancel.ErrCancelled
	}
	if m.opts.Archiver != nil {
		if err := m.opts.Archiver.ArchiveReport(ctx, filename, res.Data, format.ContentType()); err != nil {
			m.log.WithError(err).WithField("job_id", job.ID).Warn("report archive failed")
		}
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, id string, err error) {
	m.transition(ctx, id, activeStatuses, model.JobUpdate{
		Status:       model.StatusError,
		ErrorCode:    string(apperror.CodeOf(err)),
		ErrorMessage: apperror.MessageOf(err),
	})
}

func (m *Manager) transition(ctx context.Context, id string, from []model.JobStatus, upd model.JobUpdate) bool {
	upd.At = m.now()
	ok, err := m.store.Transition(ctx, id, from, upd)
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"job_id": id, "status": upd.Status}).Warn("job transition failed")
		return false
	}
	return ok
}

func (m *Manager) discard(id string) {
	if _, err := m.files.Delete(id); err != nil {
		m.log.WithError(err).WithField("job_id", id).Warn("could not remove partial report")
	}
}

// Status returns the current job record.
func (m *Manager) Status(ctx context.Context, id string) (*model.ReportJob, error) {
	return m.store.Get(ctx, id)
}

// List returns every job, newest first.
func (m *Manager) List(ctx context.Context) ([]model.ReportJob, error) {
	return m.store.List(ctx)
}

// UpdateProgress stores a progress snapshot of a processing job.
func (m *Manager) UpdateProgress(ctx context.Context, id string, p model.Progress) error {
	return m.store.UpdateProgress(ctx, id, p, m.now())
}

// Cancel moves a pending or processing job to cancelled. It reports false
// without error when the job had already finished.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.Transition(ctx, id, activeStatuses, model.JobUpdate{
		Status:       model.StatusCancelled,
		ErrorCode:    string(apperror.CodeCancelled),
		ErrorMessage: "report cancelled",
		At:           m.now(),
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.mu.Lock()
		if f, running := m.flags[id]; running {
			f.Cancel()
		}
		m.mu.Unlock()
		m.log.WithField("job_id", id).Info("cancellation requested")
	}
	return ok, nil
}

// Delete cancels the job if it is still active and removes it with its
// files.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Active() {
		if _, err := m.Cancel(ctx, id); err != nil {
			return err
		}
	}
	m.discard(id)
	m.unarchive(ctx, job)
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) unarchive(ctx context.Context, job *model.ReportJob) {
	if m.opts.Archiver == nil || job.Filename == "" {
		return
	}
	if err := m.opts.Archiver.RemoveReport(ctx, job.Filename); err != nil {
		m.log.WithError(err).WithField("job_id", job.ID).Warn("could not remove archived report")
	}
}
