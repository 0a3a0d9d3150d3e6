package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/fetch"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/report"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
)

const (
	entrySort  = "workEntryIn.date,workEntryIn.createdAt"
	entryOrder = "asc"
)

// Activities resolves activity names and makes sure the cache is populated
// before a report is assembled.
type Activities interface {
	report.Resolver
	EnsureCached(ctx context.Context) (bool, error)
}

// Settings tunes the generation pipeline.
type Settings struct {
	PageSize          int
	MaxPages          int
	Workers           int
	ChunkSize         int
	Thresholds        Thresholds
	GenerationTimeout time.Duration
}

// Job is one generation run.
type Job struct {
	ID       string
	Request  model.ReportRequest
	Token    cancel.Token
	Progress fetch.ProgressFunc
	// OnPlan is called once the strategy is decided, before any fetch.
	OnPlan func(Plan)
}

// Output is a generated report held in memory until the file store saves it.
type Output struct {
	Data         []byte
	Strategy     Kind
	Fallback     bool
	Rows         int
	Summary      report.Summary
	MissingPages []int
	Truncated    bool
}

// GenerateFunc runs one strategy end to end.
type GenerateFunc func(ctx context.Context, job Job) (*Output, error)

// Generator dispatches report generation through its strategy table.
type Generator struct {
	src        fetch.Source
	activities Activities
	settings   Settings
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	table      map[Kind]GenerateFunc
}

// NewGenerator wires both strategies.
func NewGenerator(src fetch.Source, activities Activities, settings Settings, log logrus.FieldLogger, m *metrics.Metrics) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if settings.GenerationTimeout <= 0 {
		settings.GenerationTimeout = 10 * time.Minute
	}
	g := &Generator{
		src:        src,
		activities: activities,
		settings:   settings,
		log:        log.WithField("component", "generator"),
		metrics:    m,
	}
	g.table = map[Kind]GenerateFunc{
		Sequential:        g.runSequential,
		ParallelStreaming: g.runParallelStreaming,
	}
	return g
}

// Plan decides the strategy for req.
func (g *Generator) Plan(req model.ReportRequest) Plan {
	return PlanFor(req, g.settings.PageSize, g.settings.Thresholds)
}

// Generate runs the planned strategy and, unless the strategy was forced or
// the failure cannot be fixed by retrying differently, falls back once to the
// other one.
func (g *Generator) Generate(ctx context.Context, job Job) (*Output, error) {
	plan := g.Plan(job.Request)
	log := g.log.WithFields(logrus.Fields{"job_id": job.ID, "strategy": plan.Strategy, "estimated_records": plan.Estimate.Records})
	if job.OnPlan != nil {
		job.OnPlan(plan)
	}
	if _, err := g.activities.EnsureCached(ctx); err != nil {
		log.WithError(err).Warn("activity types unavailable, names will fall back to generic labels")
	}

	out, err := g.table[plan.Kind](ctx, job)
	if err == nil {
		out.Strategy = plan.Kind
		return out, nil
	}
	if !shouldFallback(ctx, plan, err) {
		return nil, err
	}

	fallback := plan.Kind.Other()
	log.WithError(err).WithField("fallback", fallback.String()).Warn("strategy failed, falling back")
	out, fallbackErr := g.table[fallback](ctx, job)
	if fallbackErr == nil {
		out.Strategy = fallback
		out.Fallback = true
		return out, nil
	}
	if errors.Is(fallbackErr, cancel.ErrCancelled) || ctx.Err() != nil {
		return nil, fallbackErr
	}
	joined := errors.Join(
		fmt.Errorf("%s: %w", plan.Kind, err),
		fmt.Errorf("%s: %w", fallback, fallbackErr),
	)
	code := apperror.CodeGeneration
	if apperror.CodeOf(err) == apperror.CodeOf(fallbackErr) && apperror.CodeOf(err) != apperror.CodeInternal {
		code = apperror.CodeOf(err)
	}
	return nil, apperror.Wrap(code, "report generation failed with every strategy", joined)
}

func shouldFallback(ctx context.Context, plan Plan, err error) bool {
	switch {
	case plan.Forced:
		return false
	case errors.Is(err, cancel.ErrCancelled), ctx.Err() != nil:
		return false
	case apperror.IsValidation(err), apperror.CodeOf(err) == apperror.CodeAuth:
		return false
	}
	return true
}

func (g *Generator) runSequential(ctx context.Context, job Job) (*Output, error) {
	res, err := g.fetchEntries(ctx, Sequential, job)
	if err != nil {
		return nil, err
	}
	rows, sum, err := report.Assemble(ctx, res.Items, job.Request.ReportType, g.activities, job.Token)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if job.Request.Format == model.FormatCSV {
		err = report.WriteCSV(&buf, rows, g.settings.ChunkSize, job.Token)
	} else {
		err = report.WriteXLSX(&buf, rows)
	}
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	return newOutput(buf.Bytes(), rows, sum, res), nil
}

// runParallelStreaming runs the pipeline on its own goroutine, bounded by the
// generation timeout.
func (g *Generator) runParallelStreaming(ctx context.Context, job Job) (*Output, error) {
	ctx, stop := context.WithTimeout(ctx, g.settings.GenerationTimeout)
	defer stop()

	type result struct {
		out *Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := g.streamPipeline(ctx, job)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.Wrap(apperror.CodeGeneration,
				fmt.Sprintf("report generation exceeded %s", g.settings.GenerationTimeout), ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (g *Generator) streamPipeline(ctx context.Context, job Job) (*Output, error) {
	res, err := g.fetchEntries(ctx, ParallelStreaming, job)
	if err != nil {
		return nil, err
	}
	rows, sum, err := report.Assemble(ctx, res.Items, job.Request.ReportType, g.activities, job.Token)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if job.Request.Format == model.FormatCSV {
		err = report.WriteCSV(&buf, rows, g.settings.ChunkSize, job.Token)
	} else {
		err = report.StreamXLSX(&buf, rows, g.settings.ChunkSize, job.Token)
	}
	if err != nil {
		return nil, wrapWriteErr(err)
	}
	return newOutput(buf.Bytes(), rows, sum, res), nil
}

func newOutput(data []byte, rows []model.ReportRow, sum report.Summary, res *fetch.Result[model.WorkEntry]) *Output {
	return &Output{
		Data:         data,
		Rows:         len(rows),
		Summary:      sum,
		MissingPages: res.MissingPages,
		Truncated:    res.Truncated,
	}
}

func wrapWriteErr(err error) error {
	if errors.Is(err, cancel.ErrCancelled) {
		return err
	}
	return apperror.Wrap(apperror.CodeFile, "could not encode the report file", err)
}

func (g *Generator) fetchOptions(job Job) fetch.Options {
	return fetch.Options{
		PageSize: g.settings.PageSize,
		MaxPages: g.settings.MaxPages,
		Workers:  g.settings.Workers,
		Token:    job.Token,
		Progress: job.Progress,
		Logger:   g.log.WithField("job_id", job.ID),
		Metrics:  g.metrics,
	}
}

// fetchEntries retrieves every work entry for the request. Office and
// department filters are resolved to their employees first because the
// work entries resource only filters by employee.
func (g *Generator) fetchEntries(ctx context.Context, kind Kind, job Job) (*fetch.Result[model.WorkEntry], error) {
	req := job.Request
	opts := g.fetchOptions(job)

	one := func(ctx context.Context, employeeID string, o fetch.Options) (*fetch.Result[model.WorkEntry], error) {
		r := sesame.Request{
			Resource: sesame.ResourceWorkEntries,
			Filters: map[string]string{
				"employeeId": employeeID,
				"from":       req.From,
				"to":         req.To,
				"sort":       entrySort,
				"order":      entryOrder,
			},
		}
		if kind == Sequential {
			return fetch.Sequential(ctx, g.src, r, sesame.DecodeWorkEntry, o)
		}
		return fetch.Parallel(ctx, g.src, r, sesame.DecodeWorkEntry, o, func(a, b model.WorkEntry) bool {
			return a.StartsBefore(b)
		})
	}

	if req.EmployeeID != "" || !req.Scoped() {
		return one(ctx, req.EmployeeID, opts)
	}

	employees, label, err := g.scope(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(employees))
	for _, e := range employees {
		ids = append(ids, e.ID)
	}
	res, err := fetch.ForEach(ctx, ids, opts, one)
	if err != nil {
		return nil, err
	}
	for i := range res.Items {
		if res.Items[i].Group == "" {
			res.Items[i].Group = label
		}
	}
	return res, nil
}

// scope lists the employees of the requested office or department and
// returns the scope's display name for the group column.
func (g *Generator) scope(ctx context.Context, req model.ReportRequest, opts fetch.Options) ([]model.Employee, string, error) {
	quiet := opts
	quiet.Progress = nil
	employees, err := fetch.Sequential(ctx, g.src, sesame.Request{
		Resource: sesame.ResourceEmployees,
		Filters:  map[string]string{"officeId": req.OfficeID, "departmentId": req.DepartmentID},
	}, sesame.DecodeEmployee, quiet)
	if err != nil {
		return nil, "", err
	}

	resource, id := sesame.ResourceOffices, req.OfficeID
	if req.DepartmentID != "" {
		resource, id = sesame.ResourceDepartments, req.DepartmentID
	}
	label := ""
	named, err := fetch.Sequential(ctx, g.src, sesame.Request{Resource: resource}, sesame.DecodeNamed, quiet)
	if err != nil {
		g.log.WithError(err).WithField("resource", resource).Warn("could not resolve scope name")
	} else {
		for _, n := range named.Items {
			if n.ID == id {
				label = n.Name
				break
			}
		}
	}
	return employees.Items, label, nil
}

// Preview describes what generating req would involve without building a
// file.
type Preview struct {
	Plan         Plan `json:"plan"`
	TotalPages   int  `json:"total_pages"`
	TotalRecords int  `json:"total_records"`
	SampleSize   int  `json:"sample_size"`
}

// Preview fetches only the first page to report the real volume next to the
// estimate.
func (g *Generator) Preview(ctx context.Context, req model.ReportRequest) (*Preview, error) {
	plan := g.Plan(req)
	page, err := g.src.Fetch(ctx, sesame.Request{
		Resource: sesame.ResourceWorkEntries,
		Filters: map[string]string{
			"employeeId": req.EmployeeID,
			"from":       req.From,
			"to":         req.To,
			"sort":       entrySort,
			"order":      entryOrder,
		},
		Page:  1,
		Limit: g.settings.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return &Preview{
		Plan:         plan,
		TotalPages:   page.Meta.TotalPages,
		TotalRecords: page.Meta.TotalItems,
		SampleSize:   len(page.Data),
	}, nil
}
