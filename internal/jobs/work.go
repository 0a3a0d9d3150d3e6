package jobs

import (
	"context"

	"github.com/dharsanguruparan/ClockSheet/internal/fetch"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/strategy"
)

// Generator is the part of strategy.Generator a job needs.
type Generator interface {
	Generate(ctx context.Context, job strategy.Job) (*strategy.Output, error)
}

// ReportWork adapts a report generator to Work.
func ReportWork(g Generator) Work {
	return func(ctx context.Context, task Task) (*Result, error) {
		out, err := g.Generate(ctx, strategy.Job{
			ID:      task.Job.ID,
			Request: task.Job.Request,
			Token:   task.Token,
			Progress: func(p fetch.Progress) {
				task.Progress(model.Progress{
					CurrentPage:        p.Page,
					TotalPages:         p.TotalPages,
					CurrentRecords:     p.Records,
					TotalRecords:       p.TotalRecords,
					PaginationComplete: p.Complete,
				})
			},
			OnPlan: func(plan strategy.Plan) { task.Strategy(plan.Strategy) },
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     out.Data,
			Format:   task.Job.Request.Format,
			Strategy: out.Strategy.String(),
		}, nil
	}
}
