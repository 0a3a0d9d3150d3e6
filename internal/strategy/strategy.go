// Package strategy estimates the size of a report request, picks the
// retrieval strategy that fits it and runs the generation pipeline, falling
// back once to the other strategy when the first one fails.
package strategy

import (
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

// Kind is the tagged variant of available generation strategies.
type Kind int

const (
	Sequential Kind = iota
	ParallelStreaming
)

func (k Kind) String() string {
	if k == ParallelStreaming {
		return model.StrategyParallelStreaming
	}
	return model.StrategySequential
}

// Other returns the fallback for k.
func (k Kind) Other() Kind {
	if k == Sequential {
		return ParallelStreaming
	}
	return Sequential
}

// ParseKind maps a strategy name to its Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case model.StrategySequential:
		return Sequential, true
	case model.StrategyParallelStreaming:
		return ParallelStreaming, true
	}
	return Sequential, false
}

// Estimate is the predicted volume of a request.
type Estimate struct {
	Records int `json:"estimated_records"`
	Pages   int `json:"estimated_pages"`
}

const (
	minRecords = 10
	maxRecords = 50000
)

// EstimateVolume predicts how many entries a request will return from its
// filters alone, without calling the API.
func EstimateVolume(req model.ReportRequest, pageSize int) Estimate {
	if pageSize <= 0 {
		pageSize = 500
	}
	specific := req.EmployeeID != ""

	employeeFactor := 10
	if specific {
		employeeFactor = 1
	}

	var dateFactor int
	switch days, ok := req.Days(); {
	case req.From == "" && req.To == "":
		dateFactor = 50
	case !ok || days <= 0:
		dateFactor = 100
	case specific:
		dateFactor = days * 2
	default:
		dateFactor = days * 20
	}

	scopeFactor := 20
	if req.Scoped() {
		scopeFactor = 5
	}

	records := 100 * employeeFactor * dateFactor * scopeFactor / 100
	if records < minRecords {
		records = minRecords
	}
	if records > maxRecords {
		records = maxRecords
	}
	pages := records / pageSize
	if pages < 1 {
		pages = 1
	}
	return Estimate{Records: records, Pages: pages}
}

// Thresholds decide when the parallel streaming strategy is worth it.
type Thresholds struct {
	Records int
	Pages   int
}

// Choose picks parallel streaming for large or CSV reports and sequential
// otherwise.
func Choose(est Estimate, format model.Format, th Thresholds) Kind {
	if th.Records <= 0 {
		th.Records = 1000
	}
	if th.Pages <= 0 {
		th.Pages = 5
	}
	if est.Records >= th.Records || est.Pages >= th.Pages || format == model.FormatCSV {
		return ParallelStreaming
	}
	return Sequential
}

// Plan is the strategy decision for one request.
type Plan struct {
	Kind     Kind     `json:"-"`
	Strategy string   `json:"strategy"`
	Forced   bool     `json:"forced"`
	Estimate Estimate `json:"estimate"`
}

// PlanFor estimates the request and picks a strategy. A forced strategy on
// the request bypasses the heuristic.
func PlanFor(req model.ReportRequest, pageSize int, th Thresholds) Plan {
	est := EstimateVolume(req, pageSize)
	if kind, ok := ParseKind(req.Strategy); ok {
		return Plan{Kind: kind, Strategy: kind.String(), Forced: true, Estimate: est}
	}
	kind := Choose(est, req.Format, th)
	return Plan{Kind: kind, Strategy: kind.String(), Estimate: est}
}
