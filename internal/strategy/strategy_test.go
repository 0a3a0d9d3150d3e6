package strategy

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/report"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
)

type noopActivities struct{}

func (noopActivities) Resolve(_ context.Context, entryType, _ string) string {
	if entryType == "work" {
		return "Normal work"
	}
	return entryType
}

func (noopActivities) EnsureCached(context.Context) (bool, error) { return false, nil }

// apiFake serves work entries as 3 pages of 2 entries, plus optional
// employees and departments for scoped requests.
type apiFake struct {
	mu       sync.Mutex
	requests []sesame.Request
}

func workEntry(id, employee, start, end string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"employee":{"id":%q,"firstName":%q,"lastName":"Test","nid":"N-%s"},`+
		`"workEntryIn":{"date":%q},"workEntryOut":{"date":%q},"workEntryType":"work"}`, id, employee, employee, employee, start, end))
}

var entryPages = map[int][]json.RawMessage{
	1: {workEntry("1", "e1", "2024-03-01T08:00:00Z", "2024-03-01T12:00:00Z"), workEntry("2", "e1", "2024-03-01T13:00:00Z", "2024-03-01T17:00:00Z")},
	2: {workEntry("3", "e1", "2024-03-02T08:00:00Z", "2024-03-02T12:00:00Z"), workEntry("4", "e1", "2024-03-02T13:00:00Z", "2024-03-02T17:00:00Z")},
	3: {workEntry("5", "e1", "2024-03-03T08:00:00Z", "2024-03-03T12:00:00Z"), workEntry("6", "e1", "2024-03-03T13:00:00Z", "2024-03-03T17:00:00Z")},
}

func (f *apiFake) Fetch(_ context.Context, req sesame.Request) (*sesame.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	switch req.Resource {
	case sesame.ResourceEmployees:
		return &sesame.Page{
			Data: []json.RawMessage{json.RawMessage(`{"id":"e1","firstName":"e1"}`)},
			Meta: sesame.Meta{CurrentPage: 1, TotalPages: 1, TotalItems: 1},
		}, nil
	case sesame.ResourceDepartments:
		return &sesame.Page{
			Data: []json.RawMessage{json.RawMessage(`{"id":"d1","name":"Warehouse"}`)},
			Meta: sesame.Meta{CurrentPage: 1, TotalPages: 1, TotalItems: 1},
		}, nil
	}
	return &sesame.Page{
		Data: entryPages[req.Page],
		Meta: sesame.Meta{CurrentPage: req.Page, TotalPages: 3, TotalItems: 6},
	}, nil
}

func newTestGenerator(src *apiFake) *Generator {
	return NewGenerator(src, noopActivities{}, Settings{PageSize: 2, ChunkSize: 2}, logging.Discard(), nil)
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF")))).ReadAll()
	require.NoError(t, err)
	return records
}

func TestGenerateEndToEndBothStrategies(t *testing.T) {
	for _, name := range []string{model.StrategySequential, model.StrategyParallelStreaming} {
		t.Run(name, func(t *testing.T) {
			req := model.ReportRequest{From: "2024-03-01", To: "2024-03-03", ReportType: model.ByEmployee, Format: model.FormatCSV, Strategy: name}
			out, err := newTestGenerator(&apiFake{}).Generate(context.Background(), Job{ID: "job", Request: req})
			require.NoError(t, err)

			records := readCSV(t, out.Data)
			var data, totals int
			for _, rec := range records[1:] {
				if rec[4] == report.TotalLabel {
					totals++
					continue
				}
				data++
			}
			assert.Equal(t, 6, data)
			assert.Equal(t, 3, totals)
			assert.Equal(t, 6, out.Summary.Entries)
			assert.Equal(t, name, out.Strategy.String())
			assert.False(t, out.Fallback)
		})
	}
}

func TestGenerateXLSXBothStrategies(t *testing.T) {
	for _, name := range []string{model.StrategySequential, model.StrategyParallelStreaming} {
		req := model.ReportRequest{ReportType: model.ByActivity, Format: model.FormatXLSX, Strategy: name}
		out, err := newTestGenerator(&apiFake{}).Generate(context.Background(), Job{Request: req})
		require.NoError(t, err, name)
		assert.Equal(t, 9, out.Rows, name)
		assert.True(t, bytes.HasPrefix(out.Data, []byte("PK")), name)
	}
}

func TestGenerateScopedRequestTagsGroup(t *testing.T) {
	src := &apiFake{}
	req := model.ReportRequest{DepartmentID: "d1", ReportType: model.ByGroup, Format: model.FormatCSV, Strategy: model.StrategySequential}
	out, err := newTestGenerator(src).Generate(context.Background(), Job{Request: req})
	require.NoError(t, err)

	records := readCSV(t, out.Data)
	assert.Equal(t, "Warehouse", records[1][5])
	var employeeFilter string
	for _, r := range src.requests {
		if r.Resource == sesame.ResourceWorkEntries {
			employeeFilter = r.Filters["employeeId"]
		}
	}
	assert.Equal(t, "e1", employeeFilter)
}

func TestEstimateVolume(t *testing.T) {
	cases := []struct {
		name string
		req  model.ReportRequest
		want Estimate
	}{
		{"whole company without dates", model.ReportRequest{}, Estimate{Records: 10000, Pages: 20}},
		{"one employee one week", model.ReportRequest{EmployeeID: "e1", From: "2024-03-01", To: "2024-03-07"}, Estimate{Records: 280, Pages: 1}},
		{"scoped one week", model.ReportRequest{OfficeID: "o1", From: "2024-03-01", To: "2024-03-07"}, Estimate{Records: 7000, Pages: 14}},
		{"unparsable dates", model.ReportRequest{EmployeeID: "e1", From: "yesterday"}, Estimate{Records: 2000, Pages: 4}},
		{"clamped high", model.ReportRequest{From: "2023-01-01", To: "2023-12-31"}, Estimate{Records: 50000, Pages: 100}},
		{"clamped low", model.ReportRequest{EmployeeID: "e1", OfficeID: "o1", From: "2024-03-01", To: "2024-03-01"}, Estimate{Records: 10, Pages: 1}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EstimateVolume(tc.req, 500), tc.name)
	}
}

func TestChoose(t *testing.T) {
	th := Thresholds{Records: 1000, Pages: 5}
	assert.Equal(t, Sequential, Choose(Estimate{Records: 280, Pages: 1}, model.FormatXLSX, th))
	assert.Equal(t, ParallelStreaming, Choose(Estimate{Records: 280, Pages: 1}, model.FormatCSV, th))
	assert.Equal(t, ParallelStreaming, Choose(Estimate{Records: 1000, Pages: 2}, model.FormatXLSX, th))
	assert.Equal(t, ParallelStreaming, Choose(Estimate{Records: 900, Pages: 5}, model.FormatXLSX, th))
}

func TestPlanForcedBypassesEstimate(t *testing.T) {
	plan := PlanFor(model.ReportRequest{Format: model.FormatCSV, Strategy: model.StrategySequential}, 500, Thresholds{})
	assert.True(t, plan.Forced)
	assert.Equal(t, Sequential, plan.Kind)
}

func stub(calls *int, out *Output, err error) GenerateFunc {
	return func(context.Context, Job) (*Output, error) {
		*calls++
		return out, err
	}
}

func TestGenerateFallsBackOnce(t *testing.T) {
	g := newTestGenerator(&apiFake{})
	var seqCalls, parCalls int
	g.table[ParallelStreaming] = stub(&parCalls, nil, errors.New("pool exploded"))
	g.table[Sequential] = stub(&seqCalls, &Output{Data: []byte("ok")}, nil)

	out, err := g.Generate(context.Background(), Job{Request: model.ReportRequest{Format: model.FormatCSV}})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, Sequential, out.Strategy)
	assert.Equal(t, 1, parCalls)
	assert.Equal(t, 1, seqCalls)
}

func TestGenerateBothFail(t *testing.T) {
	g := newTestGenerator(&apiFake{})
	var seqCalls, parCalls int
	g.table[ParallelStreaming] = stub(&parCalls, nil, errors.New("pool exploded"))
	g.table[Sequential] = stub(&seqCalls, nil, errors.New("disk full"))

	_, err := g.Generate(context.Background(), Job{Request: model.ReportRequest{Format: model.FormatCSV}})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeGeneration, apperror.CodeOf(err))
	assert.True(t, strings.Contains(err.Error(), "pool exploded") && strings.Contains(err.Error(), "disk full"))
}

func TestGenerateForcedDoesNotFallBack(t *testing.T) {
	g := newTestGenerator(&apiFake{})
	var seqCalls, parCalls int
	g.table[ParallelStreaming] = stub(&parCalls, nil, errors.New("pool exploded"))
	g.table[Sequential] = stub(&seqCalls, &Output{}, nil)

	_, err := g.Generate(context.Background(), Job{Request: model.ReportRequest{Strategy: model.StrategyParallelStreaming}})
	require.Error(t, err)
	assert.Zero(t, seqCalls)
}

func TestGenerateCancelledDoesNotFallBack(t *testing.T) {
	g := newTestGenerator(&apiFake{})
	var seqCalls, parCalls int
	g.table[ParallelStreaming] = stub(&parCalls, nil, cancel.ErrCancelled)
	g.table[Sequential] = stub(&seqCalls, &Output{}, nil)

	_, err := g.Generate(context.Background(), Job{Request: model.ReportRequest{Format: model.FormatCSV}})
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	assert.Zero(t, seqCalls)
}

func TestPreviewUsesFirstPage(t *testing.T) {
	src := &apiFake{}
	p, err := newTestGenerator(src).Preview(context.Background(), model.ReportRequest{Format: model.FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 6, p.TotalRecords)
	assert.Len(t, src.requests, 1)
}
