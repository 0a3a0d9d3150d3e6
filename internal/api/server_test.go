package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ClockSheet/internal/activity"
	"github.com/dharsanguruparan/ClockSheet/internal/config"
	"github.com/dharsanguruparan/ClockSheet/internal/filestore"
	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
	"github.com/dharsanguruparan/ClockSheet/internal/signing"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
	"github.com/dharsanguruparan/ClockSheet/internal/strategy"
)

type fakeDirectory struct{}

func (fakeDirectory) Fetch(_ context.Context, req sesame.Request) (*sesame.Page, error) {
	var data []json.RawMessage
	switch req.Resource {
	case sesame.ResourceCheckTypes:
		data = []json.RawMessage{json.RawMessage(`{"id":"b1","name":"Lunch"}`)}
	case sesame.ResourceOffices:
		data = []json.RawMessage{json.RawMessage(`{"id":"o1","name":"Madrid"}`)}
	case sesame.ResourceEmployees:
		data = []json.RawMessage{json.RawMessage(`{"id":"e1","firstName":"Ana"}`)}
	}
	return &sesame.Page{Data: data, Meta: sesame.Meta{CurrentPage: 1, TotalPages: 1, TotalItems: len(data)}}, nil
}

func (fakeDirectory) TokenInfo(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"company":"Acme"}`), nil
}

type staticPreview struct{}

func (staticPreview) Preview(_ context.Context, req model.ReportRequest) (*strategy.Preview, error) {
	return &strategy.Preview{Plan: strategy.PlanFor(req, 500, strategy.Thresholds{}), TotalPages: 2, TotalRecords: 900}, nil
}

type testServer struct {
	*httptest.Server
	manager *jobs.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Discard()
	files, err := filestore.New(t.TempDir(), 10, log, nil)
	require.NoError(t, err)
	m := jobs.NewManager(storage.NewMemoryJobStore(), files, jobs.Options{Workers: 1, Logger: log})
	m.StartWorkers(context.Background())
	t.Cleanup(m.Shutdown)

	work := func(_ context.Context, task jobs.Task) (*jobs.Result, error) {
		return &jobs.Result{Data: []byte("Employee\nAna\n"), Strategy: model.StrategySequential}, nil
	}
	dir := fakeDirectory{}
	srv := New(&config.Config{SignedURLTTL: time.Minute}, Deps{
		Jobs:       m,
		Launcher:   LaunchFunc(func(ctx context.Context, id string) error { return m.Start(ctx, id, work) }),
		Files:      files,
		Activities: activity.New(storage.NewMemoryActivityStore(), dir, log, nil),
		Preview:    staticPreview{},
		Directory:  dir,
		Signer:     signing.NewSigner([]byte("secret")),
		Logger:     log,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, manager: m}
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (ts *testServer) createReport(t *testing.T, body string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/reports", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]string
	decode(t, resp, &out)
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func (ts *testServer) waitCompleted(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := ts.manager.Status(context.Background(), id)
		return err == nil && job.Status == model.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateReportAndDownload(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createReport(t, `{"from":"2024-03-01","to":"2024-03-03","format":"csv"}`)
	ts.waitCompleted(t, id)

	resp, err := http.Get(ts.URL + "/reports/" + id)
	require.NoError(t, err)
	var job model.ReportJob
	decode(t, resp, &job)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, model.StrategySequential, job.Strategy)

	resp, err = http.Get(ts.URL + "/reports/" + id + "/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Employee\nAna\n", string(body))
}

func TestCreateReportFromForm(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.PostForm(ts.URL+"/reports", url.Values{"report_type": {"by_group"}, "format": {"xlsx"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateReportValidation(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/reports", "application/json", strings.NewReader(`{"from":"03/01/2024"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, "DATE_VALIDATION_ERROR", body.Code)
}

func TestUnknownReportIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/reports/nope", "/reports/nope/download"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestCancelFinishedReportIsNoop(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createReport(t, `{"format":"csv"}`)
	ts.waitCompleted(t, id)

	resp, err := http.Post(ts.URL+"/reports/"+id+"/cancel", "application/json", nil)
	require.NoError(t, err)
	var out struct {
		Status    model.JobStatus `json:"status"`
		Cancelled bool            `json:"cancelled"`
	}
	decode(t, resp, &out)
	assert.False(t, out.Cancelled)
	assert.Equal(t, model.StatusCompleted, out.Status)
}

func TestSignedURLDownload(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createReport(t, `{"format":"csv"}`)
	ts.waitCompleted(t, id)

	resp, err := http.Post(ts.URL+"/reports/"+id+"/signed-url", "application/json", nil)
	require.NoError(t, err)
	var signed struct {
		URL string `json:"url"`
	}
	decode(t, resp, &signed)

	resp, err = http.Get(ts.URL + signed.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + strings.Replace(signed.URL, "signature=", "signature=00", 1))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteReport(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createReport(t, `{"format":"csv"}`)
	ts.waitCompleted(t, id)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/reports/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/reports/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestActivityTypesSyncAndList(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/activity-types/sync", "application/json", nil)
	require.NoError(t, err)
	var synced map[string]int
	decode(t, resp, &synced)
	assert.Equal(t, 1, synced["synced"])

	resp, err = http.Get(ts.URL + "/activity-types")
	require.NoError(t, err)
	var types []model.ActivityType
	decode(t, resp, &types)
	require.Len(t, types, 1)
	assert.Equal(t, "Lunch", types[0].Name)
}

func TestSesamePickers(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/sesame/offices")
	require.NoError(t, err)
	var offices []model.Named
	decode(t, resp, &offices)
	require.Len(t, offices, 1)
	assert.Equal(t, "Madrid", offices[0].Name)

	resp, err = http.Get(ts.URL + "/sesame/info")
	require.NoError(t, err)
	var info map[string]string
	decode(t, resp, &info)
	assert.Equal(t, "Acme", info["company"])
}

func TestPreviewAndMaintenance(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/preview", "application/json", strings.NewReader(`{"format":"csv"}`))
	require.NoError(t, err)
	var preview strategy.Preview
	decode(t, resp, &preview)
	assert.Equal(t, model.StrategyParallelStreaming, preview.Plan.Strategy)
	assert.Equal(t, 900, preview.TotalRecords)

	resp, err = http.Post(ts.URL+"/maintenance/cleanup", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/maintenance/stats")
	require.NoError(t, err)
	var stats struct {
		Jobs  jobs.Stats      `json:"jobs"`
		Files filestore.Stats `json:"files"`
	}
	decode(t, resp, &stats)
	assert.Equal(t, 10, stats.Files.MaxReports)
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/reports", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
