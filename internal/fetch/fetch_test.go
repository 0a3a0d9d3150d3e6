package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
)

type fakeSource struct {
	mu    sync.Mutex
	pages map[int][]json.RawMessage
	total int
	fail  map[int]bool
	calls []int
}

func (f *fakeSource) Fetch(_ context.Context, req sesame.Request) (*sesame.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Page)
	f.mu.Unlock()
	if f.fail[req.Page] {
		return nil, errors.New("upstream exploded")
	}
	items := 0
	for _, p := range f.pages {
		items += len(p)
	}
	return &sesame.Page{
		Data: f.pages[req.Page],
		Meta: sesame.Meta{CurrentPage: req.Page, TotalPages: f.total, TotalItems: items},
	}, nil
}

func entryJSON(id, start string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"employee":{"id":"e1","firstName":"Ana"},"workEntryIn":{"date":%q},"workEntryType":"work"}`, id, start))
}

// newSource builds a source whose pages are deliberately out of
// chronological order across page boundaries.
func newSource() *fakeSource {
	return &fakeSource{
		total: 3,
		pages: map[int][]json.RawMessage{
			1: {entryJSON("a", "2024-03-01T08:00:00Z"), entryJSON("b", "2024-03-03T08:00:00Z")},
			2: {entryJSON("c", "2024-03-02T08:00:00Z"), entryJSON("d", "2024-03-04T08:00:00Z")},
			3: {entryJSON("e", "2024-03-01T09:00:00Z"), entryJSON("f", "2024-03-05T08:00:00Z")},
		},
	}
}

func ids(entries []model.WorkEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func testOptions() Options {
	return Options{PageSize: 2, Logger: logging.Discard()}
}

func byStart(a, b model.WorkEntry) bool { return a.StartsBefore(b) }

func TestSequentialAndParallelReturnSameEntries(t *testing.T) {
	ctx := context.Background()
	req := sesame.Request{Resource: sesame.ResourceWorkEntries}

	seq, err := Sequential(ctx, newSource(), req, sesame.DecodeWorkEntry, testOptions())
	require.NoError(t, err)
	par, err := Parallel(ctx, newSource(), req, sesame.DecodeWorkEntry, testOptions(), byStart)
	require.NoError(t, err)

	seqIDs, parIDs := ids(seq.Items), ids(par.Items)
	assert.Equal(t, []string{"a", "e", "c", "b", "d", "f"}, parIDs)
	sort.Strings(seqIDs)
	sort.Strings(parIDs)
	assert.Equal(t, seqIDs, parIDs)
	assert.False(t, seq.Degraded())
	assert.False(t, par.Degraded())
}

func TestSequentialStopsOnEmptyPage(t *testing.T) {
	src := newSource()
	src.total = 10
	res, err := Sequential(context.Background(), src, sesame.Request{}, sesame.DecodeWorkEntry, testOptions())
	require.NoError(t, err)
	assert.Len(t, res.Items, 6)
	assert.Equal(t, []int{1, 2, 3, 4}, src.calls)
}

func TestSequentialPageCeiling(t *testing.T) {
	opts := testOptions()
	opts.MaxPages = 2
	res, err := Sequential(context.Background(), newSource(), sesame.Request{}, sesame.DecodeWorkEntry, opts)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Items, 4)
}

func TestSequentialFirstPageFailureIsFatal(t *testing.T) {
	src := newSource()
	src.fail = map[int]bool{1: true}
	_, err := Sequential(context.Background(), src, sesame.Request{}, sesame.DecodeWorkEntry, testOptions())
	assert.Error(t, err)
}

func TestSequentialLaterFailureReturnsPartialData(t *testing.T) {
	src := newSource()
	src.fail = map[int]bool{2: true}
	res, err := Sequential(context.Background(), src, sesame.Request{}, sesame.DecodeWorkEntry, testOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Items))
	assert.Equal(t, []int{2}, res.MissingPages)
}

func TestParallelFailedPageBecomesEmpty(t *testing.T) {
	src := newSource()
	src.fail = map[int]bool{2: true}
	res, err := Parallel(context.Background(), src, sesame.Request{}, sesame.DecodeWorkEntry, testOptions(), byStart)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "e", "b", "f"}, ids(res.Items))
	assert.Equal(t, []int{2}, res.MissingPages)
	assert.True(t, res.Degraded())
}

func TestParallelReportsProgress(t *testing.T) {
	var seen []Progress
	opts := testOptions()
	opts.Progress = func(p Progress) { seen = append(seen, p) }

	_, err := Parallel(context.Background(), newSource(), sesame.Request{}, sesame.DecodeWorkEntry, opts, byStart)
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.True(t, last.Complete)
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, 6, last.Records)
}

func TestCancelledTokenStopsFetch(t *testing.T) {
	var flag cancel.Flag
	flag.Cancel()
	opts := testOptions()
	opts.Token = &flag

	_, err := Sequential(context.Background(), newSource(), sesame.Request{}, sesame.DecodeWorkEntry, opts)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	_, err = Parallel(context.Background(), newSource(), sesame.Request{}, sesame.DecodeWorkEntry, opts, byStart)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
}

func TestCancelDuringParallelFetch(t *testing.T) {
	var flag cancel.Flag
	opts := testOptions()
	opts.Token = &flag
	opts.Progress = func(p Progress) {
		if p.Page == 1 {
			flag.Cancel()
		}
	}
	_, err := Parallel(context.Background(), newSource(), sesame.Request{}, sesame.DecodeWorkEntry, opts, byStart)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
}

func TestForEachConcatenatesKeys(t *testing.T) {
	var last Progress
	opts := testOptions()
	opts.Progress = func(p Progress) { last = p }

	res, err := ForEach(context.Background(), []string{"e1", "e2"}, opts,
		func(ctx context.Context, key string, o Options) (*Result[model.WorkEntry], error) {
			return Sequential(ctx, newSource(), sesame.Request{Filters: map[string]string{"employeeId": key}}, sesame.DecodeWorkEntry, o)
		})
	require.NoError(t, err)
	assert.Len(t, res.Items, 12)
	assert.Equal(t, 6, res.Pages)
	assert.True(t, last.Complete)
	assert.Equal(t, 12, last.Records)
}
