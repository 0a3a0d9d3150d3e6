package sesame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
)

func newTestClient(baseURL string, retries int) *Client {
	return New(Options{
		BaseURL:        baseURL,
		Token:          "secret-token",
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		MaxRetries:     retries,
		Backoff:        time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		PoolSize:       4,
		Logger:         logging.Discard(),
	})
}

const twoEntries = `{"data":[{"id":"a"},{"id":"b"}],"meta":{"currentPage":1,"lastPage":3,"total":6}}`

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, twoEntries)
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, 3).Fetch(context.Background(), Request{Resource: ResourceWorkEntries, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, Meta{CurrentPage: 1, TotalPages: 3, TotalItems: 6}, page.Meta)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Fetch(context.Background(), Request{Resource: ResourceWorkEntries})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestFetchAuthErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Fetch(context.Background(), Request{Resource: ResourceCheckTypes})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, apperror.CodeAuth, apperror.CodeOf(err))
}

func TestFetchRateLimitExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Fetch(context.Background(), Request{Resource: ResourceWorkEntries})
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, apperror.CodeRateLimit, apperror.CodeOf(err))
}

func TestFetchReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := New(Options{
		BaseURL:        srv.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    50 * time.Millisecond,
		Backoff:        time.Millisecond,
		Logger:         logging.Discard(),
	})
	_, err := client.Fetch(context.Background(), Request{Resource: ResourceWorkEntries})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, apperror.CodeTimeout, apperror.CodeOf(err))
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 1).Fetch(context.Background(), Request{Resource: ResourceWorkEntries})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, apperror.CodeConnection, apperror.CodeOf(err))
}

func TestFetchSendsAuthAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, string(ResourceWorkEntries), r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "4", q.Get("page"))
		assert.Equal(t, "500", q.Get("limit"))
		assert.Equal(t, "emp-1", q.Get("employeeId"))
		assert.False(t, q.Has("to"))
		fmt.Fprint(w, `{"data":[],"meta":{"page":4,"totalPages":4,"total":0}}`)
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, 0).Fetch(context.Background(), Request{
		Resource: ResourceWorkEntries,
		Filters:  map[string]string{"employeeId": "emp-1", "to": ""},
		Page:     4,
		Limit:    500,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, 4, page.Meta.CurrentPage)
	assert.Equal(t, 4, page.Meta.TotalPages)
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, MaxRetries: 5, Backoff: time.Second, Logger: logging.Discard()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Fetch(ctx, Request{Resource: ResourceWorkEntries})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeWorkEntry(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "we-1",
		"employee": {"id": "e1", "firstName": "Ana", "lastName": "Ruiz", "nid": "123X"},
		"workEntryIn": {"date": "2024-03-01T08:00:00Z"},
		"workEntryOut": null,
		"workEntryType": "work",
		"workBreakId": null,
		"workedSeconds": 3600
	}`)
	entry, err := DecodeWorkEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", entry.EmployeeName)
	assert.Equal(t, "DNI", entry.IDType)
	assert.Equal(t, "123X", entry.IDNumber)
	require.NotNil(t, entry.Start)
	assert.Equal(t, 8, entry.Start.Hour())
	assert.Nil(t, entry.End)
	require.NotNil(t, entry.WorkedSeconds)
	assert.EqualValues(t, 3600, *entry.WorkedSeconds)
	assert.Empty(t, entry.BreakID)
}

func TestDecodePageSingleDocument(t *testing.T) {
	page, err := decodePage([]byte(`{"data":{"id":"x"}}`), 1)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 1, page.Meta.TotalPages)
}
