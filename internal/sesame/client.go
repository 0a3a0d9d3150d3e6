// Package sesame is the authenticated client for the Sesame Time HR API. It
// fetches one page of a resource at a time and hides retries, timeouts,
// connection pooling, rate limiting and circuit breaking from callers.
package sesame

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
)

// Resource is the API path of a paginated collection or document.
type Resource string

const (
	ResourceInfo        Resource = "/core/v3/info"
	ResourceEmployees   Resource = "/core/v3/employees"
	ResourceOffices     Resource = "/core/v3/offices"
	ResourceDepartments Resource = "/core/v3/departments"
	ResourceWorkEntries Resource = "/schedule/v1/work-entries"
	ResourceWorkBreaks  Resource = "/schedule/v1/work-breaks"
	ResourceCheckTypes  Resource = "/schedule/v1/check-types"
)

// Employee returns the resource of a single employee.
func Employee(id string) Resource {
	return Resource(string(ResourceEmployees) + "/" + url.PathEscape(id))
}

func (r Resource) label() string { return path.Base(string(r)) }

// Request selects one page of a resource.
type Request struct {
	Resource Resource
	Filters  map[string]string
	Page     int
	Limit    int
}

// Meta is the pagination block of a response.
type Meta struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
}

// Page is one decoded response page. Data keeps the raw items so callers pick
// their own decoder.
type Page struct {
	Data []json.RawMessage
	Meta Meta
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	Token           string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxRetries      int
	Backoff         time.Duration
	MaxBackoff      time.Duration
	PoolSize        int
	RateLimit       float64
	RateBurst       int
	BreakerFailures int
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
}

// Client is safe for concurrent use; a single instance is shared by every
// fetch of the process.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	inflight   *semaphore.Weighted
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

// New builds a Client whose transport pool matches the configured
// concurrency.
func New(opts Options) *Client {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "sesame")

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          opts.PoolSize,
		MaxIdleConnsPerHost:   opts.PoolSize,
		MaxConnsPerHost:       opts.PoolSize,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
		},
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
		inflight:   semaphore.NewWeighted(int64(opts.PoolSize)),
		log:        log,
		metrics:    opts.Metrics,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	failures := uint32(opts.BreakerFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sesame-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// Fetch retrieves one page. Pages default to 1 and limits to whatever the API
// applies when zero.
func (c *Client) Fetch(ctx context.Context, req Request) (*Page, error) {
	query := url.Values{}
	for k, v := range req.Filters {
		if v != "" {
			query.Set(k, v)
		}
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	query.Set("page", strconv.Itoa(page))
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	body, err := c.get(ctx, req.Resource, query)
	if err != nil {
		return nil, err
	}
	out, err := decodePage(body, page)
	if err != nil {
		return nil, classify(req.Resource, err)
	}
	return out, nil
}

// TokenInfo returns the company/user document bound to the API token. It is
// used as a connectivity check.
func (c *Client) TokenInfo(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, ResourceInfo, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, classify(ResourceInfo, fmt.Errorf("%w: %v", ErrDecode, err))
	}
	if len(env.Data) == 0 {
		return json.RawMessage(body), nil
	}
	return env.Data, nil
}

// get performs a GET with bounded retries and exponential backoff.
func (c *Client) get(ctx context.Context, resource Resource, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffFor(attempt, lastErr)
			c.metrics.IncRetry(resource.label())
			c.log.WithFields(logrus.Fields{
				"resource": resource,
				"attempt":  attempt,
				"wait":     wait.String(),
			}).WithError(lastErr).Warn("retrying HR API request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		body, err := c.do(ctx, resource, query)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, classify(resource, lastErr)
}

// backoffFor returns backoff * 2^(attempt-1), capped, and at least the
// server's Retry-After when one was sent.
func (c *Client) backoffFor(attempt int, lastErr error) time.Duration {
	wait := c.backoff << uint(attempt-1)
	if wait <= 0 || wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	if statusErr, ok := lastErr.(*StatusError); ok && statusErr.retryAfter != "" {
		if secs, err := strconv.Atoi(statusErr.retryAfter); err == nil {
			if hint := time.Duration(secs) * time.Second; hint > wait && hint <= c.maxBackoff {
				wait = hint
			}
		}
	}
	return wait
}

// do performs a single attempt under the in-flight bound, the rate limiter
// and the circuit breaker.
func (c *Client) do(ctx context.Context, resource Resource, query url.Values) ([]byte, error) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.inflight.Release(1)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.baseURL + string(resource)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{
				Resource:   resource,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), 256),
				retryAfter: resp.Header.Get("Retry-After"),
			}
			// Client errors say nothing about the API's health.
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return statusErr, nil
			}
			return nil, statusErr
		}
		return body, nil
	})
	outcome := "ok"
	defer func() { c.metrics.ObserveRequest(resource.label(), outcome, time.Since(start)) }()
	if err != nil {
		outcome = "error"
		return nil, err
	}
	if statusErr, ok := result.(*StatusError); ok {
		outcome = "rejected"
		return nil, statusErr
	}
	return result.([]byte), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// envelope accepts both pagination spellings the API uses.
type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		CurrentPage int `json:"currentPage"`
		LastPage    int `json:"lastPage"`
		Page        int `json:"page"`
		TotalPages  int `json:"totalPages"`
		Total       int `json:"total"`
	} `json:"meta"`
}

func decodePage(body []byte, requested int) (*Page, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out := &Page{}
	trimmed := strings.TrimSpace(string(env.Data))
	switch {
	case trimmed == "" || trimmed == "null":
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(env.Data, &out.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	default:
		out.Data = []json.RawMessage{env.Data}
	}

	out.Meta = Meta{CurrentPage: requested, TotalPages: requested, TotalItems: len(out.Data)}
	if env.Meta != nil {
		if cur := firstPositive(env.Meta.CurrentPage, env.Meta.Page); cur > 0 {
			out.Meta.CurrentPage = cur
		}
		if last := firstPositive(env.Meta.LastPage, env.Meta.TotalPages); last > 0 {
			out.Meta.TotalPages = last
		}
		if env.Meta.Total > 0 {
			out.Meta.TotalItems = env.Meta.Total
		}
	}
	return out, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
