// Package fetch walks paginated HR API resources either page by page or with
// a bounded pool of concurrent page fetchers.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
)

// Source is the capability the orchestrator needs from the HR API client.
type Source interface {
	Fetch(ctx context.Context, req sesame.Request) (*sesame.Page, error)
}

// Decoder converts one raw item.
type Decoder[T any] func(json.RawMessage) (T, error)

// Progress is reported after every page.
type Progress struct {
	Page         int
	TotalPages   int
	Records      int
	TotalRecords int
	Complete     bool
}

// ProgressFunc receives progress snapshots. Calls are serialized.
type ProgressFunc func(Progress)

const (
	defaultPageSize = 500
	defaultMaxPages = 100
	minWorkers      = 5
	maxWorkers      = 20
)

// Options tunes a traversal.
type Options struct {
	PageSize int
	MaxPages int
	// Workers bounds concurrent page fetches in Parallel; it is clamped to
	// [5, 20].
	Workers  int
	Token    cancel.Token
	Progress ProgressFunc
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

func (o Options) normalized() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.Workers < minWorkers {
		o.Workers = minWorkers
	}
	if o.Workers > maxWorkers {
		o.Workers = maxWorkers
	}
	if o.Token == nil {
		o.Token = cancel.Never
	}
	if o.Progress == nil {
		o.Progress = func(Progress) {}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Result holds every decoded item plus what went wrong along the way.
type Result[T any] struct {
	Items        []T
	Pages        int
	TotalPages   int
	TotalItems   int
	MissingPages []int
	// Skipped counts items that failed to decode.
	Skipped int
	// Truncated is set when the page ceiling stopped the traversal.
	Truncated bool
}

// Degraded reports whether the result is known to be incomplete.
func (r *Result[T]) Degraded() bool {
	return len(r.MissingPages) > 0 || r.Truncated
}

// Sequential requests pages 1..n in order until the API reports the last
// page, returns an empty page, or the page ceiling is hit. A failure on the
// first page is fatal; a later failure ends the walk with partial data.
func Sequential[T any](ctx context.Context, src Source, req sesame.Request, decode Decoder[T], opts Options) (*Result[T], error) {
	opts = opts.normalized()
	log := opts.Logger.WithFields(logrus.Fields{"resource": req.Resource, "mode": "sequential"})
	res := &Result[T]{}
	defer func() { opts.Metrics.AddPages("sequential", res.Pages-len(res.MissingPages), len(res.MissingPages)) }()

	for page := 1; ; page++ {
		if err := cancel.Check(opts.Token); err != nil {
			return nil, err
		}
		if page > opts.MaxPages {
			log.WithField("max_pages", opts.MaxPages).Warn("page ceiling reached, stopping")
			res.Truncated = true
			break
		}
		pageReq := req
		pageReq.Page = page
		pageReq.Limit = opts.PageSize
		p, err := src.Fetch(ctx, pageReq)
		if err != nil {
			if page == 1 || ctx.Err() != nil {
				return nil, err
			}
			log.WithField("page", page).WithError(err).Warn("page failed, returning partial data")
			res.Pages = page
			res.MissingPages = append(res.MissingPages, page)
			break
		}
		res.Pages = page
		res.TotalPages = p.Meta.TotalPages
		res.TotalItems = p.Meta.TotalItems
		res.Skipped += decodeInto(&res.Items, p.Data, decode, log)
		opts.Progress(Progress{
			Page:         page,
			TotalPages:   p.Meta.TotalPages,
			Records:      len(res.Items),
			TotalRecords: p.Meta.TotalItems,
		})
		if len(p.Data) == 0 || p.Meta.CurrentPage >= p.Meta.TotalPages {
			break
		}
	}
	opts.Progress(Progress{Page: res.Pages, TotalPages: res.TotalPages, Records: len(res.Items), TotalRecords: res.TotalItems, Complete: true})
	return res, nil
}

// Parallel fetches page 1 to learn the page count, then hands the remaining
// pages to a fixed pool of workers. A failed page becomes an empty page and is
// recorded in MissingPages. Items are merged in page order and, when less is
// given, stably sorted with it.
func Parallel[T any](ctx context.Context, src Source, req sesame.Request, decode Decoder[T], opts Options, less func(a, b T) bool) (*Result[T], error) {
	opts = opts.normalized()
	log := opts.Logger.WithFields(logrus.Fields{"resource": req.Resource, "mode": "parallel"})
	if err := cancel.Check(opts.Token); err != nil {
		return nil, err
	}

	firstReq := req
	firstReq.Page = 1
	firstReq.Limit = opts.PageSize
	first, err := src.Fetch(ctx, firstReq)
	if err != nil {
		return nil, err
	}

	res := &Result[T]{TotalPages: first.Meta.TotalPages, TotalItems: first.Meta.TotalItems}
	total := first.Meta.TotalPages
	if total < 1 {
		total = 1
	}
	if total > opts.MaxPages {
		log.WithFields(logrus.Fields{"total_pages": total, "max_pages": opts.MaxPages}).Warn("page ceiling reached, truncating")
		res.Truncated = true
		total = opts.MaxPages
	}

	pages := make([][]T, total+1)
	res.Skipped += decodeInto(&pages[1], first.Data, decode, log)

	var (
		mu      sync.Mutex
		done    = 1
		records = len(pages[1])
	)
	opts.Progress(Progress{Page: done, TotalPages: total, Records: records, TotalRecords: res.TotalItems})

	if total > 1 {
		g, gctx := errgroup.WithContext(ctx)
		next := make(chan int)
		g.Go(func() error {
			defer close(next)
			for page := 2; page <= total; page++ {
				select {
				case next <- page:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
		for w := 0; w < opts.Workers && w < total-1; w++ {
			g.Go(func() error {
				for page := range next {
					if err := cancel.Check(opts.Token); err != nil {
						return err
					}
					pageReq := req
					pageReq.Page = page
					pageReq.Limit = opts.PageSize
					p, err := src.Fetch(gctx, pageReq)
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						log.WithField("page", page).WithError(err).Warn("page failed, continuing with an empty page")
						mu.Lock()
						res.MissingPages = append(res.MissingPages, page)
						done++
						opts.Progress(Progress{Page: done, TotalPages: total, Records: records, TotalRecords: res.TotalItems})
						mu.Unlock()
						continue
					}
					var items []T
					skipped := decodeInto(&items, p.Data, decode, log)
					mu.Lock()
					pages[page] = items
					res.Skipped += skipped
					done++
					records += len(items)
					opts.Progress(Progress{Page: done, TotalPages: total, Records: records, TotalRecords: res.TotalItems})
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, cancel.ErrCancelled) || ctx.Err() == nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
	}

	for page := 1; page <= total; page++ {
		res.Items = append(res.Items, pages[page]...)
	}
	if less != nil {
		sort.SliceStable(res.Items, func(i, j int) bool { return less(res.Items[i], res.Items[j]) })
	}
	sort.Ints(res.MissingPages)
	res.Pages = total
	opts.Metrics.AddPages("parallel", total-len(res.MissingPages), len(res.MissingPages))
	if len(res.MissingPages) > 0 {
		log.WithField("missing_pages", res.MissingPages).Warn("parallel fetch finished with missing pages")
	}
	opts.Progress(Progress{Page: total, TotalPages: total, Records: len(res.Items), TotalRecords: res.TotalItems, Complete: true})
	return res, nil
}

// ForEach runs fetchOne for every key in turn and concatenates the results.
// Progress is offset so callers observe one advancing stream across keys.
func ForEach[T any](ctx context.Context, keys []string, opts Options, fetchOne func(ctx context.Context, key string, opts Options) (*Result[T], error)) (*Result[T], error) {
	opts = opts.normalized()
	out := &Result[T]{}
	for _, key := range keys {
		if err := cancel.Check(opts.Token); err != nil {
			return nil, err
		}
		pagesBefore, recordsBefore := out.Pages, len(out.Items)
		inner := opts
		inner.Progress = func(p Progress) {
			opts.Progress(Progress{
				Page:         pagesBefore + p.Page,
				TotalPages:   pagesBefore + p.TotalPages,
				Records:      recordsBefore + p.Records,
				TotalRecords: recordsBefore + p.TotalRecords,
			})
		}
		res, err := fetchOne(ctx, key, inner)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, res.Items...)
		out.Pages += res.Pages
		out.TotalPages += res.TotalPages
		out.TotalItems += res.TotalItems
		out.Skipped += res.Skipped
		out.Truncated = out.Truncated || res.Truncated
		for _, missing := range res.MissingPages {
			out.MissingPages = append(out.MissingPages, pagesBefore+missing)
		}
	}
	opts.Progress(Progress{Page: out.Pages, TotalPages: out.TotalPages, Records: len(out.Items), TotalRecords: out.TotalItems, Complete: true})
	return out, nil
}

func decodeInto[T any](dst *[]T, raw []json.RawMessage, decode Decoder[T], log logrus.FieldLogger) int {
	skipped := 0
	for _, item := range raw {
		v, err := decode(item)
		if err != nil {
			skipped++
			log.WithError(err).Debug("skipping undecodable item")
			continue
		}
		*dst = append(*dst, v)
	}
	return skipped
}
