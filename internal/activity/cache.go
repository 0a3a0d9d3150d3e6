// Package activity resolves work entries to human readable activity names
// using a persisted copy of the HR API check types and an in-process memo.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/fetch"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
)

// Labels used when an entry has no cached check type.
const (
	LabelNormalWork = "Normal work"
	LabelUnknown    = "Unknown activity"
)

const syncPageSize = 100

// Store persists activity types.
type Store interface {
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*model.ActivityType, error)
	UpsertAll(ctx context.Context, types []model.ActivityType) error
	DeleteAll(ctx context.Context) error
	List(ctx context.Context) ([]model.ActivityType, error)
}

type lookup struct {
	name  string
	found bool
}

// Cache memoizes lookups against Store. The memo also remembers misses so an
// unknown id is never looked up twice between syncs.
type Cache struct {
	store   Store
	src     fetch.Source
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	memo map[string]lookup
}

// New constructs a Cache.
func New(store Store, src fetch.Source, log logrus.FieldLogger, m *metrics.Metrics) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		store:   store,
		src:     src,
		log:     log.WithField("component", "activity"),
		metrics: m,
		now:     time.Now,
		memo:    make(map[string]lookup),
	}
}

// Name returns the cached name of a check type.
func (c *Cache) Name(ctx context.Context, id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.memo[id]; ok {
		c.metrics.CacheLookup(true)
		return hit.name, hit.found
	}
	c.metrics.CacheLookup(false)
	t, err := c.store.Get(ctx, id)
	switch {
	case err == nil:
		c.memo[id] = lookup{name: t.Name, found: true}
		return t.Name, true
	case errors.Is(err, storage.ErrNotFound):
		c.memo[id] = lookup{}
		return "", false
	default:
		// Not memoized: a transient store failure should not stick.
		c.log.WithError(err).WithField("check_type_id", id).Warn("activity type lookup failed")
		return "", false
	}
}

// Resolve maps an entry's type and break id to the label shown in reports.
func (c *Cache) Resolve(ctx context.Context, entryType, breakID string) string {
	if breakID != "" {
		if name, ok := c.Name(ctx, breakID); ok && name != "" {
			return name
		}
		return LabelUnknown
	}
	if entryType == model.EntryTypeWork {
		return LabelNormalWork
	}
	if entryType != "" {
		return entryType
	}
	return LabelUnknown
}

// Sync pages through every remote check type, upserts them and drops the
// memo. It returns the number of types stored.
func (c *Cache) Sync(ctx context.Context) (int, error) {
	types, err := c.download(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.UpsertAll(ctx, types); err != nil {
		return 0, fmt.Errorf("store activity types: %w", err)
	}
	c.clearMemo()
	c.log.WithField("count", len(types)).Info("activity types synchronized")
	return len(types), nil
}

// EnsureCached syncs only when the store is empty. The boolean reports
// whether a sync happened.
func (c *Cache) EnsureCached(ctx context.Context) (bool, error) {
	n, err := c.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count activity types: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := c.Sync(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh replaces the stored types with a fresh download. The old rows are
// kept when the download fails.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	types, err := c.download(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.DeleteAll(ctx); err != nil {
		return 0, fmt.Errorf("clear activity types: %w", err)
	}
	if err := c.store.UpsertAll(ctx, types); err != nil {
		return 0, fmt.Errorf("store activity types: %w", err)
	}
	c.clearMemo()
	c.log.WithField("count", len(types)).Info("activity types refreshed")
	return len(types), nil
}

// List returns the stored types.
func (c *Cache) List(ctx context.Context) ([]model.ActivityType, error) {
	return c.store.List(ctx)
}

func (c *Cache) download(ctx context.Context) ([]model.ActivityType, error) {
	res, err := fetch.Sequential(ctx, c.src, sesame.Request{Resource: sesame.ResourceCheckTypes}, sesame.DecodeCheckType, fetch.Options{
		PageSize: syncPageSize,
		Logger:   c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("download check types: %w", err)
	}
	now := c.now().UTC()
	for i := range res.Items {
		res.Items[i].UpdatedAt = now
	}
	return res.Items, nil
}

func (c *Cache) clearMemo() {
	c.mu.Lock()
	c.memo = make(map[string]lookup)
	c.mu.Unlock()
}
