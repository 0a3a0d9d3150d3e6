package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
)

// storeToken is cancelled by the in-process flag or, checked at most once
// per interval, by the job's persisted status. The second path covers
// cancellations made by another process sharing the store.
type storeToken struct {
	m    *Manager
	id   string
	flag *cancel.Flag

	mu        sync.Mutex
	lastCheck time.Time
}

func (m *Manager) token(id string) cancel.Token {
	return &storeToken{m: m, id: id, flag: m.flag(id)}
}

func (t *storeToken) Cancelled() bool {
	if t.flag.Cancelled() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.m.now()
	if !t.lastCheck.IsZero() && now.Sub(t.lastCheck) < t.m.opts.CheckInterval {
		return false
	}
	t.lastCheck = now

	job, err := t.m.store.Get(t.m.root, t.id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		t.flag.Cancel()
	case err != nil:
		return false
	case job.Status == model.StatusCancelled, job.Status == model.StatusError:
		t.flag.Cancel()
	}
	return t.flag.Cancelled()
}
