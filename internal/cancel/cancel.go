// Package cancel provides the cooperative cancellation token polled by long
// running report work at page and entry boundaries.
package cancel

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by any stage that observed a cancelled token.
var ErrCancelled = errors.New("operation cancelled")

// Token is polled by long running work. Implementations must be safe for
// concurrent use.
type Token interface {
	Cancelled() bool
}

// Check returns ErrCancelled when t has been cancelled. A nil token never
// cancels.
func Check(t Token) error {
	if t != nil && t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Flag is an in-process token flipped by Cancel.
type Flag struct {
	v atomic.Bool
}

// Cancel marks the flag; it is idempotent.
func (f *Flag) Cancel() { f.v.Store(true) }

// Cancelled implements Token.
func (f *Flag) Cancelled() bool { return f.v.Load() }

// Func adapts a plain function to Token.
type Func func() bool

// Cancelled implements Token.
func (fn Func) Cancelled() bool { return fn() }

// Never is a token that is never cancelled.
var Never Token = Func(func() bool { return false })
