// Package quota enforces the per-identity daily message limit.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrQuotaExceeded is returned by Consume once the window's limit is spent.
var ErrQuotaExceeded = errors.New("quota exceeded")

const (
	DefaultLimit  = 50
	DefaultWindow = 24 * time.Hour
)

// Window is one fixed bucket of the quota period.
type Window struct {
	Start time.Time
	End   time.Time
}

// Status is the answer to "how many remain".
type Status struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset"`
}

// Counter is an atomic per-identity, per-window counter.
type Counter interface {
	// Incr adds one and returns the post-increment count in a single
	// atomic operation of the backing store.
	Incr(ctx context.Context, identity string, w Window) (int64, error)
	Get(ctx context.Context, identity string, w Window) (int64, error)
}

// Pruner is implemented by counters whose rows do not expire on their own.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Ledger applies the fixed-window policy on top of a Counter. A nil counter
// or a failing one makes the ledger fail open.
type Ledger struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

type Option func(*Ledger)

func WithWindow(d time.Duration) Option {
	return func(l *Ledger) { l.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(counter Counter, limit int, opts ...Option) *Ledger {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l := &Ledger{
		counter: counter,
		limit:   limit,
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Limit() int {
	return l.limit
}

// Current returns the window containing now. Windows are aligned to the
// epoch, so daily windows roll over at 00:00 UTC.
func (l *Ledger) Current() Window {
	now := l.now().UTC()
	start := now.Truncate(l.window)
	return Window{Start: start, End: start.Add(l.window)}
}

// Remaining never fails: unknown identities and store outages report the
// full quota.
func (l *Ledger) Remaining(ctx context.Context, identity string) Status {
	w := l.Current()
	full := Status{Remaining: l.limit, ResetAt: w.End}
	if l.counter == nil {
		return full
	}

	count, err := l.counter.Get(ctx, identity, w)
	if err != nil {
		log.Warnw("quota store unavailable, reporting full quota", "identity", identity, "error", err)
		return full
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Status{Remaining: remaining, ResetAt: w.End}
}

// Consume charges one message. The increment happens before the comparison
// so two concurrent callers can never both pass the last free slot.
func (l *Ledger) Consume(ctx context.Context, identity string) error {
	if l.counter == nil {
		return nil
	}

	count, err := l.counter.Incr(ctx, identity, l.Current())
	if err != nil {
		log.Warnw("quota store unavailable, allowing message", "identity", identity, "error", err)
		return nil
	}
	if count > int64(l.limit) {
		return ErrQuotaExceeded
	}
	return nil
}

// Prune removes counters of windows that ended before the current one.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	p, ok := l.counter.(Pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx, l.Current().Start)
}
