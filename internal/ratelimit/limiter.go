// Package ratelimit implements bucketed sliding-window admission control
// backed by a keyed counter store with per-entry expiry.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// CounterStore is the external keyed counter service. Counts returns every
// live sub-window count stored under key; Incr adds one to a single
// sub-window and sets its expiry only if the entry has none yet, so the
// first writer fixes the TTL and later increments never refresh it.
type CounterStore interface {
	Counts(ctx context.Context, key string) (map[string]int64, error)
	Incr(ctx context.Context, key, field string, ttl time.Duration) error
}

// Config is the admission policy: at most Limit requests per trailing
// Window, approximated with SubWindow-sized buckets.
type Config struct {
	Limit     int
	Window    time.Duration
	SubWindow time.Duration
}

// Decision is the outcome for a single request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

type Limiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
}

// NewLimiter builds a limiter, replacing non-positive policy values with
// working defaults. The sub-window in particular divides wall-clock time,
// so a zero there can never reach Allow.
func NewLimiter(store CounterStore, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.SubWindow <= 0 {
		cfg.SubWindow = time.Second
	}
	if cfg.Window < cfg.SubWindow {
		cfg.Window = cfg.SubWindow
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// Allow sums every live sub-window under key and admits while the sum is
// below the limit. Expired sub-windows vanish from the store on their own,
// so the sum needs no pruning. The read and the increment are not atomic:
// concurrent bursts inside one sub-window can overshoot the limit by the
// in-flight concurrency, which is accepted behavior.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	counts, err := l.store.Counts(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	if total >= int64(l.cfg.Limit) {
		return Decision{Allowed: false, Limit: l.cfg.Limit}, nil
	}

	sub := l.now().UnixMilli() / l.cfg.SubWindow.Milliseconds()
	if err := l.store.Incr(ctx, key, strconv.FormatInt(sub, 10), l.cfg.Window); err != nil {
		return Decision{}, err
	}

	remaining := l.cfg.Limit - int(total) - 1
	if remaining < 0 {
		remaining = 0
	}

	return Decision{Allowed: true, Limit: l.cfg.Limit, Remaining: remaining}, nil
}
