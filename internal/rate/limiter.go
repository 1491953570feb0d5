package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

// Policy is a request budget per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time left until the window resets, rounded up to
// whole seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	secs := (wait + time.Second - 1) / time.Second
	return secs * time.Second
}

// Limiter counts requests per fixed window.
type Limiter struct {
	store  kv.Store
	prefix string
	now    func() time.Time
}

// New returns a Limiter storing counters under prefix. now defaults to
// time.Now.
func New(store kv.Store, prefix string, now func() time.Time) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, prefix: prefix, now: now}
}

// Window returns the index and reset time of the window containing t.
func Window(t time.Time, length time.Duration) (int64, time.Time) {
	idx := t.UnixNano() / int64(length)
	return idx, time.Unix(0, (idx+1)*int64(length))
}

// Key returns the counter key for purpose and identity in window idx.
func (l *Limiter) Key(purpose, identity string, idx int64) string {
	return l.prefix + ":" + purpose + ":" + identity + ":" + strconv.FormatInt(idx, 10)
}

// Check counts one request against policy. A disabled policy (Limit <= 0)
// always allows. When the store fails, Check returns an allowing Decision
// together with an error wrapping ErrStoreUnavailable.
func (l *Limiter) Check(ctx context.Context, purpose, identity string, p Policy) (Decision, error) {
	now := l.now()
	if p.Limit <= 0 || p.Window <= 0 {
		return Decision{Allowed: true, Limit: p.Limit, ResetAt: now}, nil
	}

	idx, resetAt := Window(now, p.Window)
	d := Decision{Limit: p.Limit, ResetAt: resetAt}

	count, err := l.store.Increment(ctx, l.Key(purpose, identity, idx), p.Window)
	if err != nil {
		d.Allowed = true
		d.Remaining = p.Limit
		return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d.Allowed = count <= int64(p.Limit)
	if remaining := int64(p.Limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	return d, nil
}

// Reset clears the current window's counter for purpose and identity.
func (l *Limiter) Reset(ctx context.Context, purpose, identity string, p Policy) error {
	if p.Window <= 0 {
		return nil
	}
	idx, _ := Window(l.now(), p.Window)
	if err := l.store.Delete(ctx, l.Key(purpose, identity, idx)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
