// Package ratelimit provides sliding-window admission control per
// identifier, built on the store's sorted-set primitives. One timestamped
// entry is recorded per admitted request; entries older than the window are
// pruned inside the same atomic pipeline that records the new one.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-dev/mailroom/kv"
)

// Result reports one admission decision.
type Result struct {
	// Allowed is whether the request is admitted.
	Allowed bool

	// Remaining is how many admissions the window has left. Advisory:
	// concurrent checks may race within the pipelined round trip.
	Remaining int

	// ResetAt is when the oldest possible entry falls out of the window.
	ResetAt time.Time

	// Count is the number of entries in the window after this check.
	Count int
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithPrefix sets the key prefix for per-identifier sets.
func WithPrefix(prefix string) Option {
	return func(lim *Limiter) { lim.prefix = prefix }
}

// WithClock replaces the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) { lim.now = now }
}

// Limiter is a sliding-window rate limiter. Safe for concurrent use across
// goroutines and across processes sharing one store.
type Limiter struct {
	store      kv.Store
	prefix     string
	logger     *slog.Logger
	now        func() time.Time
	instanceID string
	seq        atomic.Uint64
}

// New creates a Limiter.
func New(store kv.Store, opts ...Option) *Limiter {
	lim := &Limiter{
		store:      store,
		prefix:     "rate_limit",
		logger:     slog.Default(),
		now:        time.Now,
		instanceID: uuid.NewString()[:8],
	}
	for _, o := range opts {
		o(lim)
	}
	return lim
}

// Allow checks whether one more request for identifier fits inside the
// window. As a single atomic pipeline it prunes expired entries, records
// the new request, counts the window, and refreshes the set's TTL so idle
// identifiers vanish on their own.
//
// The new entry is recorded even when the answer is "not allowed". Under
// burst contention this biases toward slightly stricter enforcement rather
// than letting races under-count.
//
// On a store outage Allow fails open: rate limiting must never become a
// single point of outage for the producers it gates.
func (lim *Limiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	now := lim.now()
	key := lim.prefix + ":" + identifier
	score := float64(now.UnixNano()) / 1e9

	var count *kv.IntResult
	err := lim.store.Pipelined(ctx, func(p kv.Pipe) {
		p.ZRemRangeByScore(key, math.Inf(-1), score-window.Seconds())
		p.ZAdd(key, lim.member(now), score)
		count = p.ZCard(key)
		p.Expire(key, window)
	})
	if err != nil {
		lim.logger.Warn("rate limiter unavailable, failing open",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}
	}

	n := int(count.Val())
	return Result{
		Allowed:   n <= limit,
		Remaining: max(0, limit-n),
		ResetAt:   now.Add(window),
		Count:     n,
	}
}

// member builds a set member unique across concurrent checks and across
// limiter instances, so two requests in the same instant are both counted.
func (lim *Limiter) member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + lim.instanceID + "-" +
		strconv.FormatUint(lim.seq.Add(1), 10)
}
