// Package queue implements the at-least-once priority delivery queue.
//
// Pending items live in one sorted set ranked by priority and age. A
// dequeue atomically pops the most urgent item and parks its serialized
// form in a processing set scored by claim time. Consumers remove the item
// on success; items whose claim outlives the grace period are swept back
// into pending with a bounded retry counter and a priority boost, so
// retried work is not starved behind fresh low-priority items.
//
// Multiple producers and multiple consumers may share one queue across
// processes. Correctness needs no process-local locking: the pop is atomic
// at the store, so two consumers can never claim the same item.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/mailroom-dev/mailroom/kv"
)

const (
	// defaultMaxAttempts caps stale-recovery requeues before an item is
	// dropped permanently.
	defaultMaxAttempts = 3

	// defaultRetryBoost is subtracted from a requeued item's priority so
	// retries outrank same-priority fresh work. A tuning knob; only the
	// qualitative no-starvation guarantee matters.
	defaultRetryBoost = 10

	processingSuffix = ":processing"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMaxAttempts overrides the retry cap.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithRetryBoost overrides the priority boost applied on requeue.
func WithRetryBoost(n int) Option {
	return func(q *Queue) { q.retryBoost = n }
}

// WithClock replaces the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is a priority job queue over a shared kv.Store. Safe for concurrent
// use.
type Queue struct {
	store       kv.Store
	name        string
	maxAttempts int
	retryBoost  int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Queue named name on store.
func New(store kv.Store, name string, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		name:        name,
		maxAttempts: defaultMaxAttempts,
		retryBoost:  defaultRetryBoost,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue wraps payload into a new Item and adds it to the pending set.
// Reports false, never an error, when the store is unreachable; producers
// decide for themselves whether a lost enqueue matters.
func (q *Queue) Enqueue(ctx context.Context, payload any, priority int) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		q.logger.Error("enqueue: payload not serializable",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return false
	}

	now := q.now().UTC()
	item := Item{
		Payload:    data,
		EnqueuedAt: now,
		Priority:   priority,
		Attempts:   0,
	}
	member, err := json.Marshal(item)
	if err != nil {
		q.logger.Error("enqueue: item not serializable",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := q.store.ZAdd(ctx, q.name, string(member), score(priority, now)); err != nil {
		q.logger.Error("enqueue failed",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Dequeue pops the most urgent pending item, parks it in the processing
// set scored at the claim time, and returns it. Returns nil when pending
// is empty or the store is unreachable; callers poll.
func (q *Queue) Dequeue(ctx context.Context) *Item {
	popped, err := q.store.ZPopMin(ctx, q.name, 1)
	if err != nil {
		q.logger.Debug("dequeue: store unavailable, treating as empty",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(popped) == 0 {
		return nil
	}

	member := popped[0].Member
	var item Item
	if err := json.Unmarshal([]byte(member), &item); err != nil {
		// A member that does not decode can never be handled or
		// completed; dropping it here keeps it out of both sets.
		q.logger.Error("dequeue: malformed item dropped",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	item.raw = member

	claimedAt := float64(q.now().UTC().UnixMilli()) / 1e3
	if err := q.store.ZAdd(ctx, q.processingKey(), member, claimedAt); err != nil {
		q.logger.Error("dequeue: failed to mark item processing",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
	}
	return &item
}

// Complete removes a handled item from the processing set. Consumers must
// call it after successful handling; an uncompleted item is requeued by the
// next stale-recovery sweep.
func (q *Queue) Complete(ctx context.Context, item *Item) bool {
	if item == nil || item.raw == "" {
		return false
	}
	if _, err := q.store.ZRem(ctx, q.processingKey(), item.raw); err != nil {
		q.logger.Error("complete failed",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// RequeueStale sweeps the processing set for items claimed longer than
// maxProcessing ago. Each stale item still under the retry cap moves back
// to pending with its attempt counter incremented and its priority boosted;
// items at the cap are dropped permanently, surfaced only through the log.
// Returns the number requeued.
func (q *Queue) RequeueStale(ctx context.Context, maxProcessing time.Duration) int {
	now := q.now().UTC()
	cutoff := float64(now.UnixMilli())/1e3 - maxProcessing.Seconds()

	stale, err := q.store.ZRangeByScore(ctx, q.processingKey(), math.Inf(-1), cutoff)
	if err != nil {
		q.logger.Error("requeue stale: range failed",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	requeued := 0
	err = q.store.Pipelined(ctx, func(p kv.Pipe) {
		for _, m := range stale {
			var item Item
			if err := json.Unmarshal([]byte(m.Member), &item); err != nil {
				q.logger.Error("requeue stale: malformed item dropped", slog.String("queue", q.name))
				p.ZRem(q.processingKey(), m.Member)
				continue
			}

			if item.Attempts >= q.maxAttempts {
				p.ZRem(q.processingKey(), m.Member)
				q.logger.Warn("dropping item after exhausting attempts",
					slog.String("queue", q.name),
					slog.Int("attempts", item.Attempts),
					slog.Int("priority", item.Priority),
				)
				continue
			}

			item.Attempts++
			member, marshalErr := json.Marshal(item)
			if marshalErr != nil {
				p.ZRem(q.processingKey(), m.Member)
				continue
			}

			p.ZAdd(q.name, string(member), score(item.Priority-q.retryBoost, now))
			p.ZRem(q.processingKey(), m.Member)
			requeued++
		}
	})
	if err != nil {
		q.logger.Error("requeue stale: pipeline failed",
			slog.String("queue", q.name),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return requeued
}

// Depth returns the number of pending items, or 0 when the store is
// unreachable.
func (q *Queue) Depth(ctx context.Context) int64 {
	n, err := q.store.ZCard(ctx, q.name)
	if err != nil {
		return 0
	}
	return n
}

// InFlight returns the number of items currently claimed by consumers.
func (q *Queue) InFlight(ctx context.Context) int64 {
	n, err := q.store.ZCard(ctx, q.processingKey())
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) processingKey() string { return q.name + processingSuffix }
