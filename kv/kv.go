// Package kv defines the key-value store contract the delivery subsystem is
// built on: get/set-with-expiry/delete/pattern-delete/counter-increment and
// sorted-set primitives, plus a pipelined unit that executes several
// primitives as one atomic batch.
//
// Each individual primitive is atomic at the store. Sequences of primitives
// issued outside Pipelined carry no atomicity guarantee together.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
// Transport failures are reported as mailroom.ErrStoreUnavailable instead.
var ErrNotFound = errors.New("kv: key not found")

// Member is one sorted-set entry.
type Member struct {
	Member string
	Score  float64
}

// IntResult holds an integer reply from a pipelined command. The value is
// populated once Pipelined returns.
type IntResult struct {
	val int64
}

// Val returns the command's reply. Zero until Pipelined has returned.
func (r *IntResult) Val() int64 { return r.val }

// SetVal records the reply. Implementations call this; callers only read.
func (r *IntResult) SetVal(v int64) { r.val = v }

// Pipe queues primitives for atomic batch execution. Commands are not sent
// until Pipelined executes the batch.
type Pipe interface {
	// ZAdd queues adding member to the sorted set at key.
	ZAdd(key, member string, score float64)

	// ZRem queues removing members from the sorted set at key.
	ZRem(key string, members ...string)

	// ZRemRangeByScore queues removing all members scored in [min, max].
	ZRemRangeByScore(key string, min, max float64)

	// ZCard queues a cardinality read of the sorted set at key.
	ZCard(key string) *IntResult

	// Expire queues setting the key's TTL.
	Expire(key string, ttl time.Duration)

	// IncrBy queues an atomic counter increment.
	IncrBy(key string, n int64) *IntResult
}

// Store is the atomic key-value capability shared by the cache, the rate
// limiter, and the queue. Implementations must be safe for concurrent use;
// the connection is a shared resource, never exclusively locked by a caller.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with the given TTL. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeletePattern removes all keys matching a glob pattern and returns
	// the number removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// IncrBy atomically increments the counter at key by n, refreshing the
	// key's TTL when ttl is nonzero, and returns the new value.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// ZAdd adds member to the sorted set at key with the given score,
	// replacing the score if the member already exists.
	ZAdd(ctx context.Context, key, member string, score float64) error

	// ZRem removes members from the sorted set at key and returns the
	// number removed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)

	// ZRangeByScore returns members scored within [min, max], ascending.
	// Use math.Inf for open bounds.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Member, error)

	// ZPopMin atomically removes and returns up to count lowest-scored
	// members. No two callers ever receive the same member.
	ZPopMin(ctx context.Context, key string, count int64) ([]Member, error)

	// ZCard returns the cardinality of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Pipelined executes every primitive queued by fn as one atomic batch.
	Pipelined(ctx context.Context, fn func(Pipe)) error

	// Ping verifies the store connection is alive.
	Ping(ctx context.Context) error
}
