// Package redis implements kv.Store on Redis via go-redis v9. Sorted sets
// back the queue and the rate limiter; plain keys with TTLs back the cache.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := kvredis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// The caller owns the Redis client lifecycle.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithScanCount sets the page size used by DeletePattern's SCAN.
func WithScanCount(n int64) Option {
	return func(s *Store) { s.scanCount = n }
}

// Store implements kv.Store backed by Redis.
type Store struct {
	client    goredis.Cmdable
	logger    *slog.Logger
	scanCount int64
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), scanCount: 100}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Get returns the value at key, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return data, nil
}

// Set stores value at key with the given TTL. Zero TTL means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, unavailable("del", err)
	}
	return n > 0, nil
}

// DeletePattern removes all keys matching a glob pattern. SCAN is used
// instead of KEYS so large keyspaces do not block the server.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := s.client.Scan(ctx, 0, pattern, s.scanCount).Iterator()

	batch := make([]string, 0, s.scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= s.scanCount {
			n, err := s.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, unavailable("del pattern", err)
			}
			deleted += n
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, unavailable("scan", err)
	}
	if len(batch) > 0 {
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return deleted, unavailable("del pattern", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// IncrBy atomically increments the counter at key, refreshing the TTL when
// nonzero. Increment and expire ship as one transactional pipeline.
func (s *Store) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("incrby", err)
	}
	return incr.Val(), nil
}

// ZAdd adds member to the sorted set at key.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	err := s.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	if err != nil {
		return unavailable("zadd", err)
	}
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, unavailable("zrem", err)
	}
	return n, nil
}

// ZRangeByScore returns members scored within [min, max], ascending.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]kv.Member, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &goredis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, unavailable("zrangebyscore", err)
	}
	return toMembers(zs), nil
}

// ZPopMin atomically removes and returns up to count lowest-scored members.
func (s *Store) ZPopMin(ctx context.Context, key string, count int64) ([]kv.Member, error) {
	zs, err := s.client.ZPopMin(ctx, key, count).Result()
	if err != nil {
		return nil, unavailable("zpopmin", err)
	}
	return toMembers(zs), nil
}

// ZCard returns the cardinality of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable("zcard", err)
	}
	return n, nil
}

// Pipelined executes every primitive queued by fn as one MULTI/EXEC batch.
func (s *Store) Pipelined(ctx context.Context, fn func(kv.Pipe)) error {
	pipe := s.client.TxPipeline()
	p := &redisPipe{ctx: ctx, pipe: pipe}
	fn(p)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("pipeline exec", err)
	}
	for _, b := range p.bindings {
		b.dst.SetVal(b.cmd.Val())
	}
	return nil
}

// redisPipe queues commands on a go-redis transactional pipeline and binds
// integer replies back to kv.IntResult values after Exec.
type redisPipe struct {
	ctx      context.Context
	pipe     goredis.Pipeliner
	bindings []binding
}

type binding struct {
	cmd *goredis.IntCmd
	dst *kv.IntResult
}

func (p *redisPipe) ZAdd(key, member string, score float64) {
	p.pipe.ZAdd(p.ctx, key, goredis.Z{Score: score, Member: member})
}

func (p *redisPipe) ZRem(key string, members ...string) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.ZRem(p.ctx, key, args...)
}

func (p *redisPipe) ZRemRangeByScore(key string, min, max float64) {
	p.pipe.ZRemRangeByScore(p.ctx, key, formatScore(min), formatScore(max))
}

func (p *redisPipe) ZCard(key string) *kv.IntResult {
	res := &kv.IntResult{}
	p.bindings = append(p.bindings, binding{cmd: p.pipe.ZCard(p.ctx, key), dst: res})
	return res
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(p.ctx, key, ttl)
}

func (p *redisPipe) IncrBy(key string, n int64) *kv.IntResult {
	res := &kv.IntResult{}
	p.bindings = append(p.bindings, binding{cmd: p.pipe.IncrBy(p.ctx, key, n), dst: res})
	return res
}

// ── helpers ──

func toMembers(zs []goredis.Z) []kv.Member {
	members := make([]kv.Member, 0, len(zs))
	for _, z := range zs {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, kv.Member{Member: m, Score: z.Score})
	}
	return members
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

// unavailable tags a transport failure so callers can match it with
// errors.Is(err, mailroom.ErrStoreUnavailable) and apply their own
// degradation policy.
func unavailable(op string, err error) error {
	return fmt.Errorf("kv/redis: %s: %w: %v", op, mailroom.ErrStoreUnavailable, err)
}
