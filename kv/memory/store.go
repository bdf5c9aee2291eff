// Package memory implements kv.Store fully in memory. Safe for concurrent
// access. Intended for unit testing and development; the clock is injectable
// so tests can drive TTL expiry and stale-recovery cutoffs, and the store
// can simulate an outage to exercise degradation policies.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// entry is one slot in the flat keyspace: either a plain value or a sorted
// set, with an optional expiry.
type entry struct {
	data     []byte
	zset     map[string]float64
	expireAt time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces the time source. Tests use this to expire keys and age
// processing items without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory kv.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	failing bool
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetFailing toggles simulated store outage. While failing, every operation
// returns an error matching mailroom.ErrStoreUnavailable.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Ping reports the simulated connection state.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errUnavailable("ping")
	}
	return nil
}

// Get returns the value at key, or kv.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errUnavailable("get")
	}
	e := s.live(key)
	if e == nil || e.data == nil {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Set stores value at key with the given TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errUnavailable("set")
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = &entry{data: cp, expireAt: s.deadline(ttl)}
	return nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errUnavailable("del")
	}
	if s.live(key) == nil {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// DeletePattern removes all keys matching a glob pattern.
func (s *Store) DeletePattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errUnavailable("del pattern")
	}
	var deleted int64
	for key := range s.entries {
		if ok, _ := path.Match(pattern, key); ok && s.live(key) != nil {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errUnavailable("exists")
	}
	return s.live(key) != nil, nil
}

// IncrBy atomically increments the counter at key.
func (s *Store) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errUnavailable("incrby")
	}
	v := s.incrLocked(key, n)
	if ttl > 0 {
		if e := s.live(key); e != nil {
			e.expireAt = s.deadline(ttl)
		}
	}
	return v, nil
}

// ZAdd adds member to the sorted set at key.
func (s *Store) ZAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errUnavailable("zadd")
	}
	s.zaddLocked(key, member, score)
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errUnavailable("zrem")
	}
	return s.zremLocked(key, members...), nil
}

// ZRangeByScore returns members scored within [min, max], ascending.
func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64) ([]kv.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errUnavailable("zrangebyscore")
	}
	e := s.live(key)
	if e == nil || e.zset == nil {
		return nil, nil
	}
	var out []kv.Member
	for m, sc := range e.zset {
		if sc >= min && sc <= max {
			out = append(out, kv.Member{Member: m, Score: sc})
		}
	}
	sortMembers(out)
	return out, nil
}

// ZPopMin atomically removes and returns up to count lowest-scored members.
func (s *Store) ZPopMin(_ context.Context, key string, count int64) ([]kv.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errUnavailable("zpopmin")
	}
	e := s.live(key)
	if e == nil || e.zset == nil {
		return nil, nil
	}
	all := make([]kv.Member, 0, len(e.zset))
	for m, sc := range e.zset {
		all = append(all, kv.Member{Member: m, Score: sc})
	}
	sortMembers(all)
	if count < int64(len(all)) {
		all = all[:count]
	}
	for _, m := range all {
		delete(e.zset, m.Member)
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return all, nil
}

// ZCard returns the cardinality of the sorted set at key.
func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errUnavailable("zcard")
	}
	e := s.live(key)
	if e == nil || e.zset == nil {
		return 0, nil
	}
	return int64(len(e.zset)), nil
}

// Pipelined runs every primitive queued by fn under one lock acquisition,
// matching the atomicity of a Redis MULTI/EXEC batch.
func (s *Store) Pipelined(_ context.Context, fn func(kv.Pipe)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errUnavailable("pipeline exec")
	}
	fn(&memPipe{s: s})
	return nil
}

// memPipe applies primitives directly under the store lock held by
// Pipelined, so results are available immediately.
type memPipe struct {
	s *Store
}

func (p *memPipe) ZAdd(key, member string, score float64) {
	p.s.zaddLocked(key, member, score)
}

func (p *memPipe) ZRem(key string, members ...string) {
	p.s.zremLocked(key, members...)
}

func (p *memPipe) ZRemRangeByScore(key string, min, max float64) {
	e := p.s.live(key)
	if e == nil || e.zset == nil {
		return
	}
	for m, sc := range e.zset {
		if sc >= min && sc <= max {
			delete(e.zset, m)
		}
	}
}

func (p *memPipe) ZCard(key string) *kv.IntResult {
	res := &kv.IntResult{}
	if e := p.s.live(key); e != nil && e.zset != nil {
		res.SetVal(int64(len(e.zset)))
	}
	return res
}

func (p *memPipe) Expire(key string, ttl time.Duration) {
	if e := p.s.live(key); e != nil {
		e.expireAt = p.s.deadline(ttl)
	}
}

func (p *memPipe) IncrBy(key string, n int64) *kv.IntResult {
	res := &kv.IntResult{}
	res.SetVal(p.s.incrLocked(key, n))
	return res
}

// ── locked helpers ──

// live returns the entry at key, evicting it first if expired.
func (s *Store) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) zaddLocked(key, member string, score float64) {
	e := s.live(key)
	if e == nil {
		e = &entry{zset: make(map[string]float64)}
		s.entries[key] = e
	}
	if e.zset == nil {
		e.zset = make(map[string]float64)
	}
	e.zset[member] = score
}

func (s *Store) zremLocked(key string, members ...string) int64 {
	e := s.live(key)
	if e == nil || e.zset == nil {
		return 0
	}
	var removed int64
	for _, m := range members {
		if _, ok := e.zset[m]; ok {
			delete(e.zset, m)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return removed
}

func (s *Store) incrLocked(key string, n int64) int64 {
	e := s.live(key)
	if e == nil {
		e = &entry{}
		s.entries[key] = e
	}
	v := parseInt(e.data) + n
	e.data = []byte(fmt.Sprintf("%d", v))
	return v
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func sortMembers(ms []kv.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score < ms[j].Score
		}
		return ms[i].Member < ms[j].Member
	})
}

func parseInt(b []byte) int64 {
	var v int64
	_, _ = fmt.Sscanf(string(b), "%d", &v) //nolint:errcheck // absent or non-numeric counts start at zero
	return v
}

func errUnavailable(op string) error {
	return fmt.Errorf("kv/memory: %s: %w", op, mailroom.ErrStoreUnavailable)
}
