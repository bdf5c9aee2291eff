// Package mailroom provides the background delivery subsystem used by the
// surrounding admin application: a priority job queue with at-least-once
// delivery and stale-item recovery, a sliding-window rate limiter, and a
// namespaced TTL cache, all layered over one shared key-value store with
// atomic primitives.
//
// Mailroom is a library, not a service. The application constructs each
// component with a kv.Store capability and consumes them in-process:
//
//	store := kvredis.New(redisClient)
//	q := queue.New(store, "email")
//	q.Enqueue(ctx, payload, 1)
//
//	w := worker.New(q, registry, logger)
//	w.Start()
//	defer w.Stop(context.Background())
//
// # Architecture
//
// Each subsystem (cache, ratelimit, queue, worker) depends only on the
// kv.Store interface. A single backend implements it; the Redis
// implementation is the production one and the memory implementation backs
// tests and development.
//
// # Failure policy
//
// Transport failures never escape the public operation boundaries. Each
// component degrades on its own terms: the cache reports a miss, the rate
// limiter fails open, enqueue reports false, dequeue reports an empty queue.
// Callers receive boolean success flags, never errors, from those paths.
package mailroom
