// Package worker provides the cooperative consumer loop that drains the
// delivery queue: one goroutine per Worker that sweeps stale claims,
// dequeues the most urgent item, and routes it by payload type to a
// registered handler.
//
// Exactly one Worker per process is expected, but nothing prevents several
// processes from running workers against the same store — the atomic pop
// partitions work across them, as long as the stale grace period safely
// exceeds the slowest handler anywhere.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-dev/mailroom/job"
	"github.com/mailroom-dev/mailroom/queue"
)

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval sets how long the loop sleeps between empty polls and
// after a cycle-level error.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithStaleAfter sets the processing-claim grace period checked each cycle.
func WithStaleAfter(d time.Duration) Option {
	return func(w *Worker) { w.staleAfter = d }
}

// Worker is the single-goroutine queue consumer. Transient errors keep it
// running; only Stop terminates the loop.
type Worker struct {
	queue        *queue.Queue
	registry     *job.Registry
	logger       *slog.Logger
	id           string
	pollInterval time.Duration
	staleAfter   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	processed atomic.Uint64
}

// New creates a Worker draining q, dispatching through registry.
func New(q *queue.Queue, registry *job.Registry, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		queue:        q,
		registry:     registry,
		logger:       logger,
		id:           uuid.NewString(),
		pollInterval: 5 * time.Second,
		staleAfter:   5 * time.Minute,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ID returns the worker's instance identifier, used for log correlation.
func (w *Worker) ID() string { return w.id }

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Processed returns how many items this worker has completed.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Start launches the consumer loop. It returns immediately; starting an
// already-running worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.logger.Warn("worker already running", slog.String("worker_id", w.id))
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.logger.Info("worker starting",
		slog.String("worker_id", w.id),
		slog.String("queue", w.queue.Name()),
		slog.Duration("poll_interval", w.pollInterval),
	)

	w.wg.Add(1)
	go w.loop(w.stopCh)
}

// Stop signals the loop to terminate and waits for it to finish, or until
// the context expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info("worker stopping", slog.String("worker_id", w.id))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs until stopped. Every cycle first reclaims stale claims, then
// handles at most one item. No error terminates the loop.
func (w *Worker) loop(stopCh chan struct{}) {
	defer w.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if n := w.queue.RequeueStale(ctx, w.staleAfter); n > 0 {
			w.logger.Info("requeued stale items",
				slog.String("worker_id", w.id),
				slog.Int("count", n),
			)
		}

		item := w.queue.Dequeue(ctx)
		if item == nil {
			w.sleep(stopCh)
			continue
		}

		w.process(ctx, item)
	}
}

// process routes one item to its handler. On handler failure the item is
// deliberately NOT completed: it stays in the processing set until the
// stale sweep requeues it, bounded by the retry cap.
func (w *Worker) process(ctx context.Context, item *queue.Item) {
	start := time.Now()

	var head job.Head
	if err := item.Decode(&head); err != nil || head.Type == "" {
		// Undecodable payloads can never succeed; completing them keeps
		// them from cycling through stale recovery.
		w.logger.Error("invalid payload, removing",
			slog.String("worker_id", w.id),
			slog.Int("attempts", item.Attempts),
		)
		w.queue.Complete(ctx, item)
		return
	}

	handler, ok := w.registry.Get(head.Type)
	if !ok {
		// Unknown types are treated as handled rather than retried
		// forever; a malformed producer should not wedge the queue.
		w.logger.Error("no handler for payload type, removing",
			slog.String("worker_id", w.id),
			slog.String("type", head.Type),
		)
		w.queue.Complete(ctx, item)
		return
	}

	if err := w.invoke(ctx, handler, item); err != nil {
		w.logger.Error("handler failed, leaving item for stale recovery",
			slog.String("worker_id", w.id),
			slog.String("type", head.Type),
			slog.String("recipient", head.Recipient),
			slog.Int("attempts", item.Attempts),
			slog.String("error", err.Error()),
		)
		return
	}

	w.queue.Complete(ctx, item)
	w.processed.Add(1)
	w.logger.Info("item processed",
		slog.String("worker_id", w.id),
		slog.String("type", head.Type),
		slog.String("recipient", head.Recipient),
		slog.Duration("took", time.Since(start)),
	)
}

// invoke calls the handler, converting a panic into an ordinary failure so
// the loop keeps running.
func (w *Worker) invoke(ctx context.Context, handler job.HandlerFunc, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, item.Payload)
}

func (w *Worker) sleep(stopCh chan struct{}) {
	select {
	case <-time.After(w.pollInterval):
	case <-stopCh:
	}
}
