package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mailroom-dev/mailroom/job"
	"github.com/mailroom-dev/mailroom/kv/memory"
	"github.com/mailroom-dev/mailroom/mail"
	"github.com/mailroom-dev/mailroom/queue"
	"github.com/mailroom-dev/mailroom/worker"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures delivered messages in order.
type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.To)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorker_DrainsByPriority(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	sender := &recordingSender{}
	reg := job.NewRegistry()
	if err := mail.Register(reg, sender, nil, discard()); err != nil {
		t.Fatalf("register: %v", err)
	}

	enq := mail.NewEnqueuer(q)
	// Enqueued in the "wrong" order: the link first, then the more urgent
	// one-time code.
	if !enq.QueueMagicLink(ctx, "link@example.com", "Ada", "https://app.test/login?token=x") {
		t.Fatal("enqueue magic link failed")
	}
	if !enq.QueueOTP(ctx, "code@example.com", "482913", "Grace") {
		t.Fatal("enqueue otp failed")
	}

	w := worker.New(q, reg, discard(), worker.WithPollInterval(5*time.Millisecond))
	w.Start()
	defer w.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return w.Processed() == 2 })

	got := sender.recipients()
	if len(got) != 2 || got[0] != "code@example.com" || got[1] != "link@example.com" {
		t.Errorf("delivery order = %v, want the one-time code first", got)
	}
	if n := q.InFlight(ctx); n != 0 {
		t.Errorf("in flight = %d, want 0", n)
	}
	if n := q.Depth(ctx); n != 0 {
		t.Errorf("depth = %d, want 0", n)
	}
}

func TestWorker_UnknownTypeCompletedNotRetried(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	q.Enqueue(ctx, map[string]string{"type": "telegram", "recipient": "x"}, 1)

	w := worker.New(q, job.NewRegistry(), discard(), worker.WithPollInterval(5*time.Millisecond))
	w.Start()
	defer w.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return q.Depth(ctx) == 0 && q.InFlight(ctx) == 0
	})

	if n := w.Processed(); n != 0 {
		t.Errorf("processed = %d, removal should not count as success", n)
	}
}

func TestWorker_MissingTypeFieldCompleted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	q.Enqueue(ctx, map[string]string{"recipient": "x"}, 1)

	w := worker.New(q, job.NewRegistry(), discard(), worker.WithPollInterval(5*time.Millisecond))
	w.Start()
	defer w.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return q.Depth(ctx) == 0 && q.InFlight(ctx) == 0
	})
}

func TestWorker_FailedHandlerLeavesItemInFlight(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	reg := job.NewRegistry()
	err := job.RegisterDefinition(reg, job.NewDefinition("flaky",
		func(context.Context, struct {
			Type string `json:"type"`
		}) error {
			return context.DeadlineExceeded
		}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	q.Enqueue(ctx, map[string]string{"type": "flaky"}, 1)

	w := worker.New(q, reg, discard(), worker.WithPollInterval(5*time.Millisecond))
	w.Start()

	waitFor(t, 2*time.Second, func() bool { return q.InFlight(ctx) == 1 })
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The claim stays parked for stale recovery; nothing completed it.
	if n := q.InFlight(ctx); n != 1 {
		t.Errorf("in flight = %d, want 1", n)
	}
	if n := w.Processed(); n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
}

func TestWorker_PanicTreatedAsFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	reg := job.NewRegistry()
	err := job.RegisterDefinition(reg, job.NewDefinition("explosive",
		func(context.Context, struct {
			Type string `json:"type"`
		}) error {
			panic("boom")
		}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	q.Enqueue(ctx, map[string]string{"type": "explosive"}, 1)

	w := worker.New(q, reg, discard(), worker.WithPollInterval(5*time.Millisecond))
	w.Start()

	// The loop survives the panic and keeps polling.
	waitFor(t, 2*time.Second, func() bool { return q.InFlight(ctx) == 1 })
	if !w.Running() {
		t.Error("worker should still be running after a handler panic")
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	store := memory.New()
	q := queue.New(store, "email", queue.WithLogger(discard()))

	w := worker.New(q, job.NewRegistry(), discard(), worker.WithPollInterval(5*time.Millisecond))

	if w.Running() {
		t.Fatal("running before start")
	}
	w.Start()
	if !w.Running() {
		t.Fatal("not running after start")
	}
	w.Start() // no-op on a running worker

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.Running() {
		t.Fatal("still running after stop")
	}
	// Stopping twice is safe.
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
