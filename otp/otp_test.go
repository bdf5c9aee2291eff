package otp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/kv/memory"
	"github.com/mailroom-dev/mailroom/mail"
	"github.com/mailroom-dev/mailroom/otp"
	"github.com/mailroom-dev/mailroom/queue"
	"github.com/mailroom-dev/mailroom/ratelimit"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc   *otp.Service
	store *memory.Store
	queue *queue.Queue
	clk   *fakeClock
}

func newFixture(t *testing.T, opts ...otp.Option) *fixture {
	t.Helper()
	clk := newFakeClock()
	store := memory.New(memory.WithClock(clk.Now))
	q := queue.New(store, "email", queue.WithClock(clk.Now), queue.WithLogger(discard()))
	lim := ratelimit.New(store, ratelimit.WithClock(clk.Now), ratelimit.WithLogger(discard()))
	opts = append([]otp.Option{otp.WithLogger(discard())}, opts...)
	return &fixture{
		svc:   otp.New(store, lim, mail.NewEnqueuer(q), opts...),
		store: store,
		queue: q,
		clk:   clk,
	}
}

// issuedCode pulls the queued delivery email and returns the code it carries.
func (f *fixture) issuedCode(t *testing.T) string {
	t.Helper()
	item := f.queue.Dequeue(context.Background())
	if item == nil {
		t.Fatal("no delivery email queued")
	}
	var p mail.OTPPayload
	if err := item.Decode(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Type != mail.TypeOTP {
		t.Fatalf("payload type = %q", p.Type)
	}
	return p.OTPCode
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.Issue(ctx, "Grace@Example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if n := f.queue.Depth(ctx); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}

	code := f.issuedCode(t)
	if len(code) != 6 {
		t.Fatalf("code = %q, want six digits", code)
	}

	// Email normalization: verification uses the canonical form.
	if err := f.svc.Verify(ctx, "grace@example.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_ConsumesCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := f.issuedCode(t)

	if err := f.svc.Verify(ctx, "grace@example.com", code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := f.svc.Verify(ctx, "grace@example.com", code); !errors.Is(err, mailroom.ErrCodeInvalid) {
		t.Fatalf("replay err = %v, want ErrCodeInvalid", err)
	}
}

func TestVerify_WrongCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	err := f.svc.Verify(ctx, "grace@example.com", "000000")
	if !errors.Is(err, mailroom.ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
}

func TestVerify_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, otp.WithTTL(10*time.Minute))

	if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := f.issuedCode(t)

	f.clk.Advance(11 * time.Minute)

	err := f.svc.Verify(ctx, "grace@example.com", code)
	if !errors.Is(err, mailroom.ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
}

func TestIssue_ReissueOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	first := f.issuedCode(t)

	f.clk.Advance(time.Second)
	if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	second := f.issuedCode(t)

	// Only the latest code verifies. The codes may coincide by chance
	// (one in a million); only the stored value matters.
	if err := f.svc.Verify(ctx, "grace@example.com", second); err != nil {
		t.Fatalf("verify latest: %v", err)
	}
	if first != second {
		if err := f.svc.Verify(ctx, "grace@example.com", first); !errors.Is(err, mailroom.ErrCodeInvalid) {
			t.Fatalf("stale code err = %v, want ErrCodeInvalid", err)
		}
	}
}

func TestIssue_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, otp.WithIssueLimit(mailroom.RateLimit{Limit: 3, Window: 15 * time.Minute}))

	for i := 1; i <= 3; i++ {
		if err := f.svc.Issue(ctx, "grace@example.com"); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		f.clk.Advance(time.Second)
	}

	err := f.svc.Issue(ctx, "grace@example.com")
	if !errors.Is(err, mailroom.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// The denied issuance queued nothing.
	if n := f.queue.Depth(ctx); n != 3 {
		t.Errorf("queue depth = %d, want 3", n)
	}

	// Another address is not affected.
	if err := f.svc.Issue(ctx, "ada@example.com"); err != nil {
		t.Errorf("unrelated address: %v", err)
	}
}

func TestIssue_EmptyEmailRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Issue(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank email")
	}
}

func TestIssue_StoreOutageSurfaces(t *testing.T) {
	f := newFixture(t)
	f.store.SetFailing(true)

	// The limiter fails open, but the code cannot be persisted, so the
	// issue as a whole must fail rather than mail an unverifiable code.
	if err := f.svc.Issue(context.Background(), "grace@example.com"); err == nil {
		t.Fatal("expected error when the store is down")
	}
}
