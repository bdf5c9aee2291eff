// Package otp issues and verifies one-time login codes. Codes live in the
// shared key-value store under a TTL; issuance is gated by the sliding-
// window rate limiter and delivery goes through the mail queue.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/kv"
	"github.com/mailroom-dev/mailroom/mail"
	"github.com/mailroom-dev/mailroom/ratelimit"
)

const keyPrefix = "otp:"

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTTL sets how long an issued code stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithIssueLimit sets the per-email issuance rate limit.
func WithIssueLimit(rl mailroom.RateLimit) Option {
	return func(s *Service) { s.issueLimit = rl }
}

// Service issues and verifies one-time codes.
type Service struct {
	store      kv.Store
	limiter    *ratelimit.Limiter
	enqueuer   *mail.Enqueuer
	ttl        time.Duration
	issueLimit mailroom.RateLimit
	logger     *slog.Logger
}

// New creates a Service. limiter may be nil to disable issuance gating.
func New(store kv.Store, limiter *ratelimit.Limiter, enqueuer *mail.Enqueuer, opts ...Option) *Service {
	s := &Service{
		store:      store,
		limiter:    limiter,
		enqueuer:   enqueuer,
		ttl:        10 * time.Minute,
		issueLimit: mailroom.RateLimit{Limit: 5, Window: 15 * time.Minute},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue generates a six-digit code for email, stores it under the TTL, and
// queues the delivery email. Repeated issuance overwrites the previous
// code. Returns mailroom.ErrRateLimited when the caller has issued too
// many codes inside the window.
func (s *Service) Issue(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("otp: empty email")
	}

	if s.limiter != nil {
		res := s.limiter.Allow(ctx, "otp:"+email, s.issueLimit.Limit, s.issueLimit.Window)
		if !res.Allowed {
			s.logger.Warn("otp issuance rate limited",
				slog.String("email", email),
				slog.Time("reset_at", res.ResetAt),
			)
			return mailroom.ErrRateLimited
		}
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("otp: generate code: %w", err)
	}

	if err := s.store.Set(ctx, keyPrefix+email, []byte(code), s.ttl); err != nil {
		return fmt.Errorf("otp: store code: %w", err)
	}

	if !s.enqueuer.QueueOTP(ctx, email, code, "") {
		return fmt.Errorf("otp: queue delivery email")
	}
	return nil
}

// Verify checks code against the stored value for email, consuming it on
// success. Returns mailroom.ErrCodeInvalid for wrong, expired, or absent
// codes.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	stored, err := s.store.Get(ctx, keyPrefix+email)
	if err != nil {
		// Misses and store outages verify the same way: the code cannot
		// be confirmed, so it is invalid. Auth checks fail closed.
		return mailroom.ErrCodeInvalid
	}

	if subtle.ConstantTimeCompare(stored, []byte(code)) != 1 {
		return mailroom.ErrCodeInvalid
	}

	// One shot: consumed codes cannot be replayed.
	if _, err := s.store.Delete(ctx, keyPrefix+email); err != nil {
		s.logger.Error("otp: failed to consume code", slog.String("email", email), slog.String("error", err.Error()))
	}
	return nil
}

// generateCode returns a uniformly random six-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
