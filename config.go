package mailroom

import "time"

// Config holds configuration for the delivery subsystem.
type Config struct {
	// QueueName is the queue the worker drains.
	QueueName string

	// PollInterval is how long the worker sleeps between empty polls.
	PollInterval time.Duration

	// StaleAfter is how long an item may sit in the processing set before
	// stale recovery reclaims it. It must safely exceed the slowest
	// expected handler execution across all workers.
	StaleAfter time.Duration

	// MaxAttempts caps stale-recovery requeues. Once an item's attempt
	// counter reaches this value it is dropped permanently.
	MaxAttempts int

	// CacheTTL is the default expiry for cache entries without an
	// explicit TTL.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:    "email",
		PollInterval: 5 * time.Second,
		StaleAfter:   5 * time.Minute,
		MaxAttempts:  3,
		CacheTTL:     time.Hour,
	}
}

// RateLimit is a (limit, window) pair for one protected action.
type RateLimit struct {
	// Limit is the maximum number of admissions per window.
	Limit int

	// Window is the sliding interval the limit applies to.
	Window time.Duration
}
