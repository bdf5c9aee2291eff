// Command mailroomd runs the background delivery worker: it connects the
// shared Redis store, registers the mail handlers, and drains the email
// queue until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/job"
	kvredis "github.com/mailroom-dev/mailroom/kv/redis"
	"github.com/mailroom-dev/mailroom/mail"
	"github.com/mailroom-dev/mailroom/queue"
	"github.com/mailroom-dev/mailroom/user"
	"github.com/mailroom-dev/mailroom/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded", slog.String("reason", err.Error()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg := configFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared store connection: obtained once, treated as a capability by
	// every component.
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Error("REDIS_URL is required")
		os.Exit(1)
	}
	redisOpts, err := goredis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	client := goredis.NewClient(redisOpts)
	defer client.Close() //nolint:errcheck // process is exiting

	store := kvredis.New(client, kvredis.WithLogger(logger))
	if err := store.Ping(ctx); err != nil {
		logger.Error("redis unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Optional user lookup for display names.
	var users user.Lookup
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, poolErr := pgxpool.New(ctx, dsn)
		if poolErr != nil {
			logger.Error("database connect failed", slog.String("error", poolErr.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		users = user.NewPgLookup(pool)
	} else {
		logger.Warn("DATABASE_URL not set, display names fall back to a generic greeting")
	}

	sender := mail.NewClient(
		os.Getenv("BREVO_API_KEY"),
		os.Getenv("EMAIL_FROM_ADDRESS"),
		os.Getenv("EMAIL_FROM_NAME"),
		mail.WithLogger(logger),
		mail.WithSendRate(envFloat("MAIL_SEND_RATE", 5), envInt("MAIL_SEND_BURST", 10)),
	)

	registry := job.NewRegistry()
	if err := mail.Register(registry, sender, users, logger); err != nil {
		logger.Error("handler registration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	q := queue.New(store, cfg.QueueName,
		queue.WithLogger(logger),
		queue.WithMaxAttempts(cfg.MaxAttempts),
	)

	w := worker.New(q, registry, logger,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithStaleAfter(cfg.StaleAfter),
	)
	w.Start()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Warn("worker shutdown timed out", slog.String("error", err.Error()))
	}
}

// configFromEnv builds the subsystem Config, falling back to defaults for
// anything unset.
func configFromEnv() mailroom.Config {
	cfg := mailroom.DefaultConfig()
	if v := os.Getenv("QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if n := envInt("POLL_INTERVAL_SECONDS", 0); n > 0 {
		cfg.PollInterval = time.Duration(n) * time.Second
	}
	if n := envInt("STALE_AFTER_SECONDS", 0); n > 0 {
		cfg.StaleAfter = time.Duration(n) * time.Second
	}
	if n := envInt("MAX_ATTEMPTS", 0); n > 0 {
		cfg.MaxAttempts = n
	}
	return cfg
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
