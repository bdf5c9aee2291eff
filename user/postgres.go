package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailroom-dev/mailroom"
)

// Compile-time interface check.
var _ Lookup = (*PgLookup)(nil)

// PgLookup implements Lookup against the application's Postgres users
// table via a shared pgx pool.
type PgLookup struct {
	pool *pgxpool.Pool
}

// NewPgLookup creates a PgLookup. The caller owns the pool lifecycle.
func NewPgLookup(pool *pgxpool.Pool) *PgLookup {
	return &PgLookup{pool: pool}
}

// ByEmail returns the user with the given email, matched
// case-insensitively.
func (l *PgLookup) ByEmail(ctx context.Context, email string) (*User, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("user: nil pool")
	}

	var u User
	err := l.pool.QueryRow(ctx,
		`SELECT id, email, full_name, is_active FROM users WHERE lower(email) = $1`,
		strings.ToLower(email),
	).Scan(&u.ID, &u.Email, &u.FullName, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mailroom.ErrUserNotFound
		}
		return nil, fmt.Errorf("user: lookup by email: %w", err)
	}
	return &u, nil
}
