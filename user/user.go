// Package user provides the user-lookup collaborator consumed by mail
// handlers that need a display name not present in the payload.
package user

import "context"

// User is the slice of the application's user record the delivery
// subsystem cares about.
type User struct {
	ID       int64
	Email    string
	FullName string
	IsActive bool
}

// Lookup resolves users by email. Implementations return
// mailroom.ErrUserNotFound for unknown addresses.
type Lookup interface {
	ByEmail(ctx context.Context, email string) (*User, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, email string) (*User, error)

// ByEmail calls f.
func (f LookupFunc) ByEmail(ctx context.Context, email string) (*User, error) {
	return f(ctx, email)
}
