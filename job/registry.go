// Package job maps payload types to handlers. Payloads are tagged JSON
// objects; the "type" field selects the handler. The set of types is closed
// at registration time — the worker treats anything outside it as
// malformed rather than retrying it forever.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Head is the discriminator every payload carries.
type Head struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
}

// HandlerFunc is a type-erased payload handler. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over JSON
// unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps payload types to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Definition is a typed payload definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the payload discriminator this definition handles.
	Type string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed payload definition.
func NewDefinition[T any](payloadType string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Type: payloadType, Handler: handler}
}

// RegisterDefinition registers a typed definition. The generic handler is
// wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	if def.Type == "" {
		return fmt.Errorf("job: definition has empty type")
	}
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for type %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
	return nil
}

// Get returns the handler for the given payload type.
// Returns false if no handler is registered.
func (r *Registry) Get(payloadType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[payloadType]
	return h, ok
}

// Types returns all registered payload types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
