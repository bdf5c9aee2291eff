// Package mail turns queued payloads into delivered email. It provides the
// Sender collaborator boundary, an HTTP transactional-mail API client, the
// four payload kinds the application queues, and the handler registrations
// that route them.
package mail

import "context"

// Message is one email ready for delivery.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Sender delivers a message. A non-nil error means the delivery did not
// happen; the worker leaves the item in processing for retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
