package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/job"
	"github.com/mailroom-dev/mailroom/queue"
	"github.com/mailroom-dev/mailroom/user"
)

// fallbackName is used when neither the payload nor the user record
// provides a display name.
const fallbackName = "User"

// Register wires the four mail payload kinds into the registry. users may
// be nil; handlers then fall back to the generic display name.
func Register(reg *job.Registry, sender Sender, users user.Lookup, logger *slog.Logger) error {
	if sender == nil {
		return errors.New("mail: nil sender")
	}

	defs := []func() error{
		func() error {
			return job.RegisterDefinition(reg, job.NewDefinition(TypeOTP,
				func(ctx context.Context, p OTPPayload) error {
					if p.Recipient == "" || p.OTPCode == "" {
						return fmt.Errorf("mail: otp payload missing required fields")
					}
					name := p.FullName
					if name == "" {
						name = displayName(ctx, users, p.Recipient, logger)
					}
					return sender.Send(ctx, otpMessage(p, name))
				}))
		},
		func() error {
			return job.RegisterDefinition(reg, job.NewDefinition(TypeMagicLink,
				func(ctx context.Context, p MagicLinkPayload) error {
					if p.Recipient == "" || p.MagicLink == "" {
						return fmt.Errorf("mail: magic link payload missing required fields")
					}
					if p.FullName == "" {
						p.FullName = fallbackName
					}
					return sender.Send(ctx, magicLinkMessage(p))
				}))
		},
		func() error {
			return job.RegisterDefinition(reg, job.NewDefinition(TypeRegistrationNotice,
				func(ctx context.Context, p RegistrationNoticePayload) error {
					if p.Recipient == "" || p.NewUserEmail == "" || p.NewUserName == "" || p.ApprovalURL == "" {
						return fmt.Errorf("mail: registration notice payload missing required fields")
					}
					return sender.Send(ctx, registrationNoticeMessage(p))
				}))
		},
		func() error {
			return job.RegisterDefinition(reg, job.NewDefinition(TypeAccountApproved,
				func(ctx context.Context, p AccountApprovedPayload) error {
					if p.Recipient == "" || p.LoginURL == "" {
						return fmt.Errorf("mail: account approved payload missing required fields")
					}
					name := p.FullName
					if name == "" {
						name = displayName(ctx, users, p.Recipient, logger)
					}
					return sender.Send(ctx, accountApprovedMessage(p, name))
				}))
		},
	}

	for _, register := range defs {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

// displayName resolves a recipient's name, degrading to the fallback when
// the lookup fails or the user is unknown.
func displayName(ctx context.Context, users user.Lookup, email string, logger *slog.Logger) string {
	if users == nil {
		return fallbackName
	}
	u, err := users.ByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, mailroom.ErrUserNotFound) && logger != nil {
			logger.Error("user lookup failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		return fallbackName
	}
	if u.FullName == "" {
		return fallbackName
	}
	return u.FullName
}

// Enqueuer queues mail payloads with the priorities each kind warrants.
type Enqueuer struct {
	q *queue.Queue
}

// NewEnqueuer creates an Enqueuer producing into q.
func NewEnqueuer(q *queue.Queue) *Enqueuer {
	return &Enqueuer{q: q}
}

// QueueOTP queues a one-time code email. fullName may be empty; the worker
// resolves it from the user record.
func (e *Enqueuer) QueueOTP(ctx context.Context, recipient, code, fullName string) bool {
	return e.q.Enqueue(ctx, OTPPayload{
		Type:      TypeOTP,
		Recipient: recipient,
		OTPCode:   code,
		FullName:  fullName,
	}, PriorityOTP)
}

// QueueMagicLink queues a passwordless login link email.
func (e *Enqueuer) QueueMagicLink(ctx context.Context, recipient, fullName, magicLink string) bool {
	return e.q.Enqueue(ctx, MagicLinkPayload{
		Type:      TypeMagicLink,
		Recipient: recipient,
		FullName:  fullName,
		MagicLink: magicLink,
	}, PriorityMagicLink)
}

// QueueRegistrationNotice queues an admin notification about a pending
// registration.
func (e *Enqueuer) QueueRegistrationNotice(ctx context.Context, adminEmail, newUserEmail, newUserName, approvalURL string) bool {
	return e.q.Enqueue(ctx, RegistrationNoticePayload{
		Type:         TypeRegistrationNotice,
		Recipient:    adminEmail,
		NewUserEmail: newUserEmail,
		NewUserName:  newUserName,
		ApprovalURL:  approvalURL,
	}, PriorityRegistrationNotice)
}

// QueueAccountApproved queues an account approval email.
func (e *Enqueuer) QueueAccountApproved(ctx context.Context, recipient, fullName, loginURL string) bool {
	return e.q.Enqueue(ctx, AccountApprovedPayload{
		Type:      TypeAccountApproved,
		Recipient: recipient,
		FullName:  fullName,
		LoginURL:  loginURL,
	}, PriorityAccountApproved)
}
