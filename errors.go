package mailroom

import "errors"

var (
	// Store errors.
	ErrStoreUnavailable = errors.New("mailroom: store unavailable")

	// Queue errors.
	ErrAttemptsExhausted = errors.New("mailroom: delivery attempts exhausted")

	// Worker errors.
	ErrUnknownPayloadType = errors.New("mailroom: unknown payload type")
	ErrAlreadyRunning     = errors.New("mailroom: worker already running")

	// Collaborator errors.
	ErrUserNotFound = errors.New("mailroom: user not found")
	ErrSendFailed   = errors.New("mailroom: mail send failed")

	// OTP errors.
	ErrCodeInvalid = errors.New("mailroom: invalid or expired code")
	ErrRateLimited = errors.New("mailroom: rate limited")
)
