package mail

import "fmt"

// Payload type discriminators. The worker routes queued items to the
// handler registered for the payload's "type" field.
const (
	TypeOTP                = "otp"
	TypeMagicLink          = "magic_link"
	TypeRegistrationNotice = "registration_notification"
	TypeAccountApproved    = "account_approved"
)

// Enqueue priorities per payload kind. Lower value is more urgent.
const (
	PriorityOTP                = 1 // time-sensitive codes go first
	PriorityAccountApproved    = 2
	PriorityRegistrationNotice = 3
	PriorityMagicLink          = 5
)

// OTPPayload delivers a one-time login code.
type OTPPayload struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	OTPCode   string `json:"otp_code"`
	FullName  string `json:"full_name,omitempty"`
}

// MagicLinkPayload delivers a passwordless login link.
type MagicLinkPayload struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	FullName  string `json:"full_name"`
	MagicLink string `json:"magic_link"`
}

// RegistrationNoticePayload notifies an admin that a new user awaits
// approval.
type RegistrationNoticePayload struct {
	Type         string `json:"type"`
	Recipient    string `json:"recipient"`
	NewUserEmail string `json:"new_user_email"`
	NewUserName  string `json:"new_user_name"`
	ApprovalURL  string `json:"approval_url"`
}

// AccountApprovedPayload tells a user their account is active.
type AccountApprovedPayload struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	FullName  string `json:"full_name,omitempty"`
	LoginURL  string `json:"login_url"`
}

func otpMessage(p OTPPayload, fullName string) Message {
	return Message{
		To:      p.Recipient,
		ToName:  fullName,
		Subject: "Your verification code",
		HTML: fmt.Sprintf(`<p>Hi %s,</p>
<p>Your verification code is:</p>
<p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">%s</p>
<p>The code expires shortly. If you didn't request it, you can safely ignore this email.</p>`,
			fullName, p.OTPCode),
	}
}

func magicLinkMessage(p MagicLinkPayload) Message {
	return Message{
		To:      p.Recipient,
		ToName:  p.FullName,
		Subject: "Your login link",
		HTML: fmt.Sprintf(`<p>Hi %s,</p>
<p>Click the link below to log in to your account:</p>
<p><a href="%s">Log In</a></p>
<p>If you didn't request this login link, you can safely ignore this email.</p>`,
			p.FullName, p.MagicLink),
	}
}

func registrationNoticeMessage(p RegistrationNoticePayload) Message {
	return Message{
		To:      p.Recipient,
		Subject: fmt.Sprintf("New user registration: %s", p.NewUserName),
		HTML: fmt.Sprintf(`<p>A new user has registered and is waiting for approval:</p>
<p><strong>Name:</strong> %s<br><strong>Email:</strong> %s</p>
<p><a href="%s">Review User</a></p>`,
			p.NewUserName, p.NewUserEmail, p.ApprovalURL),
	}
}

func accountApprovedMessage(p AccountApprovedPayload, fullName string) Message {
	return Message{
		To:      p.Recipient,
		ToName:  fullName,
		Subject: "Your account has been approved",
		HTML: fmt.Sprintf(`<p>Hi %s,</p>
<p>Your account has been approved. You can now log in:</p>
<p><a href="%s">Log In</a></p>`,
			fullName, p.LoginURL),
	}
}
