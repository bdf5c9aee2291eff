package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mailroom-dev/mailroom"
)

// DefaultEndpoint is the Brevo transactional email endpoint.
const DefaultEndpoint = "https://api.brevo.com/v3/smtp/email"

// Compile-time interface check.
var _ Sender = (*Client)(nil)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) { c.endpoint = url }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithSendRate throttles outbound sends to perSecond with the given burst.
// Zero disables throttling.
func WithSendRate(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// Client sends mail through a transactional email HTTP API. Safe for
// concurrent use.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	from     string
	fromName string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a Client sending as from/fromName, authenticated with
// apiKey.
func NewClient(apiKey, from, fromName string, opts ...ClientOption) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 15 * time.Second},
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiRequest is the transactional email API request body.
type apiRequest struct {
	Sender      apiAddress   `json:"sender"`
	To          []apiAddress `json:"to"`
	Subject     string       `json:"subject"`
	HTMLContent string       `json:"htmlContent"`
}

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send delivers msg via the API, waiting on the outbound throttle first.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("mail: throttle wait: %w", err)
		}
	}

	body, err := json.Marshal(apiRequest{
		Sender:      apiAddress{Email: c.from, Name: c.fromName},
		To:          []apiAddress{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("mail: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mail: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail: %w: %v", mailroom.ErrSendFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close failure is unactionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return fmt.Errorf("mail: %w: status %d: %s", mailroom.ErrSendFailed, resp.StatusCode, detail)
	}

	c.logger.Info("mail sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
