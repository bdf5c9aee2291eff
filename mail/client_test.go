package mail_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mailroom-dev/mailroom"
	"github.com/mailroom-dev/mailroom/mail"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_SendBuildsAPIRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := mail.NewClient("secret-key", "noreply@example.com", "Example",
		mail.WithEndpoint(srv.URL),
		mail.WithLogger(discard()),
	)

	err := c.Send(context.Background(), mail.Message{
		To:      "ada@example.com",
		ToName:  "Ada",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotAuth != "secret-key" {
		t.Errorf("api key header = %q", gotAuth)
	}
	sender := gotBody["sender"].(map[string]any)
	if sender["email"] != "noreply@example.com" || sender["name"] != "Example" {
		t.Errorf("sender = %v", sender)
	}
	to := gotBody["to"].([]any)[0].(map[string]any)
	if to["email"] != "ada@example.com" || to["name"] != "Ada" {
		t.Errorf("to = %v", to)
	}
	if gotBody["subject"] != "Hello" || gotBody["htmlContent"] != "<p>Hi</p>" {
		t.Errorf("content = %v / %v", gotBody["subject"], gotBody["htmlContent"])
	}
}

func TestClient_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid sender"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := mail.NewClient("k", "noreply@example.com", "Example",
		mail.WithEndpoint(srv.URL),
		mail.WithLogger(discard()),
	)

	err := c.Send(context.Background(), mail.Message{To: "ada@example.com", Subject: "x"})
	if !errors.Is(err, mailroom.ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
}

func TestClient_SendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := mail.NewClient("k", "noreply@example.com", "Example",
		mail.WithEndpoint(srv.URL),
		mail.WithLogger(discard()),
	)

	err := c.Send(context.Background(), mail.Message{To: "ada@example.com"})
	if !errors.Is(err, mailroom.ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
}

func TestClient_ThrottleHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	// 1 send per 100s with burst 1: the second send must wait far longer
	// than the already-cancelled context allows.
	c := mail.NewClient("k", "noreply@example.com", "Example",
		mail.WithEndpoint(srv.URL),
		mail.WithLogger(discard()),
		mail.WithSendRate(0.01, 1),
	)

	if err := c.Send(context.Background(), mail.Message{To: "a@example.com"}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Send(ctx, mail.Message{To: "b@example.com"}); err == nil {
		t.Fatal("second send should fail waiting on the throttle")
	}
}
