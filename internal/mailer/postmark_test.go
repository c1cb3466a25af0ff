package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sony/gobreaker/v2"
)

func TestSendPostsMessage(t *testing.T) {
	var got sendRequest
	var header http.Header
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"b7bc2f4a-e38e-4336-af7d-e6c392c2f817"}`))
	}))
	defer srv.Close()

	p := NewPostmark(srv.Client(), "server-token", "Hold My Mail <digest@holdmymail.app>", srv.URL+"/")
	id, err := p.Send(context.Background(), Message{To: "user@example.com", Subject: "Digest", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if id != "b7bc2f4a-e38e-4336-af7d-e6c392c2f817" {
		t.Errorf("unexpected message id %q", id)
	}
	if path != "/email" {
		t.Errorf("expected /email, got %q", path)
	}
	if header.Get("X-Postmark-Server-Token") != "server-token" {
		t.Errorf("missing server token header")
	}
	want := sendRequest{
		From:          "Hold My Mail <digest@holdmymail.app>",
		To:            "user@example.com",
		Subject:       "Digest",
		HTMLBody:      "<p>hi</p>",
		MessageStream: "outbound",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{name: "inactive recipient", status: http.StatusUnprocessableEntity, body: `{"ErrorCode":406,"Message":"inactive"}`, rejected: true},
		{name: "error code with 200", status: http.StatusOK, body: `{"ErrorCode":300,"Message":"invalid email"}`, rejected: true},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewPostmark(srv.Client(), "token", "from@example.com", srv.URL)
			_, err := p.Send(context.Background(), Message{To: "user@example.com"})
			if err == nil {
				t.Fatal("expected error")
			}
			var rejected *RejectedError
			if errors.As(err, &rejected) != tt.rejected {
				t.Errorf("rejected = %v, want %v (err: %v)", !tt.rejected, tt.rejected, err)
			}
		})
	}
}

func TestSendWithoutToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := NewPostmark(srv.Client(), "", "from@example.com", srv.URL)
	if !errors.Is(p.Ready(), ErrMissingToken) {
		t.Errorf("Ready should report missing token")
	}
	if _, err := p.Send(context.Background(), Message{To: "user@example.com"}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("no request should be made without a token")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPostmark(srv.Client(), "token", "from@example.com", srv.URL)
	var lastErr error
	for range 10 {
		_, lastErr = p.Send(context.Background(), Message{To: "user@example.com"})
	}

	if calls.Load() != 6 {
		t.Errorf("expected 6 upstream calls before the breaker opens, got %d", calls.Load())
	}
	if !errors.Is(lastErr, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker error, got %v", lastErr)
	}
}
