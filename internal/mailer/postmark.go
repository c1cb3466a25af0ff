// Package mailer delivers rendered digests through the Postmark HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultEndpoint is the Postmark API base URL.
const DefaultEndpoint = "https://api.postmarkapp.com"

const messageStream = "outbound"

// ErrMissingToken is returned when no Postmark server token is configured.
var ErrMissingToken = errors.New("postmark server token is not configured")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Postmark sends email through Postmark's single-message endpoint. Calls go
// through a circuit breaker so a failing provider is not hammered by every
// user in a sweep.
type Postmark struct {
	client   HTTPClient
	token    string
	from     string
	endpoint string
	breaker  *gobreaker.CircuitBreaker[string]
}

// NewPostmark creates a Postmark sender. An empty endpoint selects
// DefaultEndpoint.
func NewPostmark(client HTTPClient, token, from, endpoint string) *Postmark {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Postmark{
		client:   client,
		token:    token,
		from:     from,
		endpoint: strings.TrimRight(endpoint, "/"),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "postmark",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				var rejected *RejectedError
				// A rejected recipient says nothing about provider health.
				return err == nil || errors.As(err, &rejected)
			},
		}),
	}
}

// Ready reports whether the sender has credentials to deliver mail.
func (p *Postmark) Ready() error {
	if p.token == "" {
		return ErrMissingToken
	}
	return nil
}

type sendRequest struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HTMLBody      string `json:"HtmlBody"`
	MessageStream string `json:"MessageStream"`
}

type sendResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// RejectedError is a 4xx answer from Postmark, such as an inactive recipient.
type RejectedError struct {
	Status    int
	ErrorCode int
	Message   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("postmark rejected message: status %d, code %d: %s", e.Status, e.ErrorCode, e.Message)
}

// Send delivers msg and returns the provider message ID.
func (p *Postmark) Send(ctx context.Context, msg Message) (string, error) {
	if err := p.Ready(); err != nil {
		return "", err
	}

	body, err := json.Marshal(sendRequest{
		From:          p.from,
		To:            msg.To,
		Subject:       msg.Subject,
		HTMLBody:      msg.HTML,
		MessageStream: messageStream,
	})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	id, err := p.breaker.Execute(func() (string, error) {
		return p.post(ctx, body)
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return id, nil
}

func (p *Postmark) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/email", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out sendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("postmark returned %d: %s", resp.StatusCode, out.Message)
	case resp.StatusCode >= 400:
		return "", &RejectedError{Status: resp.StatusCode, ErrorCode: out.ErrorCode, Message: out.Message}
	case out.ErrorCode != 0:
		return "", &RejectedError{Status: resp.StatusCode, ErrorCode: out.ErrorCode, Message: out.Message}
	}
	return out.MessageID, nil
}
