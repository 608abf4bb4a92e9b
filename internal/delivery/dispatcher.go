// Package delivery performs the single outbound send for a fired or
// immediate message. One POST, no retry; the caller decides the job's fate.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "hooksched/pkg/logx"
)

const (
	// DefaultTimeout bounds one delivery attempt end to end.
	DefaultTimeout = 15 * time.Second

	// Upstream error bodies are kept short; they only exist to help a user
	// fix a misconfigured endpoint.
	maxErrorBody = 2048
)

// Error describes a failed delivery.
//
// Transport failures (DNS, TLS, timeout) have Transport set and no Status.
// Non-2xx responses carry the upstream status and a truncated body.
type Error struct {
	Status    int
	Body      string
	Transport bool
	cause     error
}

func (e *Error) Error() string {
	if e.Transport {
		return fmt.Sprintf("delivery transport error: %v", e.cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("delivery failed with status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("delivery failed with status %d", e.Status)
}

func (e *Error) Unwrap() error { return e.cause }

// payload is the wire body. The single "content" field is the webhook
// contract; do not add fields the destination would reject.
type payload struct {
	Content string `json:"content"`
}

type Dispatcher struct {
	client *http.Client
	log    logx.Logger
}

// New builds a dispatcher. A non-positive timeout selects DefaultTimeout.
func New(log logx.Logger, timeout time.Duration) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Send issues exactly one POST of {"content": content} to url.
// A nil return means the destination answered 2xx.
func (d *Dispatcher) Send(ctx context.Context, url, content string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return &Error{Transport: true, cause: fmt.Errorf("webhook not configured")}
	}

	data, err := json.Marshal(payload{Content: content})
	if err != nil {
		return &Error{Transport: true, cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Error{Transport: true, cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Transport: true, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
