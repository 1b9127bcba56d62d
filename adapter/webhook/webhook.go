// Package webhook delivers session events to an HTTP endpoint.
//
// Each event is one JSON POST. Server errors, 429 and transport failures
// are retried with adapter.Backoff; any other 4xx fails immediately.
package webhook

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

	"github.com/pithecene-io/nimbus/adapter"
	"github.com/pithecene-io/nimbus/iox"
	"github.com/pithecene-io/nimbus/types"
)

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is used when the config leaves retries unset.
	DefaultRetries = 3
)

// Request headers set on every delivery, in addition to Config.Headers.
const (
	HeaderEvent   = "X-Nimbus-Event"
	HeaderSession = "X-Nimbus-Session"
)

// maxErrorBody caps the response excerpt kept on StatusError.
const maxErrorBody = 512

// Config configures the webhook adapter.
type Config struct {
	URL     string            // endpoint, required
	Headers map[string]string // extra headers; may override Content-Type but not the X-Nimbus-* pair
	Timeout time.Duration     // per attempt, defaults to DefaultTimeout
	Retries int               // attempts after the first
}

// Adapter posts session events to Config.URL.
type Adapter struct {
	url     string
	headers http.Header
	retries int
	client  *http.Client
}

// New validates cfg and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "nimbus/"+types.Version)
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}

	return &Adapter{
		url:     cfg.URL,
		headers: h,
		retries: cfg.Retries,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// StatusError reports a non-2xx delivery response.
type StatusError struct {
	Code int
	Body string // trimmed excerpt
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("endpoint returned %d: %s", e.Code, e.Body)
}

// Retriable reports whether the delivery may succeed if tried again.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

func permanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Retriable()
}

// Publish delivers event, retrying as configured.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", event.EventType, err)
	}

	attempts, err := adapter.Retry(ctx, a.retries, func(ctx context.Context) error {
		return a.post(ctx, event, body)
	}, permanent)
	if err == nil {
		return nil
	}
	if permanent(err) {
		return fmt.Errorf("webhook: %s rejected (non-retriable): %w", event.EventType, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("webhook: %s abandoned after %d attempts: %w", event.EventType, attempts, err)
	}
	return fmt.Errorf("webhook: %s failed after %d attempts: %w", event.EventType, attempts, err)
}

func (a *Adapter) post(ctx context.Context, event *adapter.SessionEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = a.headers.Clone()
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderSession, event.SessionID)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
