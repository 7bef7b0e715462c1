// Package httptransport delivers outbox commands to a remote HTTP API.
//
// Each command is POSTed to {BaseURL}/{type} with its payload as the body. The response status is
// folded into an outbox.Result so the engine can decide between success, retry, conflict and
// failure.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	outbox "github.com/velmie/outbox-sync"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 10
)

// Headers set on every delivery.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderCommandID      = "X-Command-ID"
	HeaderWorkspaceID    = "X-Workspace-ID"
	HeaderClientTraceID  = "X-Client-Trace-ID"
)

var (
	// ErrBaseURLRequired is returned when the transport is created without a base URL.
	ErrBaseURLRequired = errors.New("outbox http: base url is required")
	// ErrInvalidBaseURL is returned when the base URL cannot be parsed.
	ErrInvalidBaseURL = errors.New("outbox http: invalid base url")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("outbox http: status %d", e.Code)
	}

	return fmt.Sprintf("outbox http: status %d: %s", e.Code, e.Body)
}

// Option configures a Transport.
type Option func(*Transport)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithTimeout bounds every request. Zero or negative values use the default.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// WithHeader adds a static header to every request (e.g., Authorization).
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers.Set(key, value)
	}
}

// Transport implements outbox.Transport over HTTP.
type Transport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	headers http.Header
}

var _ outbox.Transport = (*Transport)(nil)

// New creates a Transport targeting baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}

	return t, nil
}

// Execute implements outbox.Transport.
//
// Cancellation of ctx is returned as an error. Every other failure is reported through the Result.
func (t *Transport) Execute(ctx context.Context, cmd outbox.Command) (outbox.Result, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Result{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.newRequest(reqCtx, cmd)
	if err != nil {
		return outbox.Fatal(err), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outbox.Result{}, ctxErr
		}

		return outbox.Retryable(fmt.Errorf("outbox http: request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil && resp.StatusCode/100 != 2 {
		return outbox.Retryable(fmt.Errorf("outbox http: read response failed: %w", err)), nil
	}

	return classify(resp.StatusCode, body), nil
}

func (t *Transport) newRequest(ctx context.Context, cmd outbox.Command) (*http.Request, error) {
	var body io.Reader
	if len(cmd.Payload) > 0 {
		body = bytes.NewReader(cmd.Payload)
	}

	endpoint := t.baseURL + "/" + url.PathEscape(cmd.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("outbox http: build request failed: %w", err)
	}

	for key, values := range t.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCommandID, cmd.ID)
	req.Header.Set(HeaderWorkspaceID, cmd.WorkspaceID)
	if key := cmd.IdempotencyKey; key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	} else {
		req.Header.Set(HeaderIdempotencyKey, cmd.ID)
	}
	if cmd.ClientTraceID != "" {
		req.Header.Set(HeaderClientTraceID, cmd.ClientTraceID)
	}

	return req, nil
}

type conflictBody struct {
	Message     string          `json:"message"`
	ServerState json.RawMessage `json:"serverState"`
}

func classify(code int, body []byte) outbox.Result {
	switch {
	case code >= 200 && code < 300:
		return outbox.OK()
	case code == http.StatusConflict:
		return conflict(body)
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return outbox.Retryable(statusError(code, body))
	default:
		return outbox.Fatal(statusError(code, body))
	}
}

func conflict(body []byte) outbox.Result {
	var parsed conflictBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		message := parsed.Message
		if message == "" {
			message = http.StatusText(http.StatusConflict)
		}
		state := parsed.ServerState
		if len(state) == 0 || string(state) == "null" {
			state = nil
		}

		return outbox.Conflict(message, state)
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(http.StatusConflict)
	}

	return outbox.Conflict(message, nil)
}

func statusError(code int, body []byte) error {
	return &StatusError{Code: code, Body: strings.TrimSpace(string(body))}
}
