package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/roach88/flux/internal/ir"
)

// ExecutionPath is the path execution nodes accept messages on.
const ExecutionPath = "/api/execution"

// Header names set on every request.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderMessageID      = "X-Flux-Message-Id"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 100 * time.Millisecond
)

// HTTPDispatcher forwards messages as canonical JSON POSTs.
//
// Network errors and 5xx answers are retried with a constant backoff until
// MaxAttempts is reached; a 4xx answer is a rejection and is never retried.
// Every attempt runs inside one deadline of Timeout, so Forward returns
// ResultTimeout rather than hanging on a node that never answers.
type HTTPDispatcher struct {
	client      *http.Client
	endpoints   map[string]string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// HTTPOption configures an HTTPDispatcher.
type HTTPOption func(*HTTPDispatcher)

// WithTimeout bounds the whole Forward call.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPDispatcher) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMaxAttempts sets how many deliveries are tried, the first included.
func WithMaxAttempts(n int) HTTPOption {
	return func(h *HTTPDispatcher) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) HTTPOption {
	return func(h *HTTPDispatcher) {
		if d > 0 {
			h.backoff = d
		}
	}
}

// WithEndpoints maps endpoint aliases (e.g. "node-7") to base URLs.
func WithEndpoints(m map[string]string) HTTPOption {
	return func(h *HTTPDispatcher) {
		for k, v := range m {
			h.endpoints[k] = v
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is overridden by the
// dispatcher timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPDispatcher) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPDispatcher) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTPDispatcher creates a dispatcher.
func NewHTTPDispatcher(opts ...HTTPOption) *HTTPDispatcher {
	h := &HTTPDispatcher{
		client:      &http.Client{},
		endpoints:   make(map[string]string),
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	client := *h.client
	client.Timeout = h.timeout
	h.client = &client
	return h
}

// Resolve returns the execution URL of endpoint: an alias is looked up in
// the endpoint map, anything else must be an absolute http(s) URL.
func (h *HTTPDispatcher) Resolve(endpoint string) (string, error) {
	base, ok := h.endpoints[endpoint]
	if !ok {
		base = endpoint
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("unknown endpoint %q", endpoint)
	}
	return strings.TrimSuffix(base, "/") + ExecutionPath, nil
}

// rejection is the non-retryable outcome of a 4xx answer.
type rejection struct {
	status int
}

func (r *rejection) Error() string {
	return fmt.Sprintf("remote rejected message with status %d", r.status)
}

// Forward implements Dispatcher.
func (h *HTTPDispatcher) Forward(ctx context.Context, endpoint string, msg ir.TaskExecutionMessage) (ResultCode, error) {
	fail := func(code ResultCode, status int, err error) (ResultCode, error) {
		h.logger.Warn("forward failed",
			"endpoint", endpoint,
			"message_id", msg.ID,
			"state_machine_id", msg.StateMachineID,
			"state_id", msg.StateID,
			"result", code,
			"error", err)
		return code, &DispatchError{Code: code, Endpoint: endpoint, MessageID: msg.ID, StatusCode: status, Err: err}
	}

	target, err := h.Resolve(endpoint)
	if err != nil {
		return fail(ResultDeliveryFailed, 0, err)
	}
	body, err := msg.Encode()
	if err != nil {
		return fail(ResultDeliveryFailed, 0, err)
	}
	key, err := msg.IdempotencyKey()
	if err != nil {
		return fail(ResultDeliveryFailed, 0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		attempts   int
		lastStatus int
	)
	backoff := retry.WithMaxRetries(uint64(h.maxAttempts-1), retry.NewConstant(h.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		status, err := h.post(ctx, target, key, msg.ID, body)
		lastStatus = status
		switch {
		case err != nil:
			h.logger.Debug("forward attempt failed", "endpoint", endpoint, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		case status >= 200 && status < 300:
			return nil
		case status >= 400 && status < 500:
			return &rejection{status: status}
		default:
			h.logger.Debug("forward attempt failed", "endpoint", endpoint, "attempt", attempts, "status", status)
			return retry.RetryableError(fmt.Errorf("remote answered status %d", status))
		}
	})

	var rej *rejection
	switch {
	case err == nil:
		h.logger.Debug("forwarded", "endpoint", endpoint, "message_id", msg.ID, "attempts", attempts)
		return ResultOK, nil
	case errors.As(err, &rej):
		return fail(ResultRejected, rej.status, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err):
		return fail(ResultTimeout, lastStatus, fmt.Errorf("no answer within %s after %d attempt(s): %w", h.timeout, attempts, err))
	default:
		return fail(ResultDeliveryFailed, lastStatus, fmt.Errorf("after %d attempt(s): %w", attempts, err))
	}
}

// post sends one attempt and returns the HTTP status.
// The response body is drained so the connection can be reused.
func (h *HTTPDispatcher) post(ctx context.Context, target, key, id string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, key)
	req.Header.Set(HeaderMessageID, id)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}

// isTimeout reports whether err is a client-side timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
