// Package gateway is the single chokepoint for control-plane calls. It
// attaches the bearer token, normalizes every failure to the client error
// taxonomy, and drives the global busy indicator.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orion-deck/orion-deck/internal/logging"
	"github.com/orion-deck/orion-deck/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// TokenSource supplies the current session's bearer token, if any.
type TokenSource interface {
	Token() (string, bool)
}

// BusyReporter receives busy indicator transitions. Busy(true) fires when
// the first call goes in flight, Busy(false) when the last one exits.
type BusyReporter interface {
	Busy(on bool)
}

// Caller is the surface consumed by the reconciler and the workflow
// controller.
type Caller interface {
	Call(ctx context.Context, method, path string, body any) (json.RawMessage, error)
}

// Client performs authenticated JSON calls against the control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	busy       BusyReporter
	onExpired  func(ctx context.Context)
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight int
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithTokenSource sets the bearer token source
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithBusyReporter sets the busy indicator sink
func WithBusyReporter(b BusyReporter) Option {
	return func(c *Client) {
		c.busy = b
	}
}

// WithAuthExpiredHandler sets the hook invoked on any 401 response
func WithAuthExpiredHandler(fn func(ctx context.Context)) Option {
	return func(c *Client) {
		c.onExpired = fn
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a gateway client for the given control-plane base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		onExpired:  func(context.Context) {},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetBusyReporter wires the busy indicator sink after construction, for
// callers that build the UI around an already wired client. Must be called
// before the first Call.
func (c *Client) SetBusyReporter(b BusyReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = b
}

// Call performs one control-plane request. The body, when non-nil, is sent
// as JSON. On success the raw response body is returned verbatim; every
// failure resolves to ErrSessionExpired, ErrNetwork, or *RemoteError.
// No retries are performed here; retry policy belongs to callers.
func (c *Client) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	start := time.Now()

	c.beginBusy()
	defer c.endBusy()

	raw, err := c.do(ctx, method, path, body)
	metrics.RecordAPICall(path, outcome(err), time.Since(start))
	return raw, err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Warn(ctx, "control plane unreachable",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, ErrNetwork
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Warn(ctx, "failed to read response body",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, ErrNetwork
	}

	if resp.StatusCode == http.StatusUnauthorized {
		logging.Info(ctx, "unauthorized response, forcing session teardown",
			slog.String("path", path))
		c.onExpired(ctx)
		return nil, ErrSessionExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := statusMessage(resp.StatusCode, http.StatusText(resp.StatusCode))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		logging.Debug(ctx, "control plane returned failure",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg))
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

// beginBusy and endBusy keep the busy indicator paired across every exit
// path: the indicator follows the in-flight count's 0<->1 transitions.
func (c *Client) beginBusy() {
	c.mu.Lock()
	c.inFlight++
	first := c.inFlight == 1
	c.mu.Unlock()
	if first && c.busy != nil {
		c.busy.Busy(true)
	}
}

func (c *Client) endBusy() {
	c.mu.Lock()
	c.inFlight--
	last := c.inFlight == 0
	c.mu.Unlock()
	if last && c.busy != nil {
		c.busy.Busy(false)
	}
}

// CallJSON performs a call and decodes the success body into out. A nil out
// discards the body.
func CallJSON(ctx context.Context, caller Caller, method, path string, body, out any) error {
	raw, err := caller.Call(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
