// Package remote talks to the chat service over HTTP. It implements the
// engine's persistence, document and completion contracts.
package remote

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

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/Rrens/chatnil/internal/domain"
)

const apiPrefix = "/api/v1"

// StatusError is a non-2xx reply that carries no more specific meaning
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Message)
}

// Client is an authenticated client of the chat service
type Client struct {
	baseURL    string
	http       *http.Client
	stream     *http.Client
	identity   domain.Identity
	logger     zerolog.Logger
	maxTries   uint
	newBackOff func() backoff.BackOff
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for regular requests
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithStreamClient sets the client used for completion streams. It should
// have no overall timeout.
func WithStreamClient(h *http.Client) Option {
	return func(c *Client) { c.stream = h }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the attempt limit and the backoff policy between attempts
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

// New creates a Client for the service at baseURL
func New(baseURL string, identity domain.Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		stream:   &http.Client{},
		identity: identity,
		logger:   zerolog.Nop(),
		maxTries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthURL returns the unauthenticated liveness endpoint
func (c *Client) HealthURL() string {
	return c.baseURL + apiPrefix + "/health"
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.identity.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// send performs a request, making up to tries attempts, and returns the open
// response for a 2xx reply. The caller closes the body.
func (c *Client) send(ctx context.Context, h *http.Client, tries uint, build func() (*http.Request, error)) (*http.Response, error) {
	op := func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := h.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrOffline, err)
		}
		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("retry_in", wait).Msg("remote request failed")
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(notify),
	)
}

// checkStatus maps a reply to an error. Only timeouts, throttling and server
// faults are retried.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := errorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg))
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrNotFound, msg))
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &StatusError{Code: resp.StatusCode, Message: msg}
	default:
		return backoff.Permanent(&StatusError{Code: resp.StatusCode, Message: msg})
	}
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if s, ok := env.Error.(string); ok {
			return s
		}
		if env.Error != nil {
			b, _ := json.Marshal(env.Error)
			return string(b)
		}
	}
	return strings.TrimSpace(string(raw))
}

// doJSON sends body as JSON and decodes the data field of the reply into out
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.send(ctx, c.http, c.maxTries, func() (*http.Request, error) {
		return c.newRequest(ctx, method, path, payload, "application/json")
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return decodeData(resp, out)
}

// decodeData unwraps the data field of a reply envelope into out. A reply
// without data leaves out untouched.
func decodeData(resp *http.Response, out any) error {
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return errors.New("response reports failure")
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// scoped rejects calls for a user other than the one the credentials belong to
func (c *Client) scoped(userID string) error {
	if userID == "" || userID != c.identity.UserID() {
		return fmt.Errorf("remote call for %q: %w", userID, domain.ErrScopeMismatch)
	}
	return nil
}
