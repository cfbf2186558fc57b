// Package apiclient is the single path every authenticated backend request
// takes. It attaches credentials, turns a 401 into one coalesced token
// refresh followed by one retry, and retries once after a fixed backoff when
// the server could not be reached at all.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackoffDelay is how long a request waits before its one retry after the
// server could not be reached.
const BackoffDelay = 5 * time.Second

// Executor sends a single HTTP request. *http.Client satisfies it.
type Executor interface {
	Do(req *http.Request) (*http.Response, error)
}

// Session is the part of *session.Session the pipeline reads.
type Session interface {
	CurrentAccessToken() (string, bool)
	LogOut() error
}

// Refresher is satisfied by *refresh.Coordinator.
type Refresher interface {
	HandleUnauthorized(ctx context.Context) error
}

// Reporter surfaces transient connectivity problems to the user.
type Reporter interface {
	NetworkDegraded(err error)
	NetworkRestored()
}

type noopReporter struct{}

func (noopReporter) NetworkDegraded(error) {}
func (noopReporter) NetworkRestored()      {}

// Request describes one backend call. It is replayed unchanged on retry.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header

	// ErrorShape decodes a structured error payload from a non-2xx
	// response. It returns nil when the body does not match.
	ErrorShape func(status int, body []byte) error
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	exec      Executor
	session   Session
	refresher Refresher
	reporter  Reporter
	referer   string
	backoff   time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithExecutor replaces the default *http.Client.
func WithExecutor(e Executor) Option {
	return func(c *Client) { c.exec = e }
}

// WithReporter sets the sink for network degraded and restored signals.
func WithReporter(r Reporter) Option {
	return func(c *Client) { c.reporter = r }
}

// WithReferer sets the fixed Referer header sent on every request.
func WithReferer(referer string) Option {
	return func(c *Client) { c.referer = referer }
}

// WithBackoff overrides BackoffDelay. Only tests should need this.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithRequestTimeout bounds each individual attempt. A timed-out attempt
// counts as no response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for retries and decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, sess Session, refresher Refresher, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("base URL must be absolute")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		exec:      &http.Client{},
		session:   sess,
		refresher: refresher,
		reporter:  noopReporter{},
		backoff:   BackoffDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do runs req through the pipeline and returns the body of the 2xx response.
// All attempts belonging to one call share an X-Request-ID.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	requestID := uuid.NewString()
	logger := c.logger.With("method", req.Method, "path", req.Path, "request_id", requestID)

	body, err := c.authorized(ctx, req, requestID, logger)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		return body, err
	}

	logger.Warn("server unreachable, retrying after backoff",
		"error", err,
		"backoff", c.backoff)
	c.reporter.NetworkDegraded(err)

	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	body, err = c.authorized(ctx, req, requestID, logger)
	if errors.As(err, &connErr) {
		logger.Error("server still unreachable after backoff", "error", err)
	}
	return body, err
}

// authorized sends req and, on a 401, refreshes once and retries once.
func (c *Client) authorized(
	ctx context.Context,
	req Request,
	requestID string,
	logger *slog.Logger,
) ([]byte, error) {
	status, body, err := c.send(ctx, req, requestID)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		logger.Info("access token rejected, refreshing")

		if err := c.refresher.HandleUnauthorized(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &AuthenticationError{Err: err}
		}

		status, body, err = c.send(ctx, req, requestID)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			logger.Warn("request rejected after refresh, logging out")
			if err := c.session.LogOut(); err != nil {
				logger.Warn("logout did not complete", "error", err)
			}
			return nil, &AuthenticationError{Err: ErrUnauthorized}
		}
	}

	if status >= 200 && status < 300 {
		c.reporter.NetworkRestored()
		return body, nil
	}

	if req.ErrorShape != nil {
		if shaped := req.ErrorShape(status, body); shaped != nil {
			return nil, shaped
		}
	}
	return nil, &ResponseError{StatusCode: status, Body: body}
}

// send performs one attempt with the current access token. A failure to get
// any response is returned as *ConnectionError unless ctx itself ended.
func (c *Client) send(ctx context.Context, req Request, requestID string) (int, []byte, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if req.Body != nil {
		reader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, reader)
	if err != nil {
		return 0, nil, err
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.referer != "" {
		httpReq.Header.Set("Referer", c.referer)
	}
	if token, ok := c.session.CurrentAccessToken(); ok {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.exec.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &ConnectionError{Err: err}
	}

	return resp.StatusCode, body, nil
}
