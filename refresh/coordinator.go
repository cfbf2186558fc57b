// Package refresh coalesces concurrent token refreshes. However many
// requests discover an expired access token at the same time, only one
// refresh call reaches the backend and every caller observes its outcome.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/matchup-app/matchup-cli/session"
)

// DefaultTimeout bounds one refresh call against the backend.
const DefaultTimeout = 10 * time.Second

// waveKey is the single singleflight key; there is only ever one session.
const waveKey = "refresh"

var (
	// ErrNoRefreshToken means the session had nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshFailed is matched by every *RefreshError.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// RefreshError carries the reason a refresh call failed.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRefreshFailed) match any *RefreshError.
func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

// Refresher exchanges a refresh token for a new token pair. An empty
// RefreshToken in the result means the old one stays valid.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Session is the part of *session.Session the coordinator needs.
type Session interface {
	RefreshToken() (string, bool)
	UpdateTokens(accessToken, refreshToken string) error
	LogOut() error
}

// Listener is told when a wave starts and how it ended.
type Listener interface {
	RefreshStarted()
	RefreshFinished(err error)
}

// Coordinator ensures at most one refresh is in flight at a time.
type Coordinator struct {
	session   Session
	refresher Refresher
	listener  Listener
	logger    *slog.Logger
	timeout   time.Duration

	group      singleflight.Group
	refreshing atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithListener reports wave start and outcome to l.
func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listener = l }
}

// WithLogger sets the logger used for wave outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// New returns a Coordinator that refreshes sess through refresher.
func New(sess Session, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:   sess,
		refresher: refresher,
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleUnauthorized joins the in-flight refresh or starts one. It returns
// nil once the session holds renewed tokens. On failure the session has
// already been logged out and the error is ErrNoRefreshToken or matches
// ErrRefreshFailed.
//
// Cancelling ctx only stops this caller from waiting; the refresh itself
// runs to completion for everyone else.
func (c *Coordinator) HandleUnauthorized(ctx context.Context) error {
	ch := c.group.DoChan(waveKey, func() (any, error) {
		return nil, c.runWave(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refreshing reports whether a wave is currently in flight.
func (c *Coordinator) Refreshing() bool {
	return c.refreshing.Load()
}

func (c *Coordinator) runWave(ctx context.Context) (err error) {
	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	if c.listener != nil {
		c.listener.RefreshStarted()
		defer func() { c.listener.RefreshFinished(err) }()
	}

	start := time.Now()

	rt, ok := c.session.RefreshToken()
	if !ok {
		c.logger.Warn("refresh requested without a refresh token, logging out")
		c.logOut()
		return ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.refresher.Refresh(ctx, rt)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("refresh response has no access token")
	}
	if err != nil {
		c.logger.Warn("token refresh failed, logging out",
			"error", err,
			"duration", time.Since(start))
		c.logOut()
		return &RefreshError{Err: err}
	}

	// A persistence failure is logged by the session; the in-memory tokens
	// are already current so the wave still counts as a success. A logout
	// while the call was in flight wins and the renewed tokens are dropped.
	if err := c.session.UpdateTokens(tok.AccessToken, tok.RefreshToken); err != nil {
		if errors.Is(err, session.ErrLoggedOut) {
			c.logger.Warn("session logged out during refresh, discarding tokens",
				"duration", time.Since(start))
			return &RefreshError{Err: err}
		}
		c.logger.Warn("renewed tokens not persisted", "error", err)
	}

	c.logger.Info("token refreshed",
		"rotated", tok.RefreshToken != "",
		"expiry", tok.Expiry,
		"duration", time.Since(start))
	return nil
}

func (c *Coordinator) logOut() {
	if err := c.session.LogOut(); err != nil {
		c.logger.Warn("logout after failed refresh did not complete", "error", err)
	}
}
