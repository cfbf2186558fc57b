package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/matchup-app/matchup-cli/session"
)

// ErrRefreshRejected means the backend no longer accepts the refresh token.
var ErrRefreshRejected = errors.New("refresh token expired or invalid")

// Grant is a freshly created backend session.
type Grant struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	Profile      session.Profile `json:"userProfile"`
}

// SessionClient talks to the backend's session endpoints.
type SessionClient struct {
	baseURL string
	referer string
	doer    Doer
}

func NewSessionClient(baseURL, referer string, doer Doer) *SessionClient {
	return &SessionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		referer: referer,
		doer:    doer,
	}
}

func (c *SessionClient) header() http.Header {
	h := http.Header{}
	if c.referer != "" {
		h.Set("Referer", c.referer)
	}
	return h
}

// Create exchanges an identity token for a backend session.
func (c *SessionClient) Create(ctx context.Context, idToken string) (*Grant, error) {
	body, err := postJSON(ctx, c.doer, sessionCreateTimeout,
		c.baseURL+"/auth/session", c.header(),
		map[string]string{"idToken": idToken})
	if err != nil {
		return nil, fmt.Errorf("session creation failed: %w", err)
	}

	var g Grant
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	if g.AccessToken == "" || g.RefreshToken == "" {
		return nil, errors.New("session response is missing tokens")
	}
	if g.Profile.ID == "" {
		return nil, errors.New("session response is missing the user profile")
	}
	return &g, nil
}

// Refresh exchanges a refresh token for a new access token. The returned
// RefreshToken is empty when the backend does not rotate refresh tokens.
func (c *SessionClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body, err := postJSON(ctx, c.doer, sessionRefreshTimeout,
		c.baseURL+"/auth/refresh", c.header(),
		map[string]string{"refreshToken": refreshToken})
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			switch rErr.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
			}
		}
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}

	var resp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("refresh response has no accessToken")
	}

	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tokenExpiry(resp.AccessToken),
	}, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. Opaque tokens have no known expiry.
func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
