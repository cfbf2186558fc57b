package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrInvalidCredentials is shown to the user as "invalid email or password".
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("an account with this email already exists")
	// ErrLogin covers every other identity failure.
	ErrLogin = errors.New("login error")
)

// Identity is the identity service's answer to a successful sign-in.
type Identity struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

type identityRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type identityErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// IdentityClient exchanges email and password for an identity token.
type IdentityClient struct {
	baseURL string
	apiKey  string
	doer    Doer
}

func NewIdentityClient(baseURL, apiKey string, doer Doer) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		doer:    doer,
	}
}

// SignIn authenticates an existing account.
func (c *IdentityClient) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	return c.exchange(ctx, "/accounts:signInWithPassword", email, password)
}

// SignUp creates an account and signs it in.
func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	return c.exchange(ctx, "/accounts:signUp", email, password)
}

func (c *IdentityClient) exchange(ctx context.Context, path, email, password string) (*Identity, error) {
	target := c.baseURL + path + "?" + url.Values{"key": {c.apiKey}}.Encode()

	body, err := postJSON(ctx, c.doer, identityTimeout, target, nil, identityRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, classifyIdentityError(err)
	}

	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return nil, fmt.Errorf("%w: failed to parse identity response: %w", ErrLogin, err)
	}
	if id.IDToken == "" {
		return nil, fmt.Errorf("%w: identity response has no idToken", ErrLogin)
	}
	return &id, nil
}

// classifyIdentityError maps the service's error codes onto the sentinel
// errors. Messages may carry detail after " : ", e.g.
// "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled".
func classifyIdentityError(err error) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}

	var resp identityErrorResponse
	if jsonErr := json.Unmarshal(rErr.Body, &resp); jsonErr != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}

	code, _, _ := strings.Cut(resp.Error.Message, " : ")
	switch strings.TrimSpace(code) {
	case "INVALID_LOGIN_CREDENTIALS", "INVALID_PASSWORD", "EMAIL_NOT_FOUND":
		return ErrInvalidCredentials
	case "EMAIL_EXISTS":
		return ErrEmailExists
	default:
		return fmt.Errorf("%w: %s: %w", ErrLogin, code, err)
	}
}
