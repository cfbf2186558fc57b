// Package account turns user credentials into a logged-in session.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/matchup-app/matchup-cli/authapi"
	"github.com/matchup-app/matchup-cli/session"
)

// ErrInvalidInput is returned when credentials fail validation before any
// network call is made.
var ErrInvalidInput = errors.New("invalid input")

// IdentityProvider is satisfied by *authapi.IdentityClient.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*authapi.Identity, error)
	SignUp(ctx context.Context, email, password string) (*authapi.Identity, error)
}

// SessionCreator is satisfied by *authapi.SessionClient.
type SessionCreator interface {
	Create(ctx context.Context, idToken string) (*authapi.Grant, error)
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type Service struct {
	identity IdentityProvider
	sessions SessionCreator
	session  *session.Session
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(
	identity IdentityProvider,
	sessions SessionCreator,
	sess *session.Session,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		identity: identity,
		sessions: sessions,
		session:  sess,
		validate: validator.New(),
		logger:   logger,
	}
}

// SignIn authenticates with email and password and logs the session in.
// Bad credentials surface as authapi.ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (session.Profile, error) {
	if err := s.check(email, password); err != nil {
		return session.Profile{}, err
	}

	id, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return session.Profile{}, err
	}
	return s.SignInWithIdentityToken(ctx, id.IDToken)
}

// SignUp creates an account and logs the new session in.
func (s *Service) SignUp(ctx context.Context, email, password string) (session.Profile, error) {
	if err := s.check(email, password); err != nil {
		return session.Profile{}, err
	}

	id, err := s.identity.SignUp(ctx, email, password)
	if err != nil {
		return session.Profile{}, err
	}
	return s.SignInWithIdentityToken(ctx, id.IDToken)
}

// SignInWithIdentityToken exchanges an identity token, from the password
// flow or a federated provider, for a backend session.
func (s *Service) SignInWithIdentityToken(ctx context.Context, idToken string) (session.Profile, error) {
	if idToken == "" {
		return session.Profile{}, fmt.Errorf("%w: identity token is empty", ErrInvalidInput)
	}

	grant, err := s.sessions.Create(ctx, idToken)
	if err != nil {
		return session.Profile{}, err
	}

	// The session is usable even if it could not be written to disk; it just
	// will not survive a restart.
	if err := s.session.LogIn(grant.Profile, grant.AccessToken, grant.RefreshToken); err != nil {
		s.logger.Warn("signed in but session was not persisted", "error", err)
	}

	s.logger.Info("signed in", "user_id", grant.Profile.ID)
	return grant.Profile, nil
}

// SignOut clears the session locally.
func (s *Service) SignOut() error {
	return s.session.LogOut()
}

func (s *Service) check(email, password string) error {
	if err := s.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
