// Package matchups is the domain API for head-to-head fitness competitions.
// Every call goes through the authenticated request pipeline.
package matchups

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/matchup-app/matchup-cli/apiclient"
	"github.com/matchup-app/matchup-cli/session"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

type Opponent struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type Matchup struct {
	ID            string    `json:"id"`
	Opponent      Opponent  `json:"opponent"`
	Status        Status    `json:"status"`
	MyScore       int       `json:"myScore"`
	OpponentScore int       `json:"opponentScore"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
}

// Leading reports whether the user is ahead.
func (m Matchup) Leading() bool {
	return m.MyScore > m.OpponentScore
}

type Workout struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Kind        string        `json:"kind"`
	Points      int           `json:"points"`
	Duration    time.Duration `json:"-"`
	CompletedAt time.Time     `json:"completedAt"`
}

// UnmarshalJSON reads the duration as whole seconds.
func (w *Workout) UnmarshalJSON(data []byte) error {
	type alias Workout
	aux := struct {
		*alias
		DurationSeconds int64 `json:"durationSeconds"`
	}{alias: (*alias)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.Duration = time.Duration(aux.DurationSeconds) * time.Second
	return nil
}

// APIError is the backend's structured error payload.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var e APIError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return nil
	}
	e.StatusCode = status
	return &e
}

// ProfileSyncer is satisfied by *session.Session.
type ProfileSyncer interface {
	UpdateProfile(profile session.Profile) error
}

type Service struct {
	client  *apiclient.Client
	profile ProfileSyncer
}

func NewService(client *apiclient.Client, profile ProfileSyncer) *Service {
	return &Service{client: client, profile: profile}
}

// Me fetches the current user's profile and updates the session with it.
func (s *Service) Me(ctx context.Context) (session.Profile, error) {
	p, err := apiclient.Execute(ctx, s.client, apiclient.Request{
		Method:     http.MethodGet,
		Path:       "/users/me",
		ErrorShape: decodeAPIError,
	}, apiclient.JSON[session.Profile]())
	if err != nil {
		return session.Profile{}, err
	}

	if s.profile != nil {
		if err := s.profile.UpdateProfile(p); err != nil {
			return p, fmt.Errorf("sync profile: %w", err)
		}
	}
	return p, nil
}

// List returns the user's matchups, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]Matchup, error) {
	var q url.Values
	if status != "" {
		q = url.Values{"status": {string(status)}}
	}

	resp, err := apiclient.Execute(ctx, s.client, apiclient.Request{
		Method:     http.MethodGet,
		Path:       "/matchups",
		Query:      q,
		ErrorShape: decodeAPIError,
	}, apiclient.JSON[struct {
		Matchups []Matchup `json:"matchups"`
	}]())
	if err != nil {
		return nil, err
	}
	return resp.Matchups, nil
}

// Workouts returns the workouts counted towards one matchup.
func (s *Service) Workouts(ctx context.Context, matchupID string) ([]Workout, error) {
	resp, err := apiclient.Execute(ctx, s.client, apiclient.Request{
		Method:     http.MethodGet,
		Path:       "/matchups/" + url.PathEscape(matchupID) + "/workouts",
		ErrorShape: decodeAPIError,
	}, apiclient.JSON[struct {
		Workouts []Workout `json:"workouts"`
	}]())
	if err != nil {
		return nil, err
	}
	return resp.Workouts, nil
}
