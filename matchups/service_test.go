package matchups

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/matchup-app/matchup-cli/apiclient"
	"github.com/matchup-app/matchup-cli/refresh"
	"github.com/matchup-app/matchup-cli/securestore"
	"github.com/matchup-app/matchup-cli/session"
)

func newService(t *testing.T, h http.Handler) (*Service, *session.Session) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sess := session.New(securestore.NewMemoryStore())
	require.NoError(t, sess.LogIn(session.Profile{ID: "u1", DisplayName: "Ada"}, "A1", "R1"))

	coord := refresh.New(sess, refresh.RefresherFunc(
		func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "A2"}, nil
		},
	))

	client, err := apiclient.New(srv.URL, sess, coord)
	require.NoError(t, err)
	return NewService(client, sess), sess
}

func TestMe_SyncsProfile(t *testing.T) {
	var events atomic.Int32
	svc, sess := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"u1","displayName":"Ada L.","rewardPoints":900}`))
	}))
	sess.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventProfileUpdated {
			events.Add(1)
		}
	})

	p, err := svc.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, 900, p.RewardPoints)

	stored, ok := sess.Profile()
	require.True(t, ok)
	require.Equal(t, "Ada L.", stored.DisplayName)
	require.EqualValues(t, 1, events.Load())
}

func TestList(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matchups", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"matchups":[{
			"id": "m1",
			"opponent": {"id": "u2", "displayName": "Grace"},
			"status": "active",
			"myScore": 30,
			"opponentScore": 12,
			"startsAt": "2026-10-01T00:00:00Z",
			"endsAt": "2026-10-08T00:00:00Z"
		}]}`))
	}))

	list, err := svc.List(context.Background(), StatusActive)
	require.NoError(t, err)
	require.Len(t, list, 1)

	m := list[0]
	require.Equal(t, "m1", m.ID)
	require.Equal(t, "Grace", m.Opponent.DisplayName)
	require.Equal(t, StatusActive, m.Status)
	require.True(t, m.Leading())
	require.Equal(t, 7*24*time.Hour, m.EndsAt.Sub(m.StartsAt))
}

func TestWorkouts(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matchups/m 1/workouts", r.URL.Path)
		_, _ = w.Write([]byte(`{"workouts":[
			{"id":"w1","userId":"u1","kind":"run","points":12,"durationSeconds":1800,"completedAt":"2026-10-02T07:30:00Z"}
		]}`))
	}))

	ws, err := svc.Workouts(context.Background(), "m 1")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	require.Equal(t, 30*time.Minute, ws[0].Duration)
	require.Equal(t, 12, ws[0].Points)
}

func TestAPIError(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"matchup_not_found","message":"no such matchup"}`))
	}))

	_, err := svc.Workouts(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "matchup_not_found", apiErr.Code)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestList_RefreshesExpiredToken(t *testing.T) {
	svc, sess := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"matchups":[]}`))
	}))

	list, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, list)

	rt, _ := sess.RefreshToken()
	require.Equal(t, "R1", rt, "non-rotating refresh keeps the old token")
}
