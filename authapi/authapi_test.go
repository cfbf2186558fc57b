package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestDoer(t *testing.T) Doer {
	t.Helper()
	c, err := retry.NewClient()
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func identityError(message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": 400, "message": message}}
}

func TestIdentityClient_SignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:signInWithPassword", r.URL.Path)
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))

		var req identityRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a@b.com", req.Email)
		assert.Equal(t, "pw", req.Password)
		assert.True(t, req.ReturnSecureToken)

		writeJSON(w, http.StatusOK, map[string]string{
			"idToken":      "T1",
			"refreshToken": "identity-refresh",
			"localId":      "local-1",
			"email":        "a@b.com",
		})
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL+"/v1", "api-key", newTestDoer(t))
	id, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "T1", id.IDToken)
	require.Equal(t, "local-1", id.LocalID)
}

func TestIdentityClient_SignUpPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts:signUp", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"idToken": "T9"})
	}))
	defer srv.Close()

	id, err := NewIdentityClient(srv.URL, "k", newTestDoer(t)).
		SignUp(context.Background(), "new@b.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "T9", id.IDToken)
}

func TestIdentityClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    error
	}{
		{"invalid login credentials", "INVALID_LOGIN_CREDENTIALS", ErrInvalidCredentials},
		{"invalid password", "INVALID_PASSWORD", ErrInvalidCredentials},
		{"email not found", "EMAIL_NOT_FOUND", ErrInvalidCredentials},
		{"email exists", "EMAIL_EXISTS", ErrEmailExists},
		{"throttled", "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled", ErrLogin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, identityError(tt.message))
			}))
			defer srv.Close()

			_, err := NewIdentityClient(srv.URL, "k", newTestDoer(t)).
				SignIn(context.Background(), "a@b.com", "pw")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIdentityClient_GenericErrorKeepsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewIdentityClient(srv.URL, "k", newTestDoer(t)).
		SignIn(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, ErrLogin)

	var rErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rErr)
	require.Equal(t, "not json", string(rErr.Body))
}

func TestIdentityClient_MissingIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"localId": "x"})
	}))
	defer srv.Close()

	_, err := NewIdentityClient(srv.URL, "k", newTestDoer(t)).
		SignIn(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, ErrLogin)
}

func TestSessionClient_Create(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/session", r.URL.Path)
		assert.Equal(t, "https://matchup.app", r.Header.Get("Referer"))

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "T1", req["idToken"])

		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  "A1",
			"refreshToken": "R1",
			"userProfile": map[string]any{
				"id":           "u1",
				"displayName":  "Ada",
				"emailAddress": "a@b.com",
				"rewardPoints": 40,
			},
		})
	}))
	defer srv.Close()

	c := NewSessionClient(srv.URL, "https://matchup.app", newTestDoer(t))
	g, err := c.Create(context.Background(), "T1")
	require.NoError(t, err)
	require.Equal(t, "A1", g.AccessToken)
	require.Equal(t, "R1", g.RefreshToken)
	require.Equal(t, "u1", g.Profile.ID)
	require.Equal(t, 40, g.Profile.RewardPoints)
}

func TestSessionClient_CreateRequiresProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "A1", "refreshToken": "R1"})
	}))
	defer srv.Close()

	_, err := NewSessionClient(srv.URL, "", newTestDoer(t)).Create(context.Background(), "T1")
	require.Error(t, err)
}

func TestSessionClient_Refresh(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name        string
		response    map[string]string
		wantRefresh string
		wantExpiry  time.Time
	}{
		{
			name:        "rotation mode",
			response:    map[string]string{"accessToken": access, "refreshToken": "R2"},
			wantRefresh: "R2",
			wantExpiry:  exp,
		},
		{
			name:        "fixed mode",
			response:    map[string]string{"accessToken": "opaque-token"},
			wantRefresh: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/refresh", r.URL.Path)
				var req map[string]string
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "R1", req["refreshToken"])
				writeJSON(w, http.StatusOK, tt.response)
			}))
			defer srv.Close()

			tok, err := NewSessionClient(srv.URL, "", newTestDoer(t)).
				Refresh(context.Background(), "R1")
			require.NoError(t, err)
			require.Equal(t, tt.response["accessToken"], tok.AccessToken)
			require.Equal(t, tt.wantRefresh, tok.RefreshToken)
			require.True(t, tt.wantExpiry.Equal(tok.Expiry), "expiry %v", tok.Expiry)
		})
	}
}

func TestSessionClient_RefreshRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, status, map[string]string{"error": "invalid_grant"})
			}))
			defer srv.Close()

			_, err := NewSessionClient(srv.URL, "", newTestDoer(t)).
				Refresh(context.Background(), "R1")
			require.ErrorIs(t, err, ErrRefreshRejected)
		})
	}
}

func TestSessionClient_RefreshBadRequestIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewSessionClient(srv.URL, "", newTestDoer(t)).Refresh(context.Background(), "R1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRefreshRejected))

	var rErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rErr)
	require.Equal(t, http.StatusBadRequest, rErr.Response.StatusCode)
}
