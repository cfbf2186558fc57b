package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/matchup-app/matchup-cli/refresh"
	"github.com/matchup-app/matchup-cli/securestore"
	"github.com/matchup-app/matchup-cli/session"
)

type executorFunc func(*http.Request) (*http.Response, error)

func (f executorFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type recordingReporter struct {
	mu       sync.Mutex
	degraded int
	restored int
}

func (r *recordingReporter) NetworkDegraded(error) {
	r.mu.Lock()
	r.degraded++
	r.mu.Unlock()
}

func (r *recordingReporter) NetworkRestored() {
	r.mu.Lock()
	r.restored++
	r.mu.Unlock()
}

type fixture struct {
	sess         *session.Session
	refreshCalls atomic.Int32
	client       *Client
}

// newFixture wires a logged-in session (A1/R1) and a coordinator whose
// backend refresh is served by refreshFn.
func newFixture(
	t *testing.T,
	baseURL string,
	refreshFn func(ctx context.Context, rt string) (*oauth2.Token, error),
	opts ...Option,
) *fixture {
	t.Helper()

	f := &fixture{sess: session.New(securestore.NewMemoryStore())}
	require.NoError(t, f.sess.LogIn(session.Profile{ID: "u1"}, "A1", "R1"))

	coord := refresh.New(f.sess, refresh.RefresherFunc(
		func(ctx context.Context, rt string) (*oauth2.Token, error) {
			f.refreshCalls.Add(1)
			return refreshFn(ctx, rt)
		},
	))

	client, err := New(baseURL, f.sess, coord, opts...)
	require.NoError(t, err)
	f.client = client
	return f
}

func renewTo(access, refreshToken string) func(context.Context, string) (*oauth2.Token, error) {
	return func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: access, RefreshToken: refreshToken}, nil
	}
}

type pong struct {
	OK bool `json:"ok"`
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api", nil, nil)
	require.Error(t, err)
}

func TestBackoffDelayIsFiveSeconds(t *testing.T) {
	require.Equal(t, 5*time.Second, BackoffDelay)
}

func TestExecute_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "https://matchup.app", r.Header.Get("Referer"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)
		assert.Equal(t, "/v1/ping", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL+"/v1/", renewTo("A2", "R2"), WithReferer("https://matchup.app"))

	got, err := Execute(context.Background(), f.client, Request{
		Method: http.MethodGet,
		Path:   "/ping",
		Query:  map[string][]string{"page": {"2"}},
		Header: http.Header{"X-Custom": {"yes"}},
	}, JSON[pong]())
	require.NoError(t, err)
	require.True(t, got.OK)
}

func TestExecute_AnonymousRequestHasNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"))
	require.NoError(t, f.sess.LogOut())

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodPost, Path: "/signup", Body: []byte(`{}`)}, JSON[pong]())
	require.NoError(t, err)
}

func TestExecute_RefreshThenRetry(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		ids = append(ids, r.Header.Get("X-Request-ID"))
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"))

	got, err := Execute(context.Background(), f.client, Request{
		Method: http.MethodPost,
		Path:   "/matchups",
		Body:   []byte(`{"opponent":"u2"}`),
	}, JSON[pong]())
	require.NoError(t, err)
	require.True(t, got.OK)

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 1, f.refreshCalls.Load())
	require.Equal(t, []string{`{"opponent":"u2"}`, `{"opponent":"u2"}`}, bodies, "body replayed unchanged")
	require.Len(t, ids, 2)
	require.Equal(t, ids[0], ids[1], "retry keeps the request id")

	at, _ := f.sess.CurrentAccessToken()
	require.Equal(t, "A2", at)
}

func TestExecute_SecondUnauthorizedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"))

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/users/me"}, JSON[pong]())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.EqualValues(t, 1, f.refreshCalls.Load(), "no second refresh")
	require.EqualValues(t, 2, hits.Load())
	require.False(t, f.sess.IsLoggedIn())
}

func TestExecute_RefreshFailureLogsOut(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cause := errors.New("refresh token revoked")
	f := newFixture(t, srv.URL, func(context.Context, string) (*oauth2.Token, error) {
		return nil, cause
	})

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.ErrorIs(t, err, cause)
	require.EqualValues(t, 1, hits.Load(), "original request is not retried")
	require.False(t, f.sess.IsLoggedIn())
}

func TestExecute_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const callers = 3

	var arrived sync.WaitGroup
	arrived.Add(callers)

	var mu sync.Mutex
	retries := make(map[string]int)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer A1":
			// Hold every stale request until all of them have arrived so
			// they discover the expiry together.
			arrived.Done()
			arrived.Wait()
			w.WriteHeader(http.StatusUnauthorized)
		case "Bearer A2":
			mu.Lock()
			retries[r.Header.Get("X-Request-ID")]++
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, func(context.Context, string) (*oauth2.Token, error) {
		time.Sleep(100 * time.Millisecond)
		return &oauth2.Token{AccessToken: "A2", RefreshToken: "R2"}, nil
	})

	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := Execute(context.Background(), f.client,
				Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
	}

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 1, f.refreshCalls.Load())
	require.Len(t, retries, callers)
	for id, n := range retries {
		require.Equal(t, 1, n, "request %s retried more than once", id)
	}

	snap := f.sess.Snapshot()
	require.Equal(t, "A2", snap.AccessToken)
	require.Equal(t, "R2", snap.RefreshToken)
}

func TestExecute_BackoffRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	unreachable := executorFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("dial tcp: no such host")
	})
	reporter := &recordingReporter{}

	f := newFixture(t, "https://api.invalid", renewTo("A2", "R2"),
		WithExecutor(unreachable),
		WithBackoff(30*time.Millisecond),
		WithReporter(reporter))

	start := time.Now()
	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.EqualValues(t, 2, calls.Load(), "exactly one retry")
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, 1, reporter.degraded)
	require.Zero(t, reporter.restored)
	require.True(t, f.sess.IsLoggedIn(), "connection errors leave the session alone")
	require.Zero(t, f.refreshCalls.Load())
}

func TestExecute_BackoffRecovers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var calls atomic.Int32
	flaky := executorFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return http.DefaultClient.Do(r)
	})
	reporter := &recordingReporter{}

	f := newFixture(t, srv.URL, renewTo("A2", "R2"),
		WithExecutor(flaky),
		WithBackoff(time.Millisecond),
		WithReporter(reporter))

	got, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())
	require.NoError(t, err)
	require.True(t, got.OK)
	require.Equal(t, 1, reporter.degraded)
	require.Equal(t, 1, reporter.restored)
}

func TestExecute_BackoffHonoursContext(t *testing.T) {
	var calls atomic.Int32
	unreachable := executorFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("network is unreachable")
	})

	f := newFixture(t, "https://api.invalid", renewTo("A2", "R2"),
		WithExecutor(unreachable),
		WithBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Execute(ctx, f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, calls.Load())
}

func TestExecute_ServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"), WithBackoff(time.Millisecond))

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusServiceUnavailable, respErr.StatusCode)
	require.Equal(t, "maintenance", string(respErr.Body))
	require.EqualValues(t, 1, hits.Load())
}

type apiError struct {
	Code string `json:"error"`
}

func (e *apiError) Error() string { return e.Code }

func decodeAPIError(_ int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return nil
	}
	return &e
}

func TestExecute_ErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		if r.URL.Path == "/shaped" {
			_, _ = w.Write([]byte(`{"error":"matchup_not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`<html>not found</html>`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"))

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/shaped", ErrorShape: decodeAPIError}, JSON[pong]())
	var shaped *apiError
	require.ErrorAs(t, err, &shaped)
	require.Equal(t, "matchup_not_found", shaped.Code)

	_, err = Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/unshaped", ErrorShape: decodeAPIError}, JSON[pong]())
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusNotFound, respErr.StatusCode)
	require.Equal(t, "<html>not found</html>", string(respErr.Body))
}

func TestExecute_DecodingError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, renewTo("A2", "R2"))

	_, err := Execute(context.Background(), f.client,
		Request{Method: http.MethodGet, Path: "/matchups"}, JSON[pong]())

	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, `{"ok":`, string(decErr.Body))
	require.EqualValues(t, 1, hits.Load())
	require.True(t, f.sess.IsLoggedIn())
}
