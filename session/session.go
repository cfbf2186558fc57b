// Package session is the single authoritative holder of the signed-in user's
// credentials and profile. It mediates persistence to a securestore.Store
// and notifies subscribers whenever the authentication state changes.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/matchup-app/matchup-cli/securestore"
)

// StoreKey is the secure-storage key holding the persisted session record.
const StoreKey = "session"

// ErrLoggedOut is returned by UpdateTokens when there is no session to
// update, for example after a logout raced a token refresh.
var ErrLoggedOut = errors.New("session is logged out")

// Profile is the signed-in user's identity as returned by the backend.
type Profile struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	ImageURL     string `json:"imageUrl,omitempty"`
	RewardPoints int    `json:"rewardPoints"`
}

// Snapshot is a consistent copy of the session fields.
type Snapshot struct {
	LoggedIn     bool
	AccessToken  string
	RefreshToken string
	Profile      *Profile
}

// Usable reports whether both tokens are present on a logged-in session.
func (s Snapshot) Usable() bool {
	return s.LoggedIn && s.AccessToken != "" && s.RefreshToken != ""
}

// record is the persisted layout. The profile is kept as its own nested blob
// so that a damaged profile can be detected independently of the tokens.
type record struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	IsLoggedIn   bool            `json:"isLoggedIn"`
	Profile      json.RawMessage `json:"profile"`
}

// Session holds authentication state for the running process. Create one
// with New and share the pointer; fields are only changed through methods.
type Session struct {
	store  securestore.Store
	logger *slog.Logger

	// persistMu orders store writes so the record on disk never goes
	// backwards; mu guards the fields and is never held across I/O.
	persistMu sync.Mutex
	mu        sync.RWMutex

	loggedIn     bool
	accessToken  string
	refreshToken string
	profile      *Profile

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New returns a logged-out session backed by store. Call Restore to load a
// previously persisted session.
func New(store securestore.Store, opts ...Option) *Session {
	s := &Session{
		store:  store,
		logger: slog.Default(),
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted record. A missing or damaged record leaves the
// session logged out; Restore never fails and never notifies subscribers.
// It reports whether a logged-in session was restored.
func (s *Session) Restore() bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := s.store.Get(StoreKey)
	if err != nil {
		if !errors.Is(err, securestore.ErrNotFound) {
			s.logger.Warn("session record unreadable, starting logged out", "error", err)
		}
		return false
	}

	snap, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn("session record corrupt, starting logged out", "error", err)
		return false
	}

	s.mu.Lock()
	s.apply(snap)
	s.mu.Unlock()

	return snap.LoggedIn
}

// LogIn replaces the whole session at once and persists it.
func (s *Session) LogIn(profile Profile, accessToken, refreshToken string) error {
	p := profile
	return s.mutate(EventLoggedIn, func() bool {
		s.apply(Snapshot{
			LoggedIn:     true,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			Profile:      &p,
		})
		return true
	})
}

// UpdateTokens swaps in a renewed token pair. An empty refreshToken keeps the
// current one, for backends that do not rotate refresh tokens. The profile
// and logged-in flag are untouched. On a logged-out session nothing is
// written and ErrLoggedOut is returned.
func (s *Session) UpdateTokens(accessToken, refreshToken string) error {
	loggedOut := false
	err := s.mutate(EventTokensUpdated, func() bool {
		if !s.loggedIn {
			loggedOut = true
			return false
		}
		s.accessToken = accessToken
		if refreshToken != "" {
			s.refreshToken = refreshToken
		}
		return true
	})
	if loggedOut {
		return ErrLoggedOut
	}
	return err
}

// UpdateProfile replaces the profile of a logged-in session. It does nothing
// when logged out.
func (s *Session) UpdateProfile(profile Profile) error {
	p := profile
	return s.mutate(EventProfileUpdated, func() bool {
		if !s.loggedIn {
			return false
		}
		s.profile = &p
		return true
	})
}

// LogOut clears every field and deletes the persisted record. Calling it on
// a logged-out session is harmless.
func (s *Session) LogOut() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.apply(Snapshot{})
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.store.Delete(StoreKey)
	if err != nil {
		s.logger.Error("failed to delete session record", "error", err)
		err = fmt.Errorf("delete session record: %w", err)
	}

	s.notify(Event{Kind: EventLoggedOut, Snapshot: snap})
	return err
}

// CurrentAccessToken returns the access token, if any. It never blocks on
// persistence.
func (s *Session) CurrentAccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.accessToken != ""
}

// RefreshToken returns the refresh token, if any.
func (s *Session) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken, s.refreshToken != ""
}

// Profile returns a copy of the profile of a logged-in session.
func (s *Session) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return Profile{}, false
	}
	return *s.profile, true
}

// IsLoggedIn reports whether a user is signed in.
func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// Snapshot returns all fields as one consistent value.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// mutate applies change under the field lock, persists the result and then
// notifies subscribers. change reports whether anything changed. persistMu
// is held until subscribers return, so events arrive in the order the
// changes were made.
func (s *Session) mutate(kind EventKind, change func() bool) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	changed := change()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if !changed {
		return nil
	}

	err := s.persist(snap)
	s.notify(Event{Kind: kind, Snapshot: snap})
	return err
}

func (s *Session) persist(snap Snapshot) error {
	data, err := encodeRecord(snap)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.store.Put(StoreKey, data); err != nil {
		s.logger.Error("failed to persist session", "error", err)
		return fmt.Errorf("persist session record: %w", err)
	}
	return nil
}

// apply must be called with mu held.
func (s *Session) apply(snap Snapshot) {
	s.loggedIn = snap.LoggedIn
	s.accessToken = snap.AccessToken
	s.refreshToken = snap.RefreshToken
	s.profile = snap.Profile
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		LoggedIn:     s.loggedIn,
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

func encodeRecord(snap Snapshot) ([]byte, error) {
	rec := record{
		AccessToken:  snap.AccessToken,
		RefreshToken: snap.RefreshToken,
		IsLoggedIn:   snap.LoggedIn,
	}
	if snap.Profile != nil {
		blob, err := json.Marshal(snap.Profile)
		if err != nil {
			return nil, err
		}
		rec.Profile = blob
	}
	return json.Marshal(rec)
}

// decodeRecord fails closed: the session counts as logged in only when the
// flag is set and the profile decodes to something with an ID.
func decodeRecord(data []byte) (Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("decode record: %w", err)
	}
	if !rec.IsLoggedIn {
		return Snapshot{}, nil
	}
	if len(rec.Profile) == 0 {
		return Snapshot{}, errors.New("logged-in record has no profile")
	}

	var p Profile
	if err := json.Unmarshal(rec.Profile, &p); err != nil {
		return Snapshot{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.ID == "" {
		return Snapshot{}, errors.New("profile has no id")
	}

	return Snapshot{
		LoggedIn:     true,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Profile:      &p,
	}, nil
}
