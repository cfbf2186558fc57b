package tui

import (
	"github.com/matchup-app/matchup-cli/matchups"
	"github.com/matchup-app/matchup-cli/session"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionRestored signals that a persisted session was loaded.
type MsgSessionRestored struct{ Profile session.Profile }

// MsgNoSession signals that nothing usable was persisted.
type MsgNoSession struct{}

// MsgSigningIn signals that a credential exchange has started.
type MsgSigningIn struct{ Email string }

type MsgSignedIn struct{ Profile session.Profile }

type MsgSignInFailed struct{ Err error }

// MsgSessionChanged forwards a session event.
type MsgSessionChanged struct{ Event session.Event }

// MsgRefreshStarted signals that a token refresh wave is in flight.
type MsgRefreshStarted struct{}

// MsgRefreshFinished carries the outcome of a refresh wave.
type MsgRefreshFinished struct{ Err error }

// MsgNetworkDegraded signals that the server could not be reached and a
// request is waiting to retry.
type MsgNetworkDegraded struct{ Err error }

// MsgNetworkRestored signals that a request succeeded again.
type MsgNetworkRestored struct{}

type MsgProfileLoaded struct{ Profile session.Profile }

type MsgMatchupsLoaded struct{ Matchups []matchups.Matchup }

type MsgAPICallFailed struct{ Err error }

// MsgReAuthRequired signals that the session ended and the user must sign
// in again.
type MsgReAuthRequired struct{}

type MsgSignedOut struct{}

// MsgDone signals successful completion of the flow.
type MsgDone struct{ Profile session.Profile }

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
