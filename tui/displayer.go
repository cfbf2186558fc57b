package tui

import (
	"fmt"
	"io"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/common-nighthawk/go-figure"

	"github.com/matchup-app/matchup-cli/matchups"
	"github.com/matchup-app/matchup-cli/session"
)

// Displayer abstracts all user-facing output of the CLI. Every Displayer is
// also an apiclient.Reporter and a refresh.Listener, so connectivity and
// refresh progress reach the user without the core packages knowing about
// the terminal.
type Displayer interface {
	Banner()
	SessionRestored(profile session.Profile)
	NoSession()
	SigningIn(email string)
	SignedIn(profile session.Profile)
	SignInFailed(err error)
	SessionChanged(ev session.Event)
	RefreshStarted()
	RefreshFinished(err error)
	NetworkDegraded(err error)
	NetworkRestored()
	ProfileLoaded(profile session.Profile)
	MatchupsLoaded(list []matchups.Matchup)
	APICallFailed(err error)
	ReAuthRequired()
	SignedOut()
	Done(profile session.Profile)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprint(p.w, figure.NewFigure("matchup", "", true).String())
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionRestored(profile session.Profile) {
	fmt.Fprintf(p.w, "Welcome back, %s!\n", displayName(profile))
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "No saved session found.")
}

func (p *PlainDisplayer) SigningIn(email string) {
	fmt.Fprintf(p.w, "Signing in as %s...\n", email)
}

func (p *PlainDisplayer) SignedIn(profile session.Profile) {
	fmt.Fprintf(p.w, "Signed in as %s.\n", displayName(profile))
}

func (p *PlainDisplayer) SignInFailed(err error) {
	fmt.Fprintf(p.w, "Sign-in failed: %v\n", err)
}

// SessionChanged only reports logouts; the other events already have
// dedicated output.
func (p *PlainDisplayer) SessionChanged(ev session.Event) {
	if ev.Kind == session.EventLoggedOut {
		fmt.Fprintln(p.w, "Session cleared.")
	}
}

func (p *PlainDisplayer) RefreshStarted() {
	fmt.Fprintln(p.w, "Access token rejected, refreshing...")
}

func (p *PlainDisplayer) RefreshFinished(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, "Token refreshed, retrying...")
}

func (p *PlainDisplayer) NetworkDegraded(err error) {
	fmt.Fprintf(p.w, "Network unreachable (%v), retrying shortly...\n", err)
}

func (p *PlainDisplayer) NetworkRestored() {}

func (p *PlainDisplayer) ProfileLoaded(profile session.Profile) {
	fmt.Fprintf(p.w, "%s: %d reward points\n", displayName(profile), profile.RewardPoints)
}

func (p *PlainDisplayer) MatchupsLoaded(list []matchups.Matchup) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, "No matchups yet.")
		return
	}
	fmt.Fprintln(p.w, "\n----------------------------------------")
	for _, m := range list {
		fmt.Fprintln(p.w, matchupLine(m))
	}
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "Request failed: %v\n", err)
}

func (p *PlainDisplayer) ReAuthRequired() {
	fmt.Fprintln(p.w, "Your session has expired. Please sign in again.")
}

func (p *PlainDisplayer) SignedOut() {
	fmt.Fprintln(p.w, "Signed out.")
}

func (p *PlainDisplayer) Done(profile session.Profile) {
	fmt.Fprintf(p.w, "\nAll set, %s.\n", displayName(profile))
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                             {}
func (NoopDisplayer) SessionRestored(_ session.Profile)   {}
func (NoopDisplayer) NoSession()                          {}
func (NoopDisplayer) SigningIn(_ string)                  {}
func (NoopDisplayer) SignedIn(_ session.Profile)          {}
func (NoopDisplayer) SignInFailed(_ error)                {}
func (NoopDisplayer) SessionChanged(_ session.Event)      {}
func (NoopDisplayer) RefreshStarted()                     {}
func (NoopDisplayer) RefreshFinished(_ error)             {}
func (NoopDisplayer) NetworkDegraded(_ error)             {}
func (NoopDisplayer) NetworkRestored()                    {}
func (NoopDisplayer) ProfileLoaded(_ session.Profile)     {}
func (NoopDisplayer) MatchupsLoaded(_ []matchups.Matchup) {}
func (NoopDisplayer) APICallFailed(_ error)               {}
func (NoopDisplayer) ReAuthRequired()                     {}
func (NoopDisplayer) SignedOut()                          {}
func (NoopDisplayer) Done(_ session.Profile)              {}
func (NoopDisplayer) Fatal(_ error)                       {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() { t.p.Send(MsgBanner{}) }

func (t *ProgramDisplayer) SessionRestored(profile session.Profile) {
	t.p.Send(MsgSessionRestored{Profile: profile})
}

func (t *ProgramDisplayer) NoSession() { t.p.Send(MsgNoSession{}) }

func (t *ProgramDisplayer) SigningIn(email string) {
	t.p.Send(MsgSigningIn{Email: email})
}

func (t *ProgramDisplayer) SignedIn(profile session.Profile) {
	t.p.Send(MsgSignedIn{Profile: profile})
}

func (t *ProgramDisplayer) SignInFailed(err error) {
	t.p.Send(MsgSignInFailed{Err: err})
}

func (t *ProgramDisplayer) SessionChanged(ev session.Event) {
	t.p.Send(MsgSessionChanged{Event: ev})
}

func (t *ProgramDisplayer) RefreshStarted() { t.p.Send(MsgRefreshStarted{}) }

func (t *ProgramDisplayer) RefreshFinished(err error) {
	t.p.Send(MsgRefreshFinished{Err: err})
}

func (t *ProgramDisplayer) NetworkDegraded(err error) {
	t.p.Send(MsgNetworkDegraded{Err: err})
}

func (t *ProgramDisplayer) NetworkRestored() { t.p.Send(MsgNetworkRestored{}) }

func (t *ProgramDisplayer) ProfileLoaded(profile session.Profile) {
	t.p.Send(MsgProfileLoaded{Profile: profile})
}

func (t *ProgramDisplayer) MatchupsLoaded(list []matchups.Matchup) {
	t.p.Send(MsgMatchupsLoaded{Matchups: list})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) ReAuthRequired() { t.p.Send(MsgReAuthRequired{}) }

func (t *ProgramDisplayer) SignedOut() { t.p.Send(MsgSignedOut{}) }

func (t *ProgramDisplayer) Done(profile session.Profile) {
	t.p.Send(MsgDone{Profile: profile})
}

func (t *ProgramDisplayer) Fatal(err error) { t.p.Send(MsgFatal{Err: err}) }

func displayName(p session.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.EmailAddress != "" {
		return p.EmailAddress
	}
	return p.ID
}

// matchupLine renders one matchup as "vs Grace  30 - 12  active  ends Oct 8".
func matchupLine(m matchups.Matchup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "vs %-16s %4d - %-4d %-9s", m.Opponent.DisplayName, m.MyScore, m.OpponentScore, m.Status)
	if !m.EndsAt.IsZero() {
		b.WriteString(" ends " + m.EndsAt.Format("Jan 2"))
	}
	return b.String()
}
