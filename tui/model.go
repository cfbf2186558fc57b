package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/matchup-app/matchup-cli/matchups"
	"github.com/matchup-app/matchup-cli/session"
)

// state represents the current phase of the CLI flow.
type state int

const (
	stateInit       state = iota
	stateSigningIn        // credential exchange in flight
	stateRefreshing       // token refresh wave in flight
	stateLoading          // fetching profile and matchups
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the matchup CLI.
type Model struct {
	state   state
	resume  state // state to return to after a refresh wave
	spinner spinner.Model
	width   int
	height  int

	profile  session.Profile
	matchups []matchups.Matchup

	// degraded is set while a request waits out its backoff and cleared by
	// the next successful response.
	degraded    bool
	degradedErr string
	reauth      bool
	errMsg      string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	styleAlertBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── session flow messages ───────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgSessionRestored:
		m.profile = msg.Profile
		m.state = stateLoading
		m.addStatus(statusOK, "Restored session for "+displayName(msg.Profile))
		return m, nil

	case MsgNoSession:
		m.addStatus(statusInfo, "No saved session")
		return m, nil

	case MsgSigningIn:
		m.state = stateSigningIn
		m.reauth = false
		m.addStatus(statusInfo, "Signing in as "+msg.Email)
		return m, nil

	case MsgSignedIn:
		m.profile = msg.Profile
		m.state = stateLoading
		m.addStatus(statusOK, "Signed in as "+displayName(msg.Profile))
		return m, nil

	case MsgSignInFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Sign-in failed: %v", msg.Err))
		return m, nil

	case MsgSessionChanged:
		switch msg.Event.Kind {
		case session.EventTokensUpdated:
			m.addStatus(statusOK, "Session tokens renewed")
		case session.EventLoggedOut:
			m.addStatus(statusInfo, "Session cleared")
		case session.EventProfileUpdated:
			if msg.Event.Snapshot.Profile != nil {
				m.profile = *msg.Event.Snapshot.Profile
			}
		}
		return m, nil

	case MsgRefreshStarted:
		if m.state != stateRefreshing {
			m.resume = m.state
		}
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshFinished:
		m.state = m.resume
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		} else {
			m.addStatus(statusOK, "Token refreshed, retrying...")
		}
		return m, nil

	case MsgNetworkDegraded:
		m.degraded = true
		m.degradedErr = msg.Err.Error()
		return m, nil

	case MsgNetworkRestored:
		m.degraded = false
		m.degradedErr = ""
		return m, nil

	case MsgProfileLoaded:
		m.profile = msg.Profile
		return m, nil

	case MsgMatchupsLoaded:
		m.matchups = msg.Matchups
		m.addStatus(statusOK, fmt.Sprintf("Loaded %d matchups", len(msg.Matchups)))
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Request failed: %v", msg.Err))
		return m, nil

	case MsgReAuthRequired:
		m.reauth = true
		return m, nil

	case MsgSignedOut:
		m.profile = session.Profile{}
		m.matchups = nil
		m.state = stateSuccess
		m.addStatus(statusOK, "Signed out")
		return m, nil

	case MsgDone:
		m.profile = msg.Profile
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Matchup  "))
	b.WriteString("\n\n")

	b.WriteString(m.viewAlerts())

	b.WriteString(m.spinner.View())
	switch m.state {
	case stateSigningIn:
		b.WriteString(" Signing in...\n")
	case stateRefreshing:
		b.WriteString(" Refreshing access token...\n")
	case stateLoading:
		b.WriteString(" Loading matchups...\n")
	default:
		b.WriteString(" Starting...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.profile.ID == "" {
		b.WriteString(styleOK.Render("  ✓ Signed out"))
		b.WriteString("\n")
		b.WriteString(m.viewStatusLog())
		return b.String()
	}

	b.WriteString(styleOK.Render("  ✓ Signed in as " + displayName(m.profile)))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Reward points: "))
	b.WriteString(fmt.Sprintf("%d\n\n", m.profile.RewardPoints))

	b.WriteString(m.viewAlerts())

	if len(m.matchups) == 0 {
		b.WriteString(styleDim.Render("No matchups yet."))
		b.WriteString("\n")
	}
	for _, mu := range m.matchups {
		line := matchupLine(mu)
		if mu.Leading() {
			b.WriteString(styleOK.Render("  ▲ " + line))
		} else {
			b.WriteString(styleDim.Render("    " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Something went wrong"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")
	b.WriteString(m.viewAlerts())

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewAlerts renders the transient network flag and the sign-in-again
// prompt.
func (m Model) viewAlerts() string {
	var b strings.Builder
	if m.degraded {
		b.WriteString(styleAlertBox.Render("Network unreachable, retrying..."))
		b.WriteString("\n")
		b.WriteString(styleDim.Render("  " + m.degradedErr))
		b.WriteString("\n\n")
	}
	if m.reauth {
		b.WriteString(styleAlertBox.Render("Session expired. Please sign in again."))
		b.WriteString("\n\n")
	}
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
