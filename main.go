package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/matchup-app/matchup-cli/account"
	"github.com/matchup-app/matchup-cli/apiclient"
	"github.com/matchup-app/matchup-cli/authapi"
	"github.com/matchup-app/matchup-cli/matchups"
	"github.com/matchup-app/matchup-cli/refresh"
	"github.com/matchup-app/matchup-cli/securestore"
	"github.com/matchup-app/matchup-cli/session"
	"github.com/matchup-app/matchup-cli/tui"
)

var version = "dev"

var sealerSalt = []byte("matchup-cli/session/v1")

// errNoCredentials is returned when there is no stored session and nothing
// to sign in with.
var errNoCredentials = errors.New(
	"not signed in: provide --email and --password, or --identity-token",
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	warnInsecure(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isTTY() {
		// Logs would tear the TUI, so they only go to --log-file.
		logger, closer, err := newLogger(cfg, io.Discard)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()

		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(ctx, cfg, d, logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			closer.Close()
			os.Exit(1)
		}
		return
	}

	logger, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	d := tui.NewPlainDisplayer(os.Stderr)
	d.Banner()
	if err := run(ctx, cfg, d, logger); err != nil {
		closer.Close()
		os.Exit(1)
	}
}

// app bundles the wired components of one run.
type app struct {
	session  *session.Session
	accounts *account.Service
	matchups *matchups.Service
	closer   io.Closer
}

// openStore builds the session store selected by cfg. The returned closer
// is never nil.
func openStore(cfg *Config, logger *slog.Logger) (securestore.Store, io.Closer, error) {
	var (
		store  securestore.Store
		closer io.Closer = nopCloser{}
	)

	switch cfg.Store {
	case "memory":
		store = securestore.NewMemoryStore()
	case "sqlite":
		db, err := securestore.OpenSQLiteStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		store, closer = db, db
	default:
		store = securestore.NewFileStore(cfg.StorePath, logger)
	}

	if cfg.StoreKey != "" {
		sealer, err := securestore.NewSealer(cfg.StoreKey, sealerSalt)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		store = securestore.Sealed(store, sealer)
	}
	return store, closer, nil
}

// newApp wires the session, refresh coordinator, request pipeline and
// services together.
func newApp(cfg *Config, d tui.Displayer, logger *slog.Logger) (*app, error) {
	store, closer, err := openStore(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}

	sess := session.New(store, session.WithLogger(logger))

	doer, err := authapi.NewRetryClient()
	if err != nil {
		closer.Close()
		return nil, errors.Wrap(err, "create retry client")
	}
	identity := authapi.NewIdentityClient(cfg.IdentityURL, cfg.IdentityAPIKey, doer)
	sessions := authapi.NewSessionClient(cfg.APIBaseURL, cfg.Referer, doer)

	coord := refresh.New(sess, sessions,
		refresh.WithListener(d),
		refresh.WithLogger(logger),
	)

	client, err := apiclient.New(cfg.APIBaseURL, sess, coord,
		apiclient.WithExecutor(authapi.NewHTTPClient()),
		apiclient.WithReporter(d),
		apiclient.WithReferer(cfg.Referer),
		apiclient.WithRequestTimeout(cfg.RequestTimeout),
		apiclient.WithLogger(logger),
	)
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &app{
		session:  sess,
		accounts: account.NewService(identity, sessions, sess, logger),
		matchups: matchups.NewService(client, sess),
		closer:   closer,
	}, nil
}

func run(ctx context.Context, cfg *Config, d tui.Displayer, logger *slog.Logger) error {
	a, err := newApp(cfg, d, logger)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer a.closer.Close()

	restored := a.session.Restore()
	unsubscribe := a.session.Subscribe(d.SessionChanged)
	defer unsubscribe()

	if cfg.Logout {
		if err := a.accounts.SignOut(); err != nil {
			d.Fatal(err)
			return err
		}
		d.SignedOut()
		return nil
	}

	if restored {
		profile, _ := a.session.Profile()
		d.SessionRestored(profile)
	} else {
		d.NoSession()
		if err := signIn(ctx, cfg, a.accounts, d); err != nil {
			d.Fatal(err)
			return err
		}
	}

	profile, err := a.matchups.Me(ctx)
	var authErr *apiclient.AuthenticationError
	if errors.As(err, &authErr) {
		// The refresh token is gone; one more interactive sign-in is allowed.
		d.ReAuthRequired()
		if err := signIn(ctx, cfg, a.accounts, d); err != nil {
			d.Fatal(err)
			return err
		}
		profile, err = a.matchups.Me(ctx)
	}
	if err != nil {
		d.Fatal(err)
		return err
	}
	d.ProfileLoaded(profile)

	list, err := a.matchups.List(ctx, "")
	if err != nil {
		d.APICallFailed(err)
	} else {
		d.MatchupsLoaded(list)
	}

	d.Done(profile)
	return nil
}

// signIn exchanges whatever credentials cfg carries for a session.
func signIn(ctx context.Context, cfg *Config, accounts *account.Service, d tui.Displayer) error {
	var (
		profile session.Profile
		err     error
	)

	switch {
	case cfg.IdentityToken != "":
		d.SigningIn("identity token")
		profile, err = accounts.SignInWithIdentityToken(ctx, cfg.IdentityToken)
	case cfg.Email != "" && cfg.Password != "":
		d.SigningIn(cfg.Email)
		if cfg.SignUp {
			profile, err = accounts.SignUp(ctx, cfg.Email, cfg.Password)
		} else {
			profile, err = accounts.SignIn(ctx, cfg.Email, cfg.Password)
		}
	default:
		return errNoCredentials
	}

	if err != nil {
		d.SignInFailed(err)
		return err
	}
	d.SignedIn(profile)
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
