package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const envPrefix = "MATCHUP_"

// Config is resolved with priority: flag > env > .env > YAML file > default.
type Config struct {
	APIBaseURL     string `koanf:"api_base_url" validate:"required,url"`
	IdentityURL    string `koanf:"identity_url" validate:"required,url"`
	IdentityAPIKey string `koanf:"identity_api_key"`
	Referer        string `koanf:"referer"`

	Store     string `koanf:"store" validate:"oneof=file sqlite memory"`
	StorePath string `koanf:"store_path" validate:"required_unless=Store memory"`
	// StoreKey, when set, encrypts the stored session.
	StoreKey string `koanf:"store_key"`

	Email         string `koanf:"email" validate:"omitempty,email"`
	Password      string `koanf:"password"`
	IdentityToken string `koanf:"identity_token"`
	SignUp        bool   `koanf:"sign_up"`
	Logout        bool   `koanf:"logout"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`
	LogFile   string `koanf:"log_file"`

	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

func defaultConfig() Config {
	return Config{
		APIBaseURL:     "http://localhost:8080",
		IdentityURL:    "http://localhost:9099/identitytoolkit.googleapis.com/v1",
		Referer:        "https://matchup.app",
		Store:          "file",
		StorePath:      ".matchup-session.json",
		LogLevel:       "warn",
		LogFormat:      "text",
		RequestTimeout: 15 * time.Second,
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("matchup", pflag.ContinueOnError)
	def := defaultConfig()

	fs.String("config", "matchup.yaml", "YAML config file")
	fs.String("env-file", ".env", "dotenv file loaded into the environment")

	fs.String("api-base-url", def.APIBaseURL, "backend API base URL")
	fs.String("identity-url", def.IdentityURL, "identity service base URL")
	fs.String("identity-api-key", "", "identity service API key")
	fs.String("referer", def.Referer, "Referer header sent to the backend")

	fs.String("store", def.Store, "session store: file, sqlite or memory")
	fs.String("store-path", def.StorePath, "session store location")
	fs.String("store-key", "", "passphrase used to encrypt the stored session")

	fs.String("email", "", "account email")
	fs.String("password", "", "account password")
	fs.String("identity-token", "", "identity token from a federated provider")
	fs.Bool("sign-up", false, "create the account instead of signing in")
	fs.Bool("logout", false, "clear the stored session and exit")

	fs.String("log-level", def.LogLevel, "debug, info, warn or error")
	fs.String("log-format", def.LogFormat, "json or text")
	fs.String("log-file", "", "write logs to this file")

	fs.Duration("request-timeout", def.RequestTimeout, "timeout for a single API attempt")
	return fs
}

// loadConfig parses args and layers every config source onto the defaults.
func loadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	k := koanf.New(".")

	configPath, _ := fs.GetString("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configPath)
		}
	} else if fs.Changed("config") {
		return nil, errors.Errorf("config file %s not found", configPath)
	}

	// godotenv never overrides variables that are already set, so the real
	// environment wins over the .env file.
	envFile, _ := fs.GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && fs.Changed("env-file") {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config failed")
	}

	applyFlags(fs, &cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// applyFlags copies only the flags the user actually set.
func applyFlags(fs *pflag.FlagSet, cfg *Config) {
	strs := map[string]*string{
		"api-base-url":     &cfg.APIBaseURL,
		"identity-url":     &cfg.IdentityURL,
		"identity-api-key": &cfg.IdentityAPIKey,
		"referer":          &cfg.Referer,
		"store":            &cfg.Store,
		"store-path":       &cfg.StorePath,
		"store-key":        &cfg.StoreKey,
		"email":            &cfg.Email,
		"password":         &cfg.Password,
		"identity-token":   &cfg.IdentityToken,
		"log-level":        &cfg.LogLevel,
		"log-format":       &cfg.LogFormat,
		"log-file":         &cfg.LogFile,
	}
	for name, dst := range strs {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}

	if fs.Changed("sign-up") {
		cfg.SignUp, _ = fs.GetBool("sign-up")
	}
	if fs.Changed("logout") {
		cfg.Logout, _ = fs.GetBool("logout")
	}
	if fs.Changed("request-timeout") {
		cfg.RequestTimeout, _ = fs.GetDuration("request-timeout")
	}
}

// warnInsecure prints a warning for every endpoint reached over plain HTTP.
func warnInsecure(cfg *Config, w io.Writer) {
	for name, raw := range map[string]string{
		"API base URL": cfg.APIBaseURL,
		"identity URL": cfg.IdentityURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Scheme, "http") {
			continue
		}
		fmt.Fprintf(w, "⚠️  WARNING: %s uses HTTP instead of HTTPS. Tokens will be transmitted in plaintext!\n", name)
		fmt.Fprintln(w, "⚠️  This is only safe for local development. Use HTTPS in production.")
		fmt.Fprintln(w)
	}
}

// newLogger builds the process logger. Output goes to cfg.LogFile when set,
// otherwise to fallback.
func newLogger(cfg *Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	w := fallback
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		w = f
		closer = f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With(
		"service", "matchup-cli",
		"version", version,
	)
	slog.SetDefault(logger)
	return logger, closer, nil
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
