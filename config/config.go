// Package config loads fedauthd settings from the environment and an
// optional YAML providers file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	fa "github.com/panyam/fedauth"
)

// minStateSecretBytes keeps the HS256 state key at least as long as its output.
const minStateSecretBytes = 32

// Config is the process configuration.
type Config struct {
	Addr        string `env:"FEDAUTH_ADDR" envDefault:":8080"`
	BaseURL     string `env:"FEDAUTH_BASE_URL" envDefault:"http://localhost:8080"`
	StateSecret string `env:"FEDAUTH_STATE_SECRET"`

	SessionStore       string        `env:"FEDAUTH_SESSION_STORE" envDefault:"memory"`
	RedisAddr          string        `env:"FEDAUTH_REDIS_ADDR"`
	SessionLifetime    time.Duration `env:"FEDAUTH_SESSION_LIFETIME" envDefault:"24h"`
	SessionIdleTimeout time.Duration `env:"FEDAUTH_SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	SecureCookies      bool          `env:"FEDAUTH_SECURE_COOKIES"`

	UserStore          string `env:"FEDAUTH_USER_STORE" envDefault:"fs"`
	FSRoot             string `env:"FEDAUTH_FS_ROOT" envDefault:"./data"`
	DatabaseURL        string `env:"FEDAUTH_DATABASE_URL"`
	DatastoreProject   string `env:"FEDAUTH_DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"FEDAUTH_DATASTORE_NAMESPACE"`

	BcryptCost int    `env:"FEDAUTH_BCRYPT_COST" envDefault:"10"`
	LogLevel   string `env:"FEDAUTH_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"FEDAUTH_LOG_FORMAT" envDefault:"text"`

	ProvidersFile string `env:"FEDAUTH_PROVIDERS_FILE"`
	// Providers looked up as OAUTH2_<NAME>_* variables.
	ProviderNames []string `env:"FEDAUTH_PROVIDERS" envSeparator:"," envDefault:"google,facebook,linkedin,github"`
}

// providerEnv holds the OAUTH2_<NAME>_ variables of one provider.
type providerEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
	Scopes       string `env:"SCOPES"`
	AuthURL      string `env:"AUTH_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	UserInfoURL  string `env:"USERINFO_URL"`
	IssuerURL    string `env:"ISSUER_URL"`
}

type providersFile struct {
	Providers []fa.ProviderConfig `yaml:"providers"`
}

// Load parses the environment.  Call Validate before use.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.StateSecret) < minStateSecretBytes {
		errs = append(errs, fmt.Errorf("FEDAUTH_STATE_SECRET must be at least %d bytes", minStateSecretBytes))
	}
	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("FEDAUTH_REDIS_ADDR is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FEDAUTH_SESSION_STORE %q", c.SessionStore))
	}
	switch c.UserStore {
	case "fs":
		if c.FSRoot == "" {
			errs = append(errs, errors.New("FEDAUTH_FS_ROOT is required for the fs user store"))
		}
	case "sqlite", "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("FEDAUTH_DATABASE_URL is required for the %s user store", c.UserStore))
		}
	case "datastore":
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("FEDAUTH_DATASTORE_PROJECT is required for the datastore user store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FEDAUTH_USER_STORE %q", c.UserStore))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("FEDAUTH_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.SessionLifetime <= 0 || c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("session lifetime and idle timeout must be positive"))
	}
	return errors.Join(errs...)
}

// RedisURL returns RedisAddr as a redis:// URL.
func (c *Config) RedisURL() string {
	if strings.Contains(c.RedisAddr, "://") {
		return c.RedisAddr
	}
	return "redis://" + c.RedisAddr
}

func (c *Config) SessionConfig() fa.SessionConfig {
	return fa.SessionConfig{
		Lifetime:     c.SessionLifetime,
		IdleTimeout:  c.SessionIdleTimeout,
		SecureCookie: c.SecureCookies,
	}
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Providers merges the YAML providers file with OAUTH2_<NAME>_ variables.
// Environment values override the file.  Env-only providers are included
// when their client id is set.
func (c *Config) Providers() ([]fa.ProviderConfig, error) {
	var providers []fa.ProviderConfig
	if c.ProvidersFile != "" {
		data, err := os.ReadFile(c.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("read providers file: %w", err)
		}
		var file providersFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse providers file: %w", err)
		}
		providers = file.Providers
	}

	names := slices.Clone(c.ProviderNames)
	for _, p := range providers {
		if !slices.Contains(names, p.Name) {
			names = append(names, p.Name)
		}
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		var raw providerEnv
		prefix := "OAUTH2_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		if err := env.ParseWithOptions(&raw, env.Options{Prefix: prefix}); err != nil {
			return nil, fmt.Errorf("parse env for %s: %w", name, err)
		}
		idx := slices.IndexFunc(providers, func(p fa.ProviderConfig) bool { return p.Name == name })
		if idx < 0 {
			if raw.ClientID == "" {
				continue
			}
			providers = append(providers, fa.ProviderConfig{Name: name})
			idx = len(providers) - 1
		}
		raw.apply(&providers[idx])
	}

	for i := range providers {
		if providers[i].CallbackURL == "" {
			providers[i].CallbackURL = fmt.Sprintf("%s/auth/%s/callback", c.BaseURL, providers[i].Name)
		}
		if err := providers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return providers, nil
}

func (e providerEnv) apply(p *fa.ProviderConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.ClientID, e.ClientID)
	set(&p.ClientSecret, e.ClientSecret)
	set(&p.CallbackURL, e.CallbackURL)
	set(&p.AuthURL, e.AuthURL)
	set(&p.TokenURL, e.TokenURL)
	set(&p.UserInfoURL, e.UserInfoURL)
	set(&p.IssuerURL, e.IssuerURL)
	if scopes := fa.ParseScopes(e.Scopes); len(scopes) > 0 {
		p.Scopes = scopes
	}
}
