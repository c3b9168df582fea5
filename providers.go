package fedauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig is the static configuration of one external provider.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	CallbackURL  string   `yaml:"callback_url"`
	Scopes       []string `yaml:"scopes"`

	// Optional endpoint overrides.  Providers with a well known endpoint
	// leave these empty.
	AuthURL     string `yaml:"auth_url,omitempty"`
	TokenURL    string `yaml:"token_url,omitempty"`
	UserInfoURL string `yaml:"userinfo_url,omitempty"`

	// IssuerURL selects OpenID Connect discovery.
	IssuerURL string `yaml:"issuer_url,omitempty"`
}

// Validate reports the first missing required field.
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client_id is required", c.Name)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client_secret is required", c.Name)
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("%s: callback_url is required", c.Name)
	}
	if _, err := url.Parse(c.CallbackURL); err != nil {
		return fmt.Errorf("%s: invalid callback_url: %w", c.Name, err)
	}
	return nil
}

// Strategy is one external identity provider.  Exchange performs the code
// exchange and the profile fetch, classifying failures as
// ErrProviderUnreachable or ErrProviderRejected.
type Strategy interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// RedirectInstruction tells the HTTP layer where to send the user agent.
type RedirectInstruction struct {
	Provider string
	URL      string
	State    string
}

// BeginOptions customize a BeginAuth call.
type BeginOptions struct {
	// LinkUserID marks the flow as linking the provider account to this
	// identity instead of signing in.
	LinkUserID string
}

// ProviderRegistry holds the configured strategies by name.
type ProviderRegistry struct {
	State  *StateSigner
	Logger *slog.Logger

	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewProviderRegistry(state *StateSigner) *ProviderRegistry {
	return &ProviderRegistry{
		State:      state,
		Logger:     slog.Default(),
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy.  Names are unique.
func (p *ProviderRegistry) Register(s Strategy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.strategies == nil {
		p.strategies = make(map[string]Strategy)
	}
	name := s.Name()
	if name == "" {
		return errors.New("strategy name is required")
	}
	if _, exists := p.strategies[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	p.strategies[name] = s
	return nil
}

func (p *ProviderRegistry) Get(name string) (Strategy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return s, nil
}

// Names returns the registered provider names in sorted order.
func (p *ProviderRegistry) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.strategies))
	for name := range p.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeginAuth builds the authorization redirect for provider.
func (p *ProviderRegistry) BeginAuth(name string, opts BeginOptions) (*RedirectInstruction, error) {
	s, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	state, err := p.State.Issue(name, opts.LinkUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue state: %w", err)
	}
	return &RedirectInstruction{Provider: name, URL: s.AuthCodeURL(state), State: state}, nil
}

// ParseState verifies a state value issued by BeginAuth for provider.
func (p *ProviderRegistry) ParseState(name, state string) (*StateClaims, error) {
	return p.State.Verify(state, name)
}

// CompleteAuth validates the callback query and exchanges the code for a
// verified profile.  It never touches the identity store.
func (p *ProviderRegistry) CompleteAuth(ctx context.Context, name string, query url.Values) (*ExternalProfile, error) {
	s, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	if errCode := query.Get("error"); errCode != "" {
		return nil, fmt.Errorf("%w: %s %s", ErrProviderRejected, errCode, query.Get("error_description"))
	}
	if _, err := p.ParseState(name, query.Get("state")); err != nil {
		return nil, err
	}
	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProviderRejected)
	}

	profile, err := s.Exchange(ctx, code)
	if err != nil {
		p.Logger.Warn("provider exchange failed", "provider", name, "error", err)
		if errors.Is(err, ErrProviderUnreachable) || errors.Is(err, ErrProviderRejected) || errors.Is(err, ErrProviderProfileIncomplete) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderRejected, err)
	}
	if profile == nil || profile.ExternalID == "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderProfileIncomplete, name)
	}
	profile.Provider = name
	return profile, nil
}
