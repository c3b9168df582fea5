package oauth2

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	fa "github.com/panyam/fedauth"
)

// New builds the strategy for cfg.  A config with an issuer URL uses OpenID
// Connect discovery; otherwise the name picks a well known provider.  Other
// names need explicit auth, token and userinfo URLs.
func New(ctx context.Context, cfg fa.ProviderConfig) (fa.Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IssuerURL != "" {
		return NewOIDCProvider(ctx, cfg)
	}
	switch cfg.Name {
	case "google":
		return NewGoogleOAuth2(cfg), nil
	case "facebook":
		return NewFacebookOAuth2(cfg), nil
	case "linkedin":
		return NewLinkedInOAuth2(cfg), nil
	case "github":
		return NewGithubOAuth2(cfg), nil
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("%w: %s needs auth_url, token_url and userinfo_url", fa.ErrUnknownProvider, cfg.Name)
	}
	return NewBaseOAuth2(cfg.Name, cfg, oauth2.Endpoint{}, cfg.UserInfoURL), nil
}

// RegisterAll builds each config and adds it to the registry.
func RegisterAll(ctx context.Context, registry *fa.ProviderRegistry, configs []fa.ProviderConfig) error {
	for _, cfg := range configs {
		strategy, err := New(ctx, cfg)
		if err != nil {
			return err
		}
		if err := registry.Register(strategy); err != nil {
			return err
		}
	}
	return nil
}
