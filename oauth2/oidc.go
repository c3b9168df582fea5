package oauth2

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	fa "github.com/panyam/fedauth"
)

// OIDCProvider signs in with any OpenID Connect issuer, such as Keycloak.
// The account id is the subject of the verified ID token.
type OIDCProvider struct {
	ProviderName string
	Config       oauth2.Config
	Logger       *slog.Logger

	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewOIDCProvider runs discovery against cfg.IssuerURL.  An HTTP client
// placed in ctx with oidc.ClientContext is used for discovery and key fetches.
func NewOIDCProvider(ctx context.Context, cfg fa.ProviderConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s failed: %w", cfg.Name, err)
	}
	endpoint := provider.Endpoint()
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &OIDCProvider{
		ProviderName: cfg.Name,
		Logger:       slog.Default(),
		verifier:     provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       fa.MergeScopes([]string{oidc.ScopeOpenID, "profile", "email"}, cfg.Scopes...),
			Endpoint:     endpoint,
		},
	}, nil
}

func (o *OIDCProvider) Name() string {
	return o.ProviderName
}

func (o *OIDCProvider) AuthCodeURL(state string) string {
	return o.Config.AuthCodeURL(state)
}

func (o *OIDCProvider) SetHTTPClient(client *http.Client) {
	o.httpClient = client
}

func (o *OIDCProvider) Exchange(ctx context.Context, code string) (*fa.ExternalProfile, error) {
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
		ctx = oidc.ClientContext(ctx, o.httpClient)
	}
	token, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyError(err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", fa.ErrProviderRejected)
	}
	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		o.Logger.Warn("id token verification failed", "provider", o.ProviderName, "error", err)
		return nil, fmt.Errorf("%w: %w", fa.ErrProviderRejected, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: id token has no subject", fa.ErrProviderProfileIncomplete)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	raw := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %w", fa.ErrProviderRejected, err)
	}
	_ = idToken.Claims(&raw)
	return &fa.ExternalProfile{
		Provider:    o.ProviderName,
		ExternalID:  idToken.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Raw:         raw,
	}, nil
}
