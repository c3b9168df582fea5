package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/oauth2"

	fa "github.com/panyam/fedauth"
)

// maxUserInfoBytes caps how much of a userinfo response is read.
const maxUserInfoBytes = 1 << 20

// BaseOAuth2 is a Strategy for providers that follow the plain authorization
// code flow followed by a userinfo call.
type BaseOAuth2 struct {
	ProviderName string
	Config       oauth2.Config

	// UserInfoURL is the URL to fetch the profile from.  Can be overridden
	// for testing.
	UserInfoURL string

	// IDField is the userinfo field holding the stable account id.
	IDField string

	// NameFields are tried in order for the display name.
	NameFields []string

	AuthOptions []oauth2.AuthCodeOption
	Logger      *slog.Logger

	httpClient *http.Client
}

func NewBaseOAuth2(name string, cfg fa.ProviderConfig, endpoint oauth2.Endpoint, userInfoURL string, defaultScopes ...string) *BaseOAuth2 {
	out := &BaseOAuth2{
		ProviderName: name,
		UserInfoURL:  userInfoURL,
		IDField:      "id",
		NameFields:   []string{"name"},
		Logger:       slog.Default(),
		Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       fa.MergeScopes(defaultScopes, cfg.Scopes...),
			Endpoint:     endpoint,
		},
	}
	if cfg.AuthURL != "" {
		out.Config.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		out.Config.Endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		out.UserInfoURL = cfg.UserInfoURL
	}
	return out
}

func (b *BaseOAuth2) Name() string {
	return b.ProviderName
}

func (b *BaseOAuth2) AuthCodeURL(state string) string {
	return b.Config.AuthCodeURL(state, b.AuthOptions...)
}

// SetOAuthEndpoint replaces the authorization and token endpoints.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.Config.Endpoint = endpoint
}

// SetHTTPClient sets the client used for the token exchange and the
// userinfo call.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

// ExchangeContext carries the injected HTTP client to the oauth2 library.
func (b *BaseOAuth2) ExchangeContext(ctx context.Context) context.Context {
	if b.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	return ctx
}

func (b *BaseOAuth2) Exchange(ctx context.Context, code string) (*fa.ExternalProfile, error) {
	ctx = b.ExchangeContext(ctx)
	token, err := b.Config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyError(err)
	}
	info, err := b.getUserData(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.profileFromInfo(info)
}

func (b *BaseOAuth2) getUserData(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	response, err := b.Config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(io.LimitReader(response.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user info: %w", fa.ErrProviderUnreachable, err)
	}
	switch {
	case response.StatusCode >= 500:
		return nil, fmt.Errorf("%w: user info returned %d", fa.ErrProviderUnreachable, response.StatusCode)
	case response.StatusCode >= 400:
		return nil, fmt.Errorf("%w: user info returned %d", fa.ErrProviderRejected, response.StatusCode)
	}
	return decodeUserInfo(contents)
}

func (b *BaseOAuth2) profileFromInfo(info map[string]any) (*fa.ExternalProfile, error) {
	id := stringField(info, b.IDField)
	if id == "" {
		b.Logger.Warn("user info has no account id", "provider", b.ProviderName, "field", b.IDField)
		return nil, fmt.Errorf("%w: %s returned no %q", fa.ErrProviderProfileIncomplete, b.ProviderName, b.IDField)
	}
	profile := &fa.ExternalProfile{
		Provider:   b.ProviderName,
		ExternalID: id,
		Email:      stringField(info, "email"),
		Raw:        info,
	}
	for _, field := range b.NameFields {
		if name := stringField(info, field); name != "" {
			profile.DisplayName = name
			break
		}
	}
	return profile, nil
}

// decodeUserInfo keeps numbers as json.Number so large numeric ids survive.
func decodeUserInfo(data []byte) (map[string]any, error) {
	var info map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse user info: %w", fa.ErrProviderRejected, err)
	}
	return info, nil
}

func stringField(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// classifyError splits failures into a provider that said no and a provider
// that could not be reached.
func classifyError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", fa.ErrProviderUnreachable, err)
		}
		return fmt.Errorf("%w: %w", fa.ErrProviderRejected, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", fa.ErrProviderUnreachable, err)
	}
	return fmt.Errorf("%w: %w", fa.ErrProviderRejected, err)
}
