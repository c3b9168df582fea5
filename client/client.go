// Package client is a Go client for a fedauth server.  It keeps the browser
// session cookie in an in-memory jar, so one SessionClient behaves like one
// browser.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	fa "github.com/panyam/fedauth"
)

// Account is what the server reports after a successful sign in or update.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Redirect string `json:"redirect"`
}

// SecretsPage is the public listing of submitted secrets.
type SecretsPage struct {
	Secrets  []string `json:"secrets"`
	LoggedIn bool     `json:"logged_in"`
}

// SessionClient is an HTTP client bound to one browser session.
type SessionClient struct {
	serverURL     string
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures a SessionClient
type ClientOption func(*SessionClient)

// WithHTTPClient copies timeout and transport settings from client.  The
// cookie jar is always the session client's own.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SessionClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *SessionClient) {
		c.baseTransport = transport
	}
}

func NewSessionClient(serverURL string, opts ...ClientOption) (*SessionClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", serverURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &SessionClient{
		serverURL: fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		httpClient: &http.Client{
			Jar: jar,
			// Redirects are reported to the caller rather than followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = NewJSONTransport(c.baseTransport)
	return c, nil
}

// HTTPClient returns the underlying client, sharing the session cookie.
func (c *SessionClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *SessionClient) ServerURL() string {
	return c.serverURL
}

func (c *SessionClient) Register(ctx context.Context, username, password string) (*Account, error) {
	var account Account
	err := c.post(ctx, "/register", map[string]string{"username": username, "password": password}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *SessionClient) Login(ctx context.Context, username, password string) (*Account, error) {
	var account Account
	err := c.post(ctx, "/login", map[string]string{"username": username, "password": password}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Logout ends the session.  Logging out twice is not an error.
func (c *SessionClient) Logout(ctx context.Context) error {
	return c.post(ctx, "/logout", map[string]string{}, nil)
}

// AttachPassword adds a local credential to the signed in identity.
func (c *SessionClient) AttachPassword(ctx context.Context, username, password string) (*Account, error) {
	var account Account
	err := c.post(ctx, "/account/password", map[string]string{"username": username, "password": password}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *SessionClient) SubmitSecret(ctx context.Context, secret string) error {
	return c.post(ctx, "/submit", map[string]string{"secret": secret}, nil)
}

// MySecret returns the signed in identity's own secret.
func (c *SessionClient) MySecret(ctx context.Context) (string, error) {
	var out struct {
		Secret string `json:"secret"`
	}
	if err := c.do(ctx, http.MethodGet, "/submit", nil, &out); err != nil {
		return "", err
	}
	return out.Secret, nil
}

func (c *SessionClient) ListSecrets(ctx context.Context) (*SecretsPage, error) {
	var page SecretsPage
	if err := c.do(ctx, http.MethodGet, "/secrets", nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// IsLoggedIn asks the server whether the session is bound to an identity.
func (c *SessionClient) IsLoggedIn(ctx context.Context) bool {
	page, err := c.ListSecrets(ctx)
	return err == nil && page.LoggedIn
}

func (c *SessionClient) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, jsonBody, out)
}

func (c *SessionClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// decodeError returns the server's *fedauth.AuthError when it sent one.
func decodeError(status int, data []byte) error {
	var errResp struct {
		Error *fa.AuthError `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil && errResp.Error.Code != "" {
		return errResp.Error
	}
	switch status {
	case http.StatusUnauthorized:
		return fa.NewAuthError(fa.ErrCodeSessionInvalid, "login required", "")
	case http.StatusServiceUnavailable:
		return fa.NewAuthError(fa.ErrCodeUnavailable, "service unavailable", "")
	}
	return fmt.Errorf("request failed: HTTP %d", status)
}
