package fedauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/stores/fs"
)

const testStateSecret = "test-state-secret-0123456789abcdef"

// fakeStrategy is a provider whose codes map to canned profiles.
type fakeStrategy struct {
	name string

	mu        sync.Mutex
	profiles  map[string]fa.ExternalProfile
	errs      map[string]error
	exchanges int
}

func newFakeStrategy(name string) *fakeStrategy {
	return &fakeStrategy{
		name:     name,
		profiles: make(map[string]fa.ExternalProfile),
		errs:     make(map[string]error),
	}
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) AuthCodeURL(state string) string {
	return "https://" + f.name + ".test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeStrategy) Exchange(ctx context.Context, code string) (*fa.ExternalProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	p, ok := f.profiles[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code", fa.ErrProviderRejected)
	}
	// providers do not know the registry name
	p.Provider = "whatever-the-provider-calls-itself"
	return &p, nil
}

// accept makes code return a profile with externalID.
func (f *fakeStrategy) accept(code, externalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[code] = fa.ExternalProfile{ExternalID: externalID, Email: externalID + "@" + f.name + ".test"}
}

func (f *fakeStrategy) fail(code string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[code] = err
}

// flakyStore fails every call with ErrStoreUnavailable while down is set.
type flakyStore struct {
	fa.UserStore
	down atomic.Bool
}

func (s *flakyStore) err() error {
	if s.down.Load() {
		return fmt.Errorf("%w: connection refused", fa.ErrStoreUnavailable)
	}
	return nil
}

func (s *flakyStore) GetUserById(ctx context.Context, id string) (*fa.UserIdentity, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.UserStore.GetUserById(ctx, id)
}

func (s *flakyStore) GetUserByUsername(ctx context.Context, username string) (*fa.UserIdentity, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.UserStore.GetUserByUsername(ctx, username)
}

func (s *flakyStore) CreateLocalUser(ctx context.Context, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.UserStore.CreateLocalUser(ctx, cred)
}

func (s *flakyStore) FindOrCreateExternal(ctx context.Context, provider, externalID string) (*fa.UserIdentity, bool, error) {
	if err := s.err(); err != nil {
		return nil, false, err
	}
	return s.UserStore.FindOrCreateExternal(ctx, provider, externalID)
}

func (s *flakyStore) SetSecretText(ctx context.Context, userId, text string) (*fa.UserIdentity, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.UserStore.SetSecretText(ctx, userId, text)
}

func (s *flakyStore) ListUsersWithSecrets(ctx context.Context) ([]*fa.UserIdentity, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.UserStore.ListUsersWithSecrets(ctx)
}

// testEnv is a running fedauth server with fake google and github providers.
type testEnv struct {
	Auth     *fa.FedAuth
	Users    *flakyStore
	Server   *httptest.Server
	Google   *fakeStrategy
	Github   *fakeStrategy
	Registry *prometheus.Registry
}

func setupTestAuth(t *testing.T) *testEnv {
	t.Helper()
	users := &flakyStore{UserStore: fs.NewUserStore(t.TempDir())}
	google := newFakeStrategy("google")
	github := newFakeStrategy("github")

	providers := fa.NewProviderRegistry(fa.NewStateSigner([]byte(testStateSecret)))
	for _, s := range []fa.Strategy{google, github} {
		if err := providers.Register(s); err != nil {
			t.Fatalf("Failed to register %s: %v", s.Name(), err)
		}
	}

	reg := prometheus.NewRegistry()
	auth := &fa.FedAuth{
		Users:     users,
		Sessions:  fa.NewSessionManager(nil, users, fa.SessionConfig{}),
		Providers: providers,
		Metrics:   fa.NewMetrics(reg),
		Verifier:  &fa.CredentialVerifier{Users: users, Cost: bcrypt.MinCost},
	}
	auth.EnsureDefaults()

	server := httptest.NewServer(auth.Handler())
	t.Cleanup(server.Close)
	return &testEnv{Auth: auth, Users: users, Server: server, Google: google, Github: github, Registry: reg}
}

// browser is one user agent with its own cookie jar.  Redirects are not
// followed so tests can assert on them.
type browser struct {
	t      *testing.T
	env    *testEnv
	client *http.Client
}

type result struct {
	Status   int
	Location string
	Body     string
	Cookies  []*http.Cookie
}

func (e *testEnv) newBrowser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &browser{
		t:   t,
		env: e,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) result {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return result{
		Status:   resp.StatusCode,
		Location: resp.Header.Get("Location"),
		Body:     string(body),
		Cookies:  resp.Cookies(),
	}
}

func (b *browser) get(path string) result {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.env.Server.URL+path, nil)
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values) result {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodPost, b.env.Server.URL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// getJSON fetches path as an API client and decodes the body into out.
func (b *browser) getJSON(path string, out any) result {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.env.Server.URL+path, nil)
	req.Header.Set("Accept", "application/json")
	res := b.do(req)
	if out != nil && res.Status == http.StatusOK {
		if err := json.Unmarshal([]byte(res.Body), out); err != nil {
			b.t.Fatalf("Failed to decode %s: %v (%s)", path, err, res.Body)
		}
	}
	return res
}

func (b *browser) register(username, password string) result {
	b.t.Helper()
	return b.postForm("/register", url.Values{"username": {username}, "password": {password}})
}

func (b *browser) login(username, password string) result {
	b.t.Helper()
	return b.postForm("/login", url.Values{"username": {username}, "password": {password}})
}

// beginAuth starts a provider flow and returns the state handed to the provider.
func (b *browser) beginAuth(path string) string {
	b.t.Helper()
	res := b.get(path)
	if res.Status != http.StatusFound {
		b.t.Fatalf("GET %s: expected redirect, got %d: %s", path, res.Status, res.Body)
	}
	loc, err := url.Parse(res.Location)
	if err != nil {
		b.t.Fatalf("Bad provider redirect %q: %v", res.Location, err)
	}
	return loc.Query().Get("state")
}

func (b *browser) callback(provider, code, state string) result {
	b.t.Helper()
	q := url.Values{"code": {code}, "state": {state}}
	return b.get("/auth/" + provider + "/callback?" + q.Encode())
}

// signInWith runs a full provider round trip.
func (b *browser) signInWith(provider, code string) result {
	b.t.Helper()
	state := b.beginAuth("/auth/" + provider)
	return b.callback(provider, code, state)
}

type whoami struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// identity returns the id bound to the browser's session, or "".
func (b *browser) identity() string {
	b.t.Helper()
	var out whoami
	if res := b.getJSON("/submit", &out); res.Status != http.StatusOK {
		return ""
	}
	return out.ID
}

