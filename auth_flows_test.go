package fedauth_test

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	fa "github.com/panyam/fedauth"
)

// TestSecretsScenario walks one user from registration to a protected
// submission, through logout and a failed and a successful login.
func TestSecretsScenario(t *testing.T) {
	env := setupTestAuth(t)
	alice := env.newBrowser(t)

	res := alice.register("alice", "secret1")
	if res.Status != http.StatusFound || res.Location != "/secrets" {
		t.Fatalf("register: expected redirect to /secrets, got %d %q", res.Status, res.Location)
	}

	res = alice.postForm("/submit", url.Values{"secret": {"I like cats"}})
	if res.Status != http.StatusFound || res.Location != "/secrets" {
		t.Fatalf("submit: expected redirect to /secrets, got %d %q", res.Status, res.Location)
	}

	var page struct {
		Secrets  []string `json:"secrets"`
		LoggedIn bool     `json:"logged_in"`
	}
	alice.getJSON("/secrets", &page)
	if len(page.Secrets) != 1 || page.Secrets[0] != "I like cats" || !page.LoggedIn {
		t.Errorf("unexpected secrets page: %+v", page)
	}

	res = alice.get("/logout")
	if res.Status != http.StatusFound || res.Location != "/" {
		t.Errorf("logout: expected redirect to /, got %d %q", res.Status, res.Location)
	}

	res = alice.get("/submit")
	if res.Status != http.StatusFound || res.Location != "/login?callbackURL=%2Fsubmit" {
		t.Errorf("expected redirect to login with callback, got %d %q", res.Status, res.Location)
	}

	res = alice.login("alice", "wrong-password")
	if res.Status != http.StatusFound || res.Location != "/login?error=invalid_credentials" {
		t.Errorf("wrong password: got %d %q", res.Status, res.Location)
	}
	if id := alice.identity(); id != "" {
		t.Errorf("failed login must not bind a session, got %q", id)
	}

	res = alice.login("alice", "secret1")
	if res.Status != http.StatusFound || res.Location != "/secrets" {
		t.Errorf("login: expected redirect to /secrets, got %d %q", res.Status, res.Location)
	}
	var me whoami
	if res := alice.getJSON("/submit", &me); res.Status != http.StatusOK {
		t.Fatalf("expected /submit to be reachable after login, got %d", res.Status)
	}
	if me.Secret != "I like cats" {
		t.Errorf("expected own secret, got %q", me.Secret)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := setupTestAuth(t)
	env.newBrowser(t).register("alice", "secret1")

	b := env.newBrowser(t)
	wrongPassword := b.login("alice", "nope-nope")
	noSuchUser := b.login("mallory", "secret1")
	if wrongPassword.Location != noSuchUser.Location {
		t.Errorf("responses differ: %q vs %q", wrongPassword.Location, noSuchUser.Location)
	}
}

func TestLoginRedirectsToCallbackURL(t *testing.T) {
	env := setupTestAuth(t)
	env.newBrowser(t).register("alice", "secret1")

	tests := []struct {
		name     string
		callback string
		expected string
	}{
		{"local path", "/submit", "/submit"},
		{"absolute url", "https://evil.example.com/", "/secrets"},
		{"scheme relative", "//evil.example.com/", "/secrets"},
		{"backslash", "/\\evil.example.com", "/secrets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := env.newBrowser(t)
			res := b.postForm("/login", url.Values{
				"username":    {"alice"},
				"password":    {"secret1"},
				"callbackURL": {tt.callback},
			})
			if res.Location != tt.expected {
				t.Errorf("expected redirect to %q, got %q", tt.expected, res.Location)
			}
		})
	}
}

func TestProviderSignIn(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("code-1", "g-42")
	env.Google.accept("code-2", "g-42")

	first := env.newBrowser(t)
	res := first.signInWith("google", "code-1")
	if res.Status != http.StatusFound || res.Location != "/secrets" {
		t.Fatalf("expected redirect to /secrets, got %d %q (%s)", res.Status, res.Location, res.Body)
	}
	id := first.identity()
	if id == "" {
		t.Fatal("expected the session to be bound")
	}

	user, err := env.Users.GetUserById(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if user.ExternalID("google") != "g-42" {
		t.Errorf("expected google link, got %v", user.ExternalLinks)
	}
	if user.HasLocalCredential() {
		t.Error("a provider identity has no local credential")
	}

	// a second sign in with the same provider account resolves to the same identity
	second := env.newBrowser(t)
	second.signInWith("google", "code-2")
	if got := second.identity(); got != id {
		t.Errorf("expected identity %q, got %q", id, got)
	}
}

func TestSameExternalIDOnDifferentProviders(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("g", "12345")
	env.Github.accept("h", "12345")

	a := env.newBrowser(t)
	a.signInWith("google", "g")
	b := env.newBrowser(t)
	b.signInWith("github", "h")

	if a.identity() == b.identity() {
		t.Error("the same id at two providers must be two identities")
	}
}

func TestConcurrentFirstTimeCallbacks(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("code-a", "g-42")
	env.Google.accept("code-b", "g-42")

	a := env.newBrowser(t)
	b := env.newBrowser(t)
	stateA := a.beginAuth("/auth/google")
	stateB := b.beginAuth("/auth/google")

	var wg sync.WaitGroup
	results := make([]result, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = a.callback("google", "code-a", stateA) }()
	go func() { defer wg.Done(); results[1] = b.callback("google", "code-b", stateB) }()
	wg.Wait()

	for i, res := range results {
		if res.Status != http.StatusFound || res.Location != "/secrets" {
			t.Errorf("callback %d: got %d %q (%s)", i, res.Status, res.Location, res.Body)
		}
	}
	idA, idB := a.identity(), b.identity()
	if idA == "" || idA != idB {
		t.Fatalf("expected one identity for both callbacks, got %q and %q", idA, idB)
	}

	user, created, err := env.Users.FindOrCreateExternal(context.Background(), "google", "g-42")
	if err != nil {
		t.Fatalf("FindOrCreateExternal failed: %v", err)
	}
	if created || user.ID != idA {
		t.Errorf("expected the existing identity %q, got %q (created=%v)", idA, user.ID, created)
	}
}

func TestCallbackRejections(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("good", "g-1")
	env.Google.accept("no-id", "")
	env.Google.fail("down", fa.ErrProviderUnreachable)

	tests := []struct {
		name  string
		query func(state string) url.Values
		error string
	}{
		{
			name:  "state mismatch",
			query: func(state string) url.Values { return url.Values{"code": {"good"}, "state": {state + "x"}} },
			error: fa.ErrCodeProviderRejected,
		},
		{
			name:  "user denied consent",
			query: func(state string) url.Values { return url.Values{"error": {"access_denied"}, "state": {state}} },
			error: fa.ErrCodeProviderRejected,
		},
		{
			name:  "missing code",
			query: func(state string) url.Values { return url.Values{"state": {state}} },
			error: fa.ErrCodeProviderRejected,
		},
		{
			name:  "provider unreachable",
			query: func(state string) url.Values { return url.Values{"code": {"down"}, "state": {state}} },
			error: fa.ErrCodeProviderUnreachable,
		},
		{
			name:  "profile without id",
			query: func(state string) url.Values { return url.Values{"code": {"no-id"}, "state": {state}} },
			error: fa.ErrCodeProfileIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := env.newBrowser(t)
			state := b.beginAuth("/auth/google")
			res := b.get("/auth/google/callback?" + tt.query(state).Encode())
			if res.Status != http.StatusFound || res.Location != "/login?error="+tt.error {
				t.Errorf("expected redirect with %s, got %d %q", tt.error, res.Status, res.Location)
			}
			if id := b.identity(); id != "" {
				t.Errorf("a rejected callback must not bind a session, got %q", id)
			}
		})
	}
}

func TestCallbackWithoutStateCookie(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("good", "g-1")

	// the state was issued to another browser
	victim := env.newBrowser(t)
	state := victim.beginAuth("/auth/google")

	attacker := env.newBrowser(t)
	res := attacker.callback("google", "good", state)
	if res.Location != "/login?error="+fa.ErrCodeProviderRejected {
		t.Errorf("expected rejection, got %d %q", res.Status, res.Location)
	}
	if env.Google.exchanges != 0 {
		t.Error("the code must not be exchanged without a matching state cookie")
	}
}

func TestStateIsBoundToProvider(t *testing.T) {
	env := setupTestAuth(t)
	env.Github.accept("good", "h-1")

	b := env.newBrowser(t)
	state := b.beginAuth("/auth/google")
	res := b.callback("github", "good", state)
	if res.Location != "/login?error="+fa.ErrCodeProviderRejected {
		t.Errorf("expected rejection, got %d %q", res.Status, res.Location)
	}
}

func TestBeginAuth(t *testing.T) {
	env := setupTestAuth(t)
	b := env.newBrowser(t)

	t.Run("unknown provider", func(t *testing.T) {
		if res := b.get("/auth/myspace"); res.Status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", res.Status)
		}
	})

	t.Run("redirects with state cookie", func(t *testing.T) {
		res := b.get("/auth/google?callbackURL=/submit")
		if !strings.HasPrefix(res.Location, "https://google.test/authorize?state=") {
			t.Fatalf("unexpected redirect %q", res.Location)
		}
		var state, callback string
		for _, c := range res.Cookies {
			switch c.Name {
			case "oauthstate":
				state = c.Value
				if !c.HttpOnly {
					t.Error("state cookie must be HttpOnly")
				}
			case "oauthCallbackURL":
				callback = c.Value
			}
		}
		loc, _ := url.Parse(res.Location)
		if state == "" || state != loc.Query().Get("state") {
			t.Errorf("state cookie %q does not match redirect state", state)
		}
		if callback != "/submit" {
			t.Errorf("expected callback cookie /submit, got %q", callback)
		}
	})

	t.Run("external callback url is dropped", func(t *testing.T) {
		res := b.get("/auth/google?callbackURL=https://evil.example.com")
		for _, c := range res.Cookies {
			if c.Name == "oauthCallbackURL" {
				t.Errorf("unexpected callback cookie %q", c.Value)
			}
		}
	})

	t.Run("linking needs a session", func(t *testing.T) {
		res := b.get("/auth/google?link=true")
		if res.Location != "/login?error="+fa.ErrCodeSessionInvalid {
			t.Errorf("expected session error, got %d %q", res.Status, res.Location)
		}
	})
}

func TestProviderSignInHonorsCallbackURL(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("good", "g-1")

	b := env.newBrowser(t)
	state := b.beginAuth("/auth/google?callbackURL=/submit")
	res := b.callback("google", "good", state)
	if res.Location != "/submit" {
		t.Errorf("expected redirect to /submit, got %q", res.Location)
	}
}

func TestLogout(t *testing.T) {
	env := setupTestAuth(t)
	b := env.newBrowser(t)
	b.register("alice", "secret1")

	if b.identity() == "" {
		t.Fatal("expected to be signed in")
	}
	for i := 0; i < 2; i++ {
		res := b.postForm("/logout", nil)
		if res.Status != http.StatusFound {
			t.Errorf("logout %d: expected redirect, got %d", i, res.Status)
		}
	}
	if id := b.identity(); id != "" {
		t.Errorf("expected no identity after logout, got %q", id)
	}

	// a browser that never signed in can log out too
	if res := env.newBrowser(t).get("/logout"); res.Status != http.StatusFound {
		t.Errorf("expected redirect, got %d", res.Status)
	}
}

func TestSessionTokenRenewedOnLogin(t *testing.T) {
	env := setupTestAuth(t)
	env.newBrowser(t).register("alice", "secret1")

	b := env.newBrowser(t)
	first := b.login("alice", "secret1")
	second := b.login("alice", "secret1")

	token := func(res result) string {
		for _, c := range res.Cookies {
			if c.Name == fa.DefaultSessionCookieName {
				return c.Value
			}
		}
		return ""
	}
	if token(first) == "" || token(first) == token(second) {
		t.Errorf("expected a fresh session token on each login, got %q and %q", token(first), token(second))
	}
	for _, c := range first.Cookies {
		if c.Name == fa.DefaultSessionCookieName && (c.MaxAge != 0 || !c.Expires.IsZero()) {
			t.Error("the session cookie must end with the browser session")
		}
	}
}

func TestStoreOutageFailsClosed(t *testing.T) {
	env := setupTestAuth(t)
	env.Google.accept("good", "g-1")

	signedIn := env.newBrowser(t)
	signedIn.register("alice", "secret1")

	env.Users.down.Store(true)

	b := env.newBrowser(t)
	if res := b.register("bob", "secret1"); res.Status != http.StatusServiceUnavailable {
		t.Errorf("register: expected 503, got %d", res.Status)
	}
	if res := b.login("alice", "secret1"); res.Status != http.StatusServiceUnavailable {
		t.Errorf("login: expected 503, got %d", res.Status)
	}
	if res := b.signInWith("google", "good"); res.Status != http.StatusServiceUnavailable {
		t.Errorf("callback: expected 503, got %d", res.Status)
	}

	// an existing session cannot be resolved, so protected routes deny
	if res := signedIn.get("/submit"); res.Status != http.StatusFound || !strings.HasPrefix(res.Location, "/login") {
		t.Errorf("expected protected route to deny during outage, got %d %q", res.Status, res.Location)
	}

	env.Users.down.Store(false)
	if b.identity() != "" {
		t.Error("no session may be bound by a failed request")
	}
	if signedIn.identity() == "" {
		t.Error("the session should resolve again once the store is back")
	}
}
