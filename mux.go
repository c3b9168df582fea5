package fedauth

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// FedAuth wires credential verification, provider federation, identity
// resolution and sessions onto an HTTP router.
type FedAuth struct {
	// Optional name used in log lines
	AppName string

	// Must be passed in
	Users     UserStore
	Sessions  *SessionManager
	Providers *ProviderRegistry

	// Built from the above when nil
	Resolver   *IdentityResolver
	Verifier   *CredentialVerifier
	Middleware Middleware
	Metrics    *Metrics
	Logger     *slog.Logger

	// Where the user agent is sent after each flow
	LoginURL    string
	RegisterURL string
	SuccessURL  string
	HomeURL     string
	SecretsURL  string

	// Marks the short lived OAuth cookies Secure
	SecureCookies bool

	routerOnce sync.Once
	router     *mux.Router
}

func New(users UserStore, sessions *SessionManager, providers *ProviderRegistry) *FedAuth {
	return (&FedAuth{Users: users, Sessions: sessions, Providers: providers}).EnsureDefaults()
}

func (a *FedAuth) EnsureDefaults() *FedAuth {
	if a.AppName == "" {
		a.AppName = "fedauth"
	}
	if a.Logger == nil {
		a.Logger = slog.Default().With("app", a.AppName)
	}
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.RegisterURL == "" {
		a.RegisterURL = "/register"
	}
	if a.SuccessURL == "" {
		a.SuccessURL = "/secrets"
	}
	if a.HomeURL == "" {
		a.HomeURL = "/"
	}
	if a.SecretsURL == "" {
		a.SecretsURL = "/secrets"
	}
	if a.Resolver == nil {
		a.Resolver = &IdentityResolver{Users: a.Users}
	}
	if a.Resolver.Metrics == nil {
		a.Resolver.Metrics = a.Metrics
	}
	if a.Resolver.Logger == nil {
		a.Resolver.Logger = a.Logger
	}
	if a.Verifier == nil {
		a.Verifier = &CredentialVerifier{Users: a.Users}
	}
	if a.Verifier.Resolver == nil {
		a.Verifier.Resolver = a.Resolver
	}
	a.Verifier.EnsureDefaults()
	if a.Sessions != nil {
		a.Sessions.Metrics = a.Metrics
		a.Sessions.Logger = a.Logger
		a.Middleware.Sessions = a.Sessions
	}
	if a.Middleware.LoginURL == "" {
		a.Middleware.LoginURL = a.LoginURL
	}
	a.Middleware.Logger = a.Logger
	a.Middleware.EnsureReasonableDefaults()
	return a
}

// Router returns the router so applications can mount their own routes
// before calling Handler.
func (a *FedAuth) Router() *mux.Router {
	a.routerOnce.Do(a.setupRoutes)
	return a.router
}

// Handler returns the full handler: session load/save, identity extraction
// and all routes.
func (a *FedAuth) Handler() http.Handler {
	return a.Sessions.LoadAndSave(a.Middleware.ExtractUser(a.Router()))
}

// Protect guards h with the access gate.
func (a *FedAuth) Protect(h http.Handler) http.Handler {
	return a.Middleware.EnsureUser(h)
}

func (a *FedAuth) setupRoutes() {
	r := mux.NewRouter()
	r.HandleFunc("/register", a.onRegisterForm).Methods(http.MethodGet)
	r.HandleFunc("/register", a.onRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", a.onLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", a.onLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.onLogout).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/auth/{provider}", a.onBeginAuth).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/callback", a.onAuthCallback).Methods(http.MethodGet)
	r.Handle("/account/password", a.Protect(http.HandlerFunc(a.onAttachCredential))).Methods(http.MethodPost)

	r.HandleFunc("/secrets", a.onListSecrets).Methods(http.MethodGet)
	r.Handle("/submit", a.Protect(http.HandlerFunc(a.onShowSubmit))).Methods(http.MethodGet)
	r.Handle("/submit", a.Protect(http.HandlerFunc(a.onSubmit))).Methods(http.MethodPost)
	a.router = r
}

// fail sends the user agent back to formURL with an error code, or writes
// the error as JSON for API callers.
func (a *FedAuth) fail(w http.ResponseWriter, r *http.Request, formURL string, authErr *AuthError) {
	if wantsJSON(r) {
		writeAuthError(w, authErr)
		return
	}
	http.Redirect(w, r, withQuery(formURL, "error", authErr.Code), http.StatusFound)
}

// unavailable fails the request closed.  No session is bound.
func (a *FedAuth) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	a.Logger.Error("request failed", "path", r.URL.Path, "error", err)
	authErr := ToAuthError(err)
	if wantsJSON(r) {
		writeAuthError(w, authErr)
		return
	}
	http.Error(w, authErr.Message, authErr.StatusCode())
}

func (a *FedAuth) succeed(w http.ResponseWriter, r *http.Request, user *UserIdentity, target string) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"username": user.Username(),
			"redirect": target,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
