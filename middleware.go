package fedauth

import (
	"log/slog"
	"net/http"
	"net/url"
)

// Middleware resolves the session identity for each request and guards
// protected handlers.
type Middleware struct {
	Sessions *SessionManager
	Gate     AccessGate
	Logger   *slog.Logger

	// LoginURL is where denied browser requests are sent.  When empty a
	// 401 is returned instead.
	LoginURL string

	// CallbackURLParam carries the original path to the login page.
	CallbackURLParam string
}

func (m *Middleware) EnsureReasonableDefaults() {
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// ExtractUser resolves the session identity and makes it available through
// CurrentIdentity.  It never rejects a request; a store failure leaves the
// request unauthenticated.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Sessions.Resolve(r.Context())
		if err != nil {
			m.Logger.Error("failed to resolve session identity", "path", r.URL.Path, "error", err)
			user = nil
		}
		if user != nil {
			r = r.WithContext(WithIdentity(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser lets the request through only when the gate allows it.
// Denied requests are redirected to LoginURL with the original path or get a
// 401 when no LoginURL is set.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := m.Gate.Authorize(r.Context())
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		if m.LoginURL == "" || wantsJSON(r) {
			http.Error(w, "Login Required", http.StatusUnauthorized)
			return
		}
		original := r.URL.Path
		if r.URL.RawQuery != "" {
			original += "?" + r.URL.RawQuery
		}
		target := m.LoginURL + "?" + m.CallbackURLParam + "=" + url.QueryEscape(original)
		http.Redirect(w, r, target, http.StatusFound)
	})
}
