package fedauth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const (
	oauthStateCookie    = "oauthstate"
	oauthCallbackCookie = "oauthCallbackURL"
)

func (a *FedAuth) setShortCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   a.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *FedAuth) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1, Expires: time.Unix(0, 0),
	})
}

// onBeginAuth redirects to the provider.  With ?link=true the signed-in
// identity is recorded in the state so the callback links instead of
// signing in.
func (a *FedAuth) onBeginAuth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	query := r.URL.Query()

	var opts BeginOptions
	if query.Get("link") == "true" {
		user := CurrentIdentity(r.Context())
		if user == nil {
			a.fail(w, r, a.LoginURL, ToAuthError(ErrSessionExpiredOrInvalid))
			return
		}
		opts.LinkUserID = user.ID
	}

	instr, err := a.Providers.BeginAuth(name, opts)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			http.NotFound(w, r)
			return
		}
		a.unavailable(w, r, err)
		return
	}

	ttl := a.Providers.State.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	a.setShortCookie(w, oauthStateCookie, instr.State, ttl)
	if cb := SafeRedirectPath(query.Get(a.Middleware.CallbackURLParam), ""); cb != "" {
		a.setShortCookie(w, oauthCallbackCookie, cb, ttl)
	}
	http.Redirect(w, r, instr.URL, http.StatusFound)
}

// onAuthCallback completes a provider round trip.  Any failure redirects to
// the login page without touching the session or the identity store.
func (a *FedAuth) onAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	if _, err := a.Providers.Get(name); err != nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	state := r.URL.Query().Get("state")

	stateCookie, _ := r.Cookie(oauthStateCookie)
	a.clearCookie(w, oauthStateCookie)
	if stateCookie == nil || stateCookie.Value == "" || stateCookie.Value != state {
		a.Logger.Warn("oauth state mismatch", "provider", name)
		a.Metrics.loginAttempt(name, "failure")
		a.fail(w, r, a.LoginURL, ToAuthError(ErrProviderRejected))
		return
	}

	profile, err := a.Providers.CompleteAuth(ctx, name, r.URL.Query())
	if err != nil {
		a.Logger.Warn("oauth callback failed", "provider", name, "error", err)
		a.Metrics.loginAttempt(name, "failure")
		a.fail(w, r, a.LoginURL, ToAuthError(err))
		return
	}
	claims, err := a.Providers.ParseState(name, state)
	if err != nil {
		a.fail(w, r, a.LoginURL, ToAuthError(err))
		return
	}

	target := a.SuccessURL
	if c, _ := r.Cookie(oauthCallbackCookie); c != nil {
		target = SafeRedirectPath(c.Value, a.SuccessURL)
		a.clearCookie(w, oauthCallbackCookie)
	}

	if claims.LinkUserID != "" {
		a.completeLink(w, r, claims.LinkUserID, profile, target)
		return
	}

	user, err := a.Resolver.ResolveExternal(ctx, profile.Provider, profile.ExternalID)
	if err != nil {
		if isStoreFailure(err) {
			a.unavailable(w, r, err)
			return
		}
		a.fail(w, r, a.LoginURL, ToAuthError(err))
		return
	}
	if err := a.Sessions.Bind(ctx, user); err != nil {
		a.unavailable(w, r, err)
		return
	}
	a.Metrics.loginAttempt(name, "success")
	a.Logger.Info("signed in with provider", "provider", name, "user_id", user.ID)
	a.succeed(w, r, user, target)
}

// completeLink attaches the provider account to the identity that started
// the flow.  The session must still belong to that identity.
func (a *FedAuth) completeLink(w http.ResponseWriter, r *http.Request, linkUserID string, profile *ExternalProfile, target string) {
	current := CurrentIdentity(r.Context())
	if current == nil || current.ID != linkUserID {
		a.fail(w, r, a.LoginURL, ToAuthError(ErrSessionExpiredOrInvalid))
		return
	}
	user, err := a.Resolver.LinkExternal(r.Context(), current.ID, profile)
	if err != nil {
		if isStoreFailure(err) {
			a.unavailable(w, r, err)
			return
		}
		a.Logger.Info("link rejected", "provider", profile.Provider, "user_id", current.ID, "error", err)
		a.fail(w, r, target, ToAuthError(err))
		return
	}
	a.succeed(w, r, user, target)
}
