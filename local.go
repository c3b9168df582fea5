package fedauth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	usernameField = "username"
	passwordField = "password"
)

// isStoreFailure separates infrastructure failures from user errors.
func isStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func (a *FedAuth) onRegisterForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"error": r.URL.Query().Get("error"),
	})
}

func (a *FedAuth) onLoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"error":       r.URL.Query().Get("error"),
		"providers":   a.Providers.Names(),
		"callbackURL": SafeRedirectPath(r.URL.Query().Get(a.Middleware.CallbackURLParam), ""),
	})
}

// onRegister creates a local identity and signs it in.
func (a *FedAuth) onRegister(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r, usernameField, passwordField)
	if err != nil {
		a.fail(w, r, a.RegisterURL, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	if strings.TrimSpace(fields[usernameField]) == "" || fields[passwordField] == "" {
		a.fail(w, r, a.RegisterURL, NewAuthError(ErrCodeMissingField, "Username and password are required", ""))
		return
	}

	user, err := a.Verifier.Register(r.Context(), fields[usernameField], fields[passwordField])
	if err != nil {
		if isStoreFailure(err) {
			a.unavailable(w, r, err)
			return
		}
		a.Logger.Info("registration rejected", "error", err)
		a.fail(w, r, a.RegisterURL, ToAuthError(err))
		return
	}
	if err := a.Sessions.Bind(r.Context(), user); err != nil {
		a.unavailable(w, r, err)
		return
	}
	a.succeed(w, r, user, a.SuccessURL)
}

// onLogin verifies a local credential.  Verify is the only gate: nothing
// about the session changes until it succeeds.
func (a *FedAuth) onLogin(w http.ResponseWriter, r *http.Request) {
	callbackParam := a.Middleware.CallbackURLParam
	fields, err := parseFields(r, usernameField, passwordField, callbackParam)
	if err != nil {
		a.fail(w, r, a.LoginURL, NewAuthError(ErrCodeMissingField, err.Error(), ""))
		return
	}
	if fields[usernameField] == "" || fields[passwordField] == "" {
		a.Metrics.loginAttempt("local", "failure")
		a.fail(w, r, a.LoginURL, ToAuthError(ErrInvalidCredential))
		return
	}

	user, err := a.Verifier.Verify(r.Context(), fields[usernameField], fields[passwordField])
	if err != nil {
		if errors.Is(err, ErrLoginFailed) {
			a.Metrics.loginAttempt("local", "failure")
			a.fail(w, r, a.LoginURL, ToAuthError(err))
			return
		}
		a.Metrics.loginAttempt("local", "error")
		a.unavailable(w, r, err)
		return
	}
	if err := a.Sessions.Bind(r.Context(), user); err != nil {
		a.unavailable(w, r, err)
		return
	}
	a.Metrics.loginAttempt("local", "success")
	a.succeed(w, r, user, SafeRedirectPath(fields[callbackParam], a.SuccessURL))
}

func (a *FedAuth) onLogout(w http.ResponseWriter, r *http.Request) {
	if user := CurrentIdentity(r.Context()); user != nil {
		a.Logger.Info("logging out", "user_id", user.ID)
	}
	if err := a.Sessions.Invalidate(r.Context()); err != nil {
		a.unavailable(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
		return
	}
	http.Redirect(w, r, a.HomeURL, http.StatusFound)
}

// onAttachCredential lets an identity created through a provider also sign
// in with a username and password.
func (a *FedAuth) onAttachCredential(w http.ResponseWriter, r *http.Request) {
	user := CurrentIdentity(r.Context())
	fields, err := parseFields(r, usernameField, passwordField)
	if err != nil || fields[usernameField] == "" || fields[passwordField] == "" {
		a.fail(w, r, a.SuccessURL, NewAuthError(ErrCodeMissingField, "Username and password are required", ""))
		return
	}
	updated, err := a.Verifier.AttachCredential(r.Context(), user.ID, fields[usernameField], fields[passwordField])
	if err != nil {
		if isStoreFailure(err) {
			a.unavailable(w, r, err)
			return
		}
		a.fail(w, r, a.SuccessURL, ToAuthError(err))
		return
	}
	a.succeed(w, r, updated, a.SuccessURL)
}
