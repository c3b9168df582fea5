package fedauth

import (
	"net/http"
	"strings"
)

const secretField = "secret"

// onListSecrets shows every submitted secret without revealing whose it is.
func (a *FedAuth) onListSecrets(w http.ResponseWriter, r *http.Request) {
	users, err := a.Users.ListUsersWithSecrets(r.Context())
	if err != nil {
		a.unavailable(w, r, err)
		return
	}
	secrets := make([]string, 0, len(users))
	for _, u := range users {
		if u.HasSecret() {
			secrets = append(secrets, *u.SecretText)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secrets":   secrets,
		"logged_in": CurrentIdentity(r.Context()) != nil,
	})
}

func (a *FedAuth) onShowSubmit(w http.ResponseWriter, r *http.Request) {
	user := CurrentIdentity(r.Context())
	secret := ""
	if user.SecretText != nil {
		secret = *user.SecretText
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     user.ID,
		"secret": secret,
		"error":  r.URL.Query().Get("error"),
	})
}

func (a *FedAuth) onSubmit(w http.ResponseWriter, r *http.Request) {
	user := CurrentIdentity(r.Context())
	fields, err := parseFields(r, secretField)
	if err != nil || strings.TrimSpace(fields[secretField]) == "" {
		a.fail(w, r, "/submit", NewAuthError(ErrCodeMissingField, "Secret is required", secretField))
		return
	}
	updated, err := a.Users.SetSecretText(r.Context(), user.ID, fields[secretField])
	if err != nil {
		a.unavailable(w, r, err)
		return
	}
	a.Logger.Info("secret submitted", "user_id", user.ID)
	a.succeed(w, r, updated, a.SecretsURL)
}
