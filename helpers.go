package fedauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// GenerateSecureToken returns 32 random bytes encoded as URL-safe base64.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SafeRedirectPath returns target if it is a local absolute path, otherwise
// fallback.  Scheme-relative ("//host") and backslash tricks are refused.
func SafeRedirectPath(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}

// withQuery appends key=value to a path that may already carry a query.
func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

// parseFields reads the named fields from a urlencoded/multipart form or a
// JSON object body.
func parseFields(r *http.Request, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, fmt.Errorf("invalid post body")
		}
		for _, name := range names {
			if v, ok := data[name].(string); ok {
				out[name] = v
			}
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("error parsing form")
	}
	for _, name := range names {
		out[name] = r.PostFormValue(name)
	}
	return out, nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error writing response", "error", err)
	}
}

func writeAuthError(w http.ResponseWriter, authErr *AuthError) {
	writeJSON(w, authErr.StatusCode(), map[string]any{"error": authErr})
}
