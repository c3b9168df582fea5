package oauth2_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/oauth2"
)

// fakeIssuer is a minimal OpenID Connect issuer with discovery, a key set
// and a token endpoint that mints ID tokens.
type fakeIssuer struct {
	server  *httptest.Server
	key     *rsa.PrivateKey
	subject string
	aud     string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeIssuer{key: key, subject: "kc-user-1", aud: "test-client-id"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                f.server.URL,
			"authorization_endpoint":                f.server.URL + "/auth",
			"token_endpoint":                        f.server.URL + "/token",
			"jwks_uri":                              f.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "test-key",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   300,
			"id_token":     f.idToken(t),
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) idToken(t *testing.T) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   f.server.URL,
		"sub":   f.subject,
		"aud":   f.aud,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"email": "kc@example.com",
		"name":  "Key Cloak",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeIssuer) config() fa.ProviderConfig {
	return fa.ProviderConfig{
		Name:         "keycloak",
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		CallbackURL:  "http://localhost:8080/auth/keycloak/callback",
		IssuerURL:    f.server.URL,
	}
}

func TestOIDCProvider(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctx := context.Background()

	strategy, err := oauth2.New(ctx, issuer.config())
	require.NoError(t, err)
	assert.Equal(t, "keycloak", strategy.Name())
	assert.Contains(t, strategy.AuthCodeURL("st"), issuer.server.URL+"/auth?")

	t.Run("subject becomes the external id", func(t *testing.T) {
		profile, err := strategy.Exchange(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, "keycloak", profile.Provider)
		assert.Equal(t, "kc-user-1", profile.ExternalID)
		assert.Equal(t, "kc@example.com", profile.Email)
		assert.Equal(t, "Key Cloak", profile.DisplayName)
	})

	t.Run("token for another client is rejected", func(t *testing.T) {
		issuer.aud = "someone-else"
		defer func() { issuer.aud = "test-client-id" }()

		_, err := strategy.Exchange(ctx, "code")
		assert.ErrorIs(t, err, fa.ErrProviderRejected)
	})

	t.Run("token without subject is incomplete", func(t *testing.T) {
		issuer.subject = ""
		defer func() { issuer.subject = "kc-user-1" }()

		_, err := strategy.Exchange(ctx, "code")
		assert.Error(t, err)
	})
}

func TestOIDCDiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := oauth2.NewOIDCProvider(context.Background(), fa.ProviderConfig{
		Name:      "keycloak",
		ClientID:  "id",
		IssuerURL: server.URL,
	})
	assert.Error(t, err)
}
