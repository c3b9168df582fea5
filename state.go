package fedauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL bounds how long a user may take at the provider.
const DefaultStateTTL = 10 * time.Minute

// StateClaims travel through the provider inside the OAuth2 state parameter.
type StateClaims struct {
	Provider   string `json:"prv"`
	LinkUserID string `json:"lnk,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks signed OAuth2 state values so that no
// server side state is needed between BeginAuth and CompleteAuth.
type StateSigner struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func NewStateSigner(secret []byte) *StateSigner {
	return &StateSigner{Secret: secret, Issuer: "fedauth", TTL: DefaultStateTTL}
}

// Issue returns a state value bound to provider.  linkUserID is empty unless
// the flow should attach the provider account to an existing identity.
func (s *StateSigner) Issue(provider, linkUserID string) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("state secret is not configured")
	}
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	now := time.Now()
	claims := StateClaims{
		Provider:   provider,
		LinkUserID: linkUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Verify checks signature, expiry and that the state was issued for provider.
func (s *StateSigner) Verify(state, provider string) (*StateClaims, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state", ErrProviderRejected)
	}
	claims := &StateClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid state: %w", ErrProviderRejected, err)
	}
	if claims.Provider != provider {
		return nil, fmt.Errorf("%w: state issued for %q", ErrProviderRejected, claims.Provider)
	}
	return claims, nil
}
