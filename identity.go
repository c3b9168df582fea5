package fedauth

import (
	"context"
	"time"
)

// UserIdentity is the canonical account record. An identity may hold a local
// credential, any number of provider links (one per provider), or both.
type UserIdentity struct {
	ID              string            `json:"id"`
	LocalCredential *LocalCredential  `json:"local_credential,omitempty"`
	ExternalLinks   map[string]string `json:"external_links,omitempty"` // provider -> external id
	SecretText      *string           `json:"secret_text,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int               `json:"version"` // bumped on every write
}

// LocalCredential holds a username and its salted password hash.  The
// plaintext password is never stored.
type LocalCredential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	HashVersion  string `json:"hash_version"`
}

// ExternalProfile is what a provider hands back after a successful code
// exchange.  Only Provider and ExternalID take part in identity resolution.
type ExternalProfile struct {
	Provider    string         `json:"provider"`
	ExternalID  string         `json:"external_id"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

func (u *UserIdentity) HasLocalCredential() bool {
	return u.LocalCredential != nil && u.LocalCredential.Username != ""
}

func (u *UserIdentity) Username() string {
	if u.LocalCredential == nil {
		return ""
	}
	return u.LocalCredential.Username
}

// ExternalID returns the id linked for provider, or "" if none.
func (u *UserIdentity) ExternalID(provider string) string {
	return u.ExternalLinks[provider]
}

func (u *UserIdentity) HasSecret() bool {
	return u.SecretText != nil && *u.SecretText != ""
}

// UserStore persists identities.  Implementations must make the uniqueness
// operations (CreateLocalUser, FindOrCreateExternal, LinkExternal,
// SetLocalCredential) atomic across processes sharing the same backend.
//
// Infrastructure failures are returned wrapping ErrStoreUnavailable.
type UserStore interface {
	// GetUserById returns ErrUserNotFound if no identity has this id.
	GetUserById(ctx context.Context, userId string) (*UserIdentity, error)

	// GetUserByUsername returns ErrUserNotFound if no identity holds the username.
	GetUserByUsername(ctx context.Context, username string) (*UserIdentity, error)

	// CreateLocalUser creates a new identity holding cred.  Returns
	// ErrDuplicateUsername if the username is already claimed.
	CreateLocalUser(ctx context.Context, cred LocalCredential) (*UserIdentity, error)

	// FindOrCreateExternal returns the identity linked to (provider,
	// externalID), creating it if absent.  Concurrent callers for the same
	// pair all observe the same identity and exactly one reports created.
	FindOrCreateExternal(ctx context.Context, provider, externalID string) (user *UserIdentity, created bool, err error)

	// LinkExternal attaches (provider, externalID) to an existing identity.
	// Returns ErrExternalIDTaken if another identity holds the pair and
	// ErrProviderAlreadyLinked if this identity holds a different id for the
	// provider.  Linking the same pair twice is a no-op.
	LinkExternal(ctx context.Context, userId, provider, externalID string) (*UserIdentity, error)

	// SetLocalCredential gives an identity without a local credential one.
	// Returns ErrCredentialExists or ErrDuplicateUsername.
	SetLocalCredential(ctx context.Context, userId string, cred LocalCredential) (*UserIdentity, error)

	// SetSecretText attaches the free-form payload to an identity.
	SetSecretText(ctx context.Context, userId string, text string) (*UserIdentity, error)

	// ListUsersWithSecrets returns identities with a non-empty payload,
	// oldest first.
	ListUsersWithSecrets(ctx context.Context) ([]*UserIdentity, error)
}
