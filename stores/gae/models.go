//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	fa "github.com/panyam/fedauth"
)

// UserEntity is the Datastore entity for identities
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	HashVersion  string         `datastore:"hash_version,noindex"`
	Links        []byte         `datastore:"links,noindex"` // JSON encoded provider -> external id
	SecretText   string         `datastore:"secret_text,noindex"`
	HasSecret    bool           `datastore:"has_secret"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
	Version      int            `datastore:"version"`
}

// KeyEntity reserves a unique name (username or provider account) for a user
type KeyEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *UserEntity) ToIdentity() *fa.UserIdentity {
	user := &fa.UserIdentity{
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Version:   e.Version,
	}
	if e.Key != nil {
		user.ID = e.Key.Name
	}
	if e.Username != "" {
		user.LocalCredential = &fa.LocalCredential{
			Username:     e.Username,
			PasswordHash: e.PasswordHash,
			HashVersion:  e.HashVersion,
		}
	}
	if len(e.Links) > 0 {
		var links map[string]string
		if err := json.Unmarshal(e.Links, &links); err == nil && len(links) > 0 {
			user.ExternalLinks = links
		}
	}
	if e.HasSecret {
		s := e.SecretText
		user.SecretText = &s
	}
	return user
}

func IdentityToEntity(u *fa.UserIdentity, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:       key,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Version:   u.Version,
	}
	if u.LocalCredential != nil {
		e.Username = u.LocalCredential.Username
		e.PasswordHash = u.LocalCredential.PasswordHash
		e.HashVersion = u.LocalCredential.HashVersion
	}
	if len(u.ExternalLinks) > 0 {
		e.Links, _ = json.Marshal(u.ExternalLinks)
	}
	if u.SecretText != nil && *u.SecretText != "" {
		e.SecretText = *u.SecretText
		e.HasSecret = true
	}
	return e
}
