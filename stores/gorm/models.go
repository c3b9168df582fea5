//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	fa "github.com/panyam/fedauth"
)

// UserModel is the GORM model for identities
type UserModel struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Username     *string `gorm:"size:255;uniqueIndex"`
	PasswordHash string  `gorm:"size:255"`
	HashVersion  string  `gorm:"size:32"`
	SecretText   *string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int `gorm:"default:1"`

	Links []ExternalLinkModel `gorm:"foreignKey:UserID"`
}

func (UserModel) TableName() string {
	return "fedauth_users"
}

// ExternalLinkModel is the GORM model for provider links
type ExternalLinkModel struct {
	Provider   string `gorm:"primaryKey;size:64;uniqueIndex:idx_fedauth_user_provider,priority:2"`
	ExternalID string `gorm:"primaryKey;size:255"`
	UserID     string `gorm:"size:64;not null;uniqueIndex:idx_fedauth_user_provider,priority:1"`
	CreatedAt  time.Time
}

func (ExternalLinkModel) TableName() string {
	return "fedauth_external_links"
}

func (m *UserModel) ToIdentity() *fa.UserIdentity {
	user := &fa.UserIdentity{
		ID:         m.ID,
		SecretText: m.SecretText,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Version:    m.Version,
	}
	if m.Username != nil && *m.Username != "" {
		user.LocalCredential = &fa.LocalCredential{
			Username:     *m.Username,
			PasswordHash: m.PasswordHash,
			HashVersion:  m.HashVersion,
		}
	}
	if len(m.Links) > 0 {
		user.ExternalLinks = make(map[string]string, len(m.Links))
		for _, l := range m.Links {
			user.ExternalLinks[l.Provider] = l.ExternalID
		}
	}
	return user
}

// IdentityToModel converts an identity into its row without links
func IdentityToModel(u *fa.UserIdentity) *UserModel {
	m := &UserModel{
		ID:         u.ID,
		SecretText: u.SecretText,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
		Version:    u.Version,
	}
	if u.LocalCredential != nil {
		username := u.LocalCredential.Username
		m.Username = &username
		m.PasswordHash = u.LocalCredential.PasswordHash
		m.HashVersion = u.LocalCredential.HashVersion
	}
	return m
}
