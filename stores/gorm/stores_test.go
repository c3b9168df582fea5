//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/stores/storetest"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fedauth.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer; a single connection serializes the
	// concurrent find-or-create subtests instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestUserStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) fa.UserStore {
		return NewUserStore(openTestDB(t))
	})
}

func TestModelRoundTrip(t *testing.T) {
	secret := "s"
	user := &fa.UserIdentity{
		ID:              "u1",
		LocalCredential: &fa.LocalCredential{Username: "alice", PasswordHash: "h", HashVersion: "bcrypt"},
		SecretText:      &secret,
		Version:         3,
	}
	model := IdentityToModel(user)
	require.NotNil(t, model.Username)
	assert.Equal(t, "alice", *model.Username)

	model.Links = []ExternalLinkModel{{Provider: "google", ExternalID: "g-1", UserID: "u1"}}
	back := model.ToIdentity()
	assert.Equal(t, "alice", back.Username())
	assert.Equal(t, "g-1", back.ExternalID("google"))
	assert.Equal(t, 3, back.Version)
}

func TestVersionAdvancesOnUpdate(t *testing.T) {
	s := NewUserStore(openTestDB(t))
	ctx := context.Background()
	user, _, err := s.FindOrCreateExternal(ctx, "google", "g-5")
	require.NoError(t, err)
	assert.Equal(t, 1, user.Version)

	updated, err := s.SetSecretText(ctx, user.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	db := openTestDB(t)
	s := NewUserStore(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.GetUserById(context.Background(), "anything")
	assert.ErrorIs(t, err, fa.ErrStoreUnavailable)
}

// A link row that lost the race for the user's provider slot must surface as
// ErrProviderAlreadyLinked, not as a taken external id.
func TestInsertLinkConflicts(t *testing.T) {
	db := openTestDB(t)
	s := NewUserStore(db)
	ctx := context.Background()

	alice, _, err := s.FindOrCreateExternal(ctx, "google", "g-1")
	require.NoError(t, err)
	bob, _, err := s.FindOrCreateExternal(ctx, "github", "h-1")
	require.NoError(t, err)

	err = insertLink(db, &ExternalLinkModel{Provider: "google", ExternalID: "g-2", UserID: alice.ID})
	assert.ErrorIs(t, err, fa.ErrProviderAlreadyLinked)

	err = insertLink(db, &ExternalLinkModel{Provider: "google", ExternalID: "g-1", UserID: bob.ID})
	assert.ErrorIs(t, err, fa.ErrExternalIDTaken)

	require.NoError(t, insertLink(db, &ExternalLinkModel{Provider: "google", ExternalID: "g-3", UserID: bob.ID}))
	user, err := s.GetUserById(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-3", user.ExternalID("google"))
}
