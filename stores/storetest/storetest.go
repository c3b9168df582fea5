// Package storetest is a conformance suite every fedauth.UserStore backend
// runs from its own tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fa "github.com/panyam/fedauth"
)

// Factory returns an empty store.  It is called once per subtest.
type Factory func(t *testing.T) fa.UserStore

func cred(username string) fa.LocalCredential {
	return fa.LocalCredential{Username: username, PasswordHash: "$2a$04$notarealhash", HashVersion: fa.HashVersionBcrypt}
}

// Run exercises the full UserStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("CreateAndGetLocalUser", func(t *testing.T) {
		s := newStore(t)
		user, err := s.CreateLocalUser(ctx, cred("alice"))
		require.NoError(t, err)
		require.NotEmpty(t, user.ID)
		assert.Equal(t, "alice", user.Username())

		byId, err := s.GetUserById(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byId.ID)
		assert.Equal(t, "$2a$04$notarealhash", byId.LocalCredential.PasswordHash)

		byName, err := s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStore(t)
		first, err := s.CreateLocalUser(ctx, cred("bob"))
		require.NoError(t, err)

		_, err = s.CreateLocalUser(ctx, cred("bob"))
		assert.ErrorIs(t, err, fa.ErrDuplicateUsername)

		owner, err := s.GetUserByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, first.ID, owner.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUserById(ctx, "does-not-exist")
		assert.ErrorIs(t, err, fa.ErrUserNotFound)
		_, err = s.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, fa.ErrUserNotFound)
		_, err = s.SetSecretText(ctx, "does-not-exist", "x")
		assert.ErrorIs(t, err, fa.ErrUserNotFound)
	})

	t.Run("FindOrCreateExternalIsStable", func(t *testing.T) {
		s := newStore(t)
		first, created, err := s.FindOrCreateExternal(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "g-1", first.ExternalID("google"))

		second, created, err := s.FindOrCreateExternal(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		other, created, err := s.FindOrCreateExternal(ctx, "facebook", "g-1")
		require.NoError(t, err)
		assert.True(t, created, "external ids are scoped to their provider")
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("ConcurrentFindOrCreateExternal", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		var wg sync.WaitGroup
		ids := make([]string, n)
		createdCount := make([]bool, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user, created, err := s.FindOrCreateExternal(ctx, "google", "g-42")
				errs[i] = err
				createdCount[i] = created
				if user != nil {
					ids[i] = user.ID
				}
			}(i)
		}
		wg.Wait()

		creators := 0
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
			if createdCount[i] {
				creators++
			}
		}
		assert.Equal(t, 1, creators)
	})

	t.Run("LinkExternal", func(t *testing.T) {
		s := newStore(t)
		local, err := s.CreateLocalUser(ctx, cred("carol"))
		require.NoError(t, err)

		linked, err := s.LinkExternal(ctx, local.ID, "github", "gh-7")
		require.NoError(t, err)
		assert.Equal(t, "gh-7", linked.ExternalID("github"))

		again, err := s.LinkExternal(ctx, local.ID, "github", "gh-7")
		require.NoError(t, err, "linking the same pair twice is a no-op")
		assert.Equal(t, local.ID, again.ID)

		found, created, err := s.FindOrCreateExternal(ctx, "github", "gh-7")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, local.ID, found.ID)

		_, err = s.LinkExternal(ctx, local.ID, "github", "gh-8")
		assert.ErrorIs(t, err, fa.ErrProviderAlreadyLinked)
	})

	t.Run("LinkExternalTakenByAnotherIdentity", func(t *testing.T) {
		s := newStore(t)
		owner, _, err := s.FindOrCreateExternal(ctx, "google", "g-9")
		require.NoError(t, err)
		other, err := s.CreateLocalUser(ctx, cred("dave"))
		require.NoError(t, err)

		_, err = s.LinkExternal(ctx, other.ID, "google", "g-9")
		assert.ErrorIs(t, err, fa.ErrExternalIDTaken)

		// neither identity changes
		reloaded, err := s.GetUserById(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, reloaded.ExternalID("google"))
		still, _, err := s.FindOrCreateExternal(ctx, "google", "g-9")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, still.ID)
	})

	t.Run("SetLocalCredential", func(t *testing.T) {
		s := newStore(t)
		ext, _, err := s.FindOrCreateExternal(ctx, "linkedin", "li-1")
		require.NoError(t, err)
		_, err = s.CreateLocalUser(ctx, cred("taken"))
		require.NoError(t, err)

		_, err = s.SetLocalCredential(ctx, ext.ID, cred("taken"))
		assert.ErrorIs(t, err, fa.ErrDuplicateUsername)

		updated, err := s.SetLocalCredential(ctx, ext.ID, cred("erin"))
		require.NoError(t, err)
		assert.Equal(t, "erin", updated.Username())
		assert.Equal(t, "li-1", updated.ExternalID("linkedin"))

		byName, err := s.GetUserByUsername(ctx, "erin")
		require.NoError(t, err)
		assert.Equal(t, ext.ID, byName.ID)

		_, err = s.SetLocalCredential(ctx, ext.ID, cred("erin2"))
		assert.ErrorIs(t, err, fa.ErrCredentialExists)
	})

	t.Run("SecretsListing", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateLocalUser(ctx, cred("frank"))
		require.NoError(t, err)
		b, _, err := s.FindOrCreateExternal(ctx, "google", "g-100")
		require.NoError(t, err)
		_, err = s.CreateLocalUser(ctx, cred("gina"))
		require.NoError(t, err)

		list, err := s.ListUsersWithSecrets(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		updated, err := s.SetSecretText(ctx, a.ID, "I like pineapple pizza")
		require.NoError(t, err)
		require.NotNil(t, updated.SecretText)
		assert.Equal(t, "I like pineapple pizza", *updated.SecretText)
		_, err = s.SetSecretText(ctx, b.ID, "I sing in the shower")
		require.NoError(t, err)

		list, err = s.ListUsersWithSecrets(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		got := map[string]string{}
		for _, u := range list {
			got[u.ID] = *u.SecretText
		}
		assert.Equal(t, "I like pineapple pizza", got[a.ID])
		assert.Equal(t, "I sing in the shower", got[b.ID])
	})
}
