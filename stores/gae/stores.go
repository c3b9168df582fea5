//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	fa "github.com/panyam/fedauth"
)

// Kind constants for Datastore entities
const (
	KindUser         = "User"
	KindUsername     = "Username"
	KindExternalLink = "ExternalLink"
)

// UserStore implements fa.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{client: client, namespace: namespace}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) linkKey(provider, externalID string) *datastore.Key {
	return s.namespacedKey(KindExternalLink, provider+":"+externalID)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", fa.ErrStoreUnavailable, err)
}

// passThrough keeps domain errors raised inside a transaction intact.
func passThrough(err error) error {
	for _, domain := range []error{fa.ErrUserNotFound, fa.ErrDuplicateUsername, fa.ErrExternalIDTaken, fa.ErrProviderAlreadyLinked, fa.ErrCredentialExists} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return unavailable(err)
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*fa.UserIdentity, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, userId), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
		}
		return nil, unavailable(err)
	}
	return entity.ToIdentity(), nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*fa.UserIdentity, error) {
	var reservation KeyEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUsername, username), &reservation); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, username)
		}
		return nil, unavailable(err)
	}
	return s.GetUserById(ctx, reservation.UserID)
}

func newEntity(key *datastore.Key) *UserEntity {
	now := time.Now().UTC()
	return &UserEntity{Key: key, CreatedAt: now, UpdatedAt: now, Version: 1}
}

// reserve claims key for userId inside tx.  It reports the current owner
// when the key is already taken.
func reserve(tx *datastore.Transaction, key *datastore.Key, userId string) (owner string, err error) {
	var existing KeyEntity
	err = tx.Get(key, &existing)
	if err == nil {
		return existing.UserID, nil
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return "", err
	}
	_, err = tx.Put(key, &KeyEntity{Key: key, UserID: userId, CreatedAt: time.Now().UTC()})
	return userId, err
}

func (s *UserStore) CreateLocalUser(ctx context.Context, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	userKey := s.namespacedKey(KindUser, uuid.NewString())
	entity := newEntity(userKey)
	entity.Username = cred.Username
	entity.PasswordHash = cred.PasswordHash
	entity.HashVersion = cred.HashVersion

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		owner, err := reserve(tx, s.namespacedKey(KindUsername, cred.Username), userKey.Name)
		if err != nil {
			return err
		}
		if owner != userKey.Name {
			return fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
		}
		_, err = tx.Put(userKey, entity)
		return err
	})
	if err != nil {
		return nil, passThrough(err)
	}
	return entity.ToIdentity(), nil
}

func (s *UserStore) FindOrCreateExternal(ctx context.Context, provider, externalID string) (*fa.UserIdentity, bool, error) {
	userKey := s.namespacedKey(KindUser, uuid.NewString())
	var owner string
	var entity *UserEntity

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var err error
		entity = nil
		owner, err = reserve(tx, s.linkKey(provider, externalID), userKey.Name)
		if err != nil || owner != userKey.Name {
			return err
		}
		entity = IdentityToEntity(&fa.UserIdentity{ExternalLinks: map[string]string{provider: externalID}}, userKey)
		now := time.Now().UTC()
		entity.CreatedAt, entity.UpdatedAt, entity.Version = now, now, 1
		_, err = tx.Put(userKey, entity)
		return err
	}, datastore.MaxAttempts(5))
	if err != nil {
		return nil, false, unavailable(err)
	}
	if entity != nil {
		return entity.ToIdentity(), true, nil
	}
	user, err := s.GetUserById(ctx, owner)
	return user, false, err
}

// mutate loads a user inside a transaction, applies fn and writes it back.
func (s *UserStore) mutate(ctx context.Context, userId string, fn func(tx *datastore.Transaction, user *fa.UserIdentity) (changed bool, err error)) (*fa.UserIdentity, error) {
	key := s.namespacedKey(KindUser, userId)
	var out *fa.UserIdentity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
			}
			return err
		}
		user := entity.ToIdentity()
		user.ID = userId
		changed, err := fn(tx, user)
		if err != nil {
			return err
		}
		if changed {
			user.UpdatedAt = time.Now().UTC()
			user.Version++
			if _, err := tx.Put(key, IdentityToEntity(user, key)); err != nil {
				return err
			}
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, passThrough(err)
	}
	return out, nil
}

func (s *UserStore) LinkExternal(ctx context.Context, userId, provider, externalID string) (*fa.UserIdentity, error) {
	return s.mutate(ctx, userId, func(tx *datastore.Transaction, user *fa.UserIdentity) (bool, error) {
		if existing := user.ExternalID(provider); existing != "" {
			if existing == externalID {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, provider)
		}
		owner, err := reserve(tx, s.linkKey(provider, externalID), userId)
		if err != nil {
			return false, err
		}
		if owner != userId {
			return false, fmt.Errorf("%w: %s", fa.ErrExternalIDTaken, provider)
		}
		if user.ExternalLinks == nil {
			user.ExternalLinks = make(map[string]string)
		}
		user.ExternalLinks[provider] = externalID
		return true, nil
	})
}

func (s *UserStore) SetLocalCredential(ctx context.Context, userId string, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	return s.mutate(ctx, userId, func(tx *datastore.Transaction, user *fa.UserIdentity) (bool, error) {
		if user.HasLocalCredential() {
			return false, fa.ErrCredentialExists
		}
		owner, err := reserve(tx, s.namespacedKey(KindUsername, cred.Username), userId)
		if err != nil {
			return false, err
		}
		if owner != userId {
			return false, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
		}
		user.LocalCredential = &cred
		return true, nil
	})
}

func (s *UserStore) SetSecretText(ctx context.Context, userId string, text string) (*fa.UserIdentity, error) {
	return s.mutate(ctx, userId, func(tx *datastore.Transaction, user *fa.UserIdentity) (bool, error) {
		user.SecretText = &text
		return true, nil
	})
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*fa.UserIdentity, error) {
	query := datastore.NewQuery(KindUser).FilterField("has_secret", "=", true)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var users []*fa.UserIdentity
	it := s.client.Run(ctx, query)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable(err)
		}
		users = append(users, entity.ToIdentity())
	}
	// sorted here rather than in the query to avoid a composite index
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}
