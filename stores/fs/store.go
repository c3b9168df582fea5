// Package fs stores identities as JSON files.  It needs no external service
// and suits development and single host deployments.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	fa "github.com/panyam/fedauth"
)

// keyRecord is the content of a uniqueness key file.
type keyRecord struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore implements fa.UserStore on the file system.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/{id}.json                    # the identity record
//	├── usernames/{sha256(username)}.json  # {"user_id": ...}
//	└── links/{provider}/{sha256(id)}.json # {"user_id": ...}
//
// # Concurrency Model
//
// Username and provider keys are claimed with a hard link from a fully
// written temp file, which fails if the key already exists.  That makes
// find-or-create atomic across processes sharing the directory.  Updates to
// an existing record are serialized within the process by a mutex and
// written with an atomic rename.
type UserStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewUserStore(storagePath string) *UserStore {
	return &UserStore{StoragePath: storagePath}
}

func (s *UserStore) userPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", userId+".json")
}

func (s *UserStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", keyFileName(username))
}

func (s *UserStore) linkPath(provider, externalID string) string {
	return filepath.Join(s.StoragePath, "links", keyFileName(provider), keyFileName(externalID))
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", fa.ErrStoreUnavailable, err)
}

func (s *UserStore) readUser(userId string) (*fa.UserIdentity, error) {
	if userId == "" || strings.ContainsAny(userId, `/\`) {
		return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
	}
	data, err := os.ReadFile(s.userPath(userId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
		}
		return nil, unavailable(err)
	}
	var user fa.UserIdentity
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, unavailable(fmt.Errorf("corrupt user record %s: %w", userId, err))
	}
	return &user, nil
}

func (s *UserStore) writeUser(user *fa.UserIdentity) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := writeAtomicFile(s.userPath(user.ID), data); err != nil {
		return unavailable(err)
	}
	return nil
}

// readKey returns the user id a key file points to, or "" if absent.
func readKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", unavailable(err)
	}
	var rec keyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", unavailable(fmt.Errorf("corrupt key file %s: %w", path, err))
	}
	return rec.UserID, nil
}

func claimKey(path, key, userId string) (bool, error) {
	data, err := json.Marshal(keyRecord{UserID: userId, Key: key, CreatedAt: time.Now()})
	if err != nil {
		return false, err
	}
	claimed, err := claimFile(path, data)
	if err != nil {
		return false, unavailable(err)
	}
	return claimed, nil
}

func newUser() *fa.UserIdentity {
	now := time.Now().UTC()
	return &fa.UserIdentity{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*fa.UserIdentity, error) {
	return s.readUser(userId)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*fa.UserIdentity, error) {
	userId, err := readKey(s.usernamePath(username))
	if err != nil {
		return nil, err
	}
	if userId == "" {
		return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, username)
	}
	return s.readUser(userId)
}

func (s *UserStore) CreateLocalUser(ctx context.Context, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	user := newUser()
	user.LocalCredential = &cred
	// The record is written first so a claimed key never points at nothing.
	if err := s.writeUser(user); err != nil {
		return nil, err
	}
	claimed, err := claimKey(s.usernamePath(cred.Username), cred.Username, user.ID)
	if err != nil || !claimed {
		os.Remove(s.userPath(user.ID))
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
	}
	return user, nil
}

func (s *UserStore) FindOrCreateExternal(ctx context.Context, provider, externalID string) (*fa.UserIdentity, bool, error) {
	path := s.linkPath(provider, externalID)
	if userId, err := readKey(path); err != nil {
		return nil, false, err
	} else if userId != "" {
		user, err := s.readUser(userId)
		return user, false, err
	}

	user := newUser()
	user.ExternalLinks = map[string]string{provider: externalID}
	if err := s.writeUser(user); err != nil {
		return nil, false, err
	}
	claimed, err := claimKey(path, provider+":"+externalID, user.ID)
	if err != nil {
		os.Remove(s.userPath(user.ID))
		return nil, false, err
	}
	if claimed {
		return user, true, nil
	}

	// Lost the race: drop our record and return the winner.
	os.Remove(s.userPath(user.ID))
	userId, err := readKey(path)
	if err != nil {
		return nil, false, err
	}
	winner, err := s.readUser(userId)
	return winner, false, err
}

func (s *UserStore) LinkExternal(ctx context.Context, userId, provider, externalID string) (*fa.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.readUser(userId)
	if err != nil {
		return nil, err
	}
	if existing := user.ExternalID(provider); existing != "" {
		if existing == externalID {
			return user, nil
		}
		return nil, fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, provider)
	}

	path := s.linkPath(provider, externalID)
	claimed, err := claimKey(path, provider+":"+externalID, userId)
	if err != nil {
		return nil, err
	}
	if !claimed {
		owner, err := readKey(path)
		if err != nil {
			return nil, err
		}
		if owner != userId {
			return nil, fmt.Errorf("%w: %s", fa.ErrExternalIDTaken, provider)
		}
	}

	if user.ExternalLinks == nil {
		user.ExternalLinks = make(map[string]string)
	}
	user.ExternalLinks[provider] = externalID
	return s.update(user)
}

func (s *UserStore) SetLocalCredential(ctx context.Context, userId string, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.readUser(userId)
	if err != nil {
		return nil, err
	}
	if user.HasLocalCredential() {
		return nil, fa.ErrCredentialExists
	}
	claimed, err := claimKey(s.usernamePath(cred.Username), cred.Username, userId)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
	}
	user.LocalCredential = &cred
	return s.update(user)
}

func (s *UserStore) SetSecretText(ctx context.Context, userId string, text string) (*fa.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.readUser(userId)
	if err != nil {
		return nil, err
	}
	user.SecretText = &text
	return s.update(user)
}

func (s *UserStore) update(user *fa.UserIdentity) (*fa.UserIdentity, error) {
	user.UpdatedAt = time.Now().UTC()
	user.Version++
	if err := s.writeUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*fa.UserIdentity, error) {
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, unavailable(err)
	}

	var out []*fa.UserIdentity
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		user, err := s.readUser(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// removed by a losing find-or-create between ReadDir and here
			if errors.Is(err, fa.ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		if user.HasSecret() {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
