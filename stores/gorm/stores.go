//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	fa "github.com/panyam/fedauth"
)

// errClaimed aborts a transaction whose uniqueness key was taken meanwhile.
var errClaimed = errors.New("key already claimed")

// AutoMigrate runs database migrations for all fedauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ExternalLinkModel{},
	)
}

// UserStore implements fa.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", fa.ErrStoreUnavailable, err)
}

// isUniqueViolation recognizes duplicate key errors with or without
// gorm's TranslateError option.
// linkClaim only ignores conflicts on the (provider, external_id) key.  A
// second link for the same provider still fails on idx_fedauth_user_provider.
var linkClaim = clause.OnConflict{
	Columns:   []clause.Column{{Name: "provider"}, {Name: "external_id"}},
	DoNothing: true,
}

// insertLink claims (provider, external_id) for link.UserID.  It returns
// ErrExternalIDTaken when another row holds the key and
// ErrProviderAlreadyLinked when the user already has a link for the provider.
func insertLink(tx *gorm.DB, link *ExternalLinkModel) error {
	res := tx.Clauses(linkClaim).Create(link)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, link.Provider)
		}
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", fa.ErrExternalIDTaken, link.Provider)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *UserStore) load(tx *gorm.DB, userId string) (*UserModel, error) {
	var model UserModel
	if err := tx.Preload("Links").First(&model, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
		}
		return nil, unavailable(err)
	}
	return &model, nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*fa.UserIdentity, error) {
	model, err := s.load(s.db.WithContext(ctx), userId)
	if err != nil {
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*fa.UserIdentity, error) {
	var model UserModel
	err := s.db.WithContext(ctx).Preload("Links").First(&model, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, username)
		}
		return nil, unavailable(err)
	}
	return model.ToIdentity(), nil
}

func newModel() *UserModel {
	now := time.Now().UTC()
	return &UserModel{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, Version: 1}
}

func (s *UserStore) CreateLocalUser(ctx context.Context, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	model := newModel()
	username := cred.Username
	model.Username = &username
	model.PasswordHash = cred.PasswordHash
	model.HashVersion = cred.HashVersion

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
		}
		return nil, unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
	}
	return model.ToIdentity(), nil
}

func (s *UserStore) findLinkOwner(tx *gorm.DB, provider, externalID string) (string, error) {
	var link ExternalLinkModel
	err := tx.First(&link, "provider = ? AND external_id = ?", provider, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", unavailable(err)
	}
	return link.UserID, nil
}

func (s *UserStore) FindOrCreateExternal(ctx context.Context, provider, externalID string) (*fa.UserIdentity, bool, error) {
	db := s.db.WithContext(ctx)
	owner, err := s.findLinkOwner(db, provider, externalID)
	if err != nil {
		return nil, false, err
	}
	if owner != "" {
		user, err := s.GetUserById(ctx, owner)
		return user, false, err
	}

	model := newModel()
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		link := &ExternalLinkModel{Provider: provider, ExternalID: externalID, UserID: model.ID, CreatedAt: model.CreatedAt}
		if err := insertLink(tx, link); err != nil {
			if errors.Is(err, fa.ErrExternalIDTaken) {
				return errClaimed
			}
			return err
		}
		model.Links = []ExternalLinkModel{*link}
		return nil
	})
	if err == nil {
		return model.ToIdentity(), true, nil
	}
	if !errors.Is(err, errClaimed) {
		return nil, false, unavailable(err)
	}

	// Another creator won; the rollback removed our row.
	owner, err = s.findLinkOwner(db, provider, externalID)
	if err != nil {
		return nil, false, err
	}
	if owner == "" {
		return nil, false, unavailable(fmt.Errorf("link %s:%s vanished after conflict", provider, externalID))
	}
	user, err := s.GetUserById(ctx, owner)
	return user, false, err
}

func (s *UserStore) LinkExternal(ctx context.Context, userId, provider, externalID string) (*fa.UserIdentity, error) {
	var out *UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := s.load(tx, userId)
		if err != nil {
			return err
		}
		for _, l := range model.Links {
			if l.Provider != provider {
				continue
			}
			if l.ExternalID == externalID {
				out = model
				return nil
			}
			return fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, provider)
		}

		link := ExternalLinkModel{Provider: provider, ExternalID: externalID, UserID: userId, CreatedAt: time.Now().UTC()}
		if err := insertLink(tx, &link); err != nil {
			return err
		}
		if err := s.bump(tx, userId, map[string]any{}); err != nil {
			return err
		}
		out, err = s.load(tx, userId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.ToIdentity(), nil
}

func (s *UserStore) SetLocalCredential(ctx context.Context, userId string, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	var out *UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := s.load(tx, userId)
		if err != nil {
			return err
		}
		if model.Username != nil && *model.Username != "" {
			return fa.ErrCredentialExists
		}
		var count int64
		if err := tx.Model(&UserModel{}).Where("username = ?", cred.Username).Count(&count).Error; err != nil {
			return unavailable(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
		}
		res := tx.Model(&UserModel{}).
			Where("id = ? AND username IS NULL", userId).
			Updates(map[string]any{
				"username":      cred.Username,
				"password_hash": cred.PasswordHash,
				"hash_version":  cred.HashVersion,
				"updated_at":    time.Now().UTC(),
				"version":       gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
			}
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return fa.ErrCredentialExists
		}
		out, err = s.load(tx, userId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.ToIdentity(), nil
}

func (s *UserStore) SetSecretText(ctx context.Context, userId string, text string) (*fa.UserIdentity, error) {
	db := s.db.WithContext(ctx)
	if err := s.bump(db, userId, map[string]any{"secret_text": text}); err != nil {
		return nil, err
	}
	return s.GetUserById(ctx, userId)
}

// bump applies updates and advances version and updated_at.
func (s *UserStore) bump(tx *gorm.DB, userId string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	updates["version"] = gorm.Expr("version + 1")
	res := tx.Model(&UserModel{}).Where("id = ?", userId).Updates(updates)
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
	}
	return nil
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*fa.UserIdentity, error) {
	var models []UserModel
	err := s.db.WithContext(ctx).
		Preload("Links").
		Where("secret_text IS NOT NULL AND secret_text <> ''").
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*fa.UserIdentity, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToIdentity())
	}
	return out, nil
}
