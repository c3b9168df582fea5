// Package pg implements fedauth.UserStore on PostgreSQL with hand written
// SQL over database/sql and lib/pq.
//
// Atomicity comes from the database: usernames are a UNIQUE column and
// provider links use (provider, external_id) as primary key, inserted with
// ON CONFLICT DO NOTHING so concurrent first logins agree on one identity.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	fa "github.com/panyam/fedauth"
)

const (
	userColumns = `id, username, password_hash, hash_version, secret_text, created_at, updated_at, version`

	selectUser           = `SELECT ` + userColumns + ` FROM fedauth_users WHERE id = $1`
	selectUserForUpdate  = selectUser + ` FOR UPDATE`
	selectUserByUsername = `SELECT ` + userColumns + ` FROM fedauth_users WHERE username = $1`
	selectUsersWithText  = `SELECT ` + userColumns + ` FROM fedauth_users WHERE secret_text IS NOT NULL AND secret_text <> '' ORDER BY created_at`
	selectLinks          = `SELECT provider, external_id FROM fedauth_external_links WHERE user_id = $1`
	selectLinksForUsers  = `SELECT user_id, provider, external_id FROM fedauth_external_links WHERE user_id = ANY($1)`
	selectLinkOwner      = `SELECT user_id FROM fedauth_external_links WHERE provider = $1 AND external_id = $2`

	insertUser = `INSERT INTO fedauth_users (id, username, password_hash, hash_version, created_at, updated_at, version) VALUES ($1, $2, $3, $4, $5, $5, 1)`
	insertLink = `INSERT INTO fedauth_external_links (provider, external_id, user_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (provider, external_id) DO NOTHING`

	updateSecret     = `UPDATE fedauth_users SET secret_text = $2, updated_at = $3, version = version + 1 WHERE id = $1`
	updateCredential = `UPDATE fedauth_users SET username = $2, password_hash = $3, hash_version = $4, updated_at = $5, version = version + 1 WHERE id = $1 AND username IS NULL`
	touchUser        = `UPDATE fedauth_users SET updated_at = $2, version = version + 1 WHERE id = $1`
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UserStore implements fa.UserStore on PostgreSQL
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", fa.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*fa.UserIdentity, error) {
	var (
		user         fa.UserIdentity
		username     sql.NullString
		passwordHash string
		hashVersion  string
		secret       sql.NullString
	)
	if err := row.Scan(&user.ID, &username, &passwordHash, &hashVersion, &secret, &user.CreatedAt, &user.UpdatedAt, &user.Version); err != nil {
		return nil, err
	}
	if username.Valid && username.String != "" {
		user.LocalCredential = &fa.LocalCredential{Username: username.String, PasswordHash: passwordHash, HashVersion: hashVersion}
	}
	if secret.Valid {
		s := secret.String
		user.SecretText = &s
	}
	return &user, nil
}

func (s *UserStore) getUser(ctx context.Context, q querier, query string, arg string) (*fa.UserIdentity, error) {
	user, err := scanUser(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, arg)
		}
		return nil, unavailable(err)
	}
	rows, err := q.QueryContext(ctx, selectLinks, user.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return nil, unavailable(err)
		}
		if user.ExternalLinks == nil {
			user.ExternalLinks = make(map[string]string)
		}
		user.ExternalLinks[provider] = externalID
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return user, nil
}

func (s *UserStore) linkOwner(ctx context.Context, q querier, provider, externalID string) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx, selectLinkOwner, provider, externalID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", unavailable(err)
	}
	return owner, nil
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *UserStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*fa.UserIdentity, error) {
	return s.getUser(ctx, s.db, selectUser, userId)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*fa.UserIdentity, error) {
	return s.getUser(ctx, s.db, selectUserByUsername, username)
}

func (s *UserStore) CreateLocalUser(ctx context.Context, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	now := time.Now().UTC()
	user := &fa.UserIdentity{ID: uuid.NewString(), LocalCredential: &cred, CreatedAt: now, UpdatedAt: now, Version: 1}
	_, err := s.db.ExecContext(ctx, insertUser, user.ID, cred.Username, cred.PasswordHash, cred.HashVersion, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
		}
		return nil, unavailable(err)
	}
	return user, nil
}

var errClaimed = errors.New("link already claimed")

func (s *UserStore) FindOrCreateExternal(ctx context.Context, provider, externalID string) (*fa.UserIdentity, bool, error) {
	owner, err := s.linkOwner(ctx, s.db, provider, externalID)
	if err != nil {
		return nil, false, err
	}
	if owner != "" {
		user, err := s.GetUserById(ctx, owner)
		return user, false, err
	}

	now := time.Now().UTC()
	user := &fa.UserIdentity{
		ID:            uuid.NewString(),
		ExternalLinks: map[string]string{provider: externalID},
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertUser, user.ID, nil, "", "", now); err != nil {
			return unavailable(err)
		}
		res, err := tx.ExecContext(ctx, insertLink, provider, externalID, user.ID, now)
		if err != nil {
			return unavailable(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return unavailable(err)
		} else if n == 0 {
			return errClaimed
		}
		return nil
	})
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, errClaimed) {
		return nil, false, err
	}

	owner, err = s.linkOwner(ctx, s.db, provider, externalID)
	if err != nil {
		return nil, false, err
	}
	if owner == "" {
		return nil, false, unavailable(fmt.Errorf("link %s:%s vanished after conflict", provider, externalID))
	}
	winner, err := s.GetUserById(ctx, owner)
	return winner, false, err
}

func (s *UserStore) LinkExternal(ctx context.Context, userId, provider, externalID string) (*fa.UserIdentity, error) {
	var out *fa.UserIdentity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		user, err := s.getUser(ctx, tx, selectUserForUpdate, userId)
		if err != nil {
			return err
		}
		if existing := user.ExternalID(provider); existing != "" {
			if existing != externalID {
				return fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, provider)
			}
			out = user
			return nil
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, insertLink, provider, externalID, userId, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", fa.ErrProviderAlreadyLinked, provider)
			}
			return unavailable(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return unavailable(err)
		} else if n == 0 {
			return fmt.Errorf("%w: %s", fa.ErrExternalIDTaken, provider)
		}
		if _, err := tx.ExecContext(ctx, touchUser, userId, now); err != nil {
			return unavailable(err)
		}
		if user.ExternalLinks == nil {
			user.ExternalLinks = make(map[string]string)
		}
		user.ExternalLinks[provider] = externalID
		user.UpdatedAt = now
		user.Version++
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserStore) SetLocalCredential(ctx context.Context, userId string, cred fa.LocalCredential) (*fa.UserIdentity, error) {
	var out *fa.UserIdentity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		user, err := s.getUser(ctx, tx, selectUserForUpdate, userId)
		if err != nil {
			return err
		}
		if user.HasLocalCredential() {
			return fa.ErrCredentialExists
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, updateCredential, userId, cred.Username, cred.PasswordHash, cred.HashVersion, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", fa.ErrDuplicateUsername, cred.Username)
			}
			return unavailable(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return unavailable(err)
		} else if n == 0 {
			return fa.ErrCredentialExists
		}
		user.LocalCredential = &cred
		user.UpdatedAt = now
		user.Version++
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserStore) SetSecretText(ctx context.Context, userId string, text string) (*fa.UserIdentity, error) {
	res, err := s.db.ExecContext(ctx, updateSecret, userId, text, time.Now().UTC())
	if err != nil {
		return nil, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable(err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", fa.ErrUserNotFound, userId)
	}
	return s.GetUserById(ctx, userId)
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*fa.UserIdentity, error) {
	rows, err := s.db.QueryContext(ctx, selectUsersWithText)
	if err != nil {
		return nil, unavailable(err)
	}
	var users []*fa.UserIdentity
	byId := make(map[string]*fa.UserIdentity)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, unavailable(err)
		}
		users = append(users, user)
		byId[user.ID] = user
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(users) == 0 {
		return users, nil
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	linkRows, err := s.db.QueryContext(ctx, selectLinksForUsers, pq.Array(ids))
	if err != nil {
		return nil, unavailable(err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var userId, provider, externalID string
		if err := linkRows.Scan(&userId, &provider, &externalID); err != nil {
			return nil, unavailable(err)
		}
		if u := byId[userId]; u != nil {
			if u.ExternalLinks == nil {
				u.ExternalLinks = make(map[string]string)
			}
			u.ExternalLinks[provider] = externalID
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return users, nil
}
