package pg

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS fedauth_users (
    id text PRIMARY KEY,
    username text UNIQUE,
    password_hash text NOT NULL DEFAULT '',
    hash_version text NOT NULL DEFAULT '',
    secret_text text,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW(),
    version integer NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS fedauth_external_links (
    provider text NOT NULL,
    external_id text NOT NULL,
    user_id text NOT NULL REFERENCES fedauth_users(id) ON DELETE CASCADE,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    PRIMARY KEY (provider, external_id),
    CONSTRAINT fedauth_external_links_user_provider_unique
        UNIQUE (user_id, provider)
);

CREATE INDEX IF NOT EXISTS fedauth_users_with_secrets_idx
ON fedauth_users (created_at) WHERE secret_text IS NOT NULL;
`

// Migrate creates the fedauth tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate fedauth schema: %w", err)
	}
	return nil
}
