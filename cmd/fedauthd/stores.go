package main

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/config"
	"github.com/panyam/fedauth/sessions/redisstore"
	"github.com/panyam/fedauth/stores/fs"
	"github.com/panyam/fedauth/stores/gae"
	gormstore "github.com/panyam/fedauth/stores/gorm"
	"github.com/panyam/fedauth/stores/pg"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// openUserStore builds the configured identity store and runs its migrations.
func openUserStore(ctx context.Context, cfg *config.Config) (fa.UserStore, io.Closer, error) {
	switch cfg.UserStore {
	case "fs":
		return fs.NewUserStore(cfg.FSRoot), noopCloser, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewUserStore(db), sqlDB, nil
	case "postgres":
		db, err := pg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pg.NewUserStore(db), db, nil
	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("datastore client: %w", err)
		}
		return gae.NewUserStore(client, cfg.DatastoreNamespace), client, nil
	}
	return nil, nil, fmt.Errorf("unknown user store %q", cfg.UserStore)
}

// openSessionStore returns nil for the in-memory store.
func openSessionStore(ctx context.Context, cfg *config.Config) (scs.Store, io.Closer, error) {
	if cfg.SessionStore != "redis" {
		return nil, noopCloser, nil
	}
	store, err := redisstore.Dial(ctx, cfg.RedisURL())
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}
