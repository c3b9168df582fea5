//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of fedauth.UserStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite,
// etc.) and is suitable for deployments that run several server processes.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - fedauth_users: identities with the optional local credential and secret
//   - fedauth_external_links: (provider, external_id) -> user_id, with the
//     pair as primary key and (user_id, provider) unique
//
// The primary key on external links is what makes find-or-create atomic:
// concurrent creators insert with ON CONFLICT DO NOTHING and only the one
// whose row lands keeps its identity.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
package gorm
