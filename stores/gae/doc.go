//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// fedauth.UserStore.  It is designed for deployment on Google Cloud Platform
// and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: identities, keyed by id
//   - Username: username -> user id, keyed by the username
//   - ExternalLink: provider account -> user id, keyed by "provider:external_id"
//
// Uniqueness keys are read and written inside one transaction with the
// identity they point at, so concurrent creators conflict and Datastore
// retries the loser, which then sees the winner's key.
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate data between tenants:
//
//	users := gae.NewUserStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "")  // default namespace
package gae
