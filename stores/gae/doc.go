//go:build !wasm
// +build !wasm

// Package gae is an authkit.Adapter backed by Google Cloud Datastore. It is
// designed for deployment on Google Cloud Platform and supports multi-tenancy
// through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: identity records, keyed by user id
//   - UserEmail: lowercased email -> user id, enforces email uniqueness
//   - Account: provider links, keyed by account id
//   - AccountSubject, AccountLogin: uniqueness indexes for accounts
//   - Session: database strategy sessions, keyed by session token
//   - VerificationToken: keyed by token under a VerificationIdentifier parent
//
// Unique constraints are enforced by reading and writing the index entities
// inside the same transaction as the record.
//
// # Namespacing
//
// Pass a namespace to isolate tenants:
//
//	adapter := gae.New(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	adapter := gae.New(client, "") // default namespace
package gae
