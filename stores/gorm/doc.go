//go:build !wasm
// +build !wasm

// Package gorm is an authkit.Adapter backed by GORM. It supports any database
// GORM supports (PostgreSQL, MySQL, SQLite, etc.) and implements every
// optional extension interface.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: identity records, unique on lowercased email
//   - accounts: provider links, unique on (provider, provider_account_id) and (provider, login)
//   - sessions: database strategy sessions keyed by session_token
//   - verification_tokens: single use tokens keyed by (identifier, token)
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	adapter := gormstore.New(db)
package gorm
