package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		did TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		email TEXT,
		password_hash TEXT NOT NULL DEFAULT '',
		repo_cid TEXT NOT NULL,
		repo_rev TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT accounts_handle_key UNIQUE (handle),
		CONSTRAINT accounts_email_key UNIQUE (email)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL,
		did TEXT NOT NULL REFERENCES accounts(did) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reserved_signing_keys (
		key_id TEXT PRIMARY KEY,
		did TEXT NOT NULL,
		private_key BYTEA NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reserved_signing_keys_did_active
		ON reserved_signing_keys (did) WHERE NOT consumed`,
	`CREATE TABLE IF NOT EXISTS actor_repos (
		did TEXT PRIMARY KEY,
		root_cid TEXT NOT NULL,
		rev TEXT NOT NULL,
		signing_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invite_codes (
		code TEXT PRIMARY KEY,
		available_uses INT NOT NULL,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS invite_code_uses (
		code TEXT NOT NULL REFERENCES invite_codes(code),
		did TEXT NOT NULL,
		used_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (code, did)
	)`,
	`CREATE TABLE IF NOT EXISTS sequenced_events (
		seq BIGSERIAL PRIMARY KEY,
		did TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sequenced_events_did ON sequenced_events (did, seq)`,
}

// EnsureSchema creates any missing tables. Statements are idempotent so
// startup is safe against an already-provisioned database.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
