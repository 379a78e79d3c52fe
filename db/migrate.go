package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies schema migrations in order. Each version runs in its own
// transaction and is recorded, so re-running is a no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`); err != nil {
		return fmt.Errorf("db: init schema_migrations: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("db: current version: %w", err)
	}

	for v := current + 1; v <= len(migrations); v++ {
		if err := applyMigration(ctx, pool, v); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, version int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin migration %d: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, migrations[version-1]); err != nil {
		return fmt.Errorf("db: apply migration %d: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("db: record migration %d: %w", version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit migration %d: %w", version, err)
	}
	return nil
}

var migrations = []string{
	// 1: core schema
	`
CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email         TEXT NOT NULL,
  full_name     TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_key ON users (lower(email));

CREATE TABLE IF NOT EXISTS contracts (
  id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  owner_id          UUID NOT NULL REFERENCES users(id),
  title             TEXT NOT NULL,
  status            TEXT NOT NULL DEFAULT 'draft'
                    CHECK (status IN ('draft','pending_signature','signed')),
  artifact_location TEXT,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS contracts_owner_idx ON contracts (owner_id);

CREATE TABLE IF NOT EXISTS signature_requests (
  id                   UUID PRIMARY KEY,
  contract_id          UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
  initiator_id         UUID NOT NULL REFERENCES users(id),
  provider_document_id TEXT NOT NULL,
  status               TEXT NOT NULL DEFAULT 'pending'
                       CHECK (status IN ('pending','in_progress','completed','cancelled','expired')),
  signing_mode         TEXT NOT NULL DEFAULT 'sequential'
                       CHECK (signing_mode IN ('sequential','parallel')),
  message              TEXT,
  expires_at           TIMESTAMPTZ,
  completed_at         TIMESTAMPTZ,
  artifact_location    TEXT,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS signature_requests_provider_doc_key
  ON signature_requests (provider_document_id);
-- at most one live request per contract
CREATE UNIQUE INDEX IF NOT EXISTS signature_requests_active_contract_key
  ON signature_requests (contract_id)
  WHERE status IN ('pending','in_progress');
CREATE INDEX IF NOT EXISTS signature_requests_expiry_idx
  ON signature_requests (expires_at)
  WHERE status IN ('pending','in_progress');

CREATE TABLE IF NOT EXISTS signatories (
  id                 UUID PRIMARY KEY,
  request_id         UUID NOT NULL REFERENCES signature_requests(id) ON DELETE CASCADE,
  provider_signer_id TEXT NOT NULL,
  signing_token      TEXT NOT NULL DEFAULT '',
  signing_url        TEXT NOT NULL DEFAULT '',
  email              TEXT NOT NULL,
  display_name       TEXT NOT NULL,
  user_id            UUID REFERENCES users(id),
  sequence_index     INTEGER NOT NULL CHECK (sequence_index >= 1),
  status             TEXT NOT NULL DEFAULT 'waiting'
                     CHECK (status IN ('waiting','pending','signed','declined')),
  signed_at          TIMESTAMPTZ,
  UNIQUE (request_id, sequence_index),
  UNIQUE (request_id, provider_signer_id)
);
CREATE INDEX IF NOT EXISTS signatories_user_idx ON signatories (user_id);

CREATE TABLE IF NOT EXISTS shared_access (
  user_id     UUID NOT NULL REFERENCES users(id),
  contract_id UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
  access_type TEXT NOT NULL DEFAULT 'read',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, contract_id)
);

CREATE TABLE IF NOT EXISTS processed_events (
  event_id     TEXT PRIMARY KEY,
  event_type   TEXT NOT NULL,
  processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
}
