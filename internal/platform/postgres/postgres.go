// Package postgres owns the database connection, schema and the transaction
// runner that scopes one reconciliation batch to one transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/eol-uchile/uchileedxlogin/pkg/platform/tx"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent so startup can run
// this unconditionally.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             UUID PRIMARY KEY,
	username       TEXT NOT NULL UNIQUE,
	email          TEXT NOT NULL UNIQUE,
	full_name      TEXT NOT NULL,
	password_hash  TEXT NOT NULL,
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS identities (
	document_id        TEXT PRIMARY KEY,
	document_kind      TEXT NOT NULL,
	account_id         UUID NOT NULL UNIQUE REFERENCES accounts (id),
	has_external_auth  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pending_registrations (
	id            UUID PRIMARY KEY,
	document_id   TEXT NOT NULL,
	document_kind TEXT NOT NULL,
	course        TEXT NOT NULL,
	mode          TEXT NOT NULL,
	auto_enroll   BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (document_id, course)
);

CREATE INDEX IF NOT EXISTS pending_registrations_document_idx
	ON pending_registrations (document_id);

CREATE TABLE IF NOT EXISTS enrollments (
	account_id  UUID NOT NULL REFERENCES accounts (id),
	course      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, course)
);

CREATE TABLE IF NOT EXISTS allowed_enrollments (
	email       TEXT NOT NULL,
	course      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (email, course)
);
`

// Runner scopes a callback to one transaction through the context. Nested
// calls join the open transaction so drains triggered inside a batch stay in
// that batch's transaction.
type Runner struct {
	db *sql.DB
}

// NewRunner constructs a transaction runner over the pool.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, open := tx.From(ctx); open {
		return fn(ctx)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
