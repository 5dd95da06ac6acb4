package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists identity records in PostgreSQL. The document id and
// account id columns are both unique; racing creations surface as
// sentinel.ErrConflict for the resolver to recover from.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO identities (document_id, document_kind, account_id, has_external_auth, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		identity.DocumentID.Value, string(identity.DocumentID.Kind),
		identity.AccountID, identity.HasExternalAuth, identity.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("identity %s: %w", identity.DocumentID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByDocument(ctx context.Context, doc document.ID) (*models.Identity, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT document_id, document_kind, account_id, has_external_auth, created_at
		FROM identities WHERE document_id = $1`, doc.Value)

	identity, err := scanIdentity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", doc, sentinel.ErrNotFound)
	}
	return identity, err
}

func (s *PostgresStore) FindByDocuments(ctx context.Context, docs []string) (map[string]*models.Identity, error) {
	if len(docs) == 0 {
		return map[string]*models.Identity{}, nil
	}
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT document_id, document_kind, account_id, has_external_auth, created_at
		FROM identities WHERE document_id = ANY($1)`, pq.Array(docs))
	if err != nil {
		return nil, fmt.Errorf("find identities: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*models.Identity, len(docs))
	for rows.Next() {
		identity, err := scanIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		found[identity.DocumentID.Value] = identity
	}
	return found, rows.Err()
}

func (s *PostgresStore) LinkedAccounts(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(accountIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	ids := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		ids[i] = id.String()
	}
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx,
		`SELECT account_id FROM identities WHERE account_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find linked accounts: %w", err)
	}
	defer rows.Close()

	linked := make(map[uuid.UUID]bool, len(accountIDs))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan linked account: %w", err)
		}
		linked[id] = true
	}
	return linked, rows.Err()
}

func (s *PostgresStore) SetExternalAuth(ctx context.Context, doc document.ID, hasExternalAuth bool) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`UPDATE identities SET has_external_auth = $2 WHERE document_id = $1`,
		doc.Value, hasExternalAuth)
	if err != nil {
		return fmt.Errorf("set external auth: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set external auth: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s: %w", doc, sentinel.ErrNotFound)
	}
	return nil
}

func scanIdentity(scan func(...any) error) (*models.Identity, error) {
	var identity models.Identity
	var kind string
	err := scan(
		&identity.DocumentID.Value, &kind, &identity.AccountID,
		&identity.HasExternalAuth, &identity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	identity.DocumentID.Kind = document.Kind(kind)
	return &identity, nil
}
