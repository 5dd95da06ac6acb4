package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/tx"
)

// PostgresStore persists pending registrations in PostgreSQL. All methods
// write through the context transaction when one is open (pkg/platform/tx),
// so batch operations stay atomic. The (document_id, course) pair is unique;
// re-recording an intent updates mode and auto_enroll in place.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed pending-registration store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, registration *models.PendingRegistration) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO pending_registrations (id, document_id, document_kind, course, mode, auto_enroll, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id, course)
		DO UPDATE SET mode = EXCLUDED.mode, auto_enroll = EXCLUDED.auto_enroll`,
		registration.ID, registration.DocumentID.Value, registration.DocumentID.Kind,
		registration.Course, registration.Mode, registration.AutoEnroll, registration.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pending registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByDocument(ctx context.Context, doc string) ([]*models.PendingRegistration, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, document_kind, course, mode, auto_enroll, created_at
		FROM pending_registrations WHERE document_id = $1`, doc)
	if err != nil {
		return nil, fmt.Errorf("list pending registrations: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingRegistration
	for rows.Next() {
		var (
			registration models.PendingRegistration
			docValue     string
			docKind      document.Kind
		)
		if err := rows.Scan(
			&registration.ID, &docValue, &docKind, &registration.Course,
			&registration.Mode, &registration.AutoEnroll, &registration.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending registration: %w", err)
		}
		registration.DocumentID = document.ID{Kind: docKind, Value: docValue}
		out = append(out, &registration)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteByDocument(ctx context.Context, doc string) (int, error) {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`DELETE FROM pending_registrations WHERE document_id = $1`, doc)
	if err != nil {
		return 0, fmt.Errorf("delete pending registrations: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteMatching(ctx context.Context, doc string, courses []string) (int, error) {
	if len(courses) == 0 {
		return 0, nil
	}
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`DELETE FROM pending_registrations WHERE document_id = $1 AND course = ANY($2)`,
		doc, pq.Array(courses))
	if err != nil {
		return 0, fmt.Errorf("delete pending registrations: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
