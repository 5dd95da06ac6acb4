package enrollments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/tx"
)

// PostgresStore persists enrollments in PostgreSQL. All methods write
// through the context transaction when one is open (pkg/platform/tx).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed enrollment store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnrollActive(ctx context.Context, accountID uuid.UUID, course string, mode models.Mode) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO enrollments (account_id, course, mode, active, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())
		ON CONFLICT (account_id, course)
		DO UPDATE SET mode = EXCLUDED.mode, active = TRUE`,
		accountID, course, mode,
	)
	if err != nil {
		return fmt.Errorf("enroll active: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnrollAllowed(ctx context.Context, email, course string, mode models.Mode) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO allowed_enrollments (email, course, mode, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email, course)
		DO UPDATE SET mode = EXCLUDED.mode`,
		email, course, mode,
	)
	if err != nil {
		return fmt.Errorf("enroll allowed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateMatching(ctx context.Context, accountID uuid.UUID, courses []string) (int, error) {
	if len(courses) == 0 {
		return 0, nil
	}
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE enrollments SET active = FALSE
		WHERE account_id = $1 AND course = ANY($2) AND active`,
		accountID, pq.Array(courses),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate enrollments: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteAllowedMatching(ctx context.Context, email string, courses []string) (int, error) {
	if len(courses) == 0 {
		return 0, nil
	}
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`DELETE FROM allowed_enrollments WHERE email = $1 AND course = ANY($2)`,
		email, pq.Array(courses),
	)
	if err != nil {
		return 0, fmt.Errorf("delete allowed enrollments: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) ListActive(ctx context.Context, accountID uuid.UUID, course string) (*models.Enrollment, error) {
	q := tx.Resolve(ctx, s.db)
	var enrollment models.Enrollment
	err := q.QueryRowContext(ctx, `
		SELECT account_id, course, mode, active, created_at
		FROM enrollments WHERE account_id = $1 AND course = $2`,
		accountID, course,
	).Scan(&enrollment.AccountID, &enrollment.Course, &enrollment.Mode, &enrollment.Active, &enrollment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list active enrollment: %w", err)
	}
	return &enrollment, nil
}

func (s *PostgresStore) ListAllowed(ctx context.Context, course string) ([]*models.AllowedEnrollment, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT email, course, mode, created_at
		FROM allowed_enrollments WHERE course = $1`, course)
	if err != nil {
		return nil, fmt.Errorf("list allowed enrollments: %w", err)
	}
	defer rows.Close()

	var out []*models.AllowedEnrollment
	for rows.Next() {
		var allowed models.AllowedEnrollment
		if err := rows.Scan(&allowed.Email, &allowed.Course, &allowed.Mode, &allowed.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allowed enrollment: %w", err)
		}
		out = append(out, &allowed)
	}
	return out, rows.Err()
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
