package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const applicationColumns = `
	id, user_id, job_id, status, auto_submit, fields, form_fingerprint,
	created_at, updated_at, expires_at, submitted_at, error
`

// ApplicationStore persists application records. Status transitions go
// through Transition, a conditional update that only commits when the row is
// still in the expected status; a lost race surfaces as ErrConflict.
type ApplicationStore struct {
	db *sqlx.DB
}

// NewApplicationStore creates a new ApplicationStore
func NewApplicationStore(db *sqlx.DB) *ApplicationStore {
	return &ApplicationStore{db: db}
}

// Create inserts a new application. A partial unique index on
// (user_id, job_id) over non-terminal rows enforces the one-active-application
// invariant; a violation is reported as domain.ErrConflict.
func (s *ApplicationStore) Create(ctx context.Context, app *domain.Application) error {
	query := `
		INSERT INTO applications (
			id, user_id, job_id, status, auto_submit, fields, form_fingerprint,
			created_at, updated_at, expires_at, submitted_at, error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		app.ID,
		app.UserID,
		app.JobID,
		app.Status,
		app.AutoSubmit,
		app.Fields,
		app.FormFingerprint,
		app.CreatedAt,
		app.UpdatedAt,
		app.ExpiresAt,
		app.SubmittedAt,
		app.Error,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.NewOperationError(domain.ErrConflict,
				"an active application already exists for this job")
		}
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

// Get retrieves an application by id
func (s *ApplicationStore) Get(ctx context.Context, id string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`

	var app domain.Application
	err := s.db.GetContext(ctx, &app, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewOperationError(domain.ErrNotFound, "application not found")
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return &app, nil
}

// ListFilter narrows a List query
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// List returns the caller's applications, newest first
func (s *ApplicationStore) List(ctx context.Context, userID string, filter ListFilter) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	var apps []domain.Application
	err := s.db.SelectContext(ctx, &apps, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	return apps, nil
}

// TransitionSet carries the columns a status transition may write alongside
// the new status.
type TransitionSet struct {
	ExpiresAt   *time.Time
	ClearExpiry bool
	SubmittedAt *time.Time
	Error       *string
	Fields      domain.FieldList
	Fingerprint *string
}

// Transition applies a compare-and-swap status change: the update commits
// only if the row's current status equals from. Zero rows affected means the
// row is gone (ErrNotFound) or another operation won the race (ErrConflict).
func (s *ApplicationStore) Transition(ctx context.Context, id, from, to string, set TransitionSet) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	query := `UPDATE applications SET status = $1, updated_at = NOW()`
	args := []interface{}{to}
	argIdx := 2

	if set.ClearExpiry {
		query += ", expires_at = NULL"
	} else if set.ExpiresAt != nil {
		query += fmt.Sprintf(", expires_at = $%d", argIdx)
		args = append(args, *set.ExpiresAt)
		argIdx++
	}

	if set.SubmittedAt != nil {
		query += fmt.Sprintf(", submitted_at = $%d", argIdx)
		args = append(args, *set.SubmittedAt)
		argIdx++
	}

	if set.Error != nil {
		query += fmt.Sprintf(", error = $%d", argIdx)
		args = append(args, *set.Error)
		argIdx++
	}

	if set.Fields != nil {
		query += fmt.Sprintf(", fields = $%d", argIdx)
		args = append(args, set.Fields)
		argIdx++
	}

	if set.Fingerprint != nil {
		query += fmt.Sprintf(", form_fingerprint = $%d", argIdx)
		args = append(args, *set.Fingerprint)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", argIdx, argIdx+1)
	args = append(args, id, from)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition application: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Either the record vanished or another operation changed the status
		// first. Distinguish so callers can report 404 vs 409.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)", id); err != nil {
			return fmt.Errorf("failed to check application existence: %w", err)
		}
		if !exists {
			return domain.NewOperationError(domain.ErrNotFound, "application not found")
		}
		return domain.NewOperationError(domain.ErrConflict,
			fmt.Sprintf("application is no longer in status %q", from))
	}

	return nil
}

// RecordError stores an error message without changing status. Used for a
// rejected verification code while the window is still open.
func (s *ApplicationStore) RecordError(ctx context.Context, id, message string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE applications SET error = $1, updated_at = NOW() WHERE id = $2",
		message, id)
	if err != nil {
		return fmt.Errorf("failed to record application error: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewOperationError(domain.ErrNotFound, "application not found")
	}

	return nil
}

// ListExpired returns applications in the given status whose expiry passed
// before now. The sweep uses this; the subsequent Transition call resolves
// any race with user-initiated operations.
func (s *ApplicationStore) ListExpired(ctx context.Context, status string, now time.Time, limit int) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + `
		FROM applications
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`

	var apps []domain.Application
	err := s.db.SelectContext(ctx, &apps, query, status, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired applications: %w", err)
	}

	return apps, nil
}
