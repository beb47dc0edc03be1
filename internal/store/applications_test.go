package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/applyflow/applyflow/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestApplicationCreate(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	app := &domain.Application{
		ID:        "app-1",
		UserID:    "user-1",
		JobID:     "job-1",
		Status:    domain.StatusAnalyzing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO applications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), app))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationCreateDuplicateActive(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	mock.ExpectExec("INSERT INTO applications").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Create(context.Background(), &domain.Application{ID: "app-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestApplicationGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	mock.ExpectQuery("SELECT .+ FROM applications WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionCAS(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)
	now := time.Now()

	// The UPDATE is guarded by the expected current status.
	mock.ExpectExec(`UPDATE applications SET status = .+ WHERE id = .+ AND status = .+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Transition(context.Background(), "app-1",
		domain.StatusPendingReview, domain.StatusSubmitting,
		TransitionSet{ClearExpiry: true, SubmittedAt: &now})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionConflictWhenRowChanged(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	mock.ExpectExec(`UPDATE applications SET status = .+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.Transition(context.Background(), "app-1",
		domain.StatusPendingReview, domain.StatusExpired, TransitionSet{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestTransitionNotFoundWhenRowMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	mock.ExpectExec(`UPDATE applications SET status = .+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.Transition(context.Background(), "gone",
		domain.StatusPendingReview, domain.StatusExpired, TransitionSet{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	db, _ := newMockDB(t)
	s := NewApplicationStore(db)

	// pending_review -> submitted must pass through submitting.
	err := s.Transition(context.Background(), "app-1",
		domain.StatusPendingReview, domain.StatusSubmitted, TransitionSet{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")
}

func TestListExpired(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApplicationStore(db)

	now := time.Now()
	expired := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "job_id", "status", "auto_submit", "fields",
		"form_fingerprint", "created_at", "updated_at", "expires_at",
		"submitted_at", "error",
	}).AddRow("app-1", "user-1", "job-1", domain.StatusPendingReview, false, nil,
		"fp", now.Add(-time.Hour), now.Add(-time.Hour), expired, nil, nil)

	mock.ExpectQuery(`SELECT .+ FROM applications\s+WHERE status = .+ AND expires_at IS NOT NULL AND expires_at <`).
		WillReturnRows(rows)

	apps, err := s.ListExpired(context.Background(), domain.StatusPendingReview, now, 100)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "app-1", apps[0].ID)
}
