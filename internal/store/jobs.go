package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// JobStore persists the discovered job corpus. Written only by the discovery
// pipeline; the orchestrator reads it.
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore creates a new JobStore
func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

// Upsert inserts or refreshes a job by its (source, source_id) key. Mutable
// fields are overwritten and scraped_at refreshed on every run; the embedding
// is replaced only when the description text actually changed, so re-running
// an unchanged scrape leaves it untouched.
func (s *JobStore) Upsert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, source, source_id, source_company, title, location, department,
			description_text, description_html, url, updated_at, scraped_at,
			active, embedding
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, NOW(),
			TRUE, $12
		)
		ON CONFLICT (source, source_id) DO UPDATE SET
			source_company   = EXCLUDED.source_company,
			title            = EXCLUDED.title,
			location         = EXCLUDED.location,
			department       = EXCLUDED.department,
			description_html = EXCLUDED.description_html,
			embedding        = CASE
				WHEN jobs.description_text IS DISTINCT FROM EXCLUDED.description_text
				THEN EXCLUDED.embedding
				ELSE jobs.embedding
			END,
			description_text = EXCLUDED.description_text,
			url              = EXCLUDED.url,
			updated_at       = EXCLUDED.updated_at,
			scraped_at       = NOW(),
			active           = TRUE
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Source,
		job.SourceID,
		job.SourceCompany,
		job.Title,
		job.Location,
		job.Department,
		job.DescriptionText,
		job.DescriptionHTML,
		job.URL,
		job.UpdatedAt,
		job.Embedding,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	return nil
}

// Get retrieves a job by its store id
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, source, source_id, source_company, title, location, department,
		       description_text, description_html, url, updated_at, scraped_at,
		       active, embedding
		FROM jobs
		WHERE id = $1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewOperationError(domain.ErrNotFound, "job not found")
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// MarkMissing flags jobs of a source as inactive when their source_id was not
// seen in the latest successful scrape. Returns the number of rows flagged.
func (s *JobStore) MarkMissing(ctx context.Context, source string, seenIDs []string) (int64, error) {
	query := `
		UPDATE jobs
		SET active = FALSE, scraped_at = NOW()
		WHERE source = $1 AND active = TRUE AND source_id <> ALL($2)
	`

	result, err := s.db.ExecContext(ctx, query, source, pq.Array(seenIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to mark missing jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// Count returns the total number of jobs in the corpus
func (s *JobStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM jobs"); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}
