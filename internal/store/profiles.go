package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/jmoiron/sqlx"
)

// ProfileStore reads user profiles and their attached document paths. Profile
// writes belong to an external service; this is the read side the resolver
// consults.
type ProfileStore struct {
	db *sqlx.DB
}

// NewProfileStore creates a new ProfileStore
func NewProfileStore(db *sqlx.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get retrieves the profile for a user
func (s *ProfileStore) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT user_id, first_name, last_name, email, phone, linkedin, website,
		       location, resume_path, cover_letter_path
		FROM profiles
		WHERE user_id = $1
	`

	var profile domain.Profile
	err := s.db.GetContext(ctx, &profile, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewOperationError(domain.ErrNotFound, "user profile not found")
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}
