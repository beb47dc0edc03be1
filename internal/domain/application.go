package domain

import "time"

// Application status constants
const (
	StatusAnalyzing           = "analyzing"
	StatusPendingReview       = "pending_review"
	StatusSubmitting          = "submitting"
	StatusPendingVerification = "pending_verification"
	StatusSubmitted           = "submitted"
	StatusFailed              = "failed"
	StatusExpired             = "expired"
	StatusCancelled           = "cancelled"
)

// ReviewTTL and VerificationTTL are the default expiry windows for the two
// TTL-bound states.
const (
	ReviewTTL       = 30 * time.Minute
	VerificationTTL = 15 * time.Minute
)

// validTransitions lists every legal status edge. Any transition not present
// here must be rejected before it reaches the store.
var validTransitions = map[string][]string{
	StatusAnalyzing:           {StatusPendingReview, StatusSubmitting, StatusFailed},
	StatusPendingReview:       {StatusSubmitting, StatusExpired, StatusCancelled},
	StatusSubmitting:          {StatusSubmitted, StatusPendingVerification, StatusFailed},
	StatusPendingVerification: {StatusSubmitted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from → to is a legal status edge.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is a terminal state.
func IsTerminal(status string) bool {
	switch status {
	case StatusSubmitted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Application is one user's attempt to apply to one job posting.
type Application struct {
	ID              string     `db:"id"`
	UserID          string     `db:"user_id"`
	JobID           string     `db:"job_id"`
	Status          string     `db:"status"`
	AutoSubmit      bool       `db:"auto_submit"`
	Fields          FieldList  `db:"fields"`
	FormFingerprint string     `db:"form_fingerprint"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
	SubmittedAt     *time.Time `db:"submitted_at"`
	Error           *string    `db:"error"`
}

// Expired reports whether the application's TTL window has passed at now.
// Applications without an expiry never expire.
func (a *Application) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Profile is the user profile consulted during field resolution. It is owned
// by an external profile store; this is the read-side contract.
type Profile struct {
	UserID          string  `db:"user_id"`
	FirstName       string  `db:"first_name"`
	LastName        string  `db:"last_name"`
	Email           string  `db:"email"`
	Phone           string  `db:"phone"`
	LinkedIn        string  `db:"linkedin"`
	Website         string  `db:"website"`
	Location        string  `db:"location"`
	ResumePath      *string `db:"resume_path"`
	CoverLetterPath *string `db:"cover_letter_path"`
}

// FullName returns the profile's display name.
func (p *Profile) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
