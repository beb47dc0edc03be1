package dto

import "github.com/applyflow/applyflow/internal/domain"

type AnalyzeApplicationRequest struct {
	JobID      string `json:"job_id" binding:"required"`
	AutoSubmit bool   `json:"auto_submit"`
}

type SubmitApplicationRequest struct {
	// FieldOverrides maps field_id to the value the user chose instead of
	// the recommendation. Only editable fields accept an override.
	FieldOverrides map[string]string `json:"field_overrides"`

	// SaveResponses asks for the confirmed values to be cached for reuse in
	// future applications.
	SaveResponses bool `json:"save_responses"`
}

type VerifyApplicationRequest struct {
	Code string `json:"code" binding:"required"`
}

type ListApplicationsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type ListApplicationsResponse struct {
	Applications []ApplicationDTO `json:"applications"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

type ApplicationDTO struct {
	ID               string             `json:"id"`
	JobID            string             `json:"job_id"`
	Status           string             `json:"status"`
	AutoSubmit       bool               `json:"auto_submit"`
	Fields           []domain.FormField `json:"fields,omitempty"`
	CreatedAt        string             `json:"created_at"`
	UpdatedAt        string             `json:"updated_at"`
	SubmittedAt      *string            `json:"submitted_at,omitempty"`
	ExpiresInSeconds *int64             `json:"expires_in_seconds,omitempty"`
	Error            *string            `json:"error,omitempty"`
	Message          string             `json:"message,omitempty"`
}
