package domain

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimension is the fixed length of job description embeddings.
const EmbeddingDimension = 768

// Job is a discovered posting. Created and updated only by the discovery
// pipeline; read-only to the orchestrator.
type Job struct {
	ID              string          `db:"id"`
	Source          string          `db:"source"`
	SourceID        string          `db:"source_id"`
	SourceCompany   string          `db:"source_company"`
	Title           string          `db:"title"`
	Location        *string         `db:"location"`
	Department      *string         `db:"department"`
	DescriptionText string          `db:"description_text"`
	DescriptionHTML string          `db:"description_html"`
	URL             string          `db:"url"`
	UpdatedAt       time.Time       `db:"updated_at"`
	ScrapedAt       time.Time       `db:"scraped_at"`
	Active          bool            `db:"active"`
	Embedding       pgvector.Vector `db:"embedding"`
}

// EmbeddingText composes the text that gets embedded for a job: title,
// location, department and plain-text description, one labelled line each.
func (j *Job) EmbeddingText() string {
	parts := make([]string, 0, 4)
	if j.Title != "" {
		parts = append(parts, "Title: "+j.Title)
	}
	if j.Location != nil && *j.Location != "" {
		parts = append(parts, "Location: "+*j.Location)
	}
	if j.Department != nil && *j.Department != "" {
		parts = append(parts, "Department: "+*j.Department)
	}
	if j.DescriptionText != "" {
		parts = append(parts, "Description: "+j.DescriptionText)
	}
	return strings.Join(parts, "\n")
}
