package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/metrics"
)

// JobWriter is the storage surface the pipeline writes through. Satisfied by
// *store.JobStore.
type JobWriter interface {
	Upsert(ctx context.Context, job *domain.Job) error
	MarkMissing(ctx context.Context, source string, seenIDs []string) (int64, error)
}

// Embedder turns text into a fixed-dimension vector. Satisfied by *ai.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline normalizes one source's postings into stored jobs with embeddings.
type Pipeline struct {
	jobs      JobWriter
	embedder  Embedder
	embedRate *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline wires a Pipeline. embedRate bounds embedding API calls per
// second across the run.
func NewPipeline(jobs JobWriter, embedder Embedder, embedRate float64, logger *slog.Logger) *Pipeline {
	if embedRate <= 0 {
		embedRate = 5
	}
	return &Pipeline{
		jobs:      jobs,
		embedder:  embedder,
		embedRate: rate.NewLimiter(rate.Limit(embedRate), 1),
		logger:    logger,
		now:       time.Now,
	}
}

// Run scrapes one source end to end: fetch, normalize, embed, upsert, and
// finally deactivate the source's jobs that vanished from the board. A posting
// whose embedding fails is skipped, not fatal; storage failures abort the run
// before the deactivation step so absent postings are never marked missing on
// partial data.
func (p *Pipeline) Run(ctx context.Context, source Source) error {
	name := source.Name()
	logger := p.logger.With(slog.String("source", name))
	started := p.now()
	defer func() {
		metrics.ScrapeDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	}()

	postings, err := source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch from %s failed: %w", name, err)
	}

	logger.Info("Fetched postings", slog.Int("count", len(postings)))

	seen := make([]string, 0, len(postings))
	stored := 0
	for i := range postings {
		posting := &postings[i]
		seen = append(seen, posting.SourceID)

		job, err := p.normalize(name, posting)
		if err != nil {
			logger.Warn("Skipping malformed posting",
				slog.String("source_id", posting.SourceID),
				slog.Any("error", err),
			)
			continue
		}

		if err := p.embed(ctx, job); err != nil {
			metrics.EmbeddingFailures.WithLabelValues(name).Inc()
			logger.Warn("Skipping posting, embedding failed",
				slog.String("source_id", posting.SourceID),
				slog.Any("error", err),
			)
			continue
		}

		if err := p.jobs.Upsert(ctx, job); err != nil {
			return fmt.Errorf("upsert of %s/%s failed: %w", name, posting.SourceID, err)
		}
		stored++
	}

	metrics.JobsScraped.WithLabelValues(name).Add(float64(stored))

	deactivated, err := p.jobs.MarkMissing(ctx, name, seen)
	if err != nil {
		return fmt.Errorf("deactivating missing jobs for %s failed: %w", name, err)
	}
	metrics.JobsDeactivated.WithLabelValues(name).Add(float64(deactivated))

	logger.Info("Scrape run complete",
		slog.Int("stored", stored),
		slog.Int("skipped", len(postings)-stored),
		slog.Int64("deactivated", deactivated),
	)
	return nil
}

func (p *Pipeline) normalize(sourceName string, posting *Posting) (*domain.Job, error) {
	if posting.SourceID == "" || posting.Title == "" || posting.URL == "" {
		return nil, fmt.Errorf("posting is missing id, title or url")
	}

	text, err := stripHTML(posting.ContentHTML)
	if err != nil {
		return nil, fmt.Errorf("could not parse posting content: %w", err)
	}

	job := &domain.Job{
		ID:              uuid.NewString(),
		Source:          sourceName,
		SourceID:        posting.SourceID,
		SourceCompany:   posting.Company,
		Title:           posting.Title,
		DescriptionText: text,
		DescriptionHTML: posting.ContentHTML,
		URL:             posting.URL,
		UpdatedAt:       posting.UpdatedAt,
		ScrapedAt:       p.now(),
		Active:          true,
	}
	if posting.Location != "" {
		location := posting.Location
		job.Location = &location
	}
	if posting.Department != "" {
		department := posting.Department
		job.Department = &department
	}
	return job, nil
}

func (p *Pipeline) embed(ctx context.Context, job *domain.Job) error {
	if err := p.embedRate.Wait(ctx); err != nil {
		return err
	}

	vector, err := p.embedder.Embed(ctx, job.EmbeddingText())
	if err != nil {
		return err
	}
	if len(vector) != domain.EmbeddingDimension {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vector), domain.EmbeddingDimension)
	}

	job.Embedding = pgvector.NewVector(vector)
	return nil
}

// stripHTML reduces posting HTML to plain text with single spaces between
// block fragments.
func stripHTML(content string) (string, error) {
	if content == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	var parts []string
	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		if sel.Children().Length() > 0 {
			return
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		if text := strings.TrimSpace(doc.Text()); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
