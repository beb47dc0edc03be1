package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// GreenhouseSource reads a company's public job board through the Greenhouse
// boards API.
type GreenhouseSource struct {
	name    string
	company string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	maxJobs int
}

// GreenhouseOption customizes a GreenhouseSource.
type GreenhouseOption func(*GreenhouseSource)

// WithGreenhouseBaseURL overrides the API endpoint, used in tests.
func WithGreenhouseBaseURL(url string) GreenhouseOption {
	return func(s *GreenhouseSource) { s.baseURL = url }
}

// WithGreenhouseHTTPClient overrides the HTTP client.
func WithGreenhouseHTTPClient(client *http.Client) GreenhouseOption {
	return func(s *GreenhouseSource) { s.client = client }
}

// NewGreenhouseSource creates a source for one company board. requestRate
// bounds API calls per second; maxJobs caps how many postings one run takes.
func NewGreenhouseSource(name, company string, requestRate float64, maxJobs int, opts ...GreenhouseOption) *GreenhouseSource {
	if requestRate <= 0 {
		requestRate = 2
	}
	if maxJobs <= 0 {
		maxJobs = 200
	}
	s := &GreenhouseSource{
		name:    name,
		company: company,
		baseURL: greenhouseBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestRate), 1),
		maxJobs: maxJobs,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GreenhouseSource) Name() string {
	return s.name
}

// greenhouseJob mirrors the boards API response. Content arrives HTML-escaped.
type greenhouseJob struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Location struct {
		Name string `json:"name"`
	} `json:"location"`
	Departments []struct {
		Name string `json:"name"`
	} `json:"departments"`
	AbsoluteURL string `json:"absolute_url"`
	UpdatedAt   string `json:"updated_at"`
}

type greenhouseResponse struct {
	Jobs []greenhouseJob `json:"jobs"`
}

// Fetch lists the board's open postings, newest data wins.
func (s *GreenhouseSource) Fetch(ctx context.Context) ([]Posting, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/jobs?content=true", s.baseURL, s.company)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build board request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("board request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("board %q does not exist", s.company)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, Retryable(fmt.Errorf("board returned status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("board returned status %d", resp.StatusCode)
	}

	var body greenhouseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode board response: %w", err)
	}

	postings := make([]Posting, 0, len(body.Jobs))
	for _, job := range body.Jobs {
		if len(postings) >= s.maxJobs {
			break
		}

		updatedAt, err := time.Parse(time.RFC3339, job.UpdatedAt)
		if err != nil {
			updatedAt = time.Now()
		}

		department := ""
		if len(job.Departments) > 0 {
			department = job.Departments[0].Name
		}

		postings = append(postings, Posting{
			SourceID:    fmt.Sprintf("%d", job.ID),
			Company:     s.company,
			Title:       job.Title,
			Location:    job.Location.Name,
			Department:  department,
			ContentHTML: html.UnescapeString(job.Content),
			URL:         job.AbsoluteURL,
			UpdatedAt:   updatedAt,
		})
	}

	return postings, nil
}
