package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boardPayload = `{
	"jobs": [
		{
			"id": 4011234,
			"title": "Backend Engineer",
			"content": "&lt;p&gt;Build the &lt;b&gt;platform&lt;/b&gt;&lt;/p&gt;",
			"location": {"name": "Remote - US"},
			"departments": [{"name": "Engineering"}],
			"absolute_url": "https://boards.greenhouse.io/acme/jobs/4011234",
			"updated_at": "2026-08-20T10:00:00Z"
		},
		{
			"id": 4015678,
			"title": "Product Designer",
			"content": "&lt;p&gt;Design things&lt;/p&gt;",
			"location": {"name": "London"},
			"departments": [],
			"absolute_url": "https://boards.greenhouse.io/acme/jobs/4015678",
			"updated_at": "2026-08-21T09:30:00Z"
		}
	]
}`

func TestGreenhouseFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acme/jobs", r.URL.Path)
		assert.Equal(t, "content=true", r.URL.RawQuery)
		w.Write([]byte(boardPayload))
	}))
	defer server.Close()

	source := NewGreenhouseSource("acme-board", "acme", 100, 0,
		WithGreenhouseBaseURL(server.URL))

	postings, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, postings, 2)

	first := postings[0]
	assert.Equal(t, "4011234", first.SourceID)
	assert.Equal(t, "Backend Engineer", first.Title)
	assert.Equal(t, "Remote - US", first.Location)
	assert.Equal(t, "Engineering", first.Department)
	// Board content arrives HTML-escaped and must be unescaped once.
	assert.Equal(t, "<p>Build the <b>platform</b></p>", first.ContentHTML)
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/4011234", first.URL)

	assert.Empty(t, postings[1].Department)
}

func TestGreenhouseFetchCapsJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(boardPayload))
	}))
	defer server.Close()

	source := NewGreenhouseSource("acme-board", "acme", 100, 1,
		WithGreenhouseBaseURL(server.URL))

	postings, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, postings, 1)
}

func TestGreenhouseServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewGreenhouseSource("acme-board", "acme", 100, 0,
		WithGreenhouseBaseURL(server.URL))

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var retryable *RetryableError
	assert.True(t, errors.As(err, &retryable))
}

func TestGreenhouseUnknownBoardIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source := NewGreenhouseSource("acme-board", "acme", 100, 0,
		WithGreenhouseBaseURL(server.URL))

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var retryable *RetryableError
	assert.False(t, errors.As(err, &retryable))
}
