// Package scraper discovers job postings. A cron scheduler publishes one
// scrape task per configured source; a worker pool consumes the tasks so a
// slow or broken source never blocks the others.
package scraper

import (
	"context"
	"time"
)

// Posting is one job posting as reported by a source, before normalization.
type Posting struct {
	SourceID    string
	Company     string
	Title       string
	Location    string
	Department  string
	ContentHTML string
	URL         string
	UpdatedAt   time.Time
}

// Source fetches the currently listed postings of one job board.
type Source interface {
	// Name identifies the source; it keys jobs in storage and scrape tasks
	// on the queue.
	Name() string

	// Fetch returns every posting the board currently lists, capped by the
	// source's configured limit.
	Fetch(ctx context.Context) ([]Posting, error)
}

// RetryableError marks a scrape failure as transient so the task is requeued
// instead of dropped.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
