// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplicationsAnalyzed counts completed analyze runs by result.
	ApplicationsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_applications_analyzed_total",
		Help: "Completed form analyses by result",
	}, []string{"result"})

	// ApplicationsSubmitted counts submission attempts by outcome.
	ApplicationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_applications_submitted_total",
		Help: "Submission attempts by outcome",
	}, []string{"outcome"})

	// ApplicationsExpired counts applications expired by the sweeper, by the
	// status they expired from.
	ApplicationsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_applications_expired_total",
		Help: "Applications expired by the TTL sweeper",
	}, []string{"from_status"})

	// LiveSessions tracks browser sessions held open for verification.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "applyflow_live_browser_sessions",
		Help: "Browser sessions currently held open awaiting verification",
	})

	// JobsScraped counts jobs upserted during discovery runs, per source.
	JobsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_jobs_scraped_total",
		Help: "Jobs upserted by the discovery pipeline",
	}, []string{"source"})

	// JobsDeactivated counts jobs marked inactive after disappearing from
	// their source.
	JobsDeactivated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_jobs_deactivated_total",
		Help: "Jobs marked inactive after vanishing from their source",
	}, []string{"source"})

	// EmbeddingFailures counts jobs skipped because embedding failed.
	EmbeddingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "applyflow_embedding_failures_total",
		Help: "Jobs skipped because embedding generation failed",
	}, []string{"source"})

	// ScrapeDuration observes full per-source scrape runs.
	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "applyflow_scrape_duration_seconds",
		Help:    "Duration of one source scrape run",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
)
