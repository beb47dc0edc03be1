package scraper

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/applyflow/applyflow/shared/rabbitmq"
)

// ScrapeTask is the queue message that triggers one source scrape.
type ScrapeTask struct {
	Source string `json:"source"`
}

// Scheduler publishes one scrape task per source on a cron schedule. Sources
// fail independently: each task is consumed and acked on its own.
type Scheduler struct {
	rabbitClient *rabbitmq.Client
	sources      []string
	schedule     string
	logger       *slog.Logger
	cron         *cron.Cron
}

// NewScheduler creates a Scheduler for the named sources.
func NewScheduler(rabbitClient *rabbitmq.Client, sources []string, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		rabbitClient: rabbitClient,
		sources:      sources,
		schedule:     schedule,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start registers the cron entry and begins scheduling. It also enqueues an
// immediate run so a fresh deployment does not wait a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.EnqueueAll(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scrape scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("sources", len(s.sources)),
	)

	s.EnqueueAll(ctx)
	return nil
}

// Stop halts scheduling and waits for any in-flight enqueue to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scrape scheduler stopped")
}

// EnqueueAll publishes one scrape task per configured source.
func (s *Scheduler) EnqueueAll(ctx context.Context) {
	for _, source := range s.sources {
		body, err := json.Marshal(ScrapeTask{Source: source})
		if err != nil {
			s.logger.Error("Failed to encode scrape task",
				slog.String("source", source),
				slog.Any("error", err),
			)
			continue
		}

		if err := s.rabbitClient.PublishWithRetry(ctx, body, "application/json"); err != nil {
			s.logger.Error("Failed to publish scrape task",
				slog.String("source", source),
				slog.Any("error", err),
			)
			continue
		}

		s.logger.Info("Scrape task enqueued", slog.String("source", source))
	}
}
