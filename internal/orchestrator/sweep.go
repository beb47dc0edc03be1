package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/metrics"
	"github.com/applyflow/applyflow/internal/store"
)

// RunSweeper expires overdue review and verification windows on a fixed
// interval until ctx is cancelled. The single sweeper goroutine is the only
// writer of expiry transitions, so expired and failed-by-timeout records are
// produced exactly once; user operations that race it lose the conditional
// update and see a conflict instead.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("TTL sweeper started",
		slog.Duration("interval", s.config.SweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("TTL sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass: overdue reviews become expired, overdue
// verifications become failed, and orphaned browser sessions are reclaimed.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.now()
	s.sweepReviews(ctx, now)
	s.sweepVerifications(ctx, now)

	// Sessions whose application already left pending_verification by another
	// path still hold a browser page; reclaim them by deadline.
	for _, id := range s.sessions.ReapExpired(now) {
		s.resetAttempts(id)
		s.logger.Info("Reclaimed expired browser session",
			slog.String("application_id", id),
		)
	}
	metrics.LiveSessions.Set(float64(s.sessions.Count()))
}

func (s *Service) sweepReviews(ctx context.Context, now time.Time) {
	apps, err := s.apps.ListExpired(ctx, domain.StatusPendingReview, now, s.config.SweepBatchSize)
	if err != nil {
		s.logger.Error("Sweep could not list expired reviews", slog.Any("error", err))
		return
	}

	for i := range apps {
		app := &apps[i]
		err := s.apps.Transition(ctx, app.ID, domain.StatusPendingReview, domain.StatusExpired,
			store.TransitionSet{ClearExpiry: true})
		if err != nil {
			// A concurrent submit or cancel won the race; nothing to do.
			if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("Sweep failed to expire review",
					slog.String("application_id", app.ID),
					slog.Any("error", err),
				)
			}
			continue
		}
		metrics.ApplicationsExpired.WithLabelValues(domain.StatusPendingReview).Inc()
		s.logger.Info("Review window expired",
			slog.String("application_id", app.ID),
		)
	}
}

func (s *Service) sweepVerifications(ctx context.Context, now time.Time) {
	apps, err := s.apps.ListExpired(ctx, domain.StatusPendingVerification, now, s.config.SweepBatchSize)
	if err != nil {
		s.logger.Error("Sweep could not list expired verifications", slog.Any("error", err))
		return
	}

	msg := "the verification window expired"
	for i := range apps {
		app := &apps[i]
		err := s.apps.Transition(ctx, app.ID, domain.StatusPendingVerification, domain.StatusFailed,
			store.TransitionSet{Error: &msg, ClearExpiry: true})
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("Sweep failed to expire verification",
					slog.String("application_id", app.ID),
					slog.Any("error", err),
				)
			}
			continue
		}
		s.sessions.Release(app.ID)
		s.resetAttempts(app.ID)
		metrics.ApplicationsExpired.WithLabelValues(domain.StatusPendingVerification).Inc()
		s.logger.Info("Verification window expired",
			slog.String("application_id", app.ID),
		)
	}
}
