// Package orchestrator drives an application through its lifecycle: analyze
// the posting's form, hold it for review, submit it, and see a verification
// challenge through. Every status change goes through the store's conditional
// transition, so concurrent operations and the sweeper race safely.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/metrics"
	"github.com/applyflow/applyflow/internal/session"
	"github.com/applyflow/applyflow/internal/store"
)

// ApplicationStore is the persistence surface the orchestrator needs.
// Satisfied by *store.ApplicationStore.
type ApplicationStore interface {
	Create(ctx context.Context, app *domain.Application) error
	Get(ctx context.Context, id string) (*domain.Application, error)
	List(ctx context.Context, userID string, filter store.ListFilter) ([]domain.Application, error)
	Transition(ctx context.Context, id, from, to string, set store.TransitionSet) error
	RecordError(ctx context.Context, id, message string) error
	ListExpired(ctx context.Context, status string, now time.Time, limit int) ([]domain.Application, error)
}

// JobStore reads job postings. Satisfied by *store.JobStore.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// ProfileStore reads candidate profiles. Satisfied by *store.ProfileStore.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.Profile, error)
}

// AnswerSaver caches confirmed answers after a submission. Satisfied by
// *store.AnswerStore.
type AnswerSaver interface {
	SaveAll(ctx context.Context, userID string, answers map[string]string) error
}

// FieldResolver fills extracted fields with recommended values. Satisfied by
// *resolver.Resolver.
type FieldResolver interface {
	Resolve(ctx context.Context, profile *domain.Profile, job *domain.Job, fields []domain.FormField) error
}

// Sessions is the browser session surface. Satisfied by *session.Manager.
type Sessions interface {
	ExtractForm(ctx context.Context, url string) ([]domain.FormField, string, error)
	FillAndSubmit(ctx context.Context, appID, url string, fields []domain.FormField, fingerprint string) (session.Outcome, error)
	SubmitVerificationCode(ctx context.Context, appID, code string) (session.Outcome, error)
	Release(appID string)
	Deadline(appID string) (time.Time, bool)
	ReapExpired(now time.Time) []string
	Count() int
}

// Config carries the orchestrator's tunables.
type Config struct {
	ReviewTTL         time.Duration
	VerificationTTL   time.Duration
	SweepInterval     time.Duration
	AnalyzeTimeout    time.Duration
	SubmitTimeout     time.Duration
	VerifyTimeout     time.Duration
	MaxVerifyAttempts int
	SweepBatchSize    int
}

func (c *Config) applyDefaults() {
	if c.ReviewTTL <= 0 {
		c.ReviewTTL = domain.ReviewTTL
	}
	if c.VerificationTTL <= 0 {
		c.VerificationTTL = domain.VerificationTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = 2 * time.Minute
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Minute
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = time.Minute
	}
	if c.MaxVerifyAttempts <= 0 {
		c.MaxVerifyAttempts = 3
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
}

// AnalyzeRequest starts a new application.
type AnalyzeRequest struct {
	JobID      string
	AutoSubmit bool
}

// Service implements the application lifecycle.
type Service struct {
	apps     ApplicationStore
	jobs     JobStore
	profiles ProfileStore
	answers  AnswerSaver
	resolver FieldResolver
	sessions Sessions
	logger   *slog.Logger
	config   Config

	now func() time.Time

	mu             sync.Mutex
	verifyAttempts map[string]int
	saveResponses  map[string]bool
}

// NewService wires a Service.
func NewService(apps ApplicationStore, jobs JobStore, profiles ProfileStore, answers AnswerSaver, fieldResolver FieldResolver, sessions Sessions, config Config, logger *slog.Logger) *Service {
	config.applyDefaults()
	return &Service{
		apps:           apps,
		jobs:           jobs,
		profiles:       profiles,
		answers:        answers,
		resolver:       fieldResolver,
		sessions:       sessions,
		logger:         logger,
		config:         config,
		now:            time.Now,
		verifyAttempts: make(map[string]int),
		saveResponses:  make(map[string]bool),
	}
}

// Analyze creates an application, extracts and resolves the posting's form,
// and parks the record in pending_review, or goes straight through the submit
// path when auto_submit was requested. It runs synchronously so the caller
// gets the resolved fields, or a terminal result, in the response. The
// one-active-application invariant is enforced by the store.
func (s *Service) Analyze(ctx context.Context, userID string, req AnalyzeRequest) (*domain.Application, error) {
	if req.JobID == "" {
		return nil, domain.NewOperationError(domain.ErrInvalidArgument, "job_id is required")
	}

	job, err := s.jobs.Get(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewOperationError(domain.ErrNotFound, "job not found")
		}
		return nil, err
	}
	if !job.Active {
		return nil, domain.NewOperationError(domain.ErrGone, "the job posting is no longer active")
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewOperationError(domain.ErrNotFound, "candidate profile not found")
		}
		return nil, err
	}

	now := s.now()
	app := &domain.Application{
		ID:         uuid.NewString(),
		UserID:     userID,
		JobID:      job.ID,
		Status:     domain.StatusAnalyzing,
		AutoSubmit: req.AutoSubmit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("application_id", app.ID))
	logger.Info("Application created",
		slog.String("job_id", job.ID),
		slog.Bool("auto_submit", req.AutoSubmit),
	)

	analysisCtx, cancel := context.WithTimeout(ctx, s.config.AnalyzeTimeout)
	defer cancel()

	fields, fingerprint, err := s.sessions.ExtractForm(analysisCtx, job.URL)
	if err != nil {
		logger.Warn("Form extraction failed", slog.Any("error", err))
		if errors.Is(err, domain.ErrUpstreamGone) {
			s.failAnalyzing(ctx, app.ID, "gone", domain.Message(err))
			return nil, err
		}
		s.failAnalyzing(ctx, app.ID, "failed", domain.Message(err))
		return nil, domain.NewOperationError(domain.ErrUpstreamFailure, domain.Message(err))
	}

	if err := s.resolver.Resolve(analysisCtx, profile, job, fields); err != nil {
		logger.Warn("Field resolution aborted", slog.Any("error", err))
		s.failAnalyzing(ctx, app.ID, "failed", "field resolution did not complete")
		return nil, domain.NewOperationError(domain.ErrUpstreamFailure, "field resolution did not complete")
	}

	metrics.ApplicationsAnalyzed.WithLabelValues("ok").Inc()
	app.Fields = fields
	app.FormFingerprint = fingerprint

	if req.AutoSubmit {
		if err := s.apps.Transition(ctx, app.ID, domain.StatusAnalyzing, domain.StatusSubmitting,
			store.TransitionSet{Fields: fields, Fingerprint: &fingerprint}); err != nil {
			return nil, err
		}
		app.Status = domain.StatusSubmitting
		submitCtx, cancelSubmit := context.WithTimeout(ctx, s.config.SubmitTimeout)
		defer cancelSubmit()
		return s.performSubmission(submitCtx, app, job, false)
	}

	expiresAt := s.now().Add(s.config.ReviewTTL)
	if err := s.apps.Transition(ctx, app.ID, domain.StatusAnalyzing, domain.StatusPendingReview,
		store.TransitionSet{Fields: fields, Fingerprint: &fingerprint, ExpiresAt: &expiresAt}); err != nil {
		return nil, err
	}
	app.Status = domain.StatusPendingReview
	app.ExpiresAt = &expiresAt

	logger.Info("Analysis complete, awaiting review",
		slog.Int("fields", len(fields)),
		slog.Time("expires_at", expiresAt),
	)
	return app, nil
}

func (s *Service) failAnalyzing(ctx context.Context, id, result, message string) {
	metrics.ApplicationsAnalyzed.WithLabelValues(result).Inc()
	if err := s.apps.Transition(ctx, id, domain.StatusAnalyzing, domain.StatusFailed,
		store.TransitionSet{Error: &message}); err != nil {
		s.logger.Error("Failed to record analysis failure",
			slog.String("application_id", id),
			slog.Any("error", err),
		)
	}
}

// Get returns the caller's application.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Application, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, domain.NewOperationError(domain.ErrForbidden, "application belongs to another user")
	}
	return app, nil
}

// List returns the caller's applications, newest first.
func (s *Service) List(ctx context.Context, userID string, filter store.ListFilter) ([]domain.Application, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.apps.List(ctx, userID, filter)
}

// Submit applies the caller's overrides and submits the application. It runs
// synchronously, bounded by SubmitTimeout, and returns the resulting record.
// When saveResponses is set, confirmed values are cached for reuse once the
// site accepts the submission.
func (s *Service) Submit(ctx context.Context, userID, id string, overrides map[string]string, saveResponses bool) (*domain.Application, error) {
	app, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if app.Status != domain.StatusPendingReview {
		return nil, domain.NewOperationError(domain.ErrConflict,
			fmt.Sprintf("application cannot be submitted from status %q", app.Status))
	}

	now := s.now()
	if app.Expired(now) {
		// The sweeper has not caught it yet; expire it here and report gone.
		if err := s.apps.Transition(ctx, app.ID, domain.StatusPendingReview, domain.StatusExpired,
			store.TransitionSet{ClearExpiry: true}); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, domain.NewOperationError(domain.ErrGone, "the review window has expired")
	}

	if err := applyOverrides(app.Fields, overrides); err != nil {
		return nil, err
	}
	if missing := missingRequired(app.Fields); len(missing) > 0 {
		return nil, domain.NewOperationError(domain.ErrInvalidArgument,
			"required fields have no value: "+strings.Join(missing, ", "))
	}

	if err := s.apps.Transition(ctx, app.ID, domain.StatusPendingReview, domain.StatusSubmitting,
		store.TransitionSet{Fields: app.Fields, ClearExpiry: true}); err != nil {
		return nil, err
	}
	app.Status = domain.StatusSubmitting

	job, err := s.jobs.Get(ctx, app.JobID)
	if err != nil {
		msg := "job record is unavailable: " + domain.Message(err)
		s.failSubmitting(ctx, app.ID, msg)
		return nil, domain.NewOperationError(domain.ErrUpstreamFailure, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.SubmitTimeout)
	defer cancel()
	return s.performSubmission(ctx, app, job, saveResponses)
}

// performSubmission drives the browser from submitting to a terminal or
// verification state. The application must already be in submitting.
func (s *Service) performSubmission(ctx context.Context, app *domain.Application, job *domain.Job, saveResponses bool) (*domain.Application, error) {
	logger := s.logger.With(slog.String("application_id", app.ID))

	outcome, err := s.sessions.FillAndSubmit(ctx, app.ID, job.URL, app.Fields, app.FormFingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrFingerprintMismatch) {
			metrics.ApplicationsSubmitted.WithLabelValues("fingerprint_mismatch").Inc()
			s.failSubmitting(ctx, app.ID, domain.Message(err))
			return nil, err
		}
		s.failSubmitting(ctx, app.ID, domain.Message(err))
		return nil, err
	}

	switch outcome.Result {
	case session.ResultSubmitted:
		now := s.now()
		if err := s.apps.Transition(ctx, app.ID, domain.StatusSubmitting, domain.StatusSubmitted,
			store.TransitionSet{SubmittedAt: &now, ClearExpiry: true}); err != nil {
			return nil, err
		}
		app.Status = domain.StatusSubmitted
		app.SubmittedAt = &now
		app.ExpiresAt = nil
		metrics.ApplicationsSubmitted.WithLabelValues("submitted").Inc()
		if saveResponses {
			s.cacheConfirmedAnswers(ctx, app)
		}
		logger.Info("Application submitted")
		return app, nil

	case session.ResultNeedsVerification:
		expiresAt := s.now().Add(s.config.VerificationTTL)
		if err := s.apps.Transition(ctx, app.ID, domain.StatusSubmitting, domain.StatusPendingVerification,
			store.TransitionSet{ExpiresAt: &expiresAt}); err != nil {
			s.sessions.Release(app.ID)
			return nil, err
		}
		app.Status = domain.StatusPendingVerification
		app.ExpiresAt = &expiresAt
		s.resetAttempts(app.ID)
		s.setSaveResponses(app.ID, saveResponses)
		metrics.ApplicationsSubmitted.WithLabelValues("needs_verification").Inc()
		metrics.LiveSessions.Set(float64(s.sessions.Count()))
		logger.Info("Verification required", slog.Time("expires_at", expiresAt))
		return app, nil

	default:
		metrics.ApplicationsSubmitted.WithLabelValues("failed").Inc()
		s.failSubmitting(ctx, app.ID, outcome.Reason)
		return nil, domain.NewOperationError(domain.ErrUpstreamFailure, outcome.Reason)
	}
}

// Verify relays an emailed verification code to the held browser session.
func (s *Service) Verify(ctx context.Context, userID, id, code string) (*domain.Application, error) {
	if !validVerificationCode(code) {
		return nil, domain.NewOperationError(domain.ErrInvalidArgument,
			"verification code must be exactly 8 digits")
	}

	app, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.StatusPendingVerification {
		return nil, domain.NewOperationError(domain.ErrConflict,
			fmt.Sprintf("application is not awaiting verification (status %q)", app.Status))
	}

	now := s.now()
	if app.Expired(now) {
		s.expireVerification(ctx, app.ID)
		return nil, domain.NewOperationError(domain.ErrGone, "the verification window has expired")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()

	outcome, err := s.sessions.SubmitVerificationCode(ctx, app.ID, code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrGone):
			s.expireVerification(ctx, app.ID)
		case errors.Is(err, domain.ErrUpstreamFailure):
			// The browser broke mid-verification; the session is gone and a
			// retry cannot succeed, so the application fails now.
			s.failVerification(ctx, app.ID, domain.Message(err))
		}
		return nil, err
	}

	if outcome.Result == session.ResultSubmitted {
		submittedAt := s.now()
		if err := s.apps.Transition(ctx, app.ID, domain.StatusPendingVerification, domain.StatusSubmitted,
			store.TransitionSet{SubmittedAt: &submittedAt, ClearExpiry: true}); err != nil {
			return nil, err
		}
		app.Status = domain.StatusSubmitted
		app.SubmittedAt = &submittedAt
		app.ExpiresAt = nil
		save := s.popSaveResponses(app.ID)
		s.resetAttempts(app.ID)
		metrics.ApplicationsSubmitted.WithLabelValues("submitted").Inc()
		metrics.LiveSessions.Set(float64(s.sessions.Count()))
		if save {
			s.cacheConfirmedAnswers(ctx, app)
		}
		return app, nil
	}

	// The code was rejected. A bounded number of retries is allowed before
	// the session is burned.
	attempts := s.bumpAttempts(app.ID)
	if attempts >= s.config.MaxVerifyAttempts {
		s.sessions.Release(app.ID)
		msg := "verification failed: attempt limit reached"
		if err := s.apps.Transition(ctx, app.ID, domain.StatusPendingVerification, domain.StatusFailed,
			store.TransitionSet{Error: &msg, ClearExpiry: true}); err != nil {
			return nil, err
		}
		s.resetAttempts(app.ID)
		metrics.ApplicationsSubmitted.WithLabelValues("verification_exhausted").Inc()
		metrics.LiveSessions.Set(float64(s.sessions.Count()))
		return nil, domain.NewOperationError(domain.ErrInvalidArgument, msg)
	}

	if err := s.apps.RecordError(ctx, app.ID, outcome.Reason); err != nil {
		s.logger.Warn("Failed to record rejected verification code",
			slog.String("application_id", app.ID),
			slog.Any("error", err),
		)
	}
	return nil, domain.NewOperationError(domain.ErrInvalidArgument,
		fmt.Sprintf("the verification code was rejected (%d of %d attempts used)",
			attempts, s.config.MaxVerifyAttempts))
}

// Cancel withdraws an application that is awaiting review or verification.
// Cancelling an already-terminal application is a no-op success.
func (s *Service) Cancel(ctx context.Context, userID, id string) (*domain.Application, error) {
	app, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	switch app.Status {
	case domain.StatusPendingReview, domain.StatusPendingVerification:
	default:
		if domain.IsTerminal(app.Status) {
			return app, nil
		}
		return nil, domain.NewOperationError(domain.ErrConflict,
			fmt.Sprintf("application cannot be cancelled from status %q", app.Status))
	}

	if err := s.apps.Transition(ctx, app.ID, app.Status, domain.StatusCancelled,
		store.TransitionSet{ClearExpiry: true}); err != nil {
		return nil, err
	}

	s.sessions.Release(app.ID)
	s.resetAttempts(app.ID)
	metrics.LiveSessions.Set(float64(s.sessions.Count()))

	app.Status = domain.StatusCancelled
	app.ExpiresAt = nil
	s.logger.Info("Application cancelled", slog.String("application_id", id))
	return app, nil
}

// ExpiresIn reports the remaining TTL for the application's current window in
// whole seconds, zero when no window applies.
func (s *Service) ExpiresIn(app *domain.Application) int64 {
	if app.ExpiresAt == nil {
		return 0
	}
	remaining := app.ExpiresAt.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

func (s *Service) failSubmitting(ctx context.Context, id, message string) {
	s.sessions.Release(id)
	if err := s.apps.Transition(ctx, id, domain.StatusSubmitting, domain.StatusFailed,
		store.TransitionSet{Error: &message, ClearExpiry: true}); err != nil {
		s.logger.Error("Failed to record submission failure",
			slog.String("application_id", id),
			slog.Any("error", err),
		)
	}
}

func (s *Service) failVerification(ctx context.Context, id, message string) {
	s.sessions.Release(id)
	s.resetAttempts(id)
	if err := s.apps.Transition(ctx, id, domain.StatusPendingVerification, domain.StatusFailed,
		store.TransitionSet{Error: &message, ClearExpiry: true}); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error("Failed to record verification failure",
			slog.String("application_id", id),
			slog.Any("error", err),
		)
	}
	metrics.ApplicationsSubmitted.WithLabelValues("failed").Inc()
	metrics.LiveSessions.Set(float64(s.sessions.Count()))
}

func (s *Service) expireVerification(ctx context.Context, id string) {
	s.sessions.Release(id)
	s.resetAttempts(id)
	msg := "the verification window expired"
	if err := s.apps.Transition(ctx, id, domain.StatusPendingVerification, domain.StatusFailed,
		store.TransitionSet{Error: &msg, ClearExpiry: true}); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error("Failed to expire verification window",
			slog.String("application_id", id),
			slog.Any("error", err),
		)
	}
	metrics.LiveSessions.Set(float64(s.sessions.Count()))
}

// cacheConfirmedAnswers stores the submitted values of AI-generated and
// manually entered fields so future applications can reuse them. Best effort.
func (s *Service) cacheConfirmedAnswers(ctx context.Context, app *domain.Application) {
	answers := make(map[string]string)
	for i := range app.Fields {
		f := &app.Fields[i]
		if f.FieldType == domain.FieldTypeFile || f.Source == domain.SourceProfile {
			continue
		}
		if value := f.EffectiveValue(); value != "" {
			answers[domain.NormalizeLabel(f.Label)] = value
		}
	}
	if err := s.answers.SaveAll(ctx, app.UserID, answers); err != nil {
		s.logger.Warn("Failed to cache confirmed answers",
			slog.String("application_id", app.ID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) bumpAttempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyAttempts[id]++
	return s.verifyAttempts[id]
}

func (s *Service) resetAttempts(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifyAttempts, id)
	delete(s.saveResponses, id)
}

func (s *Service) setSaveResponses(id string, save bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if save {
		s.saveResponses[id] = true
	}
}

func (s *Service) popSaveResponses(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	save := s.saveResponses[id]
	delete(s.saveResponses, id)
	return save
}

// applyOverrides merges user-supplied values into the field snapshot.
func applyOverrides(fields domain.FieldList, overrides map[string]string) error {
	for fieldID, value := range overrides {
		field := findField(fields, fieldID)
		if field == nil {
			return domain.NewOperationError(domain.ErrInvalidArgument,
				fmt.Sprintf("unknown field %q", fieldID))
		}
		if !field.Editable {
			return domain.NewOperationError(domain.ErrInvalidArgument,
				fmt.Sprintf("field %q cannot be overridden", field.Label))
		}
		if field.IsChoice() && !containsOption(field.Options, value) {
			return domain.NewOperationError(domain.ErrInvalidArgument,
				fmt.Sprintf("value %q is not an option for field %q", value, field.Label))
		}
		v := value
		field.FinalValue = &v
		field.Source = domain.SourceManual
		field.Confidence = 1.0
	}
	return nil
}

func findField(fields domain.FieldList, fieldID string) *domain.FormField {
	for i := range fields {
		if fields[i].FieldID == fieldID {
			return &fields[i]
		}
	}
	return nil
}

func containsOption(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}

func missingRequired(fields domain.FieldList) []string {
	var missing []string
	for i := range fields {
		if fields[i].Required && fields[i].EffectiveValue() == "" {
			missing = append(missing, fields[i].Label)
		}
	}
	return missing
}

func validVerificationCode(code string) bool {
	if len(code) != 8 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
