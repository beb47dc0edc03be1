// Package resolver fills extracted form fields with recommended values. Each
// field is tried against the sources in fixed order: direct profile mapping,
// the user's cached answers, then AI generation. Whatever stays unresolved is
// left for the user to supply during review.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/applyflow/applyflow/internal/ai"
	"github.com/applyflow/applyflow/internal/domain"
)

// AIClient answers free-form questions. Satisfied by *ai.Client.
type AIClient interface {
	AnswerQuestion(ctx context.Context, question, profileContext, jobContext string) (*ai.Answer, error)
}

// AnswerCache looks up the user's previously confirmed answers by normalized
// label. Satisfied by *store.AnswerStore.
type AnswerCache interface {
	Get(ctx context.Context, userID, label string) (string, bool, error)
}

// randomChoiceConfidence is recorded when a choice field falls back to a
// random pick because no source produced a usable option.
const randomChoiceConfidence = 0.5

// Resolver resolves form fields for one application at a time.
type Resolver struct {
	cache  AnswerCache
	client AIClient
	logger *slog.Logger
	rng    *rand.Rand
}

// New creates a Resolver. rng drives the random-choice fallback and must not
// be shared across goroutines.
func New(cache AnswerCache, client AIClient, rng *rand.Rand, logger *slog.Logger) *Resolver {
	return &Resolver{
		cache:  cache,
		client: client,
		logger: logger,
		rng:    rng,
	}
}

// Resolve annotates fields in place with recommended values. AI and cache
// failures degrade to the next source instead of failing the whole pass; the
// only returned error is ctx cancellation.
func (r *Resolver) Resolve(ctx context.Context, profile *domain.Profile, job *domain.Job, fields []domain.FormField) error {
	profileContext := profileSummary(profile)
	jobContext := jobSummary(job)

	for i := range fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.resolveField(ctx, profile, profileContext, jobContext, &fields[i])
	}
	return nil
}

func (r *Resolver) resolveField(ctx context.Context, profile *domain.Profile, profileContext, jobContext string, field *domain.FormField) {
	field.Editable = field.FieldType != domain.FieldTypeFile

	// File inputs only ever come from the profile's stored documents.
	if field.FieldType == domain.FieldTypeFile {
		r.resolveFile(profile, field)
		return
	}

	if value, ok := profileValue(profile, field); ok {
		setResolution(field, value, domain.SourceProfile, 1.0, "")
		return
	}

	label := domain.NormalizeLabel(field.Label)
	if value, ok, err := r.cache.Get(ctx, profile.UserID, label); err != nil {
		r.logger.Warn("Answer cache lookup failed",
			slog.String("label", label),
			slog.Any("error", err),
		)
	} else if ok && acceptableForField(field, value) {
		setResolution(field, value, domain.SourceCached, 0.9, "")
		return
	}

	if r.resolveWithAI(ctx, profileContext, jobContext, field) {
		return
	}

	// A choice control can still get a usable value: pick one at random among
	// the real options and flag it with low confidence so review surfaces it.
	if field.IsChoice() {
		if options := selectableOptions(field.Options); len(options) > 0 {
			choice := options[r.rng.Intn(len(options))]
			setResolution(field, choice, domain.SourceAI, randomChoiceConfidence,
				"no grounded answer was available; selected an option at random for review")
			return
		}
	}

	// Unresolved: the user supplies the value during review.
	field.Source = domain.SourceManual
	field.Confidence = 0
}

func (r *Resolver) resolveFile(profile *domain.Profile, field *domain.FormField) {
	label := domain.NormalizeLabel(field.Label)

	var path *string
	switch {
	case strings.Contains(label, "cover_letter"):
		path = profile.CoverLetterPath
	case strings.Contains(label, "resume") || strings.Contains(label, "cv"):
		path = profile.ResumePath
	}

	if path != nil && *path != "" {
		setResolution(field, *path, domain.SourceProfile, 1.0, "")
		return
	}
	field.Source = domain.SourceManual
	field.Confidence = 0
}

func (r *Resolver) resolveWithAI(ctx context.Context, profileContext, jobContext string, field *domain.FormField) bool {
	question := field.Label
	if len(field.Options) > 0 {
		question = fmt.Sprintf("%s (choose exactly one of: %s)", field.Label, strings.Join(field.Options, ", "))
	}

	answer, err := r.client.AnswerQuestion(ctx, question, profileContext, jobContext)
	if err != nil {
		r.logger.Warn("AI answer generation failed",
			slog.String("field", field.Label),
			slog.Any("error", err),
		)
		return false
	}

	value := strings.TrimSpace(answer.Text)
	if field.IsChoice() {
		matched, ok := matchOption(field.Options, value)
		if !ok {
			return false
		}
		value = matched
	}
	if value == "" {
		return false
	}

	setResolution(field, value, domain.SourceAI, answer.Confidence, answer.Reasoning)
	return true
}

func setResolution(field *domain.FormField, value, source string, confidence float64, reasoning string) {
	field.RecommendedValue = &value
	field.Source = source
	field.Confidence = confidence
	if reasoning != "" {
		field.Reasoning = &reasoning
	}
}

// acceptableForField rejects values that cannot be applied to the control,
// such as a cached answer that is no longer among a select's options.
func acceptableForField(field *domain.FormField, value string) bool {
	if value == "" {
		return false
	}
	if field.IsChoice() {
		_, ok := matchOption(field.Options, value)
		return ok
	}
	return true
}

// selectableOptions strips placeholder entries so the random fallback never
// picks "Select..." or a divider as an answer.
func selectableOptions(options []string) []string {
	selectable := make([]string, 0, len(options))
	for _, opt := range options {
		if isPlaceholderOption(opt) {
			continue
		}
		selectable = append(selectable, opt)
	}
	return selectable
}

// isPlaceholderOption recognizes the non-answers sites put at the top of a
// select: empty entries, dash dividers and "Select a value" style prompts.
func isPlaceholderOption(option string) bool {
	trimmed := strings.TrimSpace(option)
	if trimmed == "" {
		return true
	}
	if strings.Trim(trimmed, "-–—") == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"select", "choose", "please"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// matchOption finds the option equal to value, exactly first and then
// case-insensitively, returning the option's canonical spelling.
func matchOption(options []string, value string) (string, bool) {
	for _, opt := range options {
		if opt == value {
			return opt, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, value) {
			return opt, true
		}
	}
	return "", false
}

// profileValue maps well-known labels straight onto profile columns.
func profileValue(profile *domain.Profile, field *domain.FormField) (string, bool) {
	var value string
	switch domain.NormalizeLabel(field.Label) {
	case "first_name", "given_name":
		value = profile.FirstName
	case "last_name", "family_name", "surname":
		value = profile.LastName
	case "name", "full_name", "your_name":
		value = profile.FullName()
	case "email", "email_address":
		value = profile.Email
	case "phone", "phone_number", "mobile_number":
		value = profile.Phone
	case "linkedin", "linkedin_profile", "linkedin_url":
		value = profile.LinkedIn
	case "website", "portfolio", "personal_website":
		value = profile.Website
	case "location", "city", "current_location":
		value = profile.Location
	default:
		return "", false
	}

	if value == "" {
		return "", false
	}
	if field.IsChoice() {
		matched, ok := matchOption(field.Options, value)
		return matched, ok
	}
	return value, true
}

func profileSummary(p *domain.Profile) string {
	lines := []string{
		"Name: " + p.FullName(),
		"Email: " + p.Email,
	}
	if p.Phone != "" {
		lines = append(lines, "Phone: "+p.Phone)
	}
	if p.Location != "" {
		lines = append(lines, "Location: "+p.Location)
	}
	if p.LinkedIn != "" {
		lines = append(lines, "LinkedIn: "+p.LinkedIn)
	}
	if p.Website != "" {
		lines = append(lines, "Website: "+p.Website)
	}
	return strings.Join(lines, "\n")
}

func jobSummary(j *domain.Job) string {
	if j == nil {
		return ""
	}
	lines := []string{"Title: " + j.Title, "Company: " + j.SourceCompany}
	if j.DescriptionText != "" {
		lines = append(lines, "Description: "+j.DescriptionText)
	}
	return strings.Join(lines, "\n")
}
