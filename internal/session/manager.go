// Package session manages the browser sessions that drive form fill, submit
// and email verification. A session normally lives for one operation; when a
// site demands a verification code the page is deliberately kept open,
// registered against the application id, and reclaimed either by a successful
// verify, an explicit release, or the deadline reaper.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/applyflow/applyflow/internal/automation"
	"github.com/applyflow/applyflow/internal/domain"
)

// Result classifies the outcome of a submit or verify interaction.
type Result string

const (
	ResultSubmitted         Result = "submitted"
	ResultNeedsVerification Result = "needs_verification"
	ResultFailed            Result = "failed"
)

// Outcome is what a fill/submit or verification interaction produced.
type Outcome struct {
	Result Result
	Reason string
}

// verificationFieldID is the stable identifier of the code input in the
// email-verification prompt.
const verificationFieldID = "email_verification_code"

var verificationSignatures = []string{
	"verification code",
	"verify your email",
	"security code",
}

var submittedSignatures = []string{
	"thank you for applying",
	"application submitted",
	"application has been received",
}

var goneSignatures = []string{
	"no longer accepting applications",
	"job posting was not found",
	"this position has been filled",
}

// Manager owns at most one live browser session per application.
type Manager struct {
	driver          automation.Driver
	logger          *slog.Logger
	verificationTTL time.Duration
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	appID    string
	page     automation.Page
	deadline time.Time
}

// NewManager creates a session manager over an automation driver.
func NewManager(driver automation.Driver, verificationTTL time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		driver:          driver,
		logger:          logger,
		verificationTTL: verificationTTL,
		now:             time.Now,
		sessions:        make(map[string]*liveSession),
	}
}

// Fingerprint hashes a form's structure: field ids, types, labels and the
// required flags, in document order. Identical structure yields an identical
// fingerprint regardless of field values.
func Fingerprint(fields []domain.FormField) string {
	h := sha256.New()
	for _, f := range fields {
		fmt.Fprintf(h, "%s|%s|%s|%t\n", f.FieldID, f.FieldType, f.Label, f.Required)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ExtractForm opens the posting url, inspects it, and returns the form's
// fields plus the structure fingerprint. The page is always closed; nothing
// is registered.
func (m *Manager) ExtractForm(ctx context.Context, url string) ([]domain.FormField, string, error) {
	page, err := m.driver.NewPage(ctx)
	if err != nil {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not open browser page: %v", err))
	}
	defer page.Close(ctx)

	if err := page.Navigate(ctx, url); err != nil {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not open posting: %v", err))
	}

	content, err := page.Content(ctx)
	if err != nil {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not inspect posting page: %v", err))
	}
	if matchesAny(content, goneSignatures) {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamGone,
			"the posting is no longer available at the source")
	}

	extracted, err := page.ExtractFields(ctx)
	if err != nil {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("form extraction failed: %v", err))
	}
	if len(extracted) == 0 {
		return nil, "", domain.NewOperationError(domain.ErrUpstreamFailure,
			"no application form found on the posting page")
	}

	fields := make([]domain.FormField, len(extracted))
	for i, e := range extracted {
		fields[i] = domain.FormField{
			FieldID:   e.ID,
			Label:     e.Label,
			FieldType: e.Type,
			Required:  e.Required,
			Options:   e.Options,
			Source:    domain.SourceManual,
			Editable:  e.Type != domain.FieldTypeFile,
		}
	}

	return fields, Fingerprint(fields), nil
}

// FillAndSubmit opens the posting, verifies the form still matches the
// analyzed fingerprint, fills every field with its effective value and
// submits. On a verification prompt the page stays open and is registered
// under appID until SubmitVerificationCode, Release, or the reaper claims it.
func (m *Manager) FillAndSubmit(ctx context.Context, appID, url string, fields []domain.FormField, expectedFingerprint string) (Outcome, error) {
	page, err := m.driver.NewPage(ctx)
	if err != nil {
		return Outcome{Result: ResultFailed, Reason: fmt.Sprintf("could not open browser page: %v", err)}, nil
	}

	closePage := true
	defer func() {
		if closePage {
			page.Close(ctx)
		}
	}()

	if err := page.Navigate(ctx, url); err != nil {
		return Outcome{Result: ResultFailed, Reason: fmt.Sprintf("could not open posting: %v", err)}, nil
	}

	extracted, err := page.ExtractFields(ctx)
	if err != nil {
		return Outcome{Result: ResultFailed, Reason: fmt.Sprintf("form re-extraction failed: %v", err)}, nil
	}

	current := make([]domain.FormField, len(extracted))
	for i, e := range extracted {
		current[i] = domain.FormField{FieldID: e.ID, Label: e.Label, FieldType: e.Type, Required: e.Required}
	}
	if Fingerprint(current) != expectedFingerprint {
		return Outcome{}, domain.NewOperationError(domain.ErrFingerprintMismatch,
			"the form structure changed since analysis; re-analyze the application")
	}

	for i := range fields {
		if err := m.fillField(ctx, page, &fields[i]); err != nil {
			return Outcome{Result: ResultFailed,
				Reason: fmt.Sprintf("could not fill field %q: %v", fields[i].Label, err)}, nil
		}
	}

	if err := page.Submit(ctx); err != nil {
		return Outcome{Result: ResultFailed, Reason: fmt.Sprintf("submission failed: %v", err)}, nil
	}

	content, err := page.Content(ctx)
	if err != nil {
		return Outcome{Result: ResultFailed, Reason: fmt.Sprintf("could not inspect result page: %v", err)}, nil
	}

	switch {
	case matchesAny(content, verificationSignatures):
		m.register(appID, page)
		closePage = false
		m.logger.Info("Verification prompt detected, holding session open",
			slog.String("application_id", appID),
			slog.Duration("ttl", m.verificationTTL),
		)
		return Outcome{Result: ResultNeedsVerification}, nil

	case matchesAny(content, submittedSignatures):
		return Outcome{Result: ResultSubmitted}, nil

	default:
		return Outcome{Result: ResultFailed, Reason: "the site did not confirm the submission"}, nil
	}
}

func (m *Manager) fillField(ctx context.Context, page automation.Page, field *domain.FormField) error {
	value := field.EffectiveValue()
	if value == "" {
		return nil
	}

	switch field.FieldType {
	case domain.FieldTypeText, domain.FieldTypeTextarea:
		return page.Type(ctx, field.FieldID, value)

	case domain.FieldTypeSelect, domain.FieldTypeRadio:
		return page.SelectOption(ctx, field.FieldID, value)

	case domain.FieldTypeDynamicSelect:
		return m.fillDynamicSelect(ctx, page, field, value)

	case domain.FieldTypeCheckbox:
		return page.SetChecked(ctx, field.FieldID, isTruthy(value))

	case domain.FieldTypeFile:
		return page.UploadFile(ctx, field.FieldID, value)

	default:
		return fmt.Errorf("unsupported field type %q", field.FieldType)
	}
}

// fillDynamicSelect drives a custom dropdown that hides its native control:
// focus, open, arrow down to the option's position, confirm.
func (m *Manager) fillDynamicSelect(ctx context.Context, page automation.Page, field *domain.FormField, value string) error {
	position := -1
	for i, opt := range field.Options {
		if opt == value {
			position = i
			break
		}
	}
	if position < 0 {
		return fmt.Errorf("value %q is not among the control's options", value)
	}

	if err := page.Focus(ctx, field.FieldID); err != nil {
		return err
	}
	if err := page.Click(ctx, field.FieldID); err != nil {
		return err
	}
	for i := 0; i <= position; i++ {
		if err := page.Press(ctx, "ArrowDown"); err != nil {
			return err
		}
	}
	return page.Press(ctx, "Enter")
}

// SubmitVerificationCode types the code into the held session's prompt and
// inspects the result. A rejected code keeps the session open for a retry; a
// confirmed submission releases it. An automation failure releases the
// session and surfaces as an upstream failure so the caller does not confuse
// it with a wrong code.
func (m *Manager) SubmitVerificationCode(ctx context.Context, appID, code string) (Outcome, error) {
	m.mu.Lock()
	sess, ok := m.sessions[appID]
	if ok && m.now().After(sess.deadline) {
		delete(m.sessions, appID)
		go sess.page.Close(context.Background())
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return Outcome{}, domain.NewOperationError(domain.ErrGone,
			"the verification window has closed and the session was reclaimed")
	}

	if err := sess.page.Type(ctx, verificationFieldID, code); err != nil {
		m.Release(appID)
		return Outcome{}, domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not enter verification code: %v", err))
	}
	if err := sess.page.Press(ctx, "Enter"); err != nil {
		m.Release(appID)
		return Outcome{}, domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not confirm verification code: %v", err))
	}

	content, err := sess.page.Content(ctx)
	if err != nil {
		m.Release(appID)
		return Outcome{}, domain.NewOperationError(domain.ErrUpstreamFailure,
			fmt.Sprintf("could not inspect verification result: %v", err))
	}

	if matchesAny(content, submittedSignatures) {
		m.Release(appID)
		return Outcome{Result: ResultSubmitted}, nil
	}

	// Still on the prompt: the code was rejected but the window stays open.
	return Outcome{Result: ResultFailed, Reason: "the verification code was rejected"}, nil
}

func (m *Manager) register(appID string, page automation.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[appID]; ok {
		go prev.page.Close(context.Background())
	}

	m.sessions[appID] = &liveSession{
		appID:    appID,
		page:     page,
		deadline: m.now().Add(m.verificationTTL),
	}
}

// Release closes and forgets the session for appID, if any. Safe to call for
// applications without a live session.
func (m *Manager) Release(appID string) {
	m.mu.Lock()
	sess, ok := m.sessions[appID]
	delete(m.sessions, appID)
	m.mu.Unlock()

	if ok {
		if err := sess.page.Close(context.Background()); err != nil {
			m.logger.Warn("Failed to close browser session",
				slog.String("application_id", appID),
				slog.Any("error", err),
			)
		}
		m.logger.Info("Browser session released",
			slog.String("application_id", appID),
		)
	}
}

// Deadline reports the verification deadline for appID's live session.
func (m *Manager) Deadline(appID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[appID]
	if !ok {
		return time.Time{}, false
	}
	return sess.deadline, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReapExpired closes every session whose deadline passed and returns the
// affected application ids, sorted for deterministic logging.
func (m *Manager) ReapExpired(now time.Time) []string {
	m.mu.Lock()
	var expired []*liveSession
	for id, sess := range m.sessions {
		if now.After(sess.deadline) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		if err := sess.page.Close(context.Background()); err != nil {
			m.logger.Warn("Failed to close expired browser session",
				slog.String("application_id", sess.appID),
				slog.Any("error", err),
			)
		}
		ids = append(ids, sess.appID)
	}
	sort.Strings(ids)

	return ids
}

func matchesAny(content string, signatures []string) bool {
	lower := strings.ToLower(content)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "checked", "on":
		return true
	}
	return false
}
