package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/applyflow/applyflow/internal/automation"
	"github.com/applyflow/applyflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage scripts a browser page. Content is re-read after Submit and after
// a verification code, so contents is consumed as a queue.
type fakePage struct {
	fields   []automation.ExtractedField
	contents []string

	typed    map[string]string
	selected map[string]string
	checked  map[string]bool
	uploaded map[string]string
	pressed  []string

	submitErr error
	typeErr   error
	closed    bool
}

func newFakePage(fields []automation.ExtractedField, contents ...string) *fakePage {
	return &fakePage{
		fields:   fields,
		contents: contents,
		typed:    make(map[string]string),
		selected: make(map[string]string),
		checked:  make(map[string]bool),
		uploaded: make(map[string]string),
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return nil }

func (p *fakePage) ExtractFields(ctx context.Context) ([]automation.ExtractedField, error) {
	return p.fields, nil
}

func (p *fakePage) Type(ctx context.Context, fieldID, value string) error {
	if p.typeErr != nil {
		return p.typeErr
	}
	p.typed[fieldID] = value
	return nil
}

func (p *fakePage) SelectOption(ctx context.Context, fieldID, option string) error {
	p.selected[fieldID] = option
	return nil
}

func (p *fakePage) SetChecked(ctx context.Context, fieldID string, checked bool) error {
	p.checked[fieldID] = checked
	return nil
}

func (p *fakePage) UploadFile(ctx context.Context, fieldID, path string) error {
	p.uploaded[fieldID] = path
	return nil
}

func (p *fakePage) Focus(ctx context.Context, fieldID string) error { return nil }
func (p *fakePage) Click(ctx context.Context, selector string) error {
	return nil
}

func (p *fakePage) Press(ctx context.Context, key string) error {
	p.pressed = append(p.pressed, key)
	return nil
}

func (p *fakePage) Submit(ctx context.Context) error { return p.submitErr }

func (p *fakePage) Content(ctx context.Context) (string, error) {
	if len(p.contents) == 0 {
		return "", nil
	}
	content := p.contents[0]
	if len(p.contents) > 1 {
		p.contents = p.contents[1:]
	}
	return content, nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.closed = true
	return nil
}

type fakeDriver struct {
	pages []*fakePage
	next  int
	err   error
}

func (d *fakeDriver) NewPage(ctx context.Context) (automation.Page, error) {
	if d.err != nil {
		return nil, d.err
	}
	page := d.pages[d.next]
	if d.next < len(d.pages)-1 {
		d.next++
	}
	return page, nil
}

func (d *fakeDriver) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

var sampleFields = []automation.ExtractedField{
	{ID: "first_name", Label: "First Name", Type: domain.FieldTypeText, Required: true},
	{ID: "resume", Label: "Resume", Type: domain.FieldTypeFile, Required: true},
	{ID: "visa", Label: "Do you require visa sponsorship?", Type: domain.FieldTypeSelect, Options: []string{"Yes", "No"}},
}

func TestFingerprintIgnoresValues(t *testing.T) {
	a := []domain.FormField{{FieldID: "f1", FieldType: domain.FieldTypeText, Label: "Name", Required: true}}
	b := []domain.FormField{{FieldID: "f1", FieldType: domain.FieldTypeText, Label: "Name", Required: true}}
	value := "Ada"
	b[0].FinalValue = &value

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithStructure(t *testing.T) {
	a := []domain.FormField{{FieldID: "f1", FieldType: domain.FieldTypeText, Label: "Name"}}
	b := []domain.FormField{{FieldID: "f1", FieldType: domain.FieldTypeText, Label: "Name", Required: true}}

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestExtractForm(t *testing.T) {
	page := newFakePage(sampleFields, "apply for this role")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields, fingerprint, err := m.ExtractForm(context.Background(), "https://example.com/jobs/1")
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.NotEmpty(t, fingerprint)
	assert.True(t, page.closed)

	// File fields are never user editable.
	assert.False(t, fields[1].Editable)
	assert.True(t, fields[0].Editable)
	assert.Equal(t, []string{"Yes", "No"}, fields[2].Options)
}

func TestExtractFormGonePosting(t *testing.T) {
	page := newFakePage(sampleFields, "This job posting was not found")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	_, _, err := m.ExtractForm(context.Background(), "https://example.com/jobs/1")
	assert.ErrorIs(t, err, domain.ErrUpstreamGone)
	assert.True(t, page.closed)
}

func TestExtractFormNoFields(t *testing.T) {
	page := newFakePage(nil, "nothing here")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	_, _, err := m.ExtractForm(context.Background(), "https://example.com/jobs/1")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func filledFields() []domain.FormField {
	name := "Ada Lovelace"
	resume := "/files/resume.pdf"
	visa := "No"
	return []domain.FormField{
		{FieldID: "first_name", Label: "First Name", FieldType: domain.FieldTypeText, Required: true, FinalValue: &name},
		{FieldID: "resume", Label: "Resume", FieldType: domain.FieldTypeFile, Required: true, RecommendedValue: &resume},
		{FieldID: "visa", Label: "Do you require visa sponsorship?", FieldType: domain.FieldTypeSelect, Options: []string{"Yes", "No"}, FinalValue: &visa},
	}
}

func TestFillAndSubmitSubmitted(t *testing.T) {
	page := newFakePage(sampleFields, "Thank you for applying!")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, outcome.Result)

	assert.Equal(t, "Ada Lovelace", page.typed["first_name"])
	assert.Equal(t, "/files/resume.pdf", page.uploaded["resume"])
	assert.Equal(t, "No", page.selected["visa"])
	assert.True(t, page.closed)
	assert.Equal(t, 0, m.Count())
}

func TestFillAndSubmitNeedsVerification(t *testing.T) {
	page := newFakePage(sampleFields, "We sent a verification code to your email")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	assert.Equal(t, ResultNeedsVerification, outcome.Result)

	// The page stays open and is registered until verify or release.
	assert.False(t, page.closed)
	assert.Equal(t, 1, m.Count())

	deadline, ok := m.Deadline("app-1")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), deadline, time.Minute)
}

func TestFillAndSubmitFingerprintMismatch(t *testing.T) {
	page := newFakePage(sampleFields, "irrelevant")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, "stale-fingerprint")
	assert.ErrorIs(t, err, domain.ErrFingerprintMismatch)
	assert.True(t, page.closed)
}

func TestFillAndSubmitFailure(t *testing.T) {
	page := newFakePage(sampleFields, "something went wrong")
	page.submitErr = errors.New("click intercepted")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, outcome.Result)
	assert.Contains(t, outcome.Reason, "submission failed")
	assert.True(t, page.closed)
}

func TestFillAndSubmitUnconfirmed(t *testing.T) {
	page := newFakePage(sampleFields, "an unexpected page")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, outcome.Result)
}

func TestDynamicSelectInteractionSequence(t *testing.T) {
	fields := []automation.ExtractedField{
		{ID: "pronouns", Label: "Pronouns", Type: domain.FieldTypeDynamicSelect, Options: []string{"she/her", "he/him", "they/them"}},
	}
	page := newFakePage(fields, "application submitted")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	value := "they/them"
	form := []domain.FormField{{
		FieldID:   "pronouns",
		Label:     "Pronouns",
		FieldType: domain.FieldTypeDynamicSelect,
		Options:   []string{"she/her", "he/him", "they/them"},
		FinalValue: &value,
	}}

	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", form, Fingerprint(form))
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, outcome.Result)

	// Third option: three ArrowDown presses then Enter.
	assert.Equal(t, []string{"ArrowDown", "ArrowDown", "ArrowDown", "Enter"}, page.pressed)
}

func TestVerificationCodeAccepted(t *testing.T) {
	page := newFakePage(sampleFields,
		"enter the verification code we emailed you",
		"application submitted, thank you",
	)
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	outcome, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	require.Equal(t, ResultNeedsVerification, outcome.Result)

	outcome, err = m.SubmitVerificationCode(context.Background(), "app-1", "12345678")
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, outcome.Result)
	assert.Equal(t, "12345678", page.typed[verificationFieldID])
	assert.True(t, page.closed)
	assert.Equal(t, 0, m.Count())
}

func TestVerificationCodeRejectedKeepsSession(t *testing.T) {
	page := newFakePage(sampleFields,
		"enter the verification code we emailed you",
		"that security code is incorrect, try again",
	)
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)

	outcome, err := m.SubmitVerificationCode(context.Background(), "app-1", "00000000")
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, outcome.Result)

	// A wrong code does not burn the session; the caller may retry.
	assert.Equal(t, 1, m.Count())
	assert.False(t, page.closed)
}

func TestVerificationAutomationFailureReleasesSession(t *testing.T) {
	page := newFakePage(sampleFields, "enter the verification code we emailed you")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)

	// The browser breaks mid-verification. That is not a wrong code; it must
	// surface as an error and burn the session.
	page.typeErr = errors.New("target closed")

	_, err = m.SubmitVerificationCode(context.Background(), "app-1", "12345678")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
	assert.True(t, page.closed)
	assert.Equal(t, 0, m.Count())
}

func TestVerificationWithoutSession(t *testing.T) {
	m := NewManager(&fakeDriver{}, 15*time.Minute, discardLogger())

	_, err := m.SubmitVerificationCode(context.Background(), "app-unknown", "12345678")
	assert.ErrorIs(t, err, domain.ErrGone)
}

func TestVerificationAfterDeadline(t *testing.T) {
	page := newFakePage(sampleFields, "verification code sent")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	_, err = m.SubmitVerificationCode(context.Background(), "app-1", "12345678")
	assert.ErrorIs(t, err, domain.ErrGone)
	assert.Equal(t, 0, m.Count())
}

func TestReapExpired(t *testing.T) {
	pageA := newFakePage(sampleFields, "verification code sent")
	pageB := newFakePage(sampleFields, "verification code sent")
	m := NewManager(&fakeDriver{pages: []*fakePage{pageA, pageB}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-a", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)
	_, err = m.FillAndSubmit(context.Background(), "app-b", "https://example.com/jobs/2", fields, Fingerprint(fields))
	require.NoError(t, err)
	require.Equal(t, 2, m.Count())

	ids := m.ReapExpired(time.Now().Add(20 * time.Minute))
	assert.Equal(t, []string{"app-a", "app-b"}, ids)
	assert.Equal(t, 0, m.Count())
	assert.True(t, pageA.closed)
	assert.True(t, pageB.closed)
}

func TestRelease(t *testing.T) {
	page := newFakePage(sampleFields, "verification code sent")
	m := NewManager(&fakeDriver{pages: []*fakePage{page}}, 15*time.Minute, discardLogger())

	fields := filledFields()
	_, err := m.FillAndSubmit(context.Background(), "app-1", "https://example.com/jobs/1", fields, Fingerprint(fields))
	require.NoError(t, err)

	m.Release("app-1")
	assert.True(t, page.closed)
	assert.Equal(t, 0, m.Count())

	// Releasing again is a no-op.
	m.Release("app-1")
}
