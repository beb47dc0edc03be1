// Package automation defines the browser-automation capability the session
// manager drives. The primitives (navigate, click, type, select, inspect) are
// provided by an external driver; this package only fixes the contract.
package automation

import "context"

// ExtractedField is one raw input discovered on a page, before resolution.
type ExtractedField struct {
	ID       string
	Label    string
	Type     string
	Required bool
	Options  []string
}

// Driver creates pages. One driver instance backs one browser.
type Driver interface {
	// NewPage opens a fresh page in its own context.
	NewPage(ctx context.Context) (Page, error)

	// Close tears down the browser and every page it owns.
	Close() error
}

// Page is a single browser page. All calls may block on the real browser and
// must respect ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error

	// ExtractFields inspects the page and returns the application form's
	// inputs in document order.
	ExtractFields(ctx context.Context) ([]ExtractedField, error)

	Type(ctx context.Context, fieldID, value string) error
	SelectOption(ctx context.Context, fieldID, option string) error
	SetChecked(ctx context.Context, fieldID string, checked bool) error
	UploadFile(ctx context.Context, fieldID, path string) error

	// Focus, Click and Press drive custom controls that hide their native
	// element and only respond to an interaction sequence.
	Focus(ctx context.Context, fieldID string) error
	Click(ctx context.Context, selector string) error
	Press(ctx context.Context, key string) error

	// Submit submits the application form.
	Submit(ctx context.Context) error

	// Content returns the page's visible text for signature inspection.
	Content(ctx context.Context) (string, error)

	Close(ctx context.Context) error
}
