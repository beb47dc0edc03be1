package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteDriver drives a browser-automation sidecar over HTTP. The sidecar
// owns the actual browser; every Page method maps to one sidecar endpoint.
type RemoteDriver struct {
	baseURL string
	client  *http.Client
}

// NewRemoteDriver creates a driver for the sidecar at baseURL.
func NewRemoteDriver(baseURL string) *RemoteDriver {
	return &RemoteDriver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// NewPage asks the sidecar for a fresh page.
func (d *RemoteDriver) NewPage(ctx context.Context) (Page, error) {
	var resp struct {
		PageID string `json:"page_id"`
	}
	if err := d.call(ctx, http.MethodPost, "/pages", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &remotePage{driver: d, id: resp.PageID}, nil
}

// Close shuts down every page the sidecar holds for this driver.
func (d *RemoteDriver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.call(ctx, http.MethodDelete, "/pages", nil, nil)
}

func (d *RemoteDriver) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			return fmt.Errorf("automation sidecar: %s", errBody.Error)
		}
		return fmt.Errorf("automation sidecar returned status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type remotePage struct {
	driver *RemoteDriver
	id     string
}

func (p *remotePage) path(action string) string {
	return fmt.Sprintf("/pages/%s/%s", p.id, action)
}

func (p *remotePage) Navigate(ctx context.Context, url string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("navigate"),
		map[string]string{"url": url}, nil)
}

func (p *remotePage) ExtractFields(ctx context.Context) ([]ExtractedField, error) {
	var resp struct {
		Fields []struct {
			ID       string   `json:"id"`
			Label    string   `json:"label"`
			Type     string   `json:"type"`
			Required bool     `json:"required"`
			Options  []string `json:"options"`
		} `json:"fields"`
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("fields"), nil, &resp); err != nil {
		return nil, err
	}

	fields := make([]ExtractedField, len(resp.Fields))
	for i, f := range resp.Fields {
		fields[i] = ExtractedField{
			ID:       f.ID,
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Options:  f.Options,
		}
	}
	return fields, nil
}

func (p *remotePage) Type(ctx context.Context, fieldID, value string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("type"),
		map[string]string{"field_id": fieldID, "value": value}, nil)
}

func (p *remotePage) SelectOption(ctx context.Context, fieldID, option string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("select"),
		map[string]string{"field_id": fieldID, "option": option}, nil)
}

func (p *remotePage) SetChecked(ctx context.Context, fieldID string, checked bool) error {
	return p.driver.call(ctx, http.MethodPost, p.path("check"),
		map[string]any{"field_id": fieldID, "checked": checked}, nil)
}

func (p *remotePage) UploadFile(ctx context.Context, fieldID, path string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("upload"),
		map[string]string{"field_id": fieldID, "path": path}, nil)
}

func (p *remotePage) Focus(ctx context.Context, fieldID string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("focus"),
		map[string]string{"field_id": fieldID}, nil)
}

func (p *remotePage) Click(ctx context.Context, selector string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("click"),
		map[string]string{"selector": selector}, nil)
}

func (p *remotePage) Press(ctx context.Context, key string) error {
	return p.driver.call(ctx, http.MethodPost, p.path("press"),
		map[string]string{"key": key}, nil)
}

func (p *remotePage) Submit(ctx context.Context) error {
	return p.driver.call(ctx, http.MethodPost, p.path("submit"), nil, nil)
}

func (p *remotePage) Content(ctx context.Context) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("content"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *remotePage) Close(ctx context.Context) error {
	return p.driver.call(ctx, http.MethodDelete, fmt.Sprintf("/pages/%s", p.id), nil, nil)
}
