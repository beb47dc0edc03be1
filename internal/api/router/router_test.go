package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/applyflow/internal/api/handler"
	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/orchestrator"
	"github.com/applyflow/applyflow/internal/store"
)

const testAppID = "7b6f9c3e-1f4a-4f4e-9a63-2f1f2ce0a111"

// stubService scripts the orchestrator surface per call.
type stubService struct {
	app  *domain.Application
	apps []domain.Application
	err  error

	gotUserID    string
	gotRequest   orchestrator.AnalyzeRequest
	gotOverrides map[string]string
	gotSave      bool
	gotCode      string
}

func (s *stubService) Analyze(ctx context.Context, userID string, req orchestrator.AnalyzeRequest) (*domain.Application, error) {
	s.gotUserID = userID
	s.gotRequest = req
	return s.app, s.err
}

func (s *stubService) Get(ctx context.Context, userID, id string) (*domain.Application, error) {
	s.gotUserID = userID
	return s.app, s.err
}

func (s *stubService) List(ctx context.Context, userID string, filter store.ListFilter) ([]domain.Application, error) {
	s.gotUserID = userID
	return s.apps, s.err
}

func (s *stubService) Submit(ctx context.Context, userID, id string, overrides map[string]string, saveResponses bool) (*domain.Application, error) {
	s.gotUserID = userID
	s.gotOverrides = overrides
	s.gotSave = saveResponses
	return s.app, s.err
}

func (s *stubService) Verify(ctx context.Context, userID, id, code string) (*domain.Application, error) {
	s.gotUserID = userID
	s.gotCode = code
	return s.app, s.err
}

func (s *stubService) Cancel(ctx context.Context, userID, id string) (*domain.Application, error) {
	s.gotUserID = userID
	return s.app, s.err
}

func (s *stubService) ExpiresIn(app *domain.Application) int64 {
	if app.ExpiresAt == nil {
		return 0
	}
	return 900
}

func sampleApp(status string) *domain.Application {
	now := time.Now()
	return &domain.Application{
		ID:        testAppID,
		UserID:    "user-1",
		JobID:     "job-1",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func setup(svc *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:       slog.New(slog.DiscardHandler),
		Orchestrator: svc,
	})
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authed() map[string]string {
	return map[string]string{"X-User-ID": "user-1"}
}

func TestMissingIdentityHeader(t *testing.T) {
	r := setup(&stubService{})

	w := do(r, http.MethodGet, "/api/v1/applications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	r := setup(&stubService{})

	w := do(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setup(&stubService{})

	w := do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAnalyzeApplication(t *testing.T) {
	svc := &stubService{app: sampleApp(domain.StatusPendingReview)}
	r := setup(svc)

	w := do(r, http.MethodPost, "/api/v1/applications/analyze",
		`{"job_id":"job-1","auto_submit":true}`, authed())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", svc.gotUserID)
	assert.Equal(t, orchestrator.AnalyzeRequest{JobID: "job-1", AutoSubmit: true}, svc.gotRequest)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusPendingReview, resp["status"])
	assert.Equal(t, testAppID, resp["id"])
}

func TestAnalyzeApplicationMissingJobID(t *testing.T) {
	r := setup(&stubService{})

	w := do(r, http.MethodPost, "/api/v1/applications/analyze", `{}`, authed())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetApplicationInvalidID(t *testing.T) {
	r := setup(&stubService{})

	w := do(r, http.MethodGet, "/api/v1/applications/not-a-uuid", "", authed())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetApplicationWithWindow(t *testing.T) {
	app := sampleApp(domain.StatusPendingReview)
	expires := time.Now().Add(15 * time.Minute)
	app.ExpiresAt = &expires
	r := setup(&stubService{app: app})

	w := do(r, http.MethodGet, "/api/v1/applications/"+testAppID, "", authed())
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(900), resp["expires_in_seconds"])
}

func TestListApplications(t *testing.T) {
	r := setup(&stubService{apps: []domain.Application{*sampleApp(domain.StatusSubmitted)}})

	w := do(r, http.MethodGet, "/api/v1/applications?status=submitted&limit=5", "", authed())
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["applications"], 1)
	assert.Equal(t, float64(5), resp["limit"])
}

func TestSubmitPassesOverrides(t *testing.T) {
	svc := &stubService{app: sampleApp(domain.StatusSubmitted)}
	r := setup(svc)

	w := do(r, http.MethodPost, "/api/v1/applications/"+testAppID+"/submit",
		`{"field_overrides":{"notes":"Available from March"},"save_responses":true}`, authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"notes": "Available from March"}, svc.gotOverrides)
	assert.True(t, svc.gotSave)
}

func TestVerifyPassesCode(t *testing.T) {
	svc := &stubService{app: sampleApp(domain.StatusSubmitted)}
	r := setup(svc)

	w := do(r, http.MethodPost, "/api/v1/applications/"+testAppID+"/verify",
		`{"code":"12345678"}`, authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345678", svc.gotCode)
}

func TestCancelApplication(t *testing.T) {
	svc := &stubService{app: sampleApp(domain.StatusCancelled)}
	r := setup(svc)

	w := do(r, http.MethodDelete, "/api/v1/applications/"+testAppID, "", authed())
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp, "message")
}

func TestCancelSubmittedApplicationSaysSo(t *testing.T) {
	svc := &stubService{app: sampleApp(domain.StatusSubmitted)}
	r := setup(svc)

	w := do(r, http.MethodDelete, "/api/v1/applications/"+testAppID, "", authed())
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "already_submitted", resp["message"])
	assert.Equal(t, domain.StatusSubmitted, resp["status"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid argument", domain.NewOperationError(domain.ErrInvalidArgument, "bad input"), http.StatusBadRequest},
		{"forbidden", domain.NewOperationError(domain.ErrForbidden, "not yours"), http.StatusForbidden},
		{"not found", domain.NewOperationError(domain.ErrNotFound, "application not found"), http.StatusNotFound},
		{"conflict", domain.NewOperationError(domain.ErrConflict, "wrong status"), http.StatusConflict},
		{"window gone", domain.NewOperationError(domain.ErrGone, "window expired"), http.StatusGone},
		{"posting gone", domain.NewOperationError(domain.ErrUpstreamGone, "posting removed"), http.StatusGone},
		{"fingerprint mismatch", domain.NewOperationError(domain.ErrFingerprintMismatch, "form changed"), http.StatusUnprocessableEntity},
		{"upstream failure", domain.NewOperationError(domain.ErrUpstreamFailure, "browser crashed"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setup(&stubService{err: tt.err})

			w := do(r, http.MethodGet, "/api/v1/applications/"+testAppID, "", authed())
			assert.Equal(t, tt.want, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, domain.Message(tt.err), resp["error"])
		})
	}
}
