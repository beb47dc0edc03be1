package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/applyflow/applyflow/internal/api/dto"
	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/orchestrator"
	"github.com/applyflow/applyflow/internal/store"
)

// ApplicationHandler handles application-related HTTP requests
type ApplicationHandler struct {
	logger  *slog.Logger
	service ApplicationService
}

// NewApplicationHandler creates a new ApplicationHandler instance
func NewApplicationHandler(deps *Dependencies) *ApplicationHandler {
	return &ApplicationHandler{
		logger:  deps.Logger,
		service: deps.Orchestrator,
	}
}

// AnalyzeApplication handles POST /api/v1/applications/analyze
// Creates an application, analyzes the posting's form and returns the
// resolved fields for review, or a terminal result when auto_submit is set
func (h *ApplicationHandler) AnalyzeApplication(c *gin.Context) {
	var req dto.AnalyzeApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	app, err := h.service.Analyze(c.Request.Context(), userID(c), orchestrator.AnalyzeRequest{
		JobID:      req.JobID,
		AutoSubmit: req.AutoSubmit,
	})
	if err != nil {
		h.logger.Error("Failed to analyze application", slog.String("error", err.Error()))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toDTO(app))
}

// GetApplication handles GET /api/v1/applications/:application_id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	id, ok := h.applicationID(c)
	if !ok {
		return
	}

	app, err := h.service.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.toDTO(app))
}

// ListApplications handles GET /api/v1/applications
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	var req dto.ListApplicationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	apps, err := h.service.List(c.Request.Context(), userID(c), store.ListFilter{
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		h.logger.Error("Failed to list applications", slog.String("error", err.Error()))
		respondError(c, err)
		return
	}

	out := make([]dto.ApplicationDTO, len(apps))
	for i := range apps {
		out[i] = h.toDTO(&apps[i])
	}

	c.JSON(http.StatusOK, dto.ListApplicationsResponse{
		Applications: out,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
}

// SubmitApplication handles POST /api/v1/applications/:application_id/submit
// Applies the caller's overrides and drives the browser submission
func (h *ApplicationHandler) SubmitApplication(c *gin.Context) {
	id, ok := h.applicationID(c)
	if !ok {
		return
	}

	// An empty body means submit with the recommendations as they stand.
	var req dto.SubmitApplicationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	app, err := h.service.Submit(c.Request.Context(), userID(c), id, req.FieldOverrides, req.SaveResponses)
	if err != nil {
		h.logger.Warn("Submission did not complete",
			slog.String("application_id", id),
			slog.String("error", err.Error()),
		)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.toDTO(app))
}

// VerifyApplication handles POST /api/v1/applications/:application_id/verify
// Relays the emailed verification code to the held browser session
func (h *ApplicationHandler) VerifyApplication(c *gin.Context) {
	id, ok := h.applicationID(c)
	if !ok {
		return
	}

	var req dto.VerifyApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "code is required",
		})
		return
	}

	app, err := h.service.Verify(c.Request.Context(), userID(c), id, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.toDTO(app))
}

// CancelApplication handles DELETE /api/v1/applications/:application_id
// Withdraws an application awaiting review or verification
func (h *ApplicationHandler) CancelApplication(c *gin.Context) {
	id, ok := h.applicationID(c)
	if !ok {
		return
	}

	app, err := h.service.Cancel(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	out := h.toDTO(app)
	// A cancel against an already-finished application is a no-op; the
	// response says so instead of pretending anything changed.
	if app.Status != domain.StatusCancelled && domain.IsTerminal(app.Status) {
		out.Message = "already_" + app.Status
	}
	c.JSON(http.StatusOK, out)
}

func (h *ApplicationHandler) applicationID(c *gin.Context) (string, bool) {
	id := c.Param("application_id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "application_id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func (h *ApplicationHandler) toDTO(app *domain.Application) dto.ApplicationDTO {
	out := dto.ApplicationDTO{
		ID:         app.ID,
		JobID:      app.JobID,
		Status:     app.Status,
		AutoSubmit: app.AutoSubmit,
		Fields:     app.Fields,
		CreatedAt:  app.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  app.UpdatedAt.Format(time.RFC3339),
		Error:      app.Error,
	}
	if app.SubmittedAt != nil {
		submitted := app.SubmittedAt.Format(time.RFC3339)
		out.SubmittedAt = &submitted
	}
	if app.ExpiresAt != nil {
		remaining := h.service.ExpiresIn(app)
		out.ExpiresInSeconds = &remaining
	}
	return out
}
