package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/applyflow/applyflow/internal/domain"
	"github.com/applyflow/applyflow/internal/orchestrator"
	"github.com/applyflow/applyflow/internal/store"
	"github.com/applyflow/applyflow/shared/postgresql"
	"github.com/applyflow/applyflow/shared/redis"
)

// ApplicationService is the lifecycle surface the handlers call. Satisfied by
// *orchestrator.Service.
type ApplicationService interface {
	Analyze(ctx context.Context, userID string, req orchestrator.AnalyzeRequest) (*domain.Application, error)
	Get(ctx context.Context, userID, id string) (*domain.Application, error)
	List(ctx context.Context, userID string, filter store.ListFilter) ([]domain.Application, error)
	Submit(ctx context.Context, userID, id string, overrides map[string]string, saveResponses bool) (*domain.Application, error)
	Verify(ctx context.Context, userID, id, code string) (*domain.Application, error)
	Cancel(ctx context.Context, userID, id string) (*domain.Application, error)
	ExpiresIn(app *domain.Application) int64
}

// UserIDKey is the gin context key the identity middleware stores the
// authenticated user id under.
const UserIDKey = "user_id"

// userID returns the authenticated user id set by the identity middleware.
func userID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator ApplicationService
	DBClient     *postgresql.Client
	RedisClient  *redis.Client
}

// respondError maps a domain error onto its HTTP status and writes the JSON
// error body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		message = domain.Message(err)
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		message = domain.Message(err)
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = domain.Message(err)
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		message = domain.Message(err)
	case errors.Is(err, domain.ErrGone), errors.Is(err, domain.ErrUpstreamGone):
		status = http.StatusGone
		message = domain.Message(err)
	case errors.Is(err, domain.ErrFingerprintMismatch):
		status = http.StatusUnprocessableEntity
		message = domain.Message(err)
	case errors.Is(err, domain.ErrUpstreamFailure):
		status = http.StatusBadGateway
		message = domain.Message(err)
	}

	c.JSON(status, gin.H{"error": message})
}
