package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/applyflow/applyflow/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{}

		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				checks["database"] = "unhealthy"
			} else {
				checks["database"] = "healthy"
			}
		}
		if deps.RedisClient != nil {
			if err := deps.RedisClient.HealthCheck(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				checks["redis"] = "unhealthy"
			} else {
				checks["redis"] = "healthy"
			}
		}

		c.JSON(status, gin.H{
			"status":  map[bool]string{true: "healthy", false: "unhealthy"}[status == http.StatusOK],
			"service": "applyflow-api",
			"checks":  checks,
		})
	})

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize application handler
	applicationHandler := handler.NewApplicationHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		applications := v1.Group("/applications")
		{
			// POST /api/v1/applications/analyze - Create an application and analyze the form
			applications.POST("/analyze", applicationHandler.AnalyzeApplication)

			// GET /api/v1/applications - List the caller's applications
			applications.GET("", applicationHandler.ListApplications)

			// GET /api/v1/applications/:application_id - Get application details
			applications.GET("/:application_id", applicationHandler.GetApplication)

			// POST /api/v1/applications/:application_id/submit - Review and submit
			applications.POST("/:application_id/submit", applicationHandler.SubmitApplication)

			// POST /api/v1/applications/:application_id/verify - Relay a verification code
			applications.POST("/:application_id/verify", applicationHandler.VerifyApplication)

			// DELETE /api/v1/applications/:application_id - Cancel an application
			applications.DELETE("/:application_id", applicationHandler.CancelApplication)
		}
	}

	return r
}
