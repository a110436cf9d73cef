package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annolab/annopipe/internal/api/handler"
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
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "annopipe-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	accountHandler := handler.NewAccountHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobsGroup := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new annotation job
			jobsGroup.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List an account's jobs
			jobsGroup.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobsGroup.GET("/:job_id", jobHandler.GetJob)
		}

		accountsGroup := v1.Group("/accounts")
		{
			// POST /api/v1/accounts/:user_id/upgrade - Upgrade to premium
			accountsGroup.POST("/:user_id/upgrade", accountHandler.UpgradeAccount)
		}
	}

	return r
}
