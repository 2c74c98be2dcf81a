package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobengine/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "healthy",
			"service":    deps.Service,
			"job_status": deps.Engine.Snapshot().Status,
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		j := v1.Group("/job")
		{
			j.GET("", jobHandler.GetJob)
			j.POST("/actions/:action", jobHandler.ControlJob)
			j.POST("/workers/:worker/actions/:action", jobHandler.ControlWorker)
			j.GET("/commands", jobHandler.ListCommands)
		}

		queues := v1.Group("/queues")
		{
			queues.GET("", jobHandler.ListQueues)
			queues.POST("/:queue/tasks", jobHandler.Enqueue)
		}
	}

	return r
}
