package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/jobflow/internal/api/handler"
	"github.com/timmy/jobflow/internal/api/middleware"
	"github.com/timmy/jobflow/internal/config"
	"github.com/timmy/jobflow/internal/repository"
	"github.com/timmy/jobflow/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	importer *service.ImporterService,
	queueAdmin *service.QueueAdminService,
	runRepo *repository.ImportRunRepository,
	serverCfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch serverCfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  serverCfg.CORS.AllowedOrigins,
		AllowAllOrigins: serverCfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	importHandler := handler.NewImportHandler(importer, runRepo, queueAdmin)
	queueHandler := handler.NewQueueHandler(queueAdmin)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Import management routes
	imports := r.Group("/api/imports")
	{
		imports.POST("/trigger", importHandler.Trigger)
		imports.GET("/history", importHandler.History)
		imports.GET("/history/:id", importHandler.GetByID)
		imports.GET("/stats", importHandler.Stats)

		// Queue management
		imports.GET("/queue/stats", queueHandler.Stats)
		imports.POST("/queue/pause", queueHandler.Pause)
		imports.POST("/queue/resume", queueHandler.Resume)
		imports.POST("/queue/retry", queueHandler.Retry)
		imports.POST("/queue/clean", queueHandler.Clean)
	}

	return r
}
