package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caseworks/mysteryforge/internal/config"
	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/observer"
	"github.com/caseworks/mysteryforge/internal/pipeline"
	"github.com/caseworks/mysteryforge/internal/storage/casestore"
)

// NewRouter wires recovery/logging middleware, CORS, health checks,
// and the run endpoints onto a fresh gin engine, the same assembly
// order the teacher's cmd/server builds its router in.
func NewRouter(cfg config.ServerConfig, o *pipeline.Orchestrator, cases *casestore.Store, wsHub *observer.WebSocketHub, log *logger.Logger) *gin.Engine {
	router := gin.New()

	recovery := NewRecoveryMiddleware(log)
	logging := NewLoggingMiddleware(log)
	router.Use(recovery.Recovery())
	router.Use(logging.RequestLogger())

	if cfg.CORS {
		router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
		})
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
	})

	runHandlers := NewRunHandlers(o, cases, wsHub, log)

	runs := router.Group("/runs")
	{
		runs.POST("", runHandlers.HandleStartRun)
		runs.GET("/:draftId", runHandlers.HandleGetRun)
		runs.POST("/:draftId/resume", runHandlers.HandleResumeRun)
		runs.GET("/:draftId/ws", runHandlers.HandleRunWebSocket)
	}

	return router
}
