package router

import (
	"net/http"
	"time"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/handler"
	"github.com/aotms/exam-engine/internal/middleware"
	"github.com/aotms/exam-engine/internal/response"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Health     *handler.HealthHandler
	ExamEngine *handler.ExamEngineHandler
	WS         *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config, submitLimiter *middleware.RateLimiter) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	router.GET("/", handlers.Health.Root)
	router.GET("/health", handlers.Health.Health)

	// ─── Attempt API ───────────────────────────────────────────────────
	exam := router.Group("/api/v1/exam")
	exam.Use(middleware.RequireAttemptOwner(cfg.JWTSecret))
	{
		exam.POST("/submit-answer", submitLimiter.Middleware(), handlers.ExamEngine.SubmitAnswer)
		exam.GET("/state/:exam_id/:user_id", middleware.NoStore(), handlers.ExamEngine.GetState)
		exam.POST("/finish/:exam_id/:user_id", handlers.ExamEngine.Finish)
	}

	// ─── Attempt stream ────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAttemptOwner(cfg.JWTSecret))
	{
		ws.GET("/exam/:exam_id/:user_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
