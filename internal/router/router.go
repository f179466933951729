package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/handler"
	"github.com/stemsi/exstem-mocktest/internal/middleware"
	"github.com/stemsi/exstem-mocktest/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// Middlewares groups the stateful middlewares built by the caller.
type Middlewares struct {
	Tokens       middleware.TokenValidator
	StartLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, mw *Middlewares, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Monitor-Key"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	api := router.Group("/api/v1")

	// ─── 1. Attempts (No Session) ──────────────────────────────────────
	attempts := api.Group("/attempts")
	{
		start := []gin.HandlerFunc{}
		if mw.StartLimiter != nil {
			start = append(start, mw.StartLimiter.Middleware())
		}
		attempts.POST("", append(start, handlers.Attempt.StartAttempt)...)
		attempts.GET("/:attempt_id/analysis", handlers.Attempt.GetAnalysis)
	}

	// ─── 2. Live Session (Session Token) ───────────────────────────────
	sessionAPI := api.Group("/session")
	sessionAPI.Use(middleware.RequireSessionToken(mw.Tokens), middleware.NoStore())
	{
		sessionAPI.GET("/paper", handlers.Attempt.GetPaper)
		sessionAPI.GET("/state", handlers.Attempt.GetState)
		sessionAPI.PUT("/answers", handlers.Attempt.SelectAnswer)
		sessionAPI.DELETE("/answers/:question_id", handlers.Attempt.ClearAnswer)
		sessionAPI.POST("/navigate", handlers.Attempt.Navigate)
		sessionAPI.POST("/flags", handlers.Attempt.ToggleFlag)
		sessionAPI.POST("/submit", handlers.Attempt.Submit)
		sessionAPI.DELETE("", handlers.Attempt.Abandon)
	}

	// ─── 3. Proctor (Monitor Key) ──────────────────────────────────────
	proctor := api.Group("")
	proctor.Use(middleware.RequireMonitorKey(cfg.MonitorKey))
	{
		proctor.GET("/papers/:exam_type/:paper_id/monitor", handlers.Monitor.MonitorPaperSSE)
		proctor.GET("/papers/:exam_type/:paper_id/sessions", handlers.Monitor.LiveSessions)
		proctor.GET("/papers/:exam_type/:paper_id/attempts", handlers.Monitor.ListAttempts)
		proctor.GET("/sessions/:session_id/snapshot", handlers.Monitor.GetSnapshot)
		proctor.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 4. WebSocket (Session Token via Query) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionToken(mw.Tokens))
	{
		ws.GET("/session/stream", handlers.WS.SessionStream)
	}

	return router
}
