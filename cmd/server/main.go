package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/analysis"
	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/database"
	"github.com/stemsi/exstem-mocktest/internal/handler"
	"github.com/stemsi/exstem-mocktest/internal/logger"
	"github.com/stemsi/exstem-mocktest/internal/middleware"
	"github.com/stemsi/exstem-mocktest/internal/repository"
	"github.com/stemsi/exstem-mocktest/internal/router"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/session"
	"github.com/stemsi/exstem-mocktest/internal/validator"
	"github.com/stemsi/exstem-mocktest/internal/worker"
)

const janitorInterval = time.Minute

// paperSource is a backing store of papers that can also enumerate them.
type paperSource interface {
	repository.DefinitionSource
	ListPapers(ctx context.Context) ([]repository.PaperKey, error)
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("paper_source", string(cfg.PaperSource)).
		Msg("Starting ExStem Mock Test")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	var papers paperSource
	switch cfg.PaperSource {
	case config.PaperSourceFiles:
		papers = repository.NewFileLoader(cfg.PapersDir)
	default:
		papers = repository.NewDefinitionRepository(pool)
	}
	definitions := repository.NewCachedLoader(papers, rdb, cfg.DefinitionCacheTTL, log)
	attemptRepo := repository.NewAttemptRepository(pool)
	snapshots := repository.NewSnapshotCache(rdb, cfg.SnapshotTTL)
	monitorRepo := repository.NewMonitorRepository(rdb)
	scoreQueue := repository.NewScoreQueue(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	tokens := service.NewTokenService(cfg.SessionSecret, cfg.SessionTokenExpiry)
	engine := analysis.NewEngine(attemptRepo, definitions, log)
	attempts := service.NewAttemptService(ctx, service.AttemptDeps{
		Loader:    definitions,
		Submitter: attemptRepo,
		Snapshots: snapshots,
		Monitor:   monitorRepo,
		Scores:    scoreQueue,
		Tokens:    tokens,
		Retry: session.RetryPolicy{
			MaxAttempts: cfg.SubmitMaxAttempts,
			Base:        cfg.SubmitBackoffBase,
			Max:         cfg.SubmitBackoffMax,
		},
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attempts, engine, log),
		WS:      handler.NewWSHandler(attempts, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(monitorRepo, attemptRepo, attempts, snapshots, log),
		System:  handler.NewSystemHandler(pool, rdb, attempts, log),
	}

	startLimiter := middleware.NewRateLimiter(cfg.StartRateLimit, time.Minute)
	mw := &router.Middlewares{Tokens: tokens, StartLimiter: startLimiter}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	scoreWorker := worker.NewScoreWorker(scoreQueue, attemptRepo, engine, log)
	go func() {
		scoreWorker.Start(workerCtx)
		close(workersDone)
	}()
	go attempts.RunJanitor(workerCtx, janitorInterval)
	go startLimiter.RunCleanup(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load every paper into Redis BEFORE accepting traffic so the first
	// wave of attempt starts does not stampede the backing store.
	if keys, err := papers.ListPapers(ctx); err != nil {
		log.Warn().Err(err).Msg("Listing papers for prewarm failed")
	} else {
		warmed := definitions.Prewarm(ctx, keys)
		log.Info().Int("papers", len(keys)).Int("warmed", warmed).Msg("Definition cache prewarmed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, mw, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Cancel countdowns and let in-flight submissions finish.
	sessionsCtx, sessionsCancel := context.WithTimeout(context.Background(), cfg.SubmitBackoffMax*time.Duration(max(cfg.SubmitMaxAttempts, 1)))
	defer sessionsCancel()
	if err := attempts.Shutdown(sessionsCtx); err != nil {
		log.Error().Err(err).Msg("Session shutdown incomplete")
	}

	// 3. Stop background workers and wait for the score queue batch to drain.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("Score worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
