package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/database"
	"github.com/aotms/exam-engine/internal/handler"
	"github.com/aotms/exam-engine/internal/logger"
	"github.com/aotms/exam-engine/internal/middleware"
	"github.com/aotms/exam-engine/internal/repository"
	"github.com/aotms/exam-engine/internal/router"
	"github.com/aotms/exam-engine/internal/service"
	"github.com/aotms/exam-engine/internal/validator"
	"github.com/aotms/exam-engine/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "exam-engine:", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred closes happen on all exit paths.
func run() error {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Exam Engine")

	timerPolicy, err := service.ParseTimerPolicy(cfg.TimerPolicy)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Schema bootstrap ──────────────────────────────────────────────
	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.DatabaseURL, log); err != nil {
			return err
		}
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptCacheRepository(rdb, cfg.AttemptTTL)
	submissionRepo := repository.NewSubmissionRepository(pool)
	staleQueue := repository.NewStaleAttemptQueue(rdb)

	var locker service.AttemptLocker
	if cfg.AttemptLockEnabled {
		locker = repository.NewAttemptLockRepository(rdb, cfg.AttemptLockTTL, cfg.AttemptLockWait, cfg.AttemptLockRetry)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	attemptService := service.NewAttemptService(attemptRepo, submissionRepo, locker, staleQueue,
		service.AttemptServiceOptions{
			TimerPolicy:       timerPolicy,
			UniqueSubmissions: cfg.UniqueSubmissions,
		}, log)

	log.Info().
		Str("timer_policy", string(timerPolicy)).
		Bool("unique_submissions", cfg.UniqueSubmissions).
		Bool("attempt_lock", cfg.AttemptLockEnabled).
		Dur("attempt_ttl", cfg.AttemptTTL).
		Msg("Attempt service configured")

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		ExamEngine: handler.NewExamEngineHandler(attemptService, log),
		WS:         handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	cleanupWorker := worker.NewCleanupWorker(rdb, attemptRepo, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanupWorker.Start(workerCtx)
	}()

	submitLimiter := middleware.NewRateLimiter(cfg.SubmitRatePerMinute, time.Minute)
	go submitLimiter.StartSweeper(workerCtx, time.Minute, 10*time.Minute)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg, submitLimiter)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
		log.Error().Err(err).Msg("Server stopped unexpectedly")
	}

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the cleanup queue to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
	return runErr
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
