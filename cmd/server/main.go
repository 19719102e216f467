package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/unimath/placement-backend/internal/config"
	"github.com/unimath/placement-backend/internal/database"
	"github.com/unimath/placement-backend/internal/exam"
	"github.com/unimath/placement-backend/internal/formula"
	"github.com/unimath/placement-backend/internal/grading"
	"github.com/unimath/placement-backend/internal/handler"
	"github.com/unimath/placement-backend/internal/logger"
	"github.com/unimath/placement-backend/internal/repository"
	"github.com/unimath/placement-backend/internal/router"
	"github.com/unimath/placement-backend/internal/service"
	"github.com/unimath/placement-backend/internal/session"
	"github.com/unimath/placement-backend/internal/validator"
	"github.com/unimath/placement-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Placement Backend")

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
	recorder := repository.NewRecorder(pool, rdb)
	studentRepo := repository.NewStudentRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)
	sisQueue := repository.NewSISQueue(rdb)

	// ─── Prewarm Template Cache ────────────────────────────────────────
	// Load all exam templates into Redis BEFORE accepting traffic so the
	// first student of the morning does not pay the parse cost.
	loader := exam.NewFileTemplateLoader(cfg.TemplateDir, rdb, log)
	if err := loader.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Template prewarm failed")
	}

	// ─── Initialize Grading + Sessions ─────────────────────────────────
	engine := grading.NewEngine(recorder, formula.NewLuaEvaluator(), cfg.AcademicYear, log)

	deps := session.Deps{
		Loader:       loader,
		Repo:         recorder,
		Grader:       engine,
		Recovery:     session.NewFileRecoveryWriter(cfg.SessionDir),
		AcademicYear: cfg.AcademicYear,
		Log:          log,
	}

	store := session.NewStore(deps)
	if err := store.Restore(cfg.SessionDir); err != nil {
		log.Error().Err(err).Msg("Session restore failed")
	} else if n := store.Len(); n > 0 {
		log.Info().Int("count", n).Msg("Restored sessions from snapshot")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	studentService := service.NewStudentService(studentRepo, authService)
	adminService := service.NewAdminService(adminRepo, authService)
	placementService := service.NewPlacementService(store, deps, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService, studentService, adminService),
		Placement: handler.NewPlacementHandler(placementService),
		Admin:     handler.NewAdminHandler(placementService, authService),
		Monitor:   handler.NewMonitorHandler(placementService, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(pool, rdb),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	purgeWorker := worker.NewPurgeWorker(store, cfg.SessionDir, cfg.PurgeInterval, log)
	sisWorker := worker.NewSISUploadWorker(pool, sisQueue, log)

	go purgeWorker.Start(workerCtx)
	go sisWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	// 3. Snapshot active sessions so they survive the restart.
	if err := store.Persist(cfg.SessionDir); err != nil {
		log.Error().Err(err).Msg("Session snapshot failed")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
