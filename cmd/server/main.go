package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recall-backend/internal/config"
	"recall-backend/internal/database"
	"recall-backend/internal/handlers"
	"recall-backend/internal/logger"
	"recall-backend/internal/middleware"
	"recall-backend/internal/observability"
	"recall-backend/internal/repository"
	"recall-backend/internal/router"
	"recall-backend/internal/services"
	"recall-backend/internal/websocket"
	"recall-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting recall backend", "env", cfg.Env)

	ctx := context.Background()

	shutdownTracing := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		Environment: cfg.Env,
		SampleRatio: cfg.OtelSampleRatio,
	})

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres connection failed", "error", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", "error", err)
	}
	defer redisClients.Close()
	log.Info("redis connected")

	// ──── Step 4: Run Database Migrations ────
	applied, err := database.RunMigrations(ctx, pool, os.DirFS(cfg.MigrationsDir), log)
	if err != nil {
		log.Fatal("database migration failed", "error", err)
	}
	log.Info("database migrations applied", "count", applied)

	// ──── Initialize Repositories ────
	itemRepo := repository.NewItemRepo(pool)
	settingsRepo := repository.NewSettingsRepo(pool)
	studySessionRepo := repository.NewStudySessionRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, log)
	notifier := services.NewNotifier(redisClients.Queue, wsHub, log)

	progressService := services.NewProgressService(itemRepo, settingsRepo, studySessionRepo, log, services.ProgressConfig{
		CacheTTL:     cfg.ProgressCacheTTL,
		StoreTimeout: cfg.StoreTimeout,
		Location:     cfg.StreakTimezone,
	})
	progressService.StartSweeper(10 * time.Minute)
	publisher := services.NewRedisEventPublisher(redisClients.Queue, notifier, progressService, log)

	gradeService := services.NewGradeService(itemRepo, publisher, log, services.GradeConfig{
		StoreTimeout: cfg.StoreTimeout,
		MaxAttempts:  cfg.GradeMaxAttempts,
		RetryDelay:   cfg.GradeRetryDelay,
	})
	queueBuilder := services.NewQueueBuilder(itemRepo, log, cfg.StoreTimeout, cfg.DefaultMaxItems)
	itemService := services.NewItemService(itemRepo, publisher, log, cfg.StoreTimeout)

	registry := services.NewSessionRegistry(gradeService, cfg.SessionIdleTTL, log)
	registry.StartSweeper(time.Minute)

	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, log)

	// ──── Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(queueBuilder, registry)
	progressHandler := handlers.NewProgressHandler(progressService)
	itemHandler := handlers.NewItemHandler(itemService)
	settingsHandler := handlers.NewSettingsHandler(settingsRepo)
	studySessionHandler := handlers.NewStudySessionHandler(studySessionRepo)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return redisClients.Queue.Ping(ctx).Err() },
	})

	// ──── Step 5: Start Progress Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, progressService, notifier, log, cfg.ProgressWorkers)
	workerPool.Start()

	reminderScheduler := services.NewReminderScheduler(settingsRepo, itemRepo, progressService, emailService, log, cfg.StoreTimeout)
	reminderScheduler.Start()

	// ──── Step 6: Start HTTP Server ────
	apiLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	r := router.New(
		log,
		jwtAuth,
		apiLimiter,
		sessionHandler,
		progressHandler,
		itemHandler,
		settingsHandler,
		studySessionHandler,
		healthHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}

		wsHub.Close()
		apiLimiter.Stop()
		registry.Stop()
		progressService.Stop()
		reminderScheduler.Stop()
		workerPool.Stop()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracing shutdown", "error", err)
		}
	}()

	log.Info("recall backend ready",
		"api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("server error", "error", err)
	}
}
