package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/api"
	"github.com/vigneshrao/docwatch/internal/circuitbreaker"
	"github.com/vigneshrao/docwatch/internal/config"
	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/metrics"
	"github.com/vigneshrao/docwatch/internal/notify"
	"github.com/vigneshrao/docwatch/internal/observ"
	"github.com/vigneshrao/docwatch/internal/redis"
	"github.com/vigneshrao/docwatch/internal/scheduler"
	"github.com/vigneshrao/docwatch/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting docwatch scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("sweep_interval_seconds", cfg.SweepIntervalSeconds),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for the reconcile lock and rate limiting. Without
	// Redis the scheduler still runs, but reconciliation is only
	// serialized within this process.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process document locks",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var locks scheduler.Locker
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		locks = redis.NewDocumentLock(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client
		})
		defer redisClient.Close()
	} else {
		locks = scheduler.NewKeyMutex()
	}

	// Build the notification channels. SES and SNS degrade to disabled
	// when AWS is unreachable; the log notifier catches everything else.
	var notifiers []notify.Notifier

	sesNotifier, err := notify.NewSESNotifier(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES unavailable, email warnings disabled", zap.Error(err))
	} else {
		notifiers = append(notifiers, notify.NewProtectedNotifier(
			sesNotifier,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger),
			logger,
		))
	}

	snsNotifier, err := notify.NewSNSNotifier(ctx, notify.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS unavailable, SMS warnings disabled", zap.Error(err))
	} else {
		notifiers = append(notifiers, notify.NewProtectedNotifier(
			snsNotifier,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger),
			logger,
		))
	}

	webhookNotifier := notify.NewWebhookNotifier(logger, notify.WebhookConfig{
		Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	})
	notifiers = append(notifiers, notify.NewProtectedNotifier(
		webhookNotifier,
		circuitbreaker.New(circuitbreaker.DefaultConfig("webhook"), logger),
		logger,
	))

	// Catch-all for documents without a configured channel.
	notifiers = append(notifiers, notify.NewLogNotifier(logger))

	notifier := notify.NewMultiNotifier(logger, notifiers...)

	logger.Info("initialized warning channels",
		zap.Bool("email_enabled", sesNotifier != nil),
		zap.Bool("sms_enabled", snsNotifier != nil),
		zap.Bool("webhook_enabled", true),
	)

	// Scheduler service: reconciliation plus the periodic delivery sweep.
	svc := scheduler.New(repo, notifier, locks, scheduler.Config{
		DefaultLeadTimes: cfg.DefaultLeadTimes,
		RetryCap:         cfg.DeliveryRetryCap,
		SweepInterval:    time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		LeaseDuration:    time.Duration(cfg.DeliveryLeaseSeconds) * time.Second,
		SweepBatchSize:   cfg.SweepBatchSize,
		SweepConcurrency: cfg.SweepConcurrency,
	}, logger)

	svcCtx, svcCancel := context.WithCancel(context.Background())
	defer svcCancel()

	go svc.Run(svcCtx)

	logger.Info("delivery sweeper started")

	// Document-change feed from the record store.
	if cfg.SQSQueueURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, svc, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, document events disabled",
				zap.Error(err),
			)
		} else {
			go func() {
				if err := consumer.Run(svcCtx); err != nil && svcCtx.Err() == nil {
					logger.Error("sqs consumer stopped", zap.Error(err))
				}
			}()
			logger.Info("sqs document-change consumer started")
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, repo, svc)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Put("/documents/{id}", handler.UpsertDocument)
		r.Get("/documents/{id}", handler.GetDocument)
		r.Get("/documents/{id}/alerts", handler.ListDocumentAlerts)

		r.Get("/alerts/failed", handler.ListFailedAlerts)
		r.Post("/alerts/{id}/requeue", handler.RequeueAlert)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
