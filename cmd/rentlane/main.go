package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentlane/internal/common/config"
	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/common/types"
	"rentlane/internal/jobs"
	"rentlane/internal/reservation/application"
	"rentlane/internal/reservation/infrastructure/contract"
	"rentlane/internal/reservation/infrastructure/httpcache"
	"rentlane/internal/reservation/infrastructure/paygate"
	"rentlane/internal/reservation/infrastructure/postgres"
	"rentlane/internal/reservation/infrastructure/rabbitmq"
	"rentlane/internal/reservation/infrastructure/redis"
	"rentlane/internal/reservation/infrastructure/s3"
	"rentlane/internal/scheduler"
)

func main() {
	runOnce := flag.String("run-once", "", "Run a single job and exit (drain, sweep, reconcile, purge, all)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "rentlane-worker",
	})

	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting rentlane worker",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	connectCtx, cancelConnect := context.WithTimeout(startupCtx, 30*time.Second)
	defer cancelConnect()

	pool, err := cfg.NewPostgresPool(connectCtx)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := postgres.NewDataStore(pool)

	redisClient, err := cfg.NewRedisClient(connectCtx)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	cache := redis.NewCache(redisClient, cfg.RedisKeyPrefix)

	dispatcher, err := rabbitmq.Dial(cfg.AMQPURL, cfg.NotificationExchange)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	sess, err := s3.NewSession(cfg.AWSRegion, cfg.S3Endpoint)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to create AWS session", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	queue := store.Jobs()

	// The worker never resolves callers, so no AuthResolver is wired.
	svc := application.NewService(application.Dependencies{
		Store:       store,
		Cache:       cache,
		Locker:      redis.NewLocker(cache),
		Payments:    paygate.NewClient(httpClient, cfg.PaymentGatewayURL, cfg.PaymentGatewayKey),
		Renderer:    contract.NewRenderer(),
		Contracts:   s3.NewContractStore(sess, cfg.ContractBucket),
		Notifier:    dispatcher,
		SearchCache: cache,
		Pages:       httpcache.NewRevalidator(httpClient, cfg.PageRevalidateURL, cfg.PageRevalidateSecret),
		Scheduler:   queue,
	}, application.OptionsFromConfig(cfg))

	jobRunner := jobs.NewJobRunner(svc, queue, jobs.OptionsFromConfig(cfg))

	if *runOnce != "" {
		logging.InfoContext(startupCtx, "Running job once", "job", *runOnce)
		if !runJobOnce(jobRunner, *runOnce) {
			fmt.Fprintf(os.Stderr, "Unknown job: %s\nAvailable jobs: drain, sweep, reconcile, purge, all\n", *runOnce)
			os.Exit(1)
		}
		logging.InfoContext(startupCtx, "Job execution completed", "job", *runOnce)
		return
	}

	cronScheduler, err := scheduler.NewScheduler(jobRunner, scheduler.SchedulesFromConfig(cfg))
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(cfg, map[string]func(context.Context) error{
		"postgres": store.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	// Middleware chain: metrics -> correlation -> handler
	handler := metrics.Middleware(correlationMiddleware(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	cronScheduler.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down worker")
	cronScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	logging.Info("Worker stopped")
}

// runJobOnce runs a specific job once. It reports false for an unknown name.
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) bool {
	switch jobName {
	case "drain":
		jobRunner.DrainDueJobs()
	case "sweep":
		jobRunner.SweepOverduePayments()
	case "reconcile":
		jobRunner.ReconcileCredits()
	case "purge":
		jobRunner.PurgeIdempotencyRecords()
	case "all":
		jobRunner.RunAllMaintenanceJobs()
	default:
		return false
	}
	return true
}

// requestTimeout is the maximum time allowed for processing a single request.
const requestTimeout = 5 * time.Second

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := types.CorrelationIDOrNew(r.Header.Get(types.CorrelationHeader))

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)
		w.Header().Set(types.CorrelationHeader, corrID.String())

		logging.DebugContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler pings every dependency and reports 503 if any is down.
func readyHandler(cfg *config.Config, checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				logging.WarnContext(r.Context(), "Readiness check failed", "dependency", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       state,
			"environment":  cfg.Environment,
			"dependencies": results,
		})
	}
}
