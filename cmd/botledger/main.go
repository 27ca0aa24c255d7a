package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/danghm/botledger/config"
	"github.com/danghm/botledger/internal/access"
	"github.com/danghm/botledger/internal/budget"
	"github.com/danghm/botledger/internal/pricing"
	"github.com/danghm/botledger/internal/report"
	"github.com/danghm/botledger/internal/seeder"
	"github.com/danghm/botledger/internal/settings"
	"github.com/danghm/botledger/internal/telemetry"
	"github.com/danghm/botledger/internal/usage"
	"github.com/danghm/botledger/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("botledger", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL (Supabase). A failure here is fatal: serving
	// with a dead ledger would corrupt cost totals.
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init access control
	acl, err := access.ParseACL(cfg.AllowedUserIDs, cfg.AdminUserIDs)
	if err != nil {
		log.Fatalf("failed to parse access lists: %v", err)
	}

	// 6. Init usage tracking
	prices := pricing.NewTable(cfg)
	tracker := usage.NewTracker(usage.NewPostgresStore(pool), prices)

	// 7. Init settings (cached behind Redis)
	settingsStore := settings.NewCachedStore(settings.NewPostgresStore(pool), rdb)
	settingsSvc := settings.NewService(settingsStore)

	// 8. Init budget guard
	guard, err := budget.NewGuard(cfg, acl, tracker)
	if err != nil {
		log.Fatalf("failed to init budget guard: %v", err)
	}

	// 9. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 10. Init handler
	tracer := otel.GetTracerProvider().Tracer("botledger")
	handler := report.NewHandler(tracker, settingsSvc, guard, limiter, tracer)

	// 11. Seed test user if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestUser(ctx, tracker, settingsSvc)
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"botledger"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(access.TokenMiddleware(cfg.AdminAPIToken))
		r.Post("/v1/users/{userID}/events", handler.HandleRecordEvent)
		r.Get("/v1/users/{userID}/usage", handler.HandleUsage)
		r.Get("/v1/users/{userID}/cost", handler.HandleCost)
		r.Get("/v1/users/{userID}/budget", handler.HandleBudget)
		r.Get("/v1/users/{userID}/settings", handler.HandleGetSettings)
		r.Put("/v1/users/{userID}/settings/model", handler.HandleSetModel)
		r.Put("/v1/users/{userID}/settings/brain", handler.HandleSetBrain)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("botledger starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
