package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/ridebroker/config"
	"github.com/shiva/ridebroker/internal/events"
	"github.com/shiva/ridebroker/internal/handler"
	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/logging"
	"github.com/shiva/ridebroker/internal/middleware"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/internal/service"
	"github.com/shiva/ridebroker/migrations"
	"github.com/shiva/ridebroker/pkg/cache"
	"github.com/shiva/ridebroker/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to PostgreSQL", "err", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info("postgres connected", "host", cfg.Postgres.Host, "db", cfg.Postgres.DBName)

	if cfg.Postgres.AutoMigrate {
		applied, err := db.Migrate(ctx, pgPool, migrations.FS)
		if err != nil {
			log.Error("failed to apply migrations", "err", err)
			os.Exit(1)
		}
		log.Info("schema up to date", "applied", applied)
	}

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("redis connected", "addr", cfg.Redis.Addr())

	// ── Event publisher ─────────────────────────────────
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("kafka publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	// ── Initialize layers ───────────────────────────────
	patternRepo := repository.NewPatternRepository(pgPool)
	rideRepo := repository.NewRideRepository(pgPool)
	bookingRepo := repository.NewBookingRepository(pgPool)
	lifecycleRepo := repository.NewLifecycleRepository(pgPool)

	machine := lifecycle.NewMachine(lifecycle.Periods{
		Departing: cfg.Lifecycle.DepartingPeriod,
		Arriving:  cfg.Lifecycle.ArrivingPeriod,
	})
	matchCfg := service.MatchConfig{
		LenientSlack:     cfg.Match.LenientSlack,
		AverageSpeedKmph: cfg.Match.AverageSpeedKmph,
	}
	var searchCache service.ResultCache
	if cfg.Match.CacheTTL > 0 {
		searchCache = cache.NewGenerational(redisClient, "search", cfg.Match.CacheTTL)
	}

	materializeSvc := service.NewMaterializeService(patternRepo, cfg.Materialize.DefaultWeeks, log)
	matchingSvc := service.NewMatchingService(rideRepo, searchCache, matchCfg, log)
	rideSvc := service.NewRideService(rideRepo, lifecycleRepo, matchingSvc, machine, matchCfg, log)
	bookingSvc := service.NewBookingService(bookingRepo, lifecycleRepo, matchingSvc, log)
	cancelSvc := service.NewCancelService(bookingRepo, publisher, matchingSvc, log)
	sweepSvc := service.NewSweepService(rideRepo, lifecycleRepo, machine, publisher, log)

	clock := handler.Clock(time.Now)
	api := handler.API{
		Patterns: handler.NewPatternHandler(materializeSvc, clock, log),
		Search:   handler.NewSearchHandler(matchingSvc, log),
		Rides:    handler.NewRideHandler(rideSvc, cancelSvc, clock, log),
		Bookings: handler.NewBookingHandler(bookingSvc, log),
		Admin:    handler.NewAdminHandler(sweepSvc, clock, log),
	}

	// ── Lifecycle sweep ─────────────────────────────────
	if cfg.Sweep.Interval > 0 {
		go func() {
			if err := sweepSvc.Run(ctx, cfg.Sweep.Interval); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("lifecycle sweep stopped", "err", err)
			}
		}()
	} else {
		log.Info("in-process lifecycle sweep disabled")
	}

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.Stack(log)...)

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	api.Register(router)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      middleware.CORS(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Info("server listening", "addr", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
		return
	}
	log.Info("server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
