// Command sweep runs one lifecycle evaluation and exits. It is meant for
// cron-style deployments that set SWEEP_INTERVAL=0 on the API servers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/shiva/ridebroker/config"
	"github.com/shiva/ridebroker/internal/events"
	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/logging"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/internal/service"
	"github.com/shiva/ridebroker/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("sweep failed", "err", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so the deferred closes flush buffered
// events and release the pool on every path.
func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer pgPool.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("closing event publisher failed", "err", err)
		}
	}()

	machine := lifecycle.NewMachine(lifecycle.Periods{
		Departing: cfg.Lifecycle.DepartingPeriod,
		Arriving:  cfg.Lifecycle.ArrivingPeriod,
	})
	sweep := service.NewSweepService(
		repository.NewRideRepository(pgPool),
		repository.NewLifecycleRepository(pgPool),
		machine, publisher, log,
	)

	result, err := sweep.RunOnce(ctx, time.Now())
	if err != nil {
		return err
	}
	log.Info("sweep finished", "rides", result.Rides, "legs", result.Legs, "applied", result.Applied)
	return nil
}
