package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/infrapass/infrapass/internal/alerting"
	"github.com/infrapass/infrapass/internal/config"
	"github.com/infrapass/infrapass/internal/db"
	"github.com/infrapass/infrapass/internal/eventworker"
	"github.com/infrapass/infrapass/internal/logger"
	"github.com/infrapass/infrapass/internal/pubsub"

	"github.com/infrapass/infrapass/internal/cachestore"
)

// unwiredLedgerSubscriber satisfies eventworker.LedgerSubscriber for
// binaries built without a ledger client configured. The on-chain contract
// and its transaction-building/subscription client are an external
// collaborator referenced only by interface and are not implemented here;
// production deployments must supply a real LedgerSubscriber (a checkpoint
// streaming gRPC client against the ledger) in its place.
type unwiredLedgerSubscriber struct{}

func (unwiredLedgerSubscriber) Subscribe(ctx context.Context, handle func(eventworker.Event) error) error {
	<-ctx.Done()
	return errors.New("eventworker: no ledger subscriber configured")
}

func main() {
	cfg, err := config.LoadEventWorker()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Msg("infrapass event worker starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()
	log.Info().Msg("database connected")

	store, err := cachestore.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("cache store init failed")
	}
	defer store.Close()

	repo := db.NewRepository(pool)
	publisher := pubsub.NewPublisher(store)
	alerter := alerting.New(alerting.Config{
		RoutingKey:  cfg.PagerDutyRoutingKey,
		Enabled:     cfg.PagerDutyEnabled,
		SourceName:  "infrapass-eventworker",
		HTTPTimeout: alerting.DefaultConfig().HTTPTimeout,
	}, log)

	worker := eventworker.NewWorker(repo, publisher, alerter, log, cfg.ConsecutiveFailureAlert)

	events := make(chan eventworker.Event, cfg.ChannelCapacity)
	listener := eventworker.NewListener(unwiredLedgerSubscriber{}, events, cfg.ReconnectBackoff, log)
	health := eventworker.NewHealthMonitor(listener, alerter, log, cfg.HealthCheckInterval, cfg.CheckpointStaleAfter)

	go listener.Run(ctx)
	go health.Run(ctx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-done
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	worker.Run(ctx, events)
	log.Info().Msg("event worker stopped")
}
