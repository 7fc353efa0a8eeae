package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infrapass/infrapass/internal/cachestore"
	"github.com/infrapass/infrapass/internal/config"
	"github.com/infrapass/infrapass/internal/httpclient"
	"github.com/infrapass/infrapass/internal/logger"
	"github.com/infrapass/infrapass/internal/metrics"
	"github.com/infrapass/infrapass/internal/pubsub"
	"github.com/infrapass/infrapass/internal/sidecarproxy"
	"github.com/infrapass/infrapass/internal/webhook"
)

func main() {
	cfg, err := config.LoadSidecar()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Str("provider_id", cfg.ProviderID).Msg("infrapass sidecar starting")

	store, err := cachestore.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("cache store init failed")
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("redis ping failed at startup")
	} else {
		log.Info().Msg("redis connected")
	}

	state := &sidecarproxy.State{
		Cfg:             cfg,
		Store:           store,
		ValidatorClient: httpclient.ValidatorPool(),
		UpstreamClient:  httpclient.UpstreamPool(),
		Webhook:         webhook.New(httpclient.WebhookPool(), cfg.ProviderWebhookURL, cfg.ProviderWebhookSecret),
		Metrics:         metrics.New(),
		Logger:          log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state.Subscriber = pubsub.NewSubscriber(store, log, cfg.ProviderID, cfg.CacheTTL, 5*time.Second)
	go state.Subscriber.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      sidecarproxy.NewRouter(state),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sidecar listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("sidecar stopped gracefully")
	}
}
