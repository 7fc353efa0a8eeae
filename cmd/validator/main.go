package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infrapass/infrapass/internal/config"
	"github.com/infrapass/infrapass/internal/db"
	"github.com/infrapass/infrapass/internal/logger"
	"github.com/infrapass/infrapass/internal/validatorapi"
)

func main() {
	cfg, err := config.LoadValidator()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Msg("infrapass validator starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()
	log.Info().Msg("database connected")

	repo := db.NewRepository(pool)
	handler := validatorapi.NewHandler(repo, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      validatorapi.NewRouter(handler, cfg.BearerToken, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("validator listening")
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
		log.Info().Msg("validator stopped gracefully")
	}
}
