package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-pipeline/internal/bus/pubsub"
	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/intake"
	"github.com/dvloznov/receipt-pipeline/internal/logger"
)

func main() {
	var cfg config.Intake
	if err := config.Load(&cfg); err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx := context.Background()
	publisher, err := pubsub.New(ctx, cfg.ProjectID, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pubsub client")
	}
	defer publisher.Close()

	gate := intake.NewGate(cfg.APIKey, cfg.Topics.NewCandidate, publisher, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gate.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting intake gate")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down intake gate...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Intake gate exited")
}
