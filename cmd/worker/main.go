package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-pipeline/internal/bus/pubsub"
	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/drive"
	"github.com/dvloznov/receipt-pipeline/internal/extract"
	"github.com/dvloznov/receipt-pipeline/internal/ledger"
	"github.com/dvloznov/receipt-pipeline/internal/logger"
	"github.com/dvloznov/receipt-pipeline/internal/marker"
	"github.com/dvloznov/receipt-pipeline/internal/pipeline"
	"github.com/dvloznov/receipt-pipeline/internal/structure"
	"github.com/dvloznov/receipt-pipeline/internal/validate"
)

func main() {
	var cfg config.Worker
	if err := config.Load(&cfg); err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx := context.Background()

	b, err := pubsub.New(ctx, cfg.ProjectID, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pubsub client")
	}
	defer b.Close()

	driveClient, err := drive.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create drive client")
	}
	extractor := extract.New(driveClient, extract.NewTesseract(cfg.Extract.OCRLanguages), cfg.Extract, log)

	model, err := structure.NewGeminiModel(ctx, cfg.Structure)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create model client")
	}
	structurer := structure.New(model, cfg.Structure.Model, cfg.Validate.DefaultCurrency, log)

	var markers marker.Store
	if cfg.Validate.MarkerBucket != "" {
		gcsMarkers, err := marker.NewGCSStore(ctx, cfg.Validate.MarkerBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create marker store")
		}
		defer gcsMarkers.Close()
		markers = gcsMarkers
	} else {
		log.Warn().Msg("No dedupe bucket configured - duplicate detection will not survive restarts")
		markers = marker.NewMemoryStore()
	}

	validator, err := validate.New(cfg.Validate, markers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create validator")
	}

	ledgerStore, err := ledger.NewSheetsStore(ctx, cfg.Ledger.SpreadsheetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger store")
	}
	writer := ledger.NewWriter(ledgerStore, log)

	p := pipeline.New(extractor, structurer, validator, writer, b, cfg.Topics, log)
	p.Register(b)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := b.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumers")
	}
	log.Info().Str("project_id", cfg.ProjectID).Msg("Pipeline worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping consumers")
	}

	log.Info().Msg("Worker exited")
}
