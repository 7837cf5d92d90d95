package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/drive"
	"github.com/dvloznov/receipt-pipeline/internal/logger"
	"github.com/dvloznov/receipt-pipeline/internal/watcher"
)

func main() {
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	var cfg config.Watcher
	if err := config.Load(&cfg); err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := drive.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create drive client")
	}

	var states watcher.StateStore
	if cfg.StateBucket != "" {
		states, err = watcher.NewGCSStateStore(ctx, cfg.StateBucket, cfg.FolderID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create state store")
		}
	} else {
		log.Warn().Msg("No state bucket configured - scan state will not survive restarts")
		states = watcher.NewMemoryStateStore()
	}

	forwarder := watcher.NewHTTPForwarder(cfg.IntakeURL, cfg.APIKey)
	w := watcher.New(store, states, forwarder, cfg, log)

	if *once {
		if err := w.Scan(ctx); err != nil {
			log.Fatal().Err(err).Msg("Scan failed")
		}
		return
	}

	log.Info().
		Str("folder_id", cfg.FolderID).
		Dur("interval", cfg.ScanInterval).
		Msg("Starting source watcher")

	if err := w.Run(ctx, cfg.ScanInterval); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Watcher stopped with error")
	}
	log.Info().Msg("Watcher exited")
}
