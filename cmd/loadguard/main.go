package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loadguard/internal/alerts"
	"loadguard/internal/api"
	"loadguard/internal/config"
	"loadguard/internal/engine"
	"loadguard/internal/features"
	"loadguard/internal/ingest"
	"loadguard/internal/logging"
	"loadguard/internal/model"
	"loadguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "loadguard.yaml", "path to config file")
	rebuildTenant := flag.String("rebuild", "", "rebuild feature rows for a tenant and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mgr *config.Manager
	if _, err := os.Stat(config.ResolvePath(*configPath)); err == nil {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting loadguard", "version", version, "config", mgr.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage setup failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			logger.Error("storage init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	featureStore := features.NewStore(cfg.Stores.FeatureLimit)
	alertStore := alerts.NewStore(cfg.Stores.AlertLimit)
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), featureStore, alertStore, store)

	if *rebuildTenant != "" {
		if err := eng.Rebuild(ctx, *rebuildTenant); err != nil {
			logger.Error("rebuild failed", "tenant_id", *rebuildTenant, "err", err)
			os.Exit(1)
		}
		logger.Info("rebuild complete", "tenant_id", *rebuildTenant)
		return
	}

	records := make(chan model.Record, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, records)

	ingestLogger := logging.Component(logger, "ingest")
	ingest.StartREST(ctx, mgr, records, ingestLogger)
	ingest.StartKafka(ctx, mgr, records, ingestLogger)
	ingest.StartFileImport(ctx, mgr, records, ingestLogger, nil)

	api.Start(ctx, mgr, featureStore, alertStore, store, eng, logging.Component(logger, "api"), version)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded")
				eng.UpdateConfig(next)
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
