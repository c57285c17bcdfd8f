package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"kvgate/internal/config"
	"kvgate/internal/gateway"
	"kvgate/internal/logging"
	"kvgate/internal/store"
	boltstore "kvgate/internal/store/bolt"
	"kvgate/internal/store/memory"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "bolt database path (overrides config)")
	inMemory := flag.Bool("memory", false, "keep entries in memory instead of on disk")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.For("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var backend store.Backend
	if *inMemory {
		backend = memory.New()
		logger.Warn("using in-memory store, entries are lost on exit")
	} else {
		path := config.ExpandHome(cfg.Store.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			fatal(logger, "creating store dir", err)
		}
		db, err := boltstore.Open(path, boltstore.WithCompression(cfg.Store.Compress))
		if err != nil {
			fatal(logger, "store", err)
		}
		if interval := cfg.Store.SweepInterval.Duration; interval > 0 {
			go db.SweepLoop(ctx, interval)
		}
		backend = db
		logger.Info("store opened", "path", path, "compress", cfg.Store.Compress)
	}
	kv := store.New(backend)
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("closing store", "err", err)
		}
	}()

	srv := gateway.NewServer(cfg.Server, kv)
	if err := srv.Listen(); err != nil {
		fatal(logger, "http", err)
	}
	logger.Info("listening", "addr", srv.Addr())

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		if err := <-done; err != nil {
			logger.Error("shutdown", "err", err)
		}
	case err := <-done:
		if err != nil {
			logger.Error("http server stopped", "err", err)
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
