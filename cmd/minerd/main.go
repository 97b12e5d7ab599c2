package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tonyield/miner/internal/config"
	"github.com/tonyield/miner/internal/database"
	"github.com/tonyield/miner/internal/engine"
	"github.com/tonyield/miner/internal/logger"
	"github.com/tonyield/miner/internal/session"
	"github.com/tonyield/miner/internal/store"
	"github.com/tonyield/miner/internal/wallet"
)

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to connect to database")
	}

	sessions, err := session.NewStore(cfg.RedisURL, zl)
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer sessions.Close()

	signer := wallet.NewClient(cfg.WalletBridgeURL, cfg.WalletSubmitTimeout, cfg.WalletValidityWindow, zl)

	// Expose Prometheus metrics
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := ":" + cfg.MetricsPort
		zl.Info().Str("addr", addr).Msg("Serving metrics")
		if err := http.ListenAndServe(addr, nil); err != nil {
			zl.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	manager := engine.NewManager(cfg, store.New(db, zl), sessions, signer, zl)
	if err := manager.Start(); err != nil {
		zl.Fatal().Err(err).Msg("Failed to start session manager")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	zl.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := manager.Stop(); err != nil {
		zl.Error().Err(err).Msg("Error during shutdown")
	}
}
