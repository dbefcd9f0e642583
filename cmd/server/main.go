package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/api/rest"
	"github.com/Simumatik/simumatik-driver-manager/internal/api/websocket"
	"github.com/Simumatik/simumatik-driver-manager/internal/config"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers"
	"github.com/Simumatik/simumatik-driver-manager/internal/manager"
)

func main() {
	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully")

	// Driver manager aufbauen
	mgr, err := manager.New(cfg, drivers.NewRegistry(), logger)
	if err != nil {
		logger.Fatal("Failed to build driver manager", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	logger.Info("Driver manager started successfully")

	// Websocket Hub für Live-Updates
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	eventCh, unsubscribe := mgr.Events(256)
	defer unsubscribe()
	go hub.Forward(ctx, eventCh)

	// REST API
	server := rest.NewServer(cfg, mgr, logger, hub)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	logger.Info("HTTP server listening", zap.Int("port", cfg.Server.HTTPPort))

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("Driver manager shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Driver manager stopped successfully")
}
