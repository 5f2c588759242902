package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boxoffice/cmd/consumers/handlers"
	"boxoffice/cmd/consumers/jobs"
	"boxoffice/internal/app"
	"boxoffice/internal/config"
	"boxoffice/internal/consumers"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	log.Info("Starting consumers service...")

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "boxoffice-consumers"
	cfg.Telemetry.ServiceName = "boxoffice-consumers"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialise tracing", "error", err)
	}

	rt, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create runtime", "error", err)
	}

	consumerService := consumers.NewConsumerService(rt)
	if err := consumerService.Start(ctx); err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	if rt.Search != nil {
		audit := handlers.NewAuditSyncHandler(rt.Search)
		if err := consumerService.SubscribeEvents(ctx, models.SubjectPaymentReconciled, audit.HandlePaymentReconciled); err != nil {
			logger.Fatal("Failed to subscribe audit indexer", "error", err)
		}
	}

	var sweeper *jobs.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper, err = jobs.NewSweeper(rt.Services.Payments, cfg.Sweeper)
		if err != nil {
			logger.Fatal("Failed to create sweeper", "error", err)
		}
		if err := sweeper.Start(ctx); err != nil {
			logger.Fatal("Failed to start sweeper", "error", err)
		}
	}

	log.Info("Consumers service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down consumers service...")

	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			log.Error("Error stopping sweeper", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer", "error", err)
	}
	rt.Close()

	log.Info("Consumers service stopped")
}
