package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"boxoffice/internal/api"
	"boxoffice/internal/app"
	"boxoffice/internal/config"
	"boxoffice/internal/consumers"
	"boxoffice/internal/logger"
	"boxoffice/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialise tracing", "error", err)
	}

	rt, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create runtime", "error", err)
	}

	// Создаем и настраиваем сервер
	server := api.NewServer(cfg, rt)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.GetRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Без брокера задачи сверки выполняются в этом же процессе
	var workers *consumers.ConsumerService
	if cfg.Queue.Backend == config.QueueLocal {
		workers = consumers.NewConsumerService(rt)
		if err := workers.Start(gctx); err != nil {
			logger.Fatal("Failed to start in-process workers", "error", err)
		}
	}

	if cfg.PprofEnabled {
		pprofSrv := &http.Server{Addr: ":" + cfg.PprofPort, Handler: http.DefaultServeMux}
		g.Go(func() error {
			log.Info("Starting pprof server", "port", cfg.PprofPort)
			if err := pprofSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return pprofSrv.Close()
		})
	}

	// Ждем сигнал для graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", "error", err)
		}
		if workers != nil {
			if err := workers.Shutdown(shutdownCtx); err != nil {
				log.Error("Error stopping workers", "error", err)
			}
		}
		return tp.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", "error", err)
	}

	// Закрываем соединения
	server.Cleanup()
	log.Info("Server stopped")
}
