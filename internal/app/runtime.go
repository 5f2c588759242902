// Package app builds the connections and services shared by the binaries.
package app

import (
	"fmt"
	"log/slog"

	"boxoffice/internal/cache"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/external"
	"boxoffice/internal/messaging"
	"boxoffice/internal/repository"
	"boxoffice/internal/search"
	"boxoffice/internal/service"
)

// Runtime owns every external connection of a process. Optional clients
// (Valkey, Elasticsearch) are nil when unavailable.
type Runtime struct {
	Config   *config.Config
	DB       *database.DB
	Repos    *repository.Repositories
	Services *service.Services

	NATS     *messaging.NATSClient
	RabbitMQ *messaging.RabbitMQ
	Local    *messaging.LocalQueue
	Valkey   *cache.ValkeyClient
	Search   *search.ElasticsearchClient
}

func New(cfg *config.Config) (*Runtime, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	rt := &Runtime{
		Config: cfg,
		DB:     db,
		Repos:  repository.NewRepositories(db),
	}

	queue, events, err := rt.connectQueue()
	if err != nil {
		rt.Close()
		return nil, err
	}

	artifacts, err := external.NewTicketArtifacts(cfg.Artifacts)
	if err != nil {
		rt.Close()
		return nil, err
	}

	deps := service.Dependencies{
		Stores:   service.StoresFromRepositories(db, rt.Repos),
		Queue:    queue,
		Events:   events,
		Gateway:  external.NewPaymentClient(cfg.Payment),
		Renderer: artifacts,
		Codes:    artifacts,
		Notifier: external.NewMailer(cfg.Mail),
		Options: service.Options{
			BookingTTL:           cfg.Reservation.BookingTTL,
			PermissiveSignatures: cfg.Reservation.PermissiveSignatures,
			StatusLookup:         cfg.Reservation.StatusLookup,
		},
	}

	if cfg.Redis.Addr != "" {
		valkey, err := cache.NewValkeyClient(cfg.Redis)
		if err != nil {
			slog.Warn("Valkey unavailable, replay guard disabled", "error", err)
		} else {
			rt.Valkey = valkey
			deps.Replay = valkey
		}
	}

	if esCfg := config.LoadElasticsearchConfig(); esCfg.Enabled {
		es, err := search.NewElasticsearchClient(esCfg)
		if err != nil {
			slog.Warn("Elasticsearch unavailable, audit search disabled", "error", err)
		} else {
			rt.Search = es
		}
	}

	rt.Services = service.NewServices(deps)
	return rt, nil
}

func (rt *Runtime) connectQueue() (service.TaskQueue, service.EventPublisher, error) {
	switch rt.Config.Queue.Backend {
	case config.QueueLocal:
		rt.Local = messaging.NewLocalQueue(rt.Config.Queue.Local)
		return rt.Local, messaging.LogPublisher{}, nil

	case config.QueueRabbitMQ:
		rmq, err := messaging.NewRabbitMQ(rt.Config.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		rt.RabbitMQ = rmq
		return rmq, rmq, nil

	case config.QueueNATS:
		nc, err := messaging.NewNATSClient(rt.Config.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		rt.NATS = nc
		return nc, nc, nil

	default:
		return nil, nil, fmt.Errorf("unknown task queue backend %q", rt.Config.Queue.Backend)
	}
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	if rt.Valkey != nil {
		if err := rt.Valkey.Close(); err != nil {
			slog.Error("Error closing Valkey connection", "error", err)
		}
	}
	if rt.NATS != nil {
		if err := rt.NATS.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}
	if rt.RabbitMQ != nil {
		if err := rt.RabbitMQ.Close(); err != nil {
			slog.Error("Error closing RabbitMQ connection", "error", err)
		}
	}
	if rt.DB != nil {
		if err := rt.DB.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
		}
	}
}
