package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddielth/edge-ingest/api"
	"github.com/eddielth/edge-ingest/broadcast"
	"github.com/eddielth/edge-ingest/config"
	"github.com/eddielth/edge-ingest/ingest"
	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
	"github.com/eddielth/edge-ingest/mqtt"
	"github.com/eddielth/edge-ingest/rules"
	"github.com/eddielth/edge-ingest/storage"
	"github.com/eddielth/edge-ingest/transformer"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	loader, cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	defer logger.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// storage is the one dependency the service cannot start without
	db, err := storage.NewDatabase(cfg.Storage.Type, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	store := storage.NewManager(db)
	defer store.Close()
	latest := addMirrors(store, cfg.Storage)

	m := metrics.New()

	transformers, err := transformer.NewManager(cfg.Transformers)
	if err != nil {
		return fmt.Errorf("init transformers: %w", err)
	}

	hub := broadcast.NewHub(m)
	bridge := broadcast.NewBridge(hub, cfg.Broadcast.Buffer, m)
	bridge.Start(ctx)

	engine := rules.NewEngine(store, store, func(o rules.Outcome) {
		m.RuleOutcome(o.Status.String())
	})

	queue := ingest.NewQueue()
	worker := ingest.NewWorker(ingest.WorkerConfig{
		Queue:          queue,
		Normalizer:     ingest.NewNormalizer(),
		Store:          store,
		Publisher:      bridge,
		Rules:          engine,
		Transformer:    transformers,
		Metrics:        m,
		PollInterval:   cfg.Ingest.PollInterval,
		PersistTimeout: cfg.Ingest.PersistTimeout,
	})
	go worker.Run(ctx)

	subscriber := mqtt.NewSubscriber(queue, m)
	client, err := mqtt.NewClient(cfg.MQTT, func(topic string, payload []byte) {
		subscriber.HandleMessage(topic, payload)
	})
	if err != nil {
		return fmt.Errorf("init MQTT client: %w", err)
	}
	if err := client.Connect(); err != nil {
		// paho keeps retrying in the background
		logger.Warn("MQTT broker not reachable yet: %v", err)
	}

	if err := loader.Watch(func(next *config.Config) error {
		return transformers.Apply(next.Transformers)
	}, func(err error) {
		logger.Error("config reload failed: %v", err)
	}); err != nil {
		logger.Info("config hot reload disabled: %v", err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Options{
			Store:        store,
			Latest:       latest,
			Hub:          hub,
			Metrics:      m,
			MQTTStatus:   client.Status,
			StorageType:  cfg.Storage.Type,
			AdminToken:   cfg.Server.AdminToken,
			AllowOrigins: cfg.Server.AllowOrigins,
			ViewerBuffer: cfg.Broadcast.ViewerBuffer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("edge-ingest started, waiting for readings on %s", cfg.MQTT.Topic)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
		logger.Error("HTTP server failed: %v", runErr)
	}

	// stop intake first, then let the worker finish its current message
	client.Disconnect()
	worker.Stop()
	bridge.Stop()
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}

	logger.Info("edge-ingest stopped")
	return runErr
}

// addMirrors attaches the optional reading mirrors. A mirror that cannot be
// opened is logged and skipped. The redis mirror doubles as the latest
// reading cache; nil is returned when it is off.
func addMirrors(store *storage.Manager, cfg config.StorageConfig) api.LatestSource {
	if cfg.File.Enabled {
		fs, err := storage.NewFileStorage(cfg.File.Path)
		if err != nil {
			logger.Error("file mirror disabled: %v", err)
		} else {
			store.AddBackend(fs)
		}
	}

	if cfg.Redis.Enabled {
		rs, err := storage.NewRedisStorage(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.Error("redis mirror disabled: %v", err)
		} else {
			store.AddBackend(rs)
			return rs
		}
	}
	return nil
}
