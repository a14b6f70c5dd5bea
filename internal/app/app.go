// Package app initializes and holds long-lived pipeline services, acting
// as the dependency container the CLI commands draw from.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bookhaul/internal/config"
	"bookhaul/internal/logging"
	"bookhaul/internal/metrics"
	"bookhaul/internal/notify"
	"bookhaul/internal/store"
	"bookhaul/internal/upload"
)

// App holds the shared services: logger, lifecycle store, remote blob
// store, and the notification publisher. Built once at startup and passed
// to the commands that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Provider
	blobs    upload.BlobStore
	notifier notify.Provider
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the lifecycle store provider.
func (a *App) Store() store.Provider { return a.store }

// Blobs returns the remote blob store the upload verifier targets.
func (a *App) Blobs() upload.BlobStore { return a.blobs }

// Notifier returns the completion notification publisher.
func (a *App) Notifier() notify.Provider { return a.notifier }

// New builds the service container from configuration, failing fast when
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	var st store.Provider
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("Connecting to PostgreSQL lifecycle store", zap.String("table", cfg.DB.Table))
		st, err = store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init lifecycle store: %w", err)
		}
	case "memory":
		logger.Info("Using in-memory lifecycle store; records will not survive restarts")
		st = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}

	var blobs upload.BlobStore
	switch cfg.Upload.Provider {
	case "gcs":
		if cfg.Upload.GCSBucket == "" {
			st.Close()
			return nil, fmt.Errorf("upload provider is 'gcs' but upload.gcs_bucket is not set")
		}
		logger.Info("Using GCS upload target", zap.String("bucket", cfg.Upload.GCSBucket))
		blobs, err = upload.NewGCSStore(ctx, cfg.Upload.GCSBucket, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
	case "noop":
		logger.Info("Using No-Op upload target; packages will be discarded")
		blobs = &upload.NoOpStore{Logger: logger}
	default:
		st.Close()
		return nil, fmt.Errorf("unknown upload provider: %s", cfg.Upload.Provider)
	}

	var notifier notify.Provider
	switch cfg.Notify.Provider {
	case "pubsub":
		logger.Info("Connecting to Pub/Sub", zap.String("topic", cfg.Notify.TopicName))
		notifier, err = notify.NewPubSubProvider(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName, logger)
		if err != nil {
			st.Close()
			if closeErr := blobs.Close(); closeErr != nil {
				logger.Warn("Error closing blob store during init failure", zap.Error(closeErr))
			}
			return nil, fmt.Errorf("init notifier: %w", err)
		}
	case "noop":
		notifier = &notify.NoOpProvider{Logger: logger}
	default:
		st.Close()
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		blobs:    blobs,
		notifier: notifier,
	}, nil
}

// Close shuts down all held services. Called by a Cobra hook after the
// command finishes.
func (a *App) Close() {
	a.logger.Info("Shutting down services")
	a.store.Close()
	if err := a.blobs.Close(); err != nil {
		a.logger.Warn("Error closing blob store", zap.Error(err))
	}
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("Error closing notifier", zap.Error(err))
	}
	_ = a.logger.Sync()
}
