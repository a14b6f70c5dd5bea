// Package cmd defines the CLI commands for the bookhaul executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookhaul/internal/app"
	"bookhaul/internal/catalog"
	"bookhaul/internal/config"
	"bookhaul/internal/notify"
	"bookhaul/internal/store"
	"bookhaul/internal/upload"
)

var (
	cfgFile      string
	flagCookie   string
	flagUser     string
	flagPassword string
)

// appKeyType is the context key type for the service container.
type appKeyType string

const appKey appKeyType = "app"

// appContainer is the surface the command bodies use; an interface so
// tests can substitute a fake container.
type appContainer interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() store.Provider
	Blobs() upload.BlobStore
	Notifier() notify.Provider
}

// newApp is the container factory; a variable so tests can swap in a mock.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookhaul",
		Short: "A book acquisition pipeline: discover, package, and ship.",
		Long: `bookhaul walks a catalog's search pages to discover books, packages
each one into an epub archive, and uploads verified copies to remote
storage. The three stages hand records to each other through a shared
lifecycle store, so each stage can run as its own process.`,

		// Runs after flags are parsed but before the subcommand's RunE:
		// build the container and hand it down via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			container, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, container))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if container, ok := cmd.Context().Value(appKey).(*app.App); ok && container != nil {
				container.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	cmd.PersistentFlags().StringVar(&flagCookie, "cookie", "", "catalog session cookie header")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "catalog account user")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "", "catalog account password")

	cmd.AddCommand(newWalkCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newUploadCmd())

	return cmd
}

// Execute is the entry point. The root context cancels on SIGINT/SIGTERM
// so loop commands shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	container, ok := ctx.Value(appKey).(*app.App)
	if !ok || container == nil {
		return nil, errors.New("application services not initialized")
	}
	return container, nil
}

// buildCatalogClient assembles an authenticated catalog client from the
// container's configuration plus the credential flags.
func buildCatalogClient(ctx context.Context, container *app.App) (catalog.Client, error) {
	cfg := container.Config()
	client, err := catalog.NewCollyClient(
		catalog.Config{
			Host:       cfg.Catalog.Host,
			UserAgent:  cfg.Catalog.UserAgent,
			Timeout:    cfg.CatalogTimeout(),
			MaxRetries: cfg.Catalog.MaxRetries,
			Backoff:    cfg.CatalogBackoff(),
		},
		catalog.Credentials{
			User:     flagUser,
			Password: flagPassword,
			Cookie:   flagCookie,
		},
		container.Logger(),
	)
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	container.Logger().Info("Catalog session established", zap.String("host", cfg.Catalog.Host))
	return client, nil
}
