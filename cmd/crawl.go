package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookhaul/internal/book"
	"bookhaul/internal/crawl"
	"bookhaul/internal/logging"
	"bookhaul/internal/metrics"
)

// newCrawlCmd creates the 'crawl' subcommand, which packages one book or
// runs as a continuous consumer of the discovery backlog.
func newCrawlCmd() *cobra.Command {
	var (
		bookID string
		loop   bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Package books into epub archives",
		Long: `Fetches a book's table of contents, downloads its cover, entries,
stylesheets, and images with bounded parallelism, and assembles the
result into an epub archive in the output directory.

With --book-id one book is processed and the command exits non-zero on
failure. With --loop the command repeatedly claims the next discovered
book and keeps running until terminated; individual failures are logged
and the loop continues.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if (bookID == "") == (!loop) {
				return errors.New("exactly one of --book-id or --loop is required")
			}

			container, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := container.Config()

			client, err := buildCatalogClient(cmd.Context(), container)
			if err != nil {
				return err
			}

			orch := crawl.New(client, container.Store(), crawl.Config{
				OutputDir:   cfg.Crawler.OutputDir,
				WorkDir:     cfg.Crawler.WorkDir,
				Concurrency: cfg.Crawler.Concurrency,
			}, container.Logger())

			if bookID != "" {
				rec := &book.Record{ID: bookID}
				if err := orch.Run(cmd.Context(), rec); err != nil {
					return fmt.Errorf("crawl %s: %w", bookID, err)
				}
				return nil
			}

			if cfg.Metrics.Enabled {
				go metrics.Serve(cmd.Context(), cfg.Metrics.Port, container.Logger())
			}
			return runCrawlLoop(cmd.Context(), container, orch, cfg.CrawlLoopSleep())
		},
	}

	cmd.Flags().StringVar(&bookID, "book-id", "", "package one book by identifier")
	cmd.Flags().BoolVar(&loop, "loop", false, "continuously consume the discovery backlog")

	return cmd
}

// runCrawlLoop claims discovered books one at a time until the context is
// canceled. A claim miss just sleeps; a failed book is logged and the loop
// moves on.
func runCrawlLoop(ctx context.Context, container appContainer, orch *crawl.Orchestrator, sleep time.Duration) error {
	logger := logging.Stage(container.Logger(), "crawl")
	logger.Info("Crawl loop started", zap.Duration("idle_sleep", sleep))

	for {
		rec, err := container.Store().ClaimNext(ctx, book.StatusNotAcquired, book.StatusAcquiring)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Claim failed", zap.Error(err))
			if !sleepCtx(ctx, sleep) {
				return nil
			}
			continue
		}
		if rec == nil {
			if !sleepCtx(ctx, sleep) {
				return nil
			}
			continue
		}

		err = orch.Run(ctx, rec)
		metrics.ObserveBook("crawl", err)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Crawl failed", zap.String("book_id", rec.ID), zap.Error(err))
		}
	}
}

// sleepCtx pauses for d, returning false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
