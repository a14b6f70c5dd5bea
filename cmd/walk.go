package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookhaul/internal/metrics"
	"bookhaul/internal/walker"
)

// newWalkCmd creates the 'walk' subcommand, which enumerates catalog
// search results for a query and records discoveries in the lifecycle
// store.
func newWalkCmd() *cobra.Command {
	var (
		query string
		max   int
	)

	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Discover books matching a query",
		Long: `Walks the catalog's paged search results for a query, upserting every
hit into the lifecycle store with status NOT_ACQUIRED. The walk persists
a cursor after each committed page, so an interrupted walk resumes at
the first unprocessed page.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := container.Config()

			client, err := buildCatalogClient(cmd.Context(), container)
			if err != nil {
				return err
			}

			cursors, err := walker.NewCursorStore(cfg.Walker.StateDir)
			if err != nil {
				return err
			}

			ceiling := cfg.Walker.MaxRecords
			if max > 0 {
				ceiling = max
			}

			w := walker.New(client, container.Store(), cursors, ceiling, container.Logger())
			stats, err := w.Walk(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("walk %q: %w", query, err)
			}
			metrics.ObserveDiscovered(stats.Inserted)
			metrics.ObserveWalkPages(stats.Pages)

			container.Logger().Info("Walk finished",
				zap.String("query", query),
				zap.Int("pages", stats.Pages),
				zap.Int("seen", stats.Seen),
				zap.Int("inserted", stats.Inserted),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "search query to walk")
	cmd.Flags().IntVar(&max, "max", 0, "override the configured record ceiling")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}
