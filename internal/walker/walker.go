package walker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bookhaul/internal/book"
	"bookhaul/internal/catalog"
)

// Searcher is the slice of the catalog client the walker needs.
type Searcher interface {
	Search(ctx context.Context, query string, page int) (*catalog.SearchPage, error)
}

// Discoverer is the slice of the lifecycle store the walker needs.
type Discoverer interface {
	UpsertDiscovered(ctx context.Context, records []book.Record) ([]string, error)
}

// Walker pages through catalog search results for one query at a time.
type Walker struct {
	client     Searcher
	store      Discoverer
	cursors    *CursorStore
	maxRecords int
	logger     *zap.Logger
}

// Stats summarizes one walk.
type Stats struct {
	Pages    int
	Seen     int
	Inserted int
}

// New constructs a Walker. maxRecords is the configurable ceiling on how
// many records one walk will consume even if the server reports more.
func New(client Searcher, store Discoverer, cursors *CursorStore, maxRecords int, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		client:     client,
		store:      store,
		cursors:    cursors,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// Walk enumerates all result pages for the query, upserting each page's
// discoveries before persisting the cursor for that page. A transport error
// aborts without advancing the cursor, so a retry re-fetches the same page;
// the upsert's idempotence makes the replay safe.
func (w *Walker) Walk(ctx context.Context, query string) (Stats, error) {
	var stats Stats

	scraped := 0
	page := 0
	if cursor, ok, err := w.cursors.Load(query); err != nil {
		return stats, err
	} else if ok {
		scraped = cursor.Scraped
		page = cursor.Page + 1
		w.logger.Info("Resuming walk from cursor",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Int("scraped", scraped),
		)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("walk canceled: %w", err)
		}

		result, err := w.client.Search(ctx, query, page)
		if err != nil {
			return stats, fmt.Errorf("search page %d: %w", page, err)
		}
		if len(result.Results) == 0 {
			w.logger.Info("Walk finished: empty page",
				zap.String("query", query), zap.Int("page", page))
			return stats, nil
		}

		records := make([]book.Record, 0, len(result.Results))
		for _, hit := range result.Results {
			records = append(records, hit.Record(query))
		}
		inserted, err := w.store.UpsertDiscovered(ctx, records)
		if err != nil {
			return stats, fmt.Errorf("commit page %d discoveries: %w", page, err)
		}

		scraped += len(result.Results)
		stats.Pages++
		stats.Seen += len(result.Results)
		stats.Inserted += len(inserted)

		// The cursor moves only after the page's discoveries are committed.
		if err := w.cursors.Save(Cursor{Query: query, Page: page, Scraped: scraped}); err != nil {
			return stats, err
		}

		w.logger.Debug("Page committed",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Int("new", len(inserted)),
			zap.Int("total_reported", result.Total),
		)

		limit := result.Total
		if w.maxRecords < limit {
			limit = w.maxRecords
		}
		if scraped >= limit {
			w.logger.Info("Walk finished",
				zap.String("query", query),
				zap.Int("scraped", scraped),
				zap.Int("limit", limit),
			)
			return stats, nil
		}
		page++
	}
}
