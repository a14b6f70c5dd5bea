package crawl

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookhaul/internal/book"
	"bookhaul/internal/catalog"
	"bookhaul/internal/store"
)

var coverImgSrc = regexp.MustCompile(`<img src="(.*?)" alt`)

// Config controls orchestrator behavior.
type Config struct {
	OutputDir   string
	WorkDir     string
	Concurrency int
}

// Orchestrator executes the fetch/render graph for one book at a time and
// reports the outcome to the lifecycle store.
type Orchestrator struct {
	client catalog.Client
	store  store.Provider
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(client catalog.Client, st store.Provider, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{client: client, store: st, cfg: cfg, logger: logger}
}

// Run crawls one claimed record into a packaged archive. Any failure after
// the table of contents arrived cleans up the working directory and returns
// the record to StatusNotAcquired so a later pass retries it; success
// finishes it as StatusAcquired.
func (o *Orchestrator) Run(ctx context.Context, rec *book.Record) (err error) {
	logger := o.logger.With(zap.String("book_id", rec.ID))

	toc, err := o.client.TOC(ctx, rec.ID)
	if err != nil {
		// Nothing was staged; the book simply returns to the backlog. The
		// release must land even when the run context is already canceled.
		if ferr := o.store.Finish(context.WithoutCancel(ctx), rec.ID, book.StatusNotAcquired); ferr != nil {
			logger.Error("Failed to release book after toc failure", zap.Error(ferr))
		}
		return fmt.Errorf("fetch toc: %w", err)
	}

	job := NewJob(rec.ID, book.SafeTitle(toc.Title), o.cfg.WorkDir)
	defer func() {
		if cerr := job.Cleanup(); cerr != nil {
			logger.Warn("Failed to clean up work dir", zap.Error(cerr))
		}
		status := book.StatusAcquired
		if err != nil {
			status = book.StatusNotAcquired
		}
		if ferr := o.store.Finish(context.WithoutCancel(ctx), rec.ID, status); ferr != nil {
			logger.Error("Failed to record crawl outcome", zap.Error(ferr))
		}
	}()

	if err = job.Stage(); err != nil {
		return err
	}
	logger.Info("Crawl staged",
		zap.String("title", toc.Title),
		zap.Int("entries", len(toc.Items)),
		zap.String("work_dir", job.WorkDir()),
	)

	entries := make([]ManifestEntry, len(toc.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	g.Go(func() error {
		o.fetchCover(gctx, job, toc, logger)
		return nil
	})
	for i, item := range toc.Items {
		g.Go(func() error {
			entry, entryErr := o.processEntry(gctx, job, toc, item, i)
			if entryErr != nil {
				return fmt.Errorf("entry %q: %w", item.URL, entryErr)
			}
			entries[i] = entry
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	language := rec.Language
	if language == "" {
		language = "en"
	}
	if err = RenderManifests(job, ManifestData{
		BookID:   toc.BookID,
		Title:    toc.Title,
		Language: language,
		Entries:  entries,
	}); err != nil {
		return err
	}

	archivePath, archiveErr := Archive(job, o.cfg.OutputDir)
	if archiveErr != nil {
		err = archiveErr
		return err
	}
	logger.Info("Book packaged", zap.String("archive", archivePath))
	return nil
}

// fetchCover retrieves the cover image. Cover failures are tolerated: the
// package is still usable and the renderer already proceeded.
func (o *Orchestrator) fetchCover(ctx context.Context, job *Job, toc *catalog.TOC, logger *zap.Logger) {
	match := coverImgSrc.FindStringSubmatch(toc.ThumbnailTag)
	if match == nil {
		logger.Warn("No cover image in thumbnail tag", zap.String("tag", toc.ThumbnailTag))
		return
	}
	data, err := o.client.Fetch(ctx, o.client.AbsoluteURL(match[1]))
	if err != nil {
		logger.Warn("Cover fetch failed", zap.Error(err))
		return
	}
	if err := job.WriteContent("cover-image.jpg", data); err != nil {
		logger.Warn("Cover write failed", zap.Error(err))
	}
}

// processEntry handles one table-of-contents entry: its descriptor, its
// stylesheets, its content document, and its images. Descriptor and content
// failures are fatal to the job; stylesheet and image failures are absorbed.
func (o *Orchestrator) processEntry(
	ctx context.Context,
	job *Job,
	toc *catalog.TOC,
	item catalog.TOCItem,
	index int,
) (ManifestEntry, error) {
	desc, err := o.client.PageDescriptor(ctx, o.client.AbsoluteURL(item.URL))
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("fetch descriptor: %w", err)
	}

	// Stylesheets belonging to this entry are fetched before its content
	// renders. Other entries may still render first; the aggregation is
	// best-effort by design.
	for _, ss := range desc.Stylesheets {
		css, cssErr := o.client.Fetch(ctx, o.client.AbsoluteURL(ss.URL))
		if cssErr != nil {
			o.logger.Warn("Stylesheet fetch failed",
				zap.String("book_id", job.BookID),
				zap.String("url", ss.URL),
				zap.Error(cssErr),
			)
			continue
		}
		job.AppendStyle(css)
	}

	content, err := o.client.Fetch(ctx, o.client.AbsoluteURL(desc.Content))
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("fetch content: %w", err)
	}
	body, err := ExtractBody(content)
	if err != nil {
		return ManifestEntry{}, err
	}
	page, err := RenderPage(body, job.StyleOrDefault())
	if err != nil {
		return ManifestEntry{}, err
	}
	if err := job.WriteContent(desc.FullPath, page); err != nil {
		return ManifestEntry{}, err
	}

	for _, img := range desc.Images {
		if img == "" {
			continue
		}
		o.fetchImage(ctx, job, toc, img)
	}

	label := item.Label
	if label == "" {
		label = desc.FullPath
	}
	return ManifestEntry{
		ID:    fmt.Sprintf("entry-%d", index),
		Path:  path.Clean(desc.FullPath),
		Label: label,
		Order: index + 1,
	}, nil
}

// fetchImage pulls one referenced image into the content subtree. Leading
// parent segments are stripped: some books reference images one level up.
func (o *Orchestrator) fetchImage(ctx context.Context, job *Job, toc *catalog.TOC, img string) {
	img = strings.ReplaceAll(img, "../", "")
	src := o.client.AbsoluteURL(path.Join("library/view", toc.TitleSafe, toc.BookID, img))
	data, err := o.client.Fetch(ctx, src)
	if err != nil {
		o.logger.Warn("Image fetch failed",
			zap.String("book_id", job.BookID),
			zap.String("image", img),
			zap.Error(err),
		)
		return
	}
	if err := job.WriteContent(img, data); err != nil {
		o.logger.Warn("Image write failed",
			zap.String("book_id", job.BookID),
			zap.String("image", img),
			zap.Error(err),
		)
	}
}
