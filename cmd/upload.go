package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookhaul/internal/book"
	"bookhaul/internal/logging"
	"bookhaul/internal/metrics"
	"bookhaul/internal/notify"
	"bookhaul/internal/upload"
)

// newUploadCmd creates the 'upload' subcommand, which ships one file or
// folder, or runs as a continuous consumer of packaged books.
func newUploadCmd() *cobra.Command {
	var (
		folder     string
		loop       bool
		deleteSent bool
	)

	cmd := &cobra.Command{
		Use:   "upload [PATH]",
		Short: "Upload packaged books with digest verification",
		Long: `Streams a local package to remote storage, compares the store's digest
against the locally computed one, and only then optionally deletes the
local copy. A digest mismatch always keeps the local file.

With a PATH argument one file (or every file under one directory) is
uploaded. With --loop the command repeatedly claims the next packaged
book from the lifecycle store, uploads its archive, and announces the
completion.`,
		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if loop == (len(args) == 1) {
				return errors.New("supply either a PATH or --loop, not both")
			}

			container, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := container.Config()

			prefix := cfg.Upload.Prefix
			if folder != "" {
				prefix = folder
			}
			verifier := upload.NewVerifier(container.Blobs(), prefix, cfg.UploadTimeout(), container.Logger())

			if !loop {
				return uploadPath(cmd.Context(), verifier, args[0], deleteSent)
			}

			if cfg.Metrics.Enabled {
				go metrics.Serve(cmd.Context(), cfg.Metrics.Port, container.Logger())
			}
			return runUploadLoop(cmd.Context(), container, verifier, prefix, deleteSent, cfg.UploadLoopSleep(), cfg.Crawler.OutputDir)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "remote folder (defaults to upload.prefix)")
	cmd.Flags().BoolVar(&loop, "loop", false, "continuously consume packaged books")
	cmd.Flags().BoolVar(&deleteSent, "delete", false, "remove local files after verified upload")

	return cmd
}

// uploadPath ships one file or, for a directory, every file under it.
func uploadPath(ctx context.Context, verifier *upload.Verifier, localPath string, deleteSent bool) error {
	info, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		// Missing single path follows the no-op contract via UploadFile.
		return verifier.UploadFile(ctx, localPath, upload.Options{Delete: deleteSent})
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	// Each file gets its own progress accumulator; sharing one across a
	// directory would feed negative deltas into the byte counter.
	opts := upload.Options{Delete: deleteSent, NewProgress: progressMetrics}
	if info.IsDir() {
		return verifier.UploadDir(ctx, localPath, opts)
	}
	return verifier.UploadFile(ctx, localPath, opts)
}

// runUploadLoop claims packaged books until the context is canceled. A
// verified upload finishes the record as SENT and publishes a completion
// notification; any failure returns the record to ACQUIRED for retry.
func runUploadLoop(
	ctx context.Context,
	container appContainer,
	verifier *upload.Verifier,
	prefix string,
	deleteSent bool,
	sleep time.Duration,
	outputDir string,
) error {
	logger := logging.Stage(container.Logger(), "upload")
	logger.Info("Upload loop started", zap.Duration("idle_sleep", sleep))

	for {
		rec, err := container.Store().ClaimNext(ctx, book.StatusAcquired, book.StatusSending)
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

		err = uploadClaimed(ctx, container, verifier, prefix, deleteSent, outputDir, rec)
		metrics.ObserveBook("upload", err)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Upload failed", zap.String("book_id", rec.ID), zap.Error(err))
		}
	}
}

// uploadClaimed ships one claimed record's archive and settles its status.
// The archive is located by identifier rather than by re-deriving its name
// from the record: the crawl stage names archives from the catalog's own
// title, which can differ from the title recorded at discovery.
func uploadClaimed(
	ctx context.Context,
	container appContainer,
	verifier *upload.Verifier,
	prefix string,
	deleteSent bool,
	outputDir string,
	rec *book.Record,
) error {
	returnRecord := func() {
		if ferr := container.Store().Finish(ctx, rec.ID, book.StatusAcquired); ferr != nil {
			container.Logger().Error("Failed to return record after upload failure",
				zap.String("book_id", rec.ID), zap.Error(ferr))
		}
	}

	pattern := filepath.Join(outputDir, "*-"+rec.ID+".epub")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		returnRecord()
		return fmt.Errorf("locate archive for %s: %w", rec.ID, err)
	}
	if len(matches) == 0 {
		// A just-claimed record with no archive on disk means the package
		// was never produced or was lost; the missing-file no-op is
		// reserved for explicit path re-invocations, not the loop.
		returnRecord()
		return fmt.Errorf("no archive matching %s for claimed book %s", pattern, rec.ID)
	}
	localPath := matches[0]
	base := filepath.Base(localPath)

	err = verifier.UploadFile(ctx, localPath, upload.Options{
		Delete:   deleteSent,
		Progress: progressMetrics(),
	})
	if err != nil {
		returnRecord()
		return err
	}

	if err := container.Store().Finish(ctx, rec.ID, book.StatusSent); err != nil {
		return fmt.Errorf("record sent status for %s: %w", rec.ID, err)
	}

	object := path.Join(prefix, upload.ObjectName(base))
	if err := container.Notifier().Publish(ctx, notify.Message{BookID: rec.ID, Object: object}); err != nil {
		// The record is already SENT; the announcement is best-effort.
		container.Logger().Warn("Completion notification failed",
			zap.String("book_id", rec.ID), zap.Error(err))
	}
	return nil
}

// progressMetrics feeds transfer deltas into the upload byte counter.
func progressMetrics() upload.Progress {
	var last int64
	return func(sent, _ int64) {
		metrics.ObserveUploadBytes(sent - last)
		last = sent
	}
}
