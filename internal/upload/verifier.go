package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// chunkSize bounds each read while streaming, so digesting and progress
// reporting never load the whole file into memory.
const chunkSize = 4 << 20

// ErrDigestMismatch reports that the store's digest for an uploaded object
// differs from the locally computed one. The local file is always retained
// when this is returned.
var ErrDigestMismatch = errors.New("remote digest does not match local digest")

// trailingID matches the "-<identifier>" suffix local package names carry;
// it is stripped so the remote object keeps just the title.
var trailingID = regexp.MustCompile(`-\d+(\.[A-Za-z0-9]+)?$`)

// Progress is invoked periodically during a transfer with the bytes sent
// so far and the total size.
type Progress func(sent, total int64)

// Options adjusts a single upload call.
type Options struct {
	// Name overrides the derived remote object name.
	Name string
	// Delete removes the local file after a digest-verified upload.
	Delete bool
	// Progress, when set, receives transfer updates.
	Progress Progress
	// NewProgress, when set and Progress is nil, builds a fresh Progress
	// for each file, so directory uploads never share one accumulator.
	NewProgress func() Progress
}

// Verifier uploads local packages to a BlobStore and confirms integrity
// before any local deletion happens.
type Verifier struct {
	blobs   BlobStore
	folder  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewVerifier constructs a Verifier targeting folder inside the store.
func NewVerifier(blobs BlobStore, folder string, timeout time.Duration, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{blobs: blobs, folder: folder, timeout: timeout, logger: logger}
}

// ObjectName derives the remote object name from a local file name,
// dropping the trailing "-<identifier>" while keeping the extension.
func ObjectName(base string) string {
	return trailingID.ReplaceAllString(base, "$1")
}

// UploadFile streams one file to the store, compares digests, and deletes
// the local copy only when both the digests match and Options.Delete is
// set. A path that no longer exists is a no-op success so a driver loop
// can safely re-run after a partial pass.
func (v *Verifier) UploadFile(ctx context.Context, localPath string, opts Options) error {
	f, err := os.Open(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		v.logger.Info("Local file already gone, skipping upload", zap.String("path", localPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	name := opts.Name
	if name == "" {
		name = ObjectName(filepath.Base(localPath))
	}
	object := path.Join(v.folder, name)

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	progress := opts.Progress
	if progress == nil && opts.NewProgress != nil {
		progress = opts.NewProgress()
	}

	hasher := md5.New()
	reader := &progressReader{
		r:      io.TeeReader(f, hasher),
		total:  info.Size(),
		report: progress,
	}

	v.logger.Info("Uploading package",
		zap.String("path", localPath),
		zap.String("object", object),
		zap.Int64("bytes", info.Size()),
	)
	remote, err := v.blobs.Put(ctx, object, reader)
	if err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}

	local := hasher.Sum(nil)
	if !bytes.Equal(local, remote) {
		return fmt.Errorf("verify %s as %s: %w", localPath, object, ErrDigestMismatch)
	}
	v.logger.Info("Upload verified",
		zap.String("object", object),
		zap.String("digest", fmt.Sprintf("%x", local)),
	)

	if opts.Delete {
		if err := os.Remove(localPath); err != nil {
			return fmt.Errorf("remove verified %s: %w", localPath, err)
		}
		v.logger.Info("Removed local file after verified upload", zap.String("path", localPath))
	}
	return nil
}

// UploadDir applies UploadFile to every regular file under dir. One file's
// failure does not stop the rest; all failures come back joined.
func (v *Verifier) UploadDir(ctx context.Context, dir string, opts Options) error {
	var errs []error
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fileOpts := opts
		fileOpts.Name = ""
		if err := v.UploadFile(ctx, p, fileOpts); err != nil {
			v.logger.Error("Upload failed", zap.String("path", p), zap.Error(err))
			errs = append(errs, err)
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk %s: %w", dir, walkErr))
	}
	return errors.Join(errs...)
}

// progressReader caps each read at chunkSize and reports cumulative
// progress after every chunk.
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if len(buf) > chunkSize {
		buf = buf[:chunkSize]
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil {
			p.report(p.sent, p.total)
		}
	}
	return n, err
}
