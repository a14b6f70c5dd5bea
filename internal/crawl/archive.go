package crawl

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// epochModified pins every archive entry to one timestamp so rebuilding the
// same working directory yields a byte-identical package.
var epochModified = time.Unix(0, 0).UTC()

// Archive packages the job's working directory into outputDir as
// <SafeTitle>-<BookID>.epub and returns the final path. Entries are written
// in sorted order with the mimetype file first and uncompressed, per the
// epub container convention.
func Archive(job *Job, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", outputDir, err)
	}

	var files []string
	root := job.WorkDir()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk work dir: %w", err)
	}
	sort.Slice(files, func(i, j int) bool {
		if (files[i] == "mimetype") != (files[j] == "mimetype") {
			return files[i] == "mimetype"
		}
		return files[i] < files[j]
	})

	staging := filepath.Join(root, "..", filepath.Base(root)+".epub")
	out, err := os.Create(staging)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, rel := range files {
		if err := addArchiveEntry(zw, root, rel); err != nil {
			zw.Close()
			out.Close()
			os.Remove(staging)
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(staging)
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("close archive file: %w", err)
	}

	final := filepath.Join(outputDir, fmt.Sprintf("%s-%s.epub", job.SafeTitle, job.BookID))
	if err := moveFile(staging, final); err != nil {
		os.Remove(staging)
		return "", err
	}
	return final, nil
}

func addArchiveEntry(zw *zip.Writer, root, rel string) error {
	header := &zip.FileHeader{
		Name:     rel,
		Method:   zip.Deflate,
		Modified: epochModified,
	}
	if rel == "mimetype" {
		header.Method = zip.Store
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", rel, err)
	}
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("open %s for archiving: %w", rel, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	return nil
}

// moveFile renames when possible and falls back to copy-and-remove when the
// output directory sits on a different filesystem.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move archive to %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive for copy: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy archive to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Remove(src)
}
