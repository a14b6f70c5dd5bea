// Package crawl turns one book identifier into a packaged archive: it fans
// out the table-of-contents fetch graph, renders each entry, and assembles
// the working directory into a single epub file.
package crawl

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

//go:embed skeleton
var skeletonFS embed.FS

// Job is the in-memory state of one crawl attempt. It owns a working
// directory seeded from the embedded package skeleton and the shared style
// buffer that stylesheet fetches append to.
type Job struct {
	BookID    string
	SafeTitle string
	workDir   string

	styleMu sync.Mutex
	style   []byte

	staged bool
}

// NewJob allocates a job rooted under baseDir (os.TempDir() when empty).
// Nothing touches the filesystem until Stage runs, so a job that dies
// before its table of contents arrives leaves no artifacts behind.
func NewJob(bookID, safeTitle, baseDir string) *Job {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Job{
		BookID:    bookID,
		SafeTitle: safeTitle,
		workDir:   filepath.Join(baseDir, "bookhaul-"+uuid.NewString()),
	}
}

// Stage materializes the working directory from the embedded skeleton.
func (j *Job) Stage() error {
	err := fs.WalkDir(skeletonFS, "skeleton", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel("skeleton", path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(j.workDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		data, readErr := skeletonFS.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		return os.WriteFile(target, data, 0o600)
	})
	if err != nil {
		return fmt.Errorf("stage skeleton into %s: %w", j.workDir, err)
	}
	j.staged = true
	return nil
}

// Staged reports whether the working directory exists.
func (j *Job) Staged() bool { return j.staged }

// WorkDir returns the job's working directory root.
func (j *Job) WorkDir() string { return j.workDir }

// ContentPath resolves a path under the OEBPS content subtree.
func (j *Job) ContentPath(parts ...string) string {
	return filepath.Join(append([]string{j.workDir, "OEBPS"}, parts...)...)
}

// WriteContent writes a file under the content subtree, creating
// intermediate directories. Concurrent writers target distinct paths, so no
// write-write conflict arises.
func (j *Job) WriteContent(rel string, data []byte) error {
	target := j.ContentPath(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create content dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("write content %s: %w", rel, err)
	}
	return nil
}

// AppendStyle adds one stylesheet's text to the shared buffer. Arrival
// order is not guaranteed; the buffer is pure concatenation.
func (j *Job) AppendStyle(css []byte) {
	j.styleMu.Lock()
	defer j.styleMu.Unlock()
	j.style = append(j.style, css...)
	j.style = append(j.style, '\n')
}

// StyleOrDefault returns the aggregated stylesheet text, or the built-in
// default when no stylesheet has arrived yet.
func (j *Job) StyleOrDefault() string {
	j.styleMu.Lock()
	defer j.styleMu.Unlock()
	if len(j.style) == 0 {
		return defaultStyle
	}
	return string(j.style)
}

// Cleanup removes the working directory. Safe to call when nothing was
// staged.
func (j *Job) Cleanup() error {
	if !j.staged {
		return nil
	}
	if err := os.RemoveAll(j.workDir); err != nil {
		return fmt.Errorf("remove work dir %s: %w", j.workDir, err)
	}
	j.staged = false
	return nil
}
