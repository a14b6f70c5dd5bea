package crawl

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedJob(t *testing.T) *Job {
	t.Helper()
	job := NewJob("100", "Some_Book", t.TempDir())
	require.NoError(t, job.Stage())
	t.Cleanup(func() { _ = job.Cleanup() })
	return job
}

func TestJobStageAndCleanup(t *testing.T) {
	base := t.TempDir()
	job := NewJob("100", "Some_Book", base)
	assert.False(t, job.Staged())

	require.NoError(t, job.Stage())
	assert.True(t, job.Staged())
	assert.FileExists(t, filepath.Join(job.WorkDir(), "mimetype"))
	assert.FileExists(t, filepath.Join(job.WorkDir(), "META-INF", "container.xml"))
	assert.FileExists(t, job.ContentPath("content.opf"))

	require.NoError(t, job.Cleanup())
	assert.NoDirExists(t, job.WorkDir())
	assert.False(t, job.Staged())

	// An unstaged job has nothing to remove.
	require.NoError(t, NewJob("101", "Other", base).Cleanup())
}

func TestJobWriteContentCreatesSubdirs(t *testing.T) {
	job := stagedJob(t)
	require.NoError(t, job.WriteContent("images/deep/fig.png", []byte("png")))
	data, err := os.ReadFile(job.ContentPath("images", "deep", "fig.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestJobStyleAggregation(t *testing.T) {
	job := NewJob("100", "Some_Book", t.TempDir())
	assert.Equal(t, defaultStyle, job.StyleOrDefault())

	job.AppendStyle([]byte("a { color: red; }"))
	job.AppendStyle([]byte("b { color: blue; }"))
	got := job.StyleOrDefault()
	assert.Contains(t, got, "a { color: red; }\n")
	assert.Contains(t, got, "b { color: blue; }\n")
}

func TestArchiveIsDeterministic(t *testing.T) {
	job := stagedJob(t)
	require.NoError(t, job.WriteContent("ch01.xhtml", []byte("<html/>")))
	require.NoError(t, job.WriteContent("images/fig.png", []byte("png")))

	first, err := Archive(job, filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	second, err := Archive(job, filepath.Join(t.TempDir(), "b"))
	require.NoError(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestArchiveLayout(t *testing.T) {
	job := stagedJob(t)
	require.NoError(t, job.WriteContent("zz-last.xhtml", []byte("<html/>")))

	out := t.TempDir()
	path, err := Archive(job, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "Some_Book-100.epub"), path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	require.NotEmpty(t, zr.File)
	assert.Equal(t, "mimetype", zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)
	for _, f := range zr.File[1:] {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
	}

	// Remaining entries are sorted.
	for i := 2; i < len(zr.File); i++ {
		assert.Less(t, zr.File[i-1].Name, zr.File[i].Name)
	}
}
