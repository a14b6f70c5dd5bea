package crawl

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBody(t *testing.T) {
	body, err := ExtractBody([]byte(`<html><head><title>x</title></head><body class="c"><p>hi</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, `<body class="c"><p>hi</p></body>`, body)
}

func TestRenderPage(t *testing.T) {
	page, err := RenderPage("<body><p>content</p></body>", "p { margin: 0; }")
	require.NoError(t, err)
	assert.Contains(t, string(page), "<body><p>content</p></body>")
	assert.Contains(t, string(page), "p { margin: 0; }")
	assert.Contains(t, string(page), `xmlns="http://www.w3.org/1999/xhtml"`)
}

func TestRenderManifests(t *testing.T) {
	job := stagedJob(t)
	data := ManifestData{
		BookID:   "42",
		Title:    "A Title",
		Language: "de",
		Entries: []ManifestEntry{
			{ID: "entry-0", Path: "ch01.xhtml", Label: "One", Order: 1},
			{ID: "entry-1", Path: "ch02.xhtml", Label: "Two", Order: 2},
		},
	}
	require.NoError(t, RenderManifests(job, data))

	opf, err := os.ReadFile(job.ContentPath("content.opf"))
	require.NoError(t, err)
	assert.Contains(t, string(opf), "<dc:title>A Title</dc:title>")
	assert.Contains(t, string(opf), "<dc:language>de</dc:language>")
	assert.Contains(t, string(opf), `<dc:identifier id="bookid">42</dc:identifier>`)
	assert.Contains(t, string(opf), `<item id="entry-1" href="ch02.xhtml"`)

	ncx, err := os.ReadFile(job.ContentPath("toc.ncx"))
	require.NoError(t, err)
	assert.Contains(t, string(ncx), `<meta name="dtb:uid" content="42"/>`)
	assert.Contains(t, string(ncx), "<navLabel><text>Two</text></navLabel>")
	assert.Contains(t, string(ncx), `playOrder="2"`)
}
