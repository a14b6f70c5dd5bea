package crawl

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/PuerkitoBio/goquery"
)

const defaultStyle = `p.pre {
  font-family: monospace;
  white-space: pre;
}`

const pageTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
    <head>
        <title></title>
        <style>
        {{.Style}}
        </style>
    </head>
    {{.Body}}
</html>`

var pageTmpl = template.Must(template.New("page").Parse(pageTemplate))

// ManifestEntry describes one rendered entry for the manifest and
// navigation documents. Order is 1-based spine order.
type ManifestEntry struct {
	ID    string
	Path  string
	Label string
	Order int
}

// ManifestData is the render context for content.opf and toc.ncx.
type ManifestData struct {
	BookID   string
	Title    string
	Language string
	Entries  []ManifestEntry
}

// ExtractBody locates the document body in fetched content and returns it
// as serialized markup. A missing body is a parse failure, which is fatal
// to the enclosing job.
func ExtractBody(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse content document: %w", err)
	}
	sel := doc.Find("body").First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("content document has no body element")
	}
	body, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", fmt.Errorf("serialize body element: %w", err)
	}
	return strings.TrimSpace(body), nil
}

// RenderPage wraps an extracted body in the minimal page document using the
// supplied stylesheet text.
func RenderPage(body, style string) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Style string
		Body  string
	}{Style: style, Body: body})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderManifests rewrites the skeleton's content.opf and toc.ncx in place,
// treating the staged copies as templates the same way entry pages are
// rendered.
func RenderManifests(job *Job, data ManifestData) error {
	for _, name := range []string{"content.opf", "toc.ncx"} {
		path := job.ContentPath(name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read manifest template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse manifest template %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("render manifest %s: %w", name, err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("write manifest %s: %w", name, err)
		}
	}
	return nil
}
