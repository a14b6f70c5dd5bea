// Package catalog implements the authenticated client for the book catalog
// API: paged search, table-of-contents retrieval, and raw asset fetches.
package catalog

import (
	"fmt"

	"bookhaul/internal/book"
)

// SearchHit is one book entry in a search result page.
type SearchHit struct {
	ArchiveID   string   `json:"archive_id"`
	Title       string   `json:"title"`
	Language    string   `json:"language"`
	Authors     []string `json:"authors"`
	Publishers  []string `json:"publishers"`
	Reviews     int      `json:"number_of_reviews"`
	Rating      int      `json:"average_rating"`
	Popularity  int      `json:"popularity"`
	ReportScore int      `json:"report_score"`
	Pages       int      `json:"virtual_pages"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	WebURL      string   `json:"web_url"`
}

// Record converts a search hit into a lifecycle store record tagged with the
// query that discovered it.
func (h SearchHit) Record(query string) book.Record {
	return book.Record{
		ID:          h.ArchiveID,
		Title:       h.Title,
		Language:    h.Language,
		Authors:     append([]string(nil), h.Authors...),
		Publishers:  append([]string(nil), h.Publishers...),
		Tags:        []string{query},
		Reviews:     h.Reviews,
		Rating:      h.Rating,
		Popularity:  h.Popularity,
		ReportScore: h.ReportScore,
		Pages:       h.Pages,
		Description: h.Description,
		URL:         h.URL,
		WebURL:      h.WebURL,
	}
}

// SearchPage is one page of search results plus the server-reported total.
type SearchPage struct {
	Total   int         `json:"total"`
	Results []SearchHit `json:"results"`
}

// Stylesheet references one stylesheet belonging to a page.
type Stylesheet struct {
	URL      string `json:"url"`
	FullPath string `json:"full_path"`
}

// PageDescriptor describes one table-of-contents entry: where its content
// lives, which stylesheets apply, and which images it embeds.
type PageDescriptor struct {
	FullPath    string       `json:"full_path"`
	Content     string       `json:"content"`
	Images      []string     `json:"images"`
	Stylesheets []Stylesheet `json:"stylesheets"`
}

// TOCItem is one entry in a book's table of contents.
type TOCItem struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Depth int    `json:"depth"`
}

// TOC is the structural description of a book, fetched once per crawl job.
type TOC struct {
	BookID       string    `json:"book_id"`
	Title        string    `json:"title"`
	TitleSafe    string    `json:"title_safe"`
	ThumbnailTag string    `json:"thumbnail_tag"`
	Items        []TOCItem `json:"items"`
}

// StatusError reports a non-2xx catalog response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d for %s", e.Code, e.URL)
}
