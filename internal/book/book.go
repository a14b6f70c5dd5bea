// Package book defines the persisted book record and its lifecycle states.
package book

import (
	"regexp"
	"strings"
	"time"
)

// Status is the pipeline stage that currently owns a book record.
type Status int16

// Lifecycle states. A book moves NotAcquired -> Acquiring -> Acquired ->
// Sending -> Sent; a failed stage returns the record to its pre-claim state.
const (
	StatusNotAcquired Status = 0
	StatusAcquiring   Status = 1
	StatusAcquired    Status = 2
	StatusSending     Status = 3
	StatusSent        Status = 4
)

// String returns the lowercase state name for logs.
func (s Status) String() string {
	switch s {
	case StatusNotAcquired:
		return "not_acquired"
	case StatusAcquiring:
		return "acquiring"
	case StatusAcquired:
		return "acquired"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Record is one book row in the lifecycle store. The identifier is assigned
// by the catalog and never changes; Tags grows by union on rediscovery.
type Record struct {
	ID          string
	Status      Status
	Title       string
	Description string
	Language    string
	Authors     []string
	Publishers  []string
	Tags        []string
	Reviews     int
	Rating      int
	Popularity  int
	ReportScore int
	Pages       int
	URL         string
	WebURL      string
	CreatedAt   time.Time
}

var unsafeRuns = regexp.MustCompile(`["%*/:<>?\\|~\s]+`)

// SafeTitle derives a deterministic, filesystem-portable filename component
// from a book title. Runs of forbidden characters and whitespace collapse to
// a single underscore; anything outside printable low ASCII is dropped.
func SafeTitle(title string) string {
	replaced := unsafeRuns.ReplaceAllString(title, "_")
	var b strings.Builder
	b.Grow(len(replaced))
	for _, r := range replaced {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MergeTags returns the union of two tag sets, preserving the order of the
// existing set and appending unseen tags in their incoming order.
func MergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range incoming {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
