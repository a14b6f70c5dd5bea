// Package walker enumerates catalog search results page by page, writing
// discoveries into the lifecycle store and persisting a resume cursor so an
// interrupted walk restarts at the first unprocessed page.
package walker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cursor records the last fully committed page of one query's walk. It is
// written only after that page's discoveries are durably in the store.
type Cursor struct {
	Query   string `json:"query"`
	Page    int    `json:"page"`
	Scraped int    `json:"scraped"`
}

// CursorStore persists cursors as one JSON file per query under a state
// directory. Writes go through a temp file and rename so a crash never
// leaves a torn cursor.
type CursorStore struct {
	dir string
}

// NewCursorStore creates the state directory if needed.
func NewCursorStore(dir string) (*CursorStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cursor dir %s: %w", dir, err)
	}
	return &CursorStore{dir: dir}, nil
}

// Load returns the cursor for the query, reporting whether one exists.
func (s *CursorStore) Load(query string) (Cursor, bool, error) {
	data, err := os.ReadFile(s.path(query))
	if os.IsNotExist(err) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("read cursor for %q: %w", query, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor for %q: %w", query, err)
	}
	return c, true, nil
}

// Save durably replaces the cursor for the query.
func (s *CursorStore) Save(c Cursor) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor for %q: %w", c.Query, err)
	}
	target := s.path(c.Query)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write cursor temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}

// Clear removes the cursor for the query; missing cursors are a no-op.
func (s *CursorStore) Clear(query string) error {
	err := os.Remove(s.path(query))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cursor for %q: %w", query, err)
	}
	return nil
}

func (s *CursorStore) path(query string) string {
	sum := sha256.Sum256([]byte(query))
	return filepath.Join(s.dir, "cursor-"+hex.EncodeToString(sum[:8])+".json")
}
