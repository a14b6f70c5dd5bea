package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookhaul/internal/book"
)

func seedBooks(t *testing.T, s *MemoryStore, n int) {
	t.Helper()
	base := time.Unix(1700000000, 0).UTC()
	records := make([]book.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, book.Record{
			ID:        string(rune('a' + i)),
			Title:     "Book",
			Tags:      []string{"seed"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	_, err := s.UpsertDiscovered(context.Background(), records)
	require.NoError(t, err)
}

func TestMemoryClaimsAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	seedBooks(t, s, 8)

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.ClaimNext(context.Background(), book.StatusNotAcquired, book.StatusAcquiring)
			require.NoError(t, err)
			if rec == nil {
				return
			}
			mu.Lock()
			claimed[rec.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 8)
	for id, n := range claimed {
		require.Equal(t, 1, n, "book %s claimed more than once", id)
	}
}

func TestMemoryClaimNextPrefersOldest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	seedBooks(t, s, 3)

	rec, err := s.ClaimNext(context.Background(), book.StatusNotAcquired, book.StatusAcquiring)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "a", rec.ID)
	require.Equal(t, book.StatusAcquiring, rec.Status)
}

func TestMemoryClaimNextEmptyReturnsNil(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	rec, err := s.ClaimNext(context.Background(), book.StatusNotAcquired, book.StatusAcquiring)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestMemoryUpsertDiscoveredIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	rec := book.Record{ID: "42", Title: "Data Mining", Tags: []string{"mining data"}}

	inserted, err := s.UpsertDiscovered(context.Background(), []book.Record{rec})
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, inserted)

	rec.Tags = []string{"statistics"}
	inserted, err = s.UpsertDiscovered(context.Background(), []book.Record{rec})
	require.NoError(t, err)
	require.Empty(t, inserted)

	got := s.Get("42")
	require.NotNil(t, got)
	require.Equal(t, []string{"mining data", "statistics"}, got.Tags)
	require.Len(t, s.All(), 1)
}

func TestMemoryUpsertDoesNotTouchStatus(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_, err := s.UpsertDiscovered(context.Background(), []book.Record{{ID: "42", Tags: []string{"go"}}})
	require.NoError(t, err)

	require.NoError(t, s.Finish(context.Background(), "42", book.StatusAcquired))

	_, err = s.UpsertDiscovered(context.Background(), []book.Record{{ID: "42", Tags: []string{"databases"}}})
	require.NoError(t, err)

	got := s.Get("42")
	require.Equal(t, book.StatusAcquired, got.Status)
}

func TestMemoryFinishUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	require.NoError(t, s.Finish(context.Background(), "ghost", book.StatusSent))
	require.Nil(t, s.Get("ghost"))
}
