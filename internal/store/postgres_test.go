package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"bookhaul/internal/book"
)

func bookRows(t *testing.T, rec book.Record) *pgxmock.Rows {
	t.Helper()
	return pgxmock.NewRows([]string{
		"book_id", "status", "title", "description", "language", "authors",
		"publishers", "tags", "reviews", "rating", "popularity",
		"report_score", "pages", "url", "web_url", "created_time",
	}).AddRow(
		rec.ID, int16(rec.Status), rec.Title, rec.Description, rec.Language,
		[]byte(`["Jeffrey Friedl"]`), []byte(`["O'Reilly Media"]`),
		[]byte(`["regex"]`), rec.Reviews, rec.Rating, rec.Popularity,
		rec.ReportScore, rec.Pages, rec.URL, rec.WebURL, rec.CreatedAt,
	)
}

func TestClaimNextTransitionsAndReturnsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	want := book.Record{
		ID:        "9781449319939",
		Status:    book.StatusAcquiring,
		Title:     "Mastering Regular Expressions",
		Language:  "en",
		Pages:     544,
		URL:       "https://catalog.example.com/api/v1/book/9781449319939/",
		CreatedAt: now,
	}

	mock.ExpectQuery(`UPDATE books SET status = \$1`).
		WithArgs(int16(book.StatusAcquiring), int16(book.StatusNotAcquired)).
		WillReturnRows(bookRows(t, want))

	got, err := s.ClaimNext(context.Background(), book.StatusNotAcquired, book.StatusAcquiring)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, book.StatusAcquiring, got.Status)
	require.Equal(t, []string{"Jeffrey Friedl"}, got.Authors)
	require.Equal(t, []string{"regex"}, got.Tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsNilWhenNoEligibleRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE books SET status = \$1`).
		WithArgs(int16(book.StatusSending), int16(book.StatusAcquired)).
		WillReturnRows(pgxmock.NewRows([]string{"book_id"}))

	got, err := s.ClaimNext(context.Background(), book.StatusAcquired, book.StatusSending)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishUpdatesStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE books SET status = \$1 WHERE book_id = \$2`).
		WithArgs(int16(book.StatusAcquired), "9781449319939").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.Finish(context.Background(), "9781449319939", book.StatusAcquired))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishUnknownIdentifierIsNoOp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE books SET status = \$1 WHERE book_id = \$2`).
		WithArgs(int16(book.StatusSent), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.Finish(context.Background(), "missing", book.StatusSent))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiscoveredReportsNewIdentifiers(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	records := []book.Record{
		{ID: "111", Title: "New Book", Tags: []string{"go"}, CreatedAt: now},
		{ID: "222", Title: "Known Book", Tags: []string{"go"}, CreatedAt: now},
	}

	mock.ExpectQuery(`INSERT INTO books`).
		WithArgs("111", int16(book.StatusNotAcquired), "New Book", "", "",
			[]byte(`[]`), []byte(`[]`), []byte(`["go"]`),
			0, 0, 0, 0, 0, "", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO books`).
		WithArgs("222", int16(book.StatusNotAcquired), "Known Book", "", "",
			[]byte(`[]`), []byte(`[]`), []byte(`["go"]`),
			0, 0, 0, 0, 0, "", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	inserted, err := s.UpsertDiscovered(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, []string{"111"}, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiscoveredRequiresIdentifier(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "books")
	require.NoError(t, err)

	_, err = s.UpsertDiscovered(context.Background(), []book.Record{{Title: "nameless"}})
	require.Error(t, err)
}

func TestNewPostgresStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStoreWithPool(mock, "books; DROP TABLE books")
	require.Error(t, err)
}
