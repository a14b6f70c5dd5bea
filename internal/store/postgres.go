package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookhaul/internal/book"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for book rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStore implements Provider on top of a pgx connection pool.
//
// It assumes a table schema like:
//
//	CREATE TABLE books (
//	    book_id      VARCHAR(32) PRIMARY KEY,
//	    status       SMALLINT NOT NULL DEFAULT 0,
//	    title        TEXT NOT NULL DEFAULT '',
//	    description  TEXT NOT NULL DEFAULT '',
//	    language     VARCHAR(255) NOT NULL DEFAULT '',
//	    authors      JSONB NOT NULL DEFAULT '[]',
//	    publishers   JSONB NOT NULL DEFAULT '[]',
//	    tags         JSONB NOT NULL DEFAULT '[]',
//	    reviews      INTEGER NOT NULL DEFAULT 0,
//	    rating       INTEGER NOT NULL DEFAULT 0,
//	    popularity   INTEGER NOT NULL DEFAULT 0,
//	    report_score INTEGER NOT NULL DEFAULT 0,
//	    pages        INTEGER NOT NULL DEFAULT 0,
//	    url          VARCHAR(4096) NOT NULL DEFAULT '',
//	    web_url      VARCHAR(4096) NOT NULL DEFAULT '',
//	    created_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore creates a Postgres-backed Provider using the provided config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "books"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "books"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const bookColumns = `book_id, status, title, description, language, authors, publishers, tags,
reviews, rating, popularity, report_score, pages, url, web_url, created_time`

// ClaimNext transitions the oldest record with status current to next and
// returns it. The single UPDATE with a FOR UPDATE SKIP LOCKED subselect makes
// concurrent claims mutually exclusive without an explicit transaction.
func (s *PostgresStore) ClaimNext(ctx context.Context, current, next book.Status) (*book.Record, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status = $1
WHERE book_id = (
	SELECT book_id FROM %[1]s
	WHERE status = $2
	ORDER BY created_time, book_id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+bookColumns, s.table)

	row := s.pool.QueryRow(ctx, query, int16(next), int16(current))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next book: %w", err)
	}
	return rec, nil
}

// Finish sets the record's status; unknown identifiers are a no-op.
func (s *PostgresStore) Finish(ctx context.Context, id string, status book.Status) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE book_id = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, int16(status), id); err != nil {
		return fmt.Errorf("finish book %s: %w", id, err)
	}
	return nil
}

// UpsertDiscovered inserts or tag-merges each record and reports which
// identifiers are new. The jsonb aggregation keeps the tag set a union, so
// replaying a page after a crash never loses or duplicates tags.
func (s *PostgresStore) UpsertDiscovered(ctx context.Context, records []book.Record) ([]string, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	book_id, status, title, description, language, authors, publishers, tags,
	reviews, rating, popularity, report_score, pages, url, web_url, created_time
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (book_id) DO UPDATE SET tags = (
	SELECT COALESCE(jsonb_agg(DISTINCT value), '[]'::jsonb)
	FROM jsonb_array_elements(%[1]s.tags || EXCLUDED.tags)
)
RETURNING (xmax = 0) AS inserted`, s.table)

	var inserted []string
	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("record id is required")
		}
		authors, err := marshalList(rec.Authors)
		if err != nil {
			return nil, fmt.Errorf("marshal authors for %s: %w", rec.ID, err)
		}
		publishers, err := marshalList(rec.Publishers)
		if err != nil {
			return nil, fmt.Errorf("marshal publishers for %s: %w", rec.ID, err)
		}
		tags, err := marshalList(rec.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags for %s: %w", rec.ID, err)
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var isNew bool
		err = s.pool.QueryRow(ctx, query,
			rec.ID,
			int16(book.StatusNotAcquired),
			rec.Title,
			rec.Description,
			rec.Language,
			authors,
			publishers,
			tags,
			rec.Reviews,
			rec.Rating,
			rec.Popularity,
			rec.ReportScore,
			rec.Pages,
			rec.URL,
			rec.WebURL,
			createdAt,
		).Scan(&isNew)
		if err != nil {
			return nil, fmt.Errorf("upsert book %s: %w", rec.ID, err)
		}
		if isNew {
			inserted = append(inserted, rec.ID)
		}
	}
	return inserted, nil
}

func scanRecord(row pgx.Row) (*book.Record, error) {
	var (
		rec        book.Record
		status     int16
		authors    []byte
		publishers []byte
		tags       []byte
	)
	err := row.Scan(
		&rec.ID,
		&status,
		&rec.Title,
		&rec.Description,
		&rec.Language,
		&authors,
		&publishers,
		&tags,
		&rec.Reviews,
		&rec.Rating,
		&rec.Popularity,
		&rec.ReportScore,
		&rec.Pages,
		&rec.URL,
		&rec.WebURL,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = book.Status(status)
	if err := unmarshalList(authors, &rec.Authors); err != nil {
		return nil, fmt.Errorf("decode authors: %w", err)
	}
	if err := unmarshalList(publishers, &rec.Publishers); err != nil {
		return nil, fmt.Errorf("decode publishers: %w", err)
	}
	if err := unmarshalList(tags, &rec.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &rec, nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func unmarshalList(data []byte, dest *[]string) error {
	if len(data) == 0 {
		*dest = nil
		return nil
	}
	return json.Unmarshal(data, dest)
}
