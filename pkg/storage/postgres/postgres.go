package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/censys/url-reputation/pkg/storage"
)

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool. Call EnsureSchema before using it.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the scan and history tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
CREATE TABLE IF NOT EXISTS url_scans (
  url TEXT PRIMARY KEY,
  scan_time TIMESTAMPTZ NOT NULL,
  is_malicious BOOLEAN NOT NULL,
  scan_succeeded BOOLEAN NOT NULL,
  results JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS url_history (
  url TEXT PRIMARY KEY,
  scan_time TIMESTAMPTZ NOT NULL,
  is_malicious BOOLEAN NOT NULL,
  scan_succeeded BOOLEAN NOT NULL,
  has_signature BOOLEAN NOT NULL,
  has_classifier BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS url_history_scan_time_idx ON url_history (scan_time DESC);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ERROR creating url tables: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, url string) (storage.ScanRecord, bool, error) {
	const query = `SELECT url, scan_time, is_malicious, scan_succeeded, results FROM url_scans WHERE url = $1`
	var (
		rec     storage.ScanRecord
		results []byte
	)
	err := r.pool.QueryRow(ctx, query, url).Scan(&rec.URL, &rec.ScanTime, &rec.IsMalicious, &rec.ScanSucceeded, &results)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ScanRecord{}, false, nil
	}
	if err != nil {
		return storage.ScanRecord{}, false, fmt.Errorf("get scan: %w", err)
	}
	if err := json.Unmarshal(results, &rec.Results); err != nil {
		return storage.ScanRecord{}, false, fmt.Errorf("decode results: %w", err)
	}
	rec.ScanTime = rec.ScanTime.UTC()
	return rec, true, nil
}

// UpsertLatest replaces the stored record for the URL. A second write for the
// same URL wins regardless of scan time.
func (r *Repository) UpsertLatest(ctx context.Context, record storage.ScanRecord) error {
	const query = `
INSERT INTO url_scans (url, scan_time, is_malicious, scan_succeeded, results)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url)
DO UPDATE SET
  scan_time = EXCLUDED.scan_time,
  is_malicious = EXCLUDED.is_malicious,
  scan_succeeded = EXCLUDED.scan_succeeded,
  results = EXCLUDED.results;
`
	results, err := json.Marshal(record.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = r.pool.Exec(ctx, query,
		record.URL,
		record.ScanTime.UTC(),
		record.IsMalicious,
		record.ScanSucceeded,
		results,
	)
	if err != nil {
		return fmt.Errorf("upsert scan: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM url_scans WHERE url = ANY($1)`, urls); err != nil {
		return fmt.Errorf("delete scans: %w", err)
	}
	return nil
}

func (r *Repository) UpsertHistory(ctx context.Context, entry storage.HistoryEntry, limit int) error {
	const upsert = `
INSERT INTO url_history (url, scan_time, is_malicious, scan_succeeded, has_signature, has_classifier)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url)
DO UPDATE SET
  scan_time = EXCLUDED.scan_time,
  is_malicious = EXCLUDED.is_malicious,
  scan_succeeded = EXCLUDED.scan_succeeded,
  has_signature = EXCLUDED.has_signature,
  has_classifier = EXCLUDED.has_classifier;
`
	const trim = `
DELETE FROM url_history WHERE url NOT IN (
  SELECT url FROM url_history ORDER BY scan_time DESC, url ASC LIMIT $1
);`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsert,
			entry.URL,
			entry.ScanTime.UTC(),
			entry.IsMalicious,
			entry.ScanSucceeded,
			entry.HasSignature,
			entry.HasClassifier,
		); err != nil {
			return fmt.Errorf("upsert history: %w", err)
		}
		if limit <= 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, trim, limit); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListHistory(ctx context.Context) ([]storage.HistoryEntry, error) {
	const query = `
SELECT url, scan_time, is_malicious, scan_succeeded, has_signature, has_classifier
FROM url_history ORDER BY scan_time DESC, url ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.HistoryEntry, error) {
		var e storage.HistoryEntry
		err := row.Scan(&e.URL, &e.ScanTime, &e.IsMalicious, &e.ScanSucceeded, &e.HasSignature, &e.HasClassifier)
		e.ScanTime = e.ScanTime.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

func (r *Repository) ClearHistory(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM url_history RETURNING url`)
	if err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	return urls, nil
}

// Close helps when wiring Repository to a lifecycle manager.
func (r *Repository) Close() {
	r.pool.Close()
}

// NewDB opens a pgx pool with tuned defaults.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	// Writes happen once per resolved scan; reads once per navigation.
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
