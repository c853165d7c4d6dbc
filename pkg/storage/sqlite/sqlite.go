package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/censys/url-reputation/pkg/storage"
)

// Repository stores scan records and history in a local SQLite file.
type Repository struct {
	db *sql.DB
}

func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS url_scans (
			url TEXT PRIMARY KEY,
			scan_time_unix_ns INTEGER NOT NULL,
			is_malicious INTEGER NOT NULL,
			scan_succeeded INTEGER NOT NULL,
			results_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS url_history (
			url TEXT PRIMARY KEY,
			scan_time_unix_ns INTEGER NOT NULL,
			is_malicious INTEGER NOT NULL,
			scan_succeeded INTEGER NOT NULL,
			has_signature INTEGER NOT NULL,
			has_classifier INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_scan_time ON url_history(scan_time_unix_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, url string) (storage.ScanRecord, bool, error) {
	var (
		rec       storage.ScanRecord
		ts        int64
		mal, succ int
		results   string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT url, scan_time_unix_ns, is_malicious, scan_succeeded, results_json FROM url_scans WHERE url = ?`,
		url).Scan(&rec.URL, &ts, &mal, &succ, &results)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ScanRecord{}, false, nil
	}
	if err != nil {
		return storage.ScanRecord{}, false, fmt.Errorf("get scan: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return storage.ScanRecord{}, false, fmt.Errorf("decode results: %w", err)
	}
	rec.ScanTime = time.Unix(0, ts).UTC()
	rec.IsMalicious = mal != 0
	rec.ScanSucceeded = succ != 0
	return rec, true, nil
}

func (r *Repository) UpsertLatest(ctx context.Context, record storage.ScanRecord) error {
	results, err := json.Marshal(record.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO url_scans (url, scan_time_unix_ns, is_malicious, scan_succeeded, results_json)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
  scan_time_unix_ns = excluded.scan_time_unix_ns,
  is_malicious = excluded.is_malicious,
  scan_succeeded = excluded.scan_succeeded,
  results_json = excluded.results_json`,
		record.URL, record.ScanTime.UnixNano(), boolToInt(record.IsMalicious), boolToInt(record.ScanSucceeded), string(results))
	if err != nil {
		return fmt.Errorf("upsert scan: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	if _, err := r.db.ExecContext(ctx, `DELETE FROM url_scans WHERE url IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete scans: %w", err)
	}
	return nil
}

func (r *Repository) UpsertHistory(ctx context.Context, entry storage.HistoryEntry, limit int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO url_history (url, scan_time_unix_ns, is_malicious, scan_succeeded, has_signature, has_classifier)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
  scan_time_unix_ns = excluded.scan_time_unix_ns,
  is_malicious = excluded.is_malicious,
  scan_succeeded = excluded.scan_succeeded,
  has_signature = excluded.has_signature,
  has_classifier = excluded.has_classifier`,
		entry.URL, entry.ScanTime.UnixNano(), boolToInt(entry.IsMalicious), boolToInt(entry.ScanSucceeded),
		boolToInt(entry.HasSignature), boolToInt(entry.HasClassifier))
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	if limit > 0 {
		_, err = tx.ExecContext(ctx, `
DELETE FROM url_history WHERE url NOT IN (
  SELECT url FROM url_history ORDER BY scan_time_unix_ns DESC, url ASC LIMIT ?
)`, limit)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) ListHistory(ctx context.Context) ([]storage.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT url, scan_time_unix_ns, is_malicious, scan_succeeded, has_signature, has_classifier
FROM url_history ORDER BY scan_time_unix_ns DESC, url ASC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []storage.HistoryEntry
	for rows.Next() {
		var (
			e                  storage.HistoryEntry
			ts                 int64
			mal, succ, sig, cl int
		)
		if err := rows.Scan(&e.URL, &ts, &mal, &succ, &sig, &cl); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.ScanTime = time.Unix(0, ts).UTC()
		e.IsMalicious = mal != 0
		e.ScanSucceeded = succ != 0
		e.HasSignature = sig != 0
		e.HasClassifier = cl != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ClearHistory(ctx context.Context) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT url FROM url_history ORDER BY scan_time_unix_ns DESC, url ASC`)
	if err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, fmt.Errorf("clear history: %w", err)
		}
		urls = append(urls, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM url_history`); err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("clear history: %w", err)
	}
	return urls, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
