package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/censys/url-reputation/pkg/storage"
)

// DefaultCap is the number of entries the ledger retains.
const DefaultCap = 100

// Filter selects which entries List returns.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterMalicious Filter = "malicious"
	FilterSafe      Filter = "safe"
)

// ParseFilter maps a query value onto a Filter. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterMalicious, FilterSafe:
		return f, nil
	default:
		return "", fmt.Errorf("unknown history filter %q", s)
	}
}

func (f Filter) match(e storage.HistoryEntry) bool {
	switch f {
	case FilterMalicious:
		return e.IsMalicious
	case FilterSafe:
		return !e.IsMalicious
	default:
		return true
	}
}

// Stats summarizes the retained history.
type Stats struct {
	Total     int `json:"total"`
	Malicious int `json:"malicious"`
	Safe      int `json:"safe"`
	Failed    int `json:"failed"`
}

// Ledger is a bounded, recency-ordered index of past scan outcomes.
type Ledger struct {
	repo storage.Repository
	cap  int
}

// NewLedger builds a ledger over repo. A non-positive limit falls back to
// DefaultCap.
func NewLedger(repo storage.Repository, limit int) *Ledger {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Ledger{repo: repo, cap: limit}
}

// Cap returns the maximum number of retained entries.
func (l *Ledger) Cap() int { return l.cap }

// Record inserts or replaces the entry for its URL and evicts the oldest
// entries beyond the cap.
func (l *Ledger) Record(ctx context.Context, entry storage.HistoryEntry) error {
	if err := l.repo.UpsertHistory(ctx, entry, l.cap); err != nil {
		return fmt.Errorf("record history %q: %w", entry.URL, err)
	}
	return nil
}

// List returns the matching entries, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]storage.HistoryEntry, error) {
	entries, err := l.repo.ListHistory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]storage.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear empties the ledger and deletes every scan record it referenced. The
// number of removed entries is returned.
func (l *Ledger) Clear(ctx context.Context) (int, error) {
	urls, err := l.repo.ClearHistory(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.repo.Delete(ctx, urls...); err != nil {
		return 0, fmt.Errorf("delete cleared records: %w", err)
	}
	return len(urls), nil
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.repo.ListHistory(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, e := range entries {
		s.Total++
		if e.IsMalicious {
			s.Malicious++
		} else {
			s.Safe++
		}
		if !e.ScanSucceeded {
			s.Failed++
		}
	}
	return s, nil
}
