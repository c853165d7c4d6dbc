package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/censys/url-reputation/pkg/storage"
)

// Repository keeps records and history in process memory.
type Repository struct {
	mu      sync.RWMutex
	records map[string]storage.ScanRecord
	history map[string]storage.HistoryEntry
}

func NewRepository() *Repository {
	return &Repository{
		records: make(map[string]storage.ScanRecord),
		history: make(map[string]storage.HistoryEntry),
	}
}

func (r *Repository) Get(ctx context.Context, url string) (storage.ScanRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[url]
	return rec, ok, nil
}

func (r *Repository) UpsertLatest(ctx context.Context, record storage.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.URL] = record
	return nil
}

func (r *Repository) Delete(ctx context.Context, urls ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range urls {
		delete(r.records, u)
	}
	return nil
}

func (r *Repository) UpsertHistory(ctx context.Context, entry storage.HistoryEntry, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[entry.URL] = entry
	if limit <= 0 || len(r.history) <= limit {
		return nil
	}
	for _, old := range sorted(r.history)[limit:] {
		delete(r.history, old.URL)
	}
	return nil
}

func (r *Repository) ListHistory(ctx context.Context) ([]storage.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.history), nil
}

func (r *Repository) ClearHistory(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make([]string, 0, len(r.history))
	for _, e := range sorted(r.history) {
		urls = append(urls, e.URL)
	}
	r.history = make(map[string]storage.HistoryEntry)
	return urls, nil
}

func sorted(m map[string]storage.HistoryEntry) []storage.HistoryEntry {
	out := make([]storage.HistoryEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScanTime.Equal(out[j].ScanTime) {
			return out[i].URL < out[j].URL
		}
		return out[i].ScanTime.After(out[j].ScanTime)
	})
	return out
}
