package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/censys/url-reputation/pkg/storage"
)

// DefaultFreshFor is how long a stored verdict is reused without re-querying
// providers.
const DefaultFreshFor = 24 * time.Hour

// Kind classifies a lookup.
type Kind int

const (
	Miss Kind = iota
	Fresh
	Stale
)

func (k Kind) String() string {
	switch k {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Outcome is the result of a lookup. Record is zero on a miss.
type Outcome struct {
	Kind   Kind
	Record storage.ScanRecord
}

// Recorder receives the history projection of every stored record.
type Recorder interface {
	Record(ctx context.Context, entry storage.HistoryEntry) error
}

// Cache is a freshness-gated view over stored scan records.
type Cache struct {
	repo     storage.Repository
	ledger   Recorder
	freshFor time.Duration
	now      func() time.Time
}

type Option func(*Cache)

// WithFreshFor overrides DefaultFreshFor.
func WithFreshFor(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshFor = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(repo storage.Repository, ledger Recorder, opts ...Option) *Cache {
	c := &Cache{
		repo:     repo,
		ledger:   ledger,
		freshFor: DefaultFreshFor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup reports whether a record exists for url and whether it is still
// within the freshness window. It never writes.
func (c *Cache) Lookup(ctx context.Context, url string) (Outcome, error) {
	rec, ok, err := c.repo.Get(ctx, url)
	if err != nil {
		return Outcome{}, fmt.Errorf("cache lookup %q: %w", url, err)
	}
	if !ok {
		return Outcome{Kind: Miss}, nil
	}
	if c.now().Sub(rec.ScanTime) < c.freshFor {
		return Outcome{Kind: Fresh, Record: rec}, nil
	}
	return Outcome{Kind: Stale, Record: rec}, nil
}

// Get returns the stored record regardless of freshness.
func (c *Cache) Get(ctx context.Context, url string) (storage.ScanRecord, bool, error) {
	return c.repo.Get(ctx, url)
}

// Store replaces the record for its URL and feeds the ledger.
func (c *Cache) Store(ctx context.Context, record storage.ScanRecord) error {
	if err := c.repo.UpsertLatest(ctx, record); err != nil {
		return fmt.Errorf("cache store %q: %w", record.URL, err)
	}
	if c.ledger == nil {
		return nil
	}
	return c.ledger.Record(ctx, storage.EntryFromRecord(record))
}
