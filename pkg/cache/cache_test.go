package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/url-reputation/pkg/history"
	"github.com/censys/url-reputation/pkg/storage"
	"github.com/censys/url-reputation/pkg/storage/memory"
)

func TestLookupFreshness(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewRepository()
	c := New(repo, nil, WithClock(func() time.Time { return now }))

	out, err := c.Lookup(ctx, "http://example.test/a")
	require.NoError(t, err)
	assert.Equal(t, Miss, out.Kind)

	require.NoError(t, c.Store(ctx, storage.ScanRecord{URL: "http://example.test/a", ScanTime: now.Add(-time.Hour), IsMalicious: true}))
	out, err = c.Lookup(ctx, "http://example.test/a")
	require.NoError(t, err)
	assert.Equal(t, Fresh, out.Kind)
	assert.True(t, out.Record.IsMalicious)

	require.NoError(t, c.Store(ctx, storage.ScanRecord{URL: "http://example.test/a", ScanTime: now.Add(-24 * time.Hour)}))
	out, err = c.Lookup(ctx, "http://example.test/a")
	require.NoError(t, err)
	assert.Equal(t, Stale, out.Kind)
}

func TestStoreFeedsLedger(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	ledger := history.NewLedger(repo, 10)
	c := New(repo, ledger)

	rec := storage.NewScanRecord("http://example.test/a", time.Now(), map[storage.Provider]storage.ProviderResult{
		storage.SignatureAggregator: {Provider: storage.SignatureAggregator, IsMalicious: true, Succeeded: true},
	})
	require.NoError(t, c.Store(ctx, rec))

	list, err := ledger.List(ctx, history.FilterMalicious)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].HasSignature)
	assert.False(t, list[0].HasClassifier)
}

func TestWithFreshForIgnoresNonPositive(t *testing.T) {
	c := New(memory.NewRepository(), nil, WithFreshFor(0))
	assert.Equal(t, DefaultFreshFor, c.freshFor)
}
