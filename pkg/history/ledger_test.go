package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/url-reputation/pkg/storage"
	"github.com/censys/url-reputation/pkg/storage/memory"
)

func TestLedgerCapKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.NewRepository(), DefaultCap)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 150; i++ {
		entry := storage.HistoryEntry{
			URL:      fmt.Sprintf("http://site-%03d.test/", i),
			ScanTime: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, ledger.Record(ctx, entry))
	}

	list, err := ledger.List(ctx, FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 100)
	assert.Equal(t, "http://site-149.test/", list[0].URL)
	assert.Equal(t, "http://site-050.test/", list[99].URL)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].ScanTime.After(list[i].ScanTime))
	}
}

func TestLedgerRecordReplacesEntry(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.NewRepository(), 10)
	now := time.Now().UTC()

	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://a.test/", ScanTime: now}))
	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://b.test/", ScanTime: now.Add(time.Second)}))
	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://a.test/", ScanTime: now.Add(2 * time.Second), IsMalicious: true}))

	list, err := ledger.List(ctx, FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "http://a.test/", list[0].URL)
	assert.True(t, list[0].IsMalicious)
}

func TestLedgerFilters(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.NewRepository(), 10)
	now := time.Now().UTC()

	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://bad.test/", ScanTime: now, IsMalicious: true, ScanSucceeded: true}))
	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://good.test/", ScanTime: now, ScanSucceeded: true}))
	require.NoError(t, ledger.Record(ctx, storage.HistoryEntry{URL: "http://down.test/", ScanTime: now}))

	mal, err := ledger.List(ctx, FilterMalicious)
	require.NoError(t, err)
	require.Len(t, mal, 1)
	assert.Equal(t, "http://bad.test/", mal[0].URL)

	safe, err := ledger.List(ctx, FilterSafe)
	require.NoError(t, err)
	assert.Len(t, safe, 2)

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Malicious: 1, Safe: 2, Failed: 1}, stats)
}

func TestLedgerClearDeletesRecords(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	ledger := NewLedger(repo, 10)
	rec := storage.NewScanRecord("http://a.test/", time.Now(), nil)

	require.NoError(t, repo.UpsertLatest(ctx, rec))
	require.NoError(t, ledger.Record(ctx, storage.EntryFromRecord(rec)))

	n, err := ledger.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := repo.Get(ctx, rec.URL)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := ledger.List(ctx, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	f, err = ParseFilter("Malicious")
	require.NoError(t, err)
	assert.Equal(t, FilterMalicious, f)

	_, err = ParseFilter("bogus")
	assert.Error(t, err)
}
