package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/config"
	"github.com/censys/url-reputation/pkg/scan"
	"github.com/censys/url-reputation/pkg/storage"
)

func fakeServices(t *testing.T) (vt, cls *httptest.Server) {
	t.Helper()
	vtMux := http.NewServeMux()
	vtMux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apikey") != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	vt = httptest.NewServer(vtMux)
	t.Cleanup(vt.Close)

	clsMux := http.NewServeMux()
	clsMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	})
	cls = httptest.NewServer(clsMux)
	t.Cleanup(cls.Close)
	return vt, cls
}

func testConfig(vtURL, clsURL, key string) config.Config {
	return config.Config{
		Store:             config.StoreMemory,
		VTAPIKey:          key,
		VTBaseURL:         vtURL,
		ClassifierURL:     clsURL,
		ClassifierTimeout: time.Second,
		ClassifierScale:   100,
		FreshFor:          24 * time.Hour,
		HistoryCap:        100,
		TrustedDomains:    []string{"corp.example"},
	}
}

func TestNewValidatesCredential(t *testing.T) {
	vt, cls := fakeServices(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(vt.URL, cls.URL, "good-key"), alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Ready.Ready())

	b, err := New(ctx, testConfig(vt.URL, cls.URL, "bad-key"), alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	defer b.Close()
	assert.False(t, b.Ready.Ready())

	res, err := b.Orchestrator.Navigate(ctx, scan.Navigation{URL: "http://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, scan.Gated, res.Phase)
}

func TestSetAPIKeyRotatesCredential(t *testing.T) {
	vt, cls := fakeServices(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(vt.URL, cls.URL, "bad-key"), alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	defer a.Close()
	require.False(t, a.Ready.Ready())

	assert.True(t, a.SetAPIKey(ctx, "good-key"))
	assert.True(t, a.Ready.Ready())
	assert.Equal(t, "running", a.Health(ctx).Providers[0].Status)

	assert.False(t, a.SetAPIKey(ctx, ""))
	assert.False(t, a.Ready.Ready())
}

func TestNewAppliesTrustedDomains(t *testing.T) {
	vt, cls := fakeServices(t)
	a, err := New(context.Background(), testConfig(vt.URL, cls.URL, "good-key"), alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Orchestrator.Navigate(context.Background(), scan.Navigation{URL: "https://wiki.corp.example/page"})
	require.NoError(t, err)
	assert.Equal(t, scan.Excluded, res.Phase)
}

func TestHealth(t *testing.T) {
	vt, cls := fakeServices(t)
	a, err := New(context.Background(), testConfig(vt.URL, cls.URL, "bad-key"), alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	defer a.Close()

	report := a.Health(context.Background())
	assert.False(t, report.Ready)
	require.Len(t, report.Providers, 2)
	assert.Equal(t, storage.SignatureAggregator, report.Providers[0].Provider)
	assert.Equal(t, "key_invalid", report.Providers[0].Status)
	assert.Equal(t, storage.LocalClassifier, report.Providers[1].Provider)
	assert.True(t, report.Providers[1].Running)
}

func TestNewSQLiteStore(t *testing.T) {
	vt, cls := fakeServices(t)
	cfg := testConfig(vt.URL, cls.URL, "good-key")
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "scans.db")

	a, err := New(context.Background(), cfg, alert.NewLogSurface(logr.Discard()), logr.Discard())
	require.NoError(t, err)
	a.Close()
	a.Close()
}
