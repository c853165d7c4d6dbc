package virustotal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

type fakeService struct {
	submits   atomic.Int32
	polls     atomic.Int32
	readyAt   int32
	stats     storage.Stats
	submitErr int
	gotKey    atomic.Value
	gotURL    atomic.Value
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /urls", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		f.gotKey.Store(r.Header.Get("x-apikey"))
		_ = r.ParseForm()
		f.gotURL.Store(r.PostForm.Get("url"))
		if f.submitErr != 0 {
			w.WriteHeader(f.submitErr)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"type":"analysis","id":"u-123"}}`))
	})
	mux.HandleFunc("GET /analyses/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		if r.PathValue("id") != "u-123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if f.readyAt == 0 || n < f.readyAt {
			_, _ = w.Write([]byte(`{"data":{"attributes":{"status":"queued"}}}`))
			return
		}
		stats, _ := json.Marshal(f.stats)
		_, _ = w.Write([]byte(`{"data":{"attributes":{"status":"completed","stats":` + string(stats) + `}}}`))
	})
	return mux
}

func fastPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: time.Millisecond,
		Multiplier:      1.7,
		MaxAttempts:     5,
		MaxWait:         time.Second,
	}
}

func newTestClient(t *testing.T, svc *fakeService, key string) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL,
		APIKey:  func() string { return key },
		Poll:    fastPolicy(),
	}, logr.Discard())
}

func TestQueryMaliciousAfterTwoPolls(t *testing.T) {
	svc := &fakeService{readyAt: 2, stats: storage.Stats{Malicious: 3, Suspicious: 1, Harmless: 10}}
	c := newTestClient(t, svc, "secret")

	res := c.Query(context.Background(), "http://example.test/a")

	require.True(t, res.Succeeded, res.ErrorReason)
	assert.True(t, res.IsMalicious)
	assert.Equal(t, 3, res.Stats.Malicious)
	assert.Equal(t, "u-123", res.AnalysisID)
	assert.NotEmpty(t, res.Raw)
	assert.EqualValues(t, 2, svc.polls.Load())
	assert.Equal(t, "secret", svc.gotKey.Load())
	assert.Equal(t, "http://example.test/a", svc.gotURL.Load())
}

func TestQuerySuspiciousOnlyIsMalicious(t *testing.T) {
	svc := &fakeService{readyAt: 1, stats: storage.Stats{Suspicious: 1, Harmless: 70}}
	c := newTestClient(t, svc, "secret")

	res := c.Query(context.Background(), "http://example.test/b")
	require.True(t, res.Succeeded)
	assert.True(t, res.IsMalicious)
}

func TestQueryCleanTally(t *testing.T) {
	svc := &fakeService{readyAt: 1, stats: storage.Stats{Harmless: 70, Undetected: 20}}
	c := newTestClient(t, svc, "secret")

	res := c.Query(context.Background(), "http://example.test/c")
	require.True(t, res.Succeeded)
	assert.False(t, res.IsMalicious)
}

func TestQueryNotReadyStopsAtMaxAttempts(t *testing.T) {
	svc := &fakeService{}
	c := newTestClient(t, svc, "secret")

	res := c.Query(context.Background(), "http://example.test/slow")

	assert.False(t, res.Succeeded)
	assert.False(t, res.IsMalicious)
	assert.Equal(t, provider.ErrNotReadyInTime.Error(), res.ErrorReason)
	assert.Equal(t, storage.Stats{}, *res.Stats)
	assert.EqualValues(t, 5, svc.polls.Load())
}

func TestQueryPollBudgetBoundsWait(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL: srv.URL,
		APIKey:  func() string { return "secret" },
		Poll: PollPolicy{
			InitialInterval: 20 * time.Millisecond,
			Multiplier:      1.7,
			MaxAttempts:     5,
			MaxWait:         70 * time.Millisecond,
		},
	}, logr.Discard())

	start := time.Now()
	res := c.Query(context.Background(), "http://example.test/slow")

	assert.Equal(t, provider.ErrNotReadyInTime.Error(), res.ErrorReason)
	// Waits of 20ms and 34ms fit the budget; the next 57.8ms would not.
	assert.EqualValues(t, 3, svc.polls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueryWithoutKeyMakesNoCalls(t *testing.T) {
	svc := &fakeService{readyAt: 1}
	c := newTestClient(t, svc, "")

	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.Equal(t, provider.ErrCredentialMissing.Error(), res.ErrorReason)
	assert.Zero(t, svc.submits.Load())
	assert.Zero(t, svc.polls.Load())
}

func TestQuerySubmitRejected(t *testing.T) {
	svc := &fakeService{submitErr: http.StatusTooManyRequests}
	c := newTestClient(t, svc, "secret")

	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorReason, "status 429")
	assert.Zero(t, svc.polls.Load())
}

func TestQueryMalformedAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"data":{"id":"u-1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":`))
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: func() string { return "k" }, Poll: fastPolicy()}, logr.Discard())

	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorReason, provider.ErrMalformedResponse.Error())
	assert.Equal(t, "u-1", res.AnalysisID)
}

func TestCheckHealthAndValidateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apikey") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	t.Cleanup(srv.Close)

	good := New(Config{BaseURL: srv.URL, APIKey: func() string { return "good" }}, logr.Discard())
	bad := New(Config{BaseURL: srv.URL, APIKey: func() string { return "bad" }}, logr.Discard())
	none := New(Config{BaseURL: srv.URL}, logr.Discard())

	h := good.CheckHealth(context.Background())
	assert.True(t, h.Running)
	assert.Equal(t, "running", h.Status)

	h = bad.CheckHealth(context.Background())
	assert.True(t, h.Running)
	assert.Equal(t, "key_invalid", h.Status)

	h = none.CheckHealth(context.Background())
	assert.False(t, h.Running)

	ok, err := good.ValidateKey(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bad.ValidateKey(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
