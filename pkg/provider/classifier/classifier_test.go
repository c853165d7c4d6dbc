package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

func serve(t *testing.T, status int, body string, opts ...Option) (*Client, *string) {
	t.Helper()
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotURL = req.URL
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, time.Second, logr.Discard(), opts...), &gotURL
}

func TestQueryNormalizesResponses(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantMalicious bool
		wantLabel     string
		wantConf      float64
	}{
		{
			name:      "label safe",
			body:      `{"prediction":"safe","confidence":20}`,
			wantLabel: "safe",
			wantConf:  0.2,
		},
		{
			name:      "legitimate with sub-one percentage",
			body:      `{"url":"http://x.test/","prediction":0,"status":"legitimate","confidence":0.8}`,
			wantLabel: "legitimate",
			wantConf:  0.008,
		},
		{
			name:          "numeric class with percentage",
			body:          `{"url":"http://x.test/","prediction":1,"status":"phishing","confidence":87.5}`,
			wantMalicious: true,
			wantLabel:     "phishing",
			wantConf:      0.875,
		},
		{
			name:          "legitimate label but confidence over threshold",
			body:          `{"prediction":0,"status":"legitimate","confidence":72}`,
			wantMalicious: true,
			wantLabel:     "legitimate",
			wantConf:      0.72,
		},
		{
			name:      "numeric class zero",
			body:      `{"prediction":0,"confidence":10}`,
			wantLabel: "safe",
			wantConf:  0.1,
		},
		{
			name:          "malicious label low confidence",
			body:          `{"status":"malicious","confidence":30}`,
			wantMalicious: true,
			wantLabel:     "malicious",
			wantConf:      0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, got := serve(t, http.StatusOK, tt.body)
			res := c.Query(context.Background(), "http://example.test/a")

			require.True(t, res.Succeeded, res.ErrorReason)
			assert.Equal(t, "http://example.test/a", *got)
			assert.Equal(t, storage.LocalClassifier, res.Provider)
			assert.Equal(t, tt.wantMalicious, res.IsMalicious)
			assert.Equal(t, tt.wantLabel, res.Classification.Label)
			assert.InDelta(t, tt.wantConf, res.Classification.Confidence, 1e-9)
		})
	}
}

func TestQueryUnitScale(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"prediction":"safe","confidence":0.8}`, WithScale(ScaleUnit))
	res := c.Query(context.Background(), "http://example.test/a")

	require.True(t, res.Succeeded, res.ErrorReason)
	assert.True(t, res.IsMalicious)
	assert.InDelta(t, 0.8, res.Classification.Confidence, 1e-9)

	c, _ = serve(t, http.StatusOK, `{"prediction":"safe","confidence":80}`, WithScale(ScaleUnit))
	res = c.Query(context.Background(), "http://example.test/a")
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorReason, provider.ErrMalformedResponse.Error())
}

func TestQueryRejectsUnexpectedShapes(t *testing.T) {
	bodies := map[string]string{
		"unknown field":      `{"prediction":"safe","confidence":0.1,"score":0.9}`,
		"unknown label":      `{"prediction":"maybe","confidence":0.1}`,
		"missing label":      `{"confidence":0.1}`,
		"missing confidence": `{"prediction":"safe"}`,
		"confidence range":   `{"prediction":"safe","confidence":140}`,
		"unknown class":      `{"prediction":7,"confidence":0.1}`,
		"not json":           `<html>`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := serve(t, http.StatusOK, body)
			res := c.Query(context.Background(), "http://example.test/a")

			assert.False(t, res.Succeeded)
			assert.False(t, res.IsMalicious)
			assert.Contains(t, res.ErrorReason, provider.ErrMalformedResponse.Error())
		})
	}
}

func TestQueryServerError(t *testing.T) {
	c, _ := serve(t, http.StatusInternalServerError, `{"detail":{"error":"Model is not loaded!"}}`)
	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorReason, "status 500")
}

func TestQueryTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, 20*time.Millisecond, logr.Discard())

	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorReason, provider.ErrTimeout.Error())
}

func TestQueryUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second, logr.Discard())
	res := c.Query(context.Background(), "http://example.test/a")

	assert.False(t, res.Succeeded)
	assert.NotEmpty(t, res.ErrorReason)
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","message":"ML Model API is running","api":"ML Model","model_loaded":true}`))
	}))
	t.Cleanup(srv.Close)

	h := New(srv.URL, 0, logr.Discard()).CheckHealth(context.Background())
	assert.True(t, h.Running)
	assert.Equal(t, "running", h.Status)

	down := New("http://127.0.0.1:1", 0, logr.Discard()).CheckHealth(context.Background())
	assert.False(t, down.Running)
	assert.NotEmpty(t, down.Error)
}
