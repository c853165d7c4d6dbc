// Package virustotal implements the signature-aggregator provider: the URL is
// submitted for analysis and the analysis is polled until the vendor tally
// is ready.
package virustotal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

const (
	DefaultBaseURL        = "https://www.virustotal.com/api/v3"
	defaultRequestTimeout = 5 * time.Second
	maxBodyBytes          = 1 << 20
)

// PollPolicy bounds how long an analysis is polled for.
type PollPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxAttempts     uint
	MaxWait         time.Duration
}

// DefaultPollPolicy waits 1.5s, 2.55s, 4.3s... between polls, for at most 5
// polls and 10s of cumulative waiting.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 1500 * time.Millisecond,
		Multiplier:      1.7,
		MaxAttempts:     5,
		MaxWait:         10 * time.Second,
	}
}

func (p PollPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxWait
	return b
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is read on every query so a key entered after start-up is
	// picked up without rebuilding the client.
	APIKey         func() string
	RequestTimeout time.Duration
	Poll           PollPolicy
	HTTPClient     *http.Client
}

// Client queries the signature aggregation service.
type Client struct {
	baseURL string
	apiKey  func() string
	poll    PollPolicy
	http    *http.Client
	logger  logr.Logger

	requestTimeout time.Duration
}

func New(cfg Config, logger logr.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == nil {
		cfg.APIKey = func() string { return "" }
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Poll.MaxAttempts == 0 {
		cfg.Poll = DefaultPollPolicy()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		poll:    cfg.Poll,
		http:    cfg.HTTPClient,
		logger:  logger.WithValues("provider", storage.SignatureAggregator),

		requestTimeout: cfg.RequestTimeout,
	}
}

func (c *Client) Name() storage.Provider { return storage.SignatureAggregator }

// Query submits target for analysis and polls for the tally. It never returns
// an error; failures are reported through the result.
func (c *Client) Query(ctx context.Context, target string) storage.ProviderResult {
	key := c.apiKey()
	if key == "" {
		return c.failed(provider.ErrCredentialMissing)
	}

	id, err := c.submit(ctx, key, target)
	if err != nil {
		c.logger.V(1).Info("submit failed", "url", target, "error", err.Error())
		return c.failed(err)
	}

	an, err := c.awaitAnalysis(ctx, key, id)
	if err != nil {
		c.logger.V(1).Info("analysis failed", "url", target, "analysisId", id, "error", err.Error())
		res := c.failed(err)
		res.AnalysisID = id
		return res
	}
	return normalize(id, an)
}

func (c *Client) failed(err error) storage.ProviderResult {
	res := provider.Failed(storage.SignatureAggregator, err)
	res.Stats = &storage.Stats{}
	return res
}

type submitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) submit(ctx context.Context, key, target string) (string, error) {
	form := url.Values{"url": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("x-apikey", key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("submit url: %w", err)
	}
	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode submit: %v", provider.ErrMalformedResponse, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("%w: submit response has no analysis id", provider.ErrMalformedResponse)
	}
	return resp.Data.ID, nil
}

type analysis struct {
	Status string         `json:"status"`
	Stats  *storage.Stats `json:"stats"`
	raw    json.RawMessage
}

type analysisResponse struct {
	Data struct {
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

var errPending = errors.New("analysis pending")

// awaitAnalysis polls until the tally is ready or the poll policy is spent.
func (c *Client) awaitAnalysis(ctx context.Context, key, id string) (analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.poll.MaxWait+c.requestTimeout)
	defer cancel()

	attempts := 0
	poll := func() (analysis, error) {
		attempts++
		an, err := c.fetchAnalysis(ctx, key, id)
		if err != nil {
			return analysis{}, backoff.Permanent(err)
		}
		if !an.ready() {
			return analysis{}, errPending
		}
		return an, nil
	}

	an, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(c.poll.backOff()),
		backoff.WithMaxTries(c.poll.MaxAttempts),
		backoff.WithMaxElapsedTime(c.poll.MaxWait),
	)
	if errors.Is(err, errPending) {
		c.logger.V(1).Info("analysis not ready", "analysisId", id, "attempts", attempts)
		return analysis{}, provider.ErrNotReadyInTime
	}
	return an, err
}

func (c *Client) fetchAnalysis(ctx context.Context, key, id string) (analysis, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/analyses/"+url.PathEscape(id), nil)
	if err != nil {
		return analysis{}, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("x-apikey", key)

	body, err := c.do(req)
	if err != nil {
		return analysis{}, fmt.Errorf("poll analysis: %w", err)
	}
	var resp analysisResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return analysis{}, fmt.Errorf("%w: decode analysis: %v", provider.ErrMalformedResponse, err)
	}
	if len(resp.Data.Attributes) == 0 {
		return analysis{}, fmt.Errorf("%w: analysis has no attributes", provider.ErrMalformedResponse)
	}
	var an analysis
	if err := json.Unmarshal(resp.Data.Attributes, &an); err != nil {
		return analysis{}, fmt.Errorf("%w: decode attributes: %v", provider.ErrMalformedResponse, err)
	}
	an.raw = resp.Data.Attributes
	return an, nil
}

func (a analysis) ready() bool {
	if a.Stats == nil {
		return false
	}
	switch a.Status {
	case "queued", "in-progress":
		return false
	}
	return true
}

func normalize(id string, an analysis) storage.ProviderResult {
	stats := *an.Stats
	return storage.ProviderResult{
		Provider:    storage.SignatureAggregator,
		IsMalicious: stats.Malicious > 0 || stats.Suspicious > 0,
		Succeeded:   true,
		Stats:       &stats,
		AnalysisID:  id,
		Raw:         an.raw,
	}
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", provider.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", provider.ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", provider.ErrUnreachable, resp.StatusCode)
	}
	return body, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
