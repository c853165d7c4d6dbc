// Package classifier implements the local phishing classifier provider. It
// answers synchronously with a label and a confidence.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5000"
	DefaultTimeout = 4 * time.Second

	// Threshold is the malicious confidence cut-off on the 0..1 scale.
	Threshold = 0.5

	// ScalePercent is the scale of the classifier backend, which reports
	// the phishing probability as a percentage.
	ScalePercent = 100
	// ScaleUnit is for backends that report a probability in 0..1.
	ScaleUnit = 1

	maxBodyBytes = 1 << 16
)

// Client queries the local classifier service.
type Client struct {
	baseURL string
	timeout time.Duration
	scale   float64
	http    *http.Client
	logger  logr.Logger
}

type Option func(*Client)

// WithScale sets the scale confidences are reported on. Every confidence is
// divided by it; values above it are rejected.
func WithScale(scale float64) Option {
	return func(c *Client) {
		if scale > 0 {
			c.scale = scale
		}
	}
}

// New builds a classifier client. A non-positive timeout selects
// DefaultTimeout. Confidences are read on ScalePercent unless WithScale says
// otherwise.
func New(baseURL string, timeout time.Duration, logger logr.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		scale:   ScalePercent,
		http:    &http.Client{},
		logger:  logger.WithValues("provider", storage.LocalClassifier),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() storage.Provider { return storage.LocalClassifier }

// Query asks the classifier for a verdict on target.
func (c *Client) Query(ctx context.Context, target string) storage.ProviderResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.predict(ctx, target)
	if err != nil {
		c.logger.V(1).Info("predict failed", "url", target, "error", err.Error())
		return provider.Failed(storage.LocalClassifier, err)
	}
	res, err := normalize(body, c.scale)
	if err != nil {
		c.logger.V(1).Info("unexpected prediction", "url", target, "error", err.Error())
		res := provider.Failed(storage.LocalClassifier, err)
		res.Raw = body
		return res
	}
	return res
}

func (c *Client) predict(ctx context.Context, target string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"url": target})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
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

// prediction is the closed response schema. Prediction may be the numeric
// class (0 safe, 1 phishing) or a label; Status is always a label.
type prediction struct {
	URL        string          `json:"url"`
	Prediction json.RawMessage `json:"prediction"`
	Status     string          `json:"status"`
	Confidence *float64        `json:"confidence"`
}

func normalize(body []byte, scale float64) (storage.ProviderResult, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var p prediction
	if err := dec.Decode(&p); err != nil {
		return storage.ProviderResult{}, fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}

	label, err := p.label()
	if err != nil {
		return storage.ProviderResult{}, err
	}
	if p.Confidence == nil {
		return storage.ProviderResult{}, fmt.Errorf("%w: missing confidence", provider.ErrMalformedResponse)
	}
	conf, err := normalizeConfidence(*p.Confidence, scale)
	if err != nil {
		return storage.ProviderResult{}, err
	}

	return storage.ProviderResult{
		Provider:       storage.LocalClassifier,
		IsMalicious:    isMaliciousLabel(label) || conf > Threshold,
		Succeeded:      true,
		Classification: &storage.Classification{Label: label, Confidence: conf},
		Raw:            body,
	}, nil
}

// label resolves the verdict label. Status wins over Prediction when both
// are present.
func (p prediction) label() (string, error) {
	if p.Status != "" {
		return canonicalLabel(p.Status)
	}
	if len(p.Prediction) == 0 || string(p.Prediction) == "null" {
		return "", fmt.Errorf("%w: missing prediction", provider.ErrMalformedResponse)
	}

	var class int
	if err := json.Unmarshal(p.Prediction, &class); err == nil {
		switch class {
		case 0:
			return "safe", nil
		case 1:
			return "phishing", nil
		default:
			return "", fmt.Errorf("%w: unknown class %d", provider.ErrMalformedResponse, class)
		}
	}
	var s string
	if err := json.Unmarshal(p.Prediction, &s); err != nil {
		return "", fmt.Errorf("%w: prediction is neither class nor label", provider.ErrMalformedResponse)
	}
	return canonicalLabel(s)
}

func canonicalLabel(s string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "phishing", "malicious":
		return l, nil
	case "safe", "legitimate", "benign":
		return l, nil
	default:
		return "", fmt.Errorf("%w: unknown label %q", provider.ErrMalformedResponse, s)
	}
}

func isMaliciousLabel(l string) bool {
	return l == "phishing" || l == "malicious"
}

// normalizeConfidence maps a score on [0, scale] onto 0..1.
func normalizeConfidence(v, scale float64) (float64, error) {
	if v < 0 || v > scale {
		return 0, fmt.Errorf("%w: confidence %v outside 0..%v", provider.ErrMalformedResponse, v, scale)
	}
	return v / scale, nil
}
