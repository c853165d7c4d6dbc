package virustotal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

// CheckHealth probes the account endpoint. A 401 still counts as running:
// the service answered, only the key is rejected.
func (c *Client) CheckHealth(ctx context.Context) provider.Health {
	h := provider.Health{Provider: storage.SignatureAggregator}
	key := c.apiKey()
	if key == "" {
		h.Error = provider.ErrCredentialMissing.Error()
		return h
	}

	status, err := c.probe(ctx, key)
	switch {
	case err != nil:
		h.Error = provider.Reason(err)
	case status == http.StatusUnauthorized:
		h.Running = true
		h.Status = "key_invalid"
		h.Message = "service reachable but API key was rejected"
	case status >= 200 && status < 300:
		h.Running = true
		h.Status = "running"
		h.Message = "service reachable"
	default:
		h.Error = fmt.Sprintf("service returned status %d", status)
	}
	return h
}

// ValidateKey reports whether the configured key is accepted by the service.
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	key := c.apiKey()
	if key == "" {
		return false, nil
	}
	status, err := c.probe(ctx, key)
	if err != nil {
		return false, err
	}
	return status >= 200 && status < 300, nil
}

func (c *Client) probe(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("x-apikey", key)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
