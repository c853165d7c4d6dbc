package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

const healthTimeout = 3 * time.Second

// CheckHealth probes the classifier's /health endpoint.
func (c *Client) CheckHealth(ctx context.Context) provider.Health {
	h := provider.Health{Provider: storage.LocalClassifier}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	resp, err := c.http.Do(req)
	if err != nil {
		h.Error = provider.Reason(fmt.Errorf("%w: %w", provider.ErrUnreachable, err))
		return h
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.Error = fmt.Sprintf("service returned status %d", resp.StatusCode)
		return h
	}

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	h.Running = true
	h.Status = body.Status
	if h.Status == "" {
		h.Status = "running"
	}
	h.Message = body.Message
	return h
}
