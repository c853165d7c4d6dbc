// Package provider defines the contract shared by reputation provider
// clients. Clients never return errors from Query: every failure is folded
// into the returned result so callers handle a single shape.
package provider

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/censys/url-reputation/pkg/storage"
)

var (
	ErrCredentialMissing = errors.New("api key not configured")
	ErrUnreachable       = errors.New("provider unreachable")
	ErrTimeout           = errors.New("provider timeout")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrNotReadyInTime    = errors.New("result not ready in time")
)

// Client queries one reputation provider.
type Client interface {
	Name() storage.Provider
	Query(ctx context.Context, url string) storage.ProviderResult
}

// Failed builds the result for a provider call that did not produce a
// verdict. Context deadline errors are reported as ErrTimeout.
func Failed(p storage.Provider, err error) storage.ProviderResult {
	return storage.ProviderResult{
		Provider:    p,
		Succeeded:   false,
		ErrorReason: Reason(err),
	}
}

// Reason renders err as a result error reason.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err).Error()
	default:
		return err.Error()
	}
}

// Health is a provider's reachability as reported by its health endpoint.
type Health struct {
	Provider storage.Provider `json:"provider"`
	Running  bool             `json:"running"`
	Status   string           `json:"status,omitempty"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// HealthChecker is implemented by clients that expose a health probe.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// CheckAll probes every checker concurrently and returns results in the
// order the checkers were given.
func CheckAll(ctx context.Context, checkers ...HealthChecker) []Health {
	out := make([]Health, len(checkers))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range checkers {
		g.Go(func() error {
			out[i] = c.CheckHealth(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
