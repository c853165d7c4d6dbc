package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

var (
	// ErrSurfaceDetached is returned by surfaces that have nothing attached
	// to receive the event yet.
	ErrSurfaceDetached = errors.New("surface not attached")
	// ErrDeliveryFailed is returned once every attempt failed.
	ErrDeliveryFailed = errors.New("alert delivery failed")
)

// Surface hands an event to the host UI.
type Surface interface {
	Deliver(ctx context.Context, ev Event) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ctx context.Context, ev Event) error

func (f SurfaceFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Gateway retries delivery to a surface a bounded number of times with a
// fixed delay. Failure is logged and reported but never retried further.
type Gateway struct {
	surface  Surface
	attempts uint
	delay    time.Duration
	logger   logr.Logger
}

type GatewayOption func(*Gateway)

func WithRetry(attempts uint, delay time.Duration) GatewayOption {
	return func(g *Gateway) {
		if attempts > 0 {
			g.attempts = attempts
		}
		if delay > 0 {
			g.delay = delay
		}
	}
}

func NewGateway(surface Surface, logger logr.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		surface:  surface,
		attempts: DefaultAttempts,
		delay:    DefaultRetryDelay,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Deliver sends ev to the surface.
func (g *Gateway) Deliver(ctx context.Context, ev Event) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, g.surface.Deliver(ctx, ev)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(g.delay)),
		backoff.WithMaxTries(g.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.V(1).Info("Retrying alert delivery",
				"attempt", attempt,
				"delay", next.String(),
				"kind", ev.Kind,
				"url", ev.URL)
		}),
	)
	if err != nil {
		g.logger.Error(err, "Abandoning alert delivery",
			"attempts", attempt,
			"kind", ev.Kind,
			"url", ev.URL,
			"surface", ev.Surface)
		return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempt, err)
	}
	g.logger.V(1).Info("Alert delivered", "kind", ev.Kind, "url", ev.URL, "attempt", attempt)
	return nil
}
