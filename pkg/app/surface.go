package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/config"
)

// OpenSurface returns the Pub/Sub alert surface when PUBSUB_ALERT_TOPIC is
// set, and the log surface otherwise. The returned func releases the client.
func OpenSurface(ctx context.Context, cfg config.Config, logger logr.Logger) (alert.Surface, func(), error) {
	if cfg.AlertTopicID == "" {
		return alert.NewLogSurface(logger.WithName("alerts")), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.AlertTopicID)
	release := func() {
		topic.Stop()
		_ = client.Close()
	}
	return alert.NewPubSubSurface(topic), release, nil
}
