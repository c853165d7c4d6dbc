package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-logr/logr"
)

// PubSubSurface publishes events to a Pub/Sub topic the host UI subscribes
// to.
type PubSubSurface struct {
	topic *pubsub.Topic
}

// NewPubSubSurface constructs a surface for the given topic. A nil topic
// reports every delivery as ErrSurfaceDetached.
func NewPubSubSurface(topic *pubsub.Topic) *PubSubSurface {
	return &PubSubSurface{topic: topic}
}

func (p *PubSubSurface) Deliver(ctx context.Context, ev Event) error {
	if p.topic == nil {
		return ErrSurfaceDetached
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":    string(ev.Kind),
			"surface": ev.Surface,
			"url":     ev.URL,
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// LogSurface writes events to the log. It is the surface used when no UI is
// attached, e.g. for one-shot CLI scans.
type LogSurface struct {
	logger logr.Logger
}

func NewLogSurface(logger logr.Logger) *LogSurface {
	return &LogSurface{logger: logger}
}

func (l *LogSurface) Deliver(ctx context.Context, ev Event) error {
	kv := []any{"kind", ev.Kind, "url", ev.URL, "message", ev.Message}
	if ev.Surface != "" {
		kv = append(kv, "surface", ev.Surface)
	}
	if len(ev.Detectors) > 0 {
		kv = append(kv, "detectors", ev.Detectors)
	}
	if ev.Upgrade {
		kv = append(kv, "upgrade", true)
	}
	if ev.Cached {
		kv = append(kv, "cached", true)
	}
	l.logger.Info("Alert", kv...)
	return nil
}
