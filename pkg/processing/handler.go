// Package processing consumes navigation events from Pub/Sub and hands them to
// the scan orchestrator.
package processing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/scan"
)

// Navigator represents the orchestration dependency used by the handler.
type Navigator interface {
	Navigate(ctx context.Context, nav scan.Navigation) (scan.Result, error)
}

// DLQPublisher publishes undeliverable messages to a dead-letter topic.
type DLQPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message, reason string) error
}

// PubSubDLQPublisher implements DLQPublisher using a Pub/Sub topic.
type PubSubDLQPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubDLQPublisher constructs a DLQ publisher for the given topic. If the
// topic is nil, publishes are treated as no-ops.
func NewPubSubDLQPublisher(topic *pubsub.Topic) *PubSubDLQPublisher {
	return &PubSubDLQPublisher{topic: topic}
}

func (p *PubSubDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	if p.topic == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	attrs := map[string]string{
		"reason":      reason,
		"orig_msg_id": msg.ID,
	}
	if msg.DeliveryAttempt != nil {
		attrs["delivery_attempt"] = strconv.Itoa(*msg.DeliveryAttempt)
	}
	_, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: attrs,
	}).Get(ctx)
	return err
}

// NoopDLQPublisher is used when no DLQ topic is configured.
type NoopDLQPublisher struct{}

func (n *NoopDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	return nil
}

// Handler turns Pub/Sub deliveries into navigations.
type Handler struct {
	nav    Navigator
	dlq    DLQPublisher
	logger logr.Logger
}

func NewHandler(nav Navigator, dlq DLQPublisher, logger logr.Logger) *Handler {
	if dlq == nil {
		dlq = &NoopDLQPublisher{}
	}
	return &Handler{nav: nav, dlq: dlq, logger: logger}
}

// HandleMessage processes a Pub/Sub message and returns true if it should be
// acked (even when sent to DLQ) or false to Nack (for retriable errors).
func (h *Handler) HandleMessage(ctx context.Context, msg *pubsub.Message) bool {
	nav, err := ParseNavigationMessage(msg.Data)
	if err != nil {
		h.logger.Info("Pushing message to DLQ", "msgID", msg.ID, "error", err.Error())
		return h.deadLetter(ctx, msg, "parse_error")
	}
	if !nav.TopLevel() {
		h.logger.V(1).Info("Ignoring sub-frame navigation", "url", nav.URL, "frameID", nav.FrameID)
		return true
	}

	res, err := h.nav.Navigate(ctx, scan.Navigation{URL: nav.URL, Surface: nav.Surface})
	switch {
	case errors.Is(err, scan.ErrInvalidURL):
		h.logger.Info("Pushing message to DLQ", "msgID", msg.ID, "url", nav.URL, "error", err.Error())
		return h.deadLetter(ctx, msg, "invalid_url")
	case err != nil:
		h.logger.Error(err, "Navigation failed", "url", nav.URL)
		return false
	case res.Phase == scan.Cancelled || ctx.Err() != nil:
		// The run was cut short and nothing was stored; let Pub/Sub redeliver.
		return false
	}

	h.logger.V(1).Info("Navigation handled", "url", res.URL, "phase", res.Phase)
	return true
}

func (h *Handler) deadLetter(ctx context.Context, msg *pubsub.Message, reason string) bool {
	if err := h.dlq.Publish(ctx, msg, reason); err != nil {
		h.logger.Error(err, "Publishing to DLQ failed", "msgID", msg.ID, "reason", reason)
		return false
	}
	return true
}
