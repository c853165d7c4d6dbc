package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/app"
	"github.com/censys/url-reputation/pkg/config"
	"github.com/censys/url-reputation/pkg/logging"
	"github.com/censys/url-reputation/pkg/processing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "processor:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, flush, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer client.Close()

	var surface alert.Surface
	if cfg.AlertTopicID != "" {
		topic := client.Topic(cfg.AlertTopicID)
		defer topic.Stop()
		surface = alert.NewPubSubSurface(topic)
	} else {
		surface = alert.NewLogSurface(logger.WithName("alerts"))
	}

	a, err := app.New(ctx, cfg, surface, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var dlqPublisher processing.DLQPublisher
	if cfg.DLQTopicID != "" {
		topic := client.Topic(cfg.DLQTopicID)
		defer topic.Stop()
		dlqPublisher = processing.NewPubSubDLQPublisher(topic)
	} else {
		dlqPublisher = &processing.NoopDLQPublisher{}
	}
	handler := processing.NewHandler(a.Orchestrator, dlqPublisher, logger.WithName("processing"))

	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.NumGoroutines = cfg.WorkerCount
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding

	logger.Info("Processor started",
		"project", cfg.ProjectID,
		"subscription", cfg.SubscriptionID,
		"workers", cfg.WorkerCount,
		"store", cfg.Store,
		"ready", a.Ready.Ready())

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if handler.HandleMessage(ctx, msg) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("subscription receive ended: %w", err)
	}
	logger.Info("Processor stopped")
	return nil
}
