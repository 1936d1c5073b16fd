package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/config"
	"github.com/imkarn/go-saga-fulfillment/internal/history"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
)

func main() {
	log := logging.New("settlement-worker")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := awsx.NewClients(ctx)
	if err != nil {
		log.Error(ctx, "aws config load failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	store := history.NewStore(clients.DynamoDB, cfg.HistoryTable)
	rec := metrics.NewRecorder(clients.CloudWatch, "SagaFulfillment")

	consumer := NewConsumer(
		clients.SQS,
		cfg.TransactionQueueURL,
		cfg.DeadLetterQueueURL,
		store,
		log,
		rec,
		cfg.WorkerMaxRetries,
		cfg.WorkerPrefetch,
	)

	if err := consumer.Ready(ctx); err != nil {
		log.Error(ctx, "queues not reachable", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	log.Info(ctx, "settlement worker started", map[string]any{
		"queue":    cfg.TransactionQueueURL,
		"prefetch": cfg.WorkerPrefetch,
	})
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "worker stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	log.Info(ctx, "settlement worker stopped")
}
