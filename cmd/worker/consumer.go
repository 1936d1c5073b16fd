package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/events"
	"github.com/imkarn/go-saga-fulfillment/internal/history"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
)

// errMalformed marks payloads the worker can never process; they follow the
// retry path so they end up on the dead-letter queue for inspection.
var errMalformed = errors.New("malformed transaction event")

// Consumer is the settlement worker: a long-lived SQS poller that converges
// transaction history from at-least-once deliveries. Concurrency is bounded
// by prefetch so a message burst cannot overwhelm the history store.
type Consumer struct {
	sqsClient awsx.SQSAPI
	queueURL  string
	dlqURL    string
	store     *history.Store
	log       *logging.Logger
	rec       *metrics.Recorder

	maxRetries int
	prefetch   int
	// republish delay base; doubled per retry, capped by SQS at 900s
	backoffBase time.Duration
}

func NewConsumer(sqsClient awsx.SQSAPI, queueURL, dlqURL string, store *history.Store, log *logging.Logger, rec *metrics.Recorder, maxRetries, prefetch int) *Consumer {
	return &Consumer{
		sqsClient:   sqsClient,
		queueURL:    queueURL,
		dlqURL:      dlqURL,
		store:       store,
		log:         log,
		rec:         rec,
		maxRetries:  maxRetries,
		prefetch:    prefetch,
		backoffBase: 5 * time.Second,
	}
}

// Ready verifies both queues resolve before polling starts.
func (c *Consumer) Ready(ctx context.Context) error {
	for _, url := range []string{c.queueURL, c.dlqURL} {
		if url == "" {
			return errors.New("queue URL not configured")
		}
		name := url[strings.LastIndex(url, "/")+1:]
		if _, err := c.sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &name}); err != nil {
			return fmt.Errorf("resolve queue %s: %w", name, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled. At most prefetch messages are in flight
// at once.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.prefetch)
	for {
		select {
		case <-ctx.Done():
			// drain in-flight handlers before returning
			for i := 0; i < c.prefetch; i++ {
				sem <- struct{}{}
			}
			return ctx.Err()
		default:
		}

		out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              &c.queueURL,
			MaxNumberOfMessages:   int32(c.prefetch),
			WaitTimeSeconds:       20,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error(ctx, "receive failed", map[string]any{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			sem <- struct{}{}
			go func(msg sqstypes.Message) {
				defer func() { <-sem }()
				c.handle(ctx, msg)
			}(msg)
		}
	}
}

// handle processes one delivery end to end: parse, dedup, converge, ack.
// Any processing failure feeds the retry path; the original delivery is
// always acknowledged afterwards so the broker does not also redeliver it.
func (c *Consumer) handle(ctx context.Context, msg sqstypes.Message) {
	messageID := attr(msg, events.AttrMessageID)
	retryCount := 0
	if v := attr(msg, events.AttrRetryCount); v != "" {
		retryCount, _ = strconv.Atoi(v)
	}
	if corr := attr(msg, events.AttrCorrelationID); corr != "" {
		ctx = logging.WithCorrelationID(ctx, corr)
	}

	if err := c.process(ctx, msg, messageID); err != nil {
		c.log.Error(ctx, "settlement processing failed", map[string]any{
			"message_id": messageID,
			"retry":      retryCount,
			"error":      err.Error(),
		})
		c.retryOrDeadLetter(ctx, msg, messageID, retryCount)
		return
	}
	c.ack(ctx, msg)
}

func (c *Consumer) process(ctx context.Context, msg sqstypes.Message, messageID string) error {
	var ev events.TransactionEvent
	if msg.Body == nil {
		return errMalformed
	}
	if err := json.Unmarshal([]byte(*msg.Body), &ev); err != nil {
		return errMalformed
	}
	if !ev.Valid() {
		return errMalformed
	}

	// delivery-identity dedup: a redelivery after a crashed ack is
	// acknowledged without reprocessing
	if messageID != "" {
		seen, err := c.store.SeenMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if seen {
			c.log.Info(ctx, "duplicate delivery acknowledged", map[string]any{"message_id": messageID})
			c.rec.Count(ctx, "SettlementDuplicateDelivery", nil)
			return nil
		}
	}

	// business-identity dedup happens inside Upsert: an existing
	// transaction record is updated in place, never duplicated
	if err := c.store.Upsert(ctx, history.Record{
		TransactionID: ev.TransactionID,
		OrderID:       ev.OrderID,
		CustomerID:    ev.CustomerID,
		ProductID:     ev.ProductID,
		Amount:        ev.Amount,
		Status:        ev.Status,
		MessageID:     messageID,
	}); err != nil {
		return err
	}

	c.rec.Count(ctx, "SettlementRecorded", map[string]string{"status": ev.Status})
	return nil
}

// retryOrDeadLetter republishes the payload with an incremented retry
// counter and a backoff delay while attempts remain; at the ceiling it
// routes the message to the dead-letter queue for manual inspection. The
// original delivery is acknowledged either way.
func (c *Consumer) retryOrDeadLetter(ctx context.Context, msg sqstypes.Message, messageID string, retryCount int) {
	if retryCount < c.maxRetries {
		delay := int32((c.backoffBase << retryCount) / time.Second)
		if delay > 900 {
			delay = 900
		}
		if err := c.send(ctx, c.queueURL, msg, messageID, retryCount+1, delay); err != nil {
			c.log.Error(ctx, "republish failed, leaving delivery to the broker", map[string]any{
				"message_id": messageID,
				"error":      err.Error(),
			})
			// do not ack: broker redelivery is the fallback
			return
		}
		c.rec.Count(ctx, "SettlementRetried", nil)
	} else {
		if err := c.send(ctx, c.dlqURL, msg, messageID, retryCount, 0); err != nil {
			c.log.Error(ctx, "dead-letter routing failed", map[string]any{
				"message_id": messageID,
				"error":      err.Error(),
			})
			return
		}
		c.log.Warn(ctx, "message dead-lettered", map[string]any{"message_id": messageID, "retries": retryCount})
		c.rec.Count(ctx, "SettlementDeadLettered", nil)
	}
	c.ack(ctx, msg)
}

func (c *Consumer) send(ctx context.Context, queueURL string, msg sqstypes.Message, messageID string, retryCount int, delaySeconds int32) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &queueURL,
		MessageBody: msg.Body,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			events.AttrMessageID: {
				DataType:    awsx.String("String"),
				StringValue: awsx.String(messageID),
			},
			events.AttrRetryCount: {
				DataType:    awsx.String("Number"),
				StringValue: awsx.String(strconv.Itoa(retryCount)),
			},
		},
	}
	if corr := logging.CorrelationID(ctx); corr != "" {
		input.MessageAttributes[events.AttrCorrelationID] = sqstypes.MessageAttributeValue{
			DataType:    awsx.String("String"),
			StringValue: awsx.String(corr),
		}
	}
	if delaySeconds > 0 {
		input.DelaySeconds = delaySeconds
	}
	_, err := c.sqsClient.SendMessage(ctx, input)
	return err
}

func (c *Consumer) ack(ctx context.Context, msg sqstypes.Message) {
	if _, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		// the broker will redeliver; dedup makes that harmless
		c.log.Error(ctx, "ack failed", map[string]any{"error": err.Error()})
	}
}

func attr(msg sqstypes.Message, name string) string {
	if a, ok := msg.MessageAttributes[name]; ok && a.StringValue != nil {
		return *a.StringValue
	}
	return ""
}
