package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      awsx.SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient awsx.SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Ready verifies the publisher can reach its queue. SQS has no long-lived
// connection, so readiness is a configuration check plus a queue attribute
// lookup rather than a connection-state check.
func (p *Publisher) Ready(ctx context.Context) error {
	if p.QueueURL == "" {
		return fmt.Errorf("queue URL not configured")
	}
	name := p.QueueURL[strings.LastIndex(p.QueueURL, "/")+1:]
	if _, err := p.SQS.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &name}); err != nil {
		return fmt.Errorf("resolve queue %s: %w", name, err)
	}
	return nil
}

// PublishTransaction publishes a settlement event with a fresh message
// identity and a zero retry counter.
func (p *Publisher) PublishTransaction(ctx context.Context, ev TransactionEvent) error {
	return p.publish(ctx, ev, uuid.NewString(), 0, 0)
}

// Republish re-enqueues a previously delivered payload with an incremented
// retry counter and a delivery delay, preserving the original message
// identity so the worker's delivery dedup still applies.
func (p *Publisher) Republish(ctx context.Context, ev TransactionEvent, messageID string, retryCount int, delaySeconds int32) error {
	return p.publish(ctx, ev, messageID, retryCount, delaySeconds)
}

func (p *Publisher) publish(ctx context.Context, ev TransactionEvent, messageID string, retryCount int, delaySeconds int32) error {
	if p.QueueURL == "" {
		return fmt.Errorf("queue URL not configured")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{
		AttrMessageID: {
			DataType:    awsx.String("String"),
			StringValue: awsx.String(messageID),
		},
		AttrRetryCount: {
			DataType:    awsx.String("Number"),
			StringValue: awsx.String(strconv.Itoa(retryCount)),
		},
	}
	if corr := logging.CorrelationID(ctx); corr != "" {
		attrs[AttrCorrelationID] = sqstypes.MessageAttributeValue{
			DataType:    awsx.String("String"),
			StringValue: awsx.String(corr),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          &p.QueueURL,
		MessageBody:       awsx.String(string(body)),
		MessageAttributes: attrs,
	}
	if delaySeconds > 0 {
		input.DelaySeconds = delaySeconds
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
