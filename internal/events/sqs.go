package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDeliveryHandler forwards outbox entries to an SQS queue. The event id
// travels as a message attribute so consumers can dedupe redeliveries.
type SQSDeliveryHandler struct {
	client   sqsSender
	queueURL string
}

func NewSQSDeliveryHandler(client *sqs.Client, queueURL string) *SQSDeliveryHandler {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSDeliveryHandler(client, queueURL)
}

func newSQSDeliveryHandler(client sqsSender, queueURL string) *SQSDeliveryHandler {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSDeliveryHandler{client: client, queueURL: queueURL}
}

func (h *SQSDeliveryHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_id":    {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
			"event_type":  {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"property_id": {DataType: aws.String("String"), StringValue: aws.String(entry.PropertyID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}
