package escalation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the slice of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes escalation events for the external alerting component.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("escalation: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("escalation: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish sends the escalation as a JSON event.
func (p *SQSPublisher) Publish(ctx context.Context, e *Escalation) error {
	body, err := json.Marshal(e.event())
	if err != nil {
		return fmt.Errorf("escalation: marshal event: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(e.Priority)),
			},
			"category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(e.Category)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("escalation: failed to send SQS message: %w", err)
	}
	return nil
}
