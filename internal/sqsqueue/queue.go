// Package sqsqueue implements the work queue on Amazon SQS. Dead-lettering is
// handled by the queue's redrive policy, so maxReceiveCount lives in SQS
// configuration rather than here.
package sqsqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxReceiveBatch is the SQS ceiling for one ReceiveMessage call.
const maxReceiveBatch = 10

// API is the subset of the SQS client the queue calls.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Queue is an SQS-backed service.WorkQueue.
type Queue struct {
	client   API
	url      string
	waitTime time.Duration
}

var _ service.WorkQueue = (*Queue)(nil)

// Stats is the approximate queue depth SQS reports.
type Stats struct {
	Visible  int
	InFlight int
}

// New creates a queue for url. waitTime enables long polling (capped at 20s).
func New(client API, url string, waitTime time.Duration) *Queue {
	if waitTime > 20*time.Second {
		waitTime = 20 * time.Second
	}
	return &Queue{client: client, url: url, waitTime: waitTime}
}

// Send enqueues a work item.
func (q *Queue) Send(ctx context.Context, item model.WorkItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	body, err := item.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode work item: %w", err)
	}

	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.url,
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("failed to send work item for %s: %w", item.ExpenseID, err)
	}
	return nil
}

// Receive leases up to max messages for the visibility timeout.
func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]service.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	if max > maxReceiveBatch {
		max = maxReceiveBatch
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &q.url,
		MaxNumberOfMessages:         int32(max),
		VisibilityTimeout:           int32(visibility / time.Second),
		WaitTimeSeconds:             int32(q.waitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]service.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, FromSQS(aws.ToString(m.MessageId), aws.ToString(m.ReceiptHandle), aws.ToString(m.Body), m.Attributes))
	}
	return messages, nil
}

// Ack deletes a delivered message.
func (q *Queue) Ack(ctx context.Context, receiptHandle string) error {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.url,
		ReceiptHandle: &receiptHandle,
	}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Nack ends the lease so the message is redelivered immediately.
func (q *Queue) Nack(ctx context.Context, receiptHandle string) error {
	if _, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.url,
		ReceiptHandle:     &receiptHandle,
		VisibilityTimeout: 0,
	}); err != nil {
		return fmt.Errorf("failed to release message: %w", err)
	}
	return nil
}

// Stats reads the approximate visible and in-flight counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: &q.url,
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue attributes: %w", err)
	}

	visible, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	inFlight, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return Stats{Visible: visible, InFlight: inFlight}, nil
}

// FromSQS converts an SQS delivery, as seen by the client or a Lambda event,
// into a queue message.
func FromSQS(id, receiptHandle, body string, attributes map[string]string) service.Message {
	count, err := strconv.Atoi(attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		count = 1
	}
	return service.Message{
		ID:            id,
		ReceiptHandle: receiptHandle,
		Body:          []byte(body),
		ReceiveCount:  count,
	}
}
