package conversation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS caps a single receive at 10 messages and long polls at 20 seconds.
const (
	sqsMaxReceiveBatch = 10
	sqsMaxWaitSeconds  = 20
)

// SQSQueue carries conversation jobs over AWS (or LocalStack) SQS: the api
// binary enqueues jobs and the worker's dispatcher drains them. A job stays
// on the queue until the dispatcher acknowledges it, so a worker crash
// mid-turn redelivers rather than losing the message.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

var _ queueClient = (*SQSQueue)(nil)

// NewSQSQueue wraps the SQS client for the conversation job queue.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("conversation: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("conversation: SQS queue URL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Send enqueues one encoded conversation job.
func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("conversation: enqueue job: %w", err)
	}
	return nil
}

// Receive long-polls for up to maxMessages jobs. Both arguments are clamped
// to what the SQS API accepts.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages < 1 {
		maxMessages = 1
	} else if maxMessages > sqsMaxReceiveBatch {
		maxMessages = sqsMaxReceiveBatch
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	} else if waitSeconds > sqsMaxWaitSeconds {
		waitSeconds = sqsMaxWaitSeconds
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: poll jobs: %w", err)
	}

	jobs := make([]queueMessage, 0, len(out.Messages))
	for _, msg := range out.Messages {
		jobs = append(jobs, queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return jobs, nil
}

// Delete acknowledges a processed job so SQS stops redelivering it.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("conversation: acknowledge job: %w", err)
	}
	return nil
}
