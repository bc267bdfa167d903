package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aurora-insure/concierge/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous processing by the
// dispatcher. Channel webhooks use it so the provider gets an immediate ack
// while the turn runs in the background.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher wraps the queue for producers.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger.Component("conversation")}
}

// Enqueue publishes an inbound message and returns the job ID.
func (p *Publisher) Enqueue(ctx context.Context, req MessageRequest) (string, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.MessageText) == "" {
		return "", fmt.Errorf("%w: session_id and message_text are required", ErrInvalidRequest)
	}

	payload, body, err := encodePayload(queuePayload{Message: req})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", err
	}
	p.logger.Info("conversation job enqueued",
		"job_id", payload.ID,
		"session_id", req.SessionID,
		"channel", req.Channel,
	)
	return payload.ID, nil
}
