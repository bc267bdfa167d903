package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// ReplySender delivers the engine's reply back over the originating channel.
// Channel adapters (telegram, whatsapp) implement the outbound half here.
type ReplySender interface {
	SendReply(ctx context.Context, sessionID, channel, replyText string) error
}

const (
	defaultWorkerCount = 2
	defaultWaitSeconds = 2
	defaultBatchSize   = 5
	maxWaitSeconds     = 20
	maxBatchSize       = 10
	maxBusyRequeues    = 3
)

// Dispatcher consumes queued inbound messages and drives the engine.
type Dispatcher struct {
	engine *Engine
	queue  queueClient
	sender ReplySender
	logger *logging.Logger

	cfg dispatcherConfig
	wg  sync.WaitGroup
}

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxBatchSize {
			size = maxBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewDispatcher constructs a queue consumer around the engine. The sender is
// optional; without it replies are only persisted to the session.
func NewDispatcher(engine *Engine, queue queueClient, sender ReplySender, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := dispatcherConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dispatcher{
		engine: engine,
		queue:  queue,
		sender: sender,
		logger: logger.Component("conversation"),
		cfg:    cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("conversation dispatcher started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("conversation dispatcher stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := d.queue.Receive(ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		d.logger.Error("failed to decode conversation job", "error", err)
		d.deleteMessage(msg.ReceiptHandle)
		return
	}

	resp, err := d.engine.ProcessMessage(ctx, payload.Message)
	switch {
	case err == nil:
		d.deliverReply(ctx, payload.Message, resp)
		d.deleteMessage(msg.ReceiptHandle)

	case errors.Is(err, ErrSessionBusy):
		d.requeueBusy(ctx, payload, msg)

	case errors.Is(err, session.ErrStoreUnavailable):
		// Leave the message in place; the queue redelivers after the
		// visibility timeout and the store may be back by then.
		d.logger.Error("session store unavailable, leaving job for redelivery",
			"job_id", payload.ID, "session_id", payload.Message.SessionID, "error", err)

	default:
		d.logger.Error("conversation job failed", "job_id", payload.ID, "error", err)
		d.deleteMessage(msg.ReceiptHandle)
	}
}

func (d *Dispatcher) requeueBusy(ctx context.Context, payload queuePayload, msg queueMessage) {
	if payload.Attempts >= maxBusyRequeues {
		d.logger.Warn("dropping job for busy session after max requeues",
			"job_id", payload.ID, "session_id", payload.Message.SessionID)
		d.deleteMessage(msg.ReceiptHandle)
		return
	}
	payload.Attempts++
	_, body, err := encodePayload(payload)
	if err != nil {
		d.logger.Error("failed to re-encode busy job", "job_id", payload.ID, "error", err)
		return
	}
	if err := d.queue.Send(ctx, body); err != nil {
		d.logger.Error("failed to requeue busy job", "job_id", payload.ID, "error", err)
		return
	}
	d.logger.Info("requeued job for busy session",
		"job_id", payload.ID, "session_id", payload.Message.SessionID, "attempts", payload.Attempts)
	d.deleteMessage(msg.ReceiptHandle)
}

func (d *Dispatcher) deliverReply(ctx context.Context, req MessageRequest, resp *Response) {
	if d.sender == nil || resp == nil || resp.ReplyText == "" {
		return
	}
	if err := d.sender.SendReply(ctx, resp.SessionID, req.Channel, resp.ReplyText); err != nil {
		d.logger.Error("failed to deliver reply",
			"session_id", resp.SessionID, "channel", req.Channel, "error", err)
	}
}

func (d *Dispatcher) deleteMessage(receiptHandle string) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.queue.Delete(deleteCtx, receiptHandle); err != nil {
		d.logger.Error("failed to delete conversation job", "error", err)
	}
}
