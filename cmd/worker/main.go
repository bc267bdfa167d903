package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/aurora-insure/concierge/cmd/mainconfig"
	"github.com/aurora-insure/concierge/internal/channels/telegram"
	appconfig "github.com/aurora-insure/concierge/internal/config"
	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge conversation worker")

	if cfg.ConversationQueueURL == "" {
		logger.Error("CONVERSATION_QUEUE_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := mainconfig.BuildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	queue := conversation.NewSQSQueue(sqs.NewFromConfig(app.AWS), cfg.ConversationQueueURL)
	sender := telegram.NewClient(cfg.TelegramBotToken, "", logger)
	dispatcher := conversation.NewDispatcher(app.Engine, queue, sender, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)

	dispatcher.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
