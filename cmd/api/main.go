package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurora-insure/concierge/cmd/mainconfig"
	"github.com/aurora-insure/concierge/internal/api/router"
	"github.com/aurora-insure/concierge/internal/channels/telegram"
	"github.com/aurora-insure/concierge/internal/channels/whatsapp"
	appconfig "github.com/aurora-insure/concierge/internal/config"
	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/http/handlers"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/webchat"
	"github.com/aurora-insure/concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := mainconfig.BuildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	conversationOpts := []conversation.HandlerOption{}
	var dispatcher *conversation.Dispatcher
	if cfg.UseMemoryQueue {
		// Local stacks process queued jobs in-process instead of running a
		// separate worker.
		memQueue := conversation.NewMemoryQueue(256)
		conversationOpts = append(conversationOpts,
			conversation.WithAsyncPublisher(conversation.NewPublisher(memQueue, logger)))
		dispatcher = conversation.NewDispatcher(app.Engine, memQueue,
			telegram.NewClient(cfg.TelegramBotToken, "", logger), logger,
			conversation.WithWorkerCount(cfg.WorkerCount))
	} else if cfg.ConversationQueueURL != "" {
		sqsQueue := conversation.NewSQSQueue(sqs.NewFromConfig(app.AWS), cfg.ConversationQueueURL)
		conversationOpts = append(conversationOpts,
			conversation.WithAsyncPublisher(conversation.NewPublisher(sqsQueue, logger)))
	}
	if dispatcher != nil {
		dispatcher.Start(ctx)
	}

	conversationHandler := conversation.NewHandler(app.Engine, app.Sessions, logger, conversationOpts...)
	webChatHandler := webchat.NewHandler(app.Engine, app.Sessions, logger)
	whatsappWebhook := whatsapp.NewWebhookHandler(app.Engine, logger)
	telegramWebhook := telegram.NewWebhookHandler(app.Engine, logger)

	var paymentsWebhook *payments.WebhookHandler
	if app.Processed != nil {
		paymentsWebhook = payments.NewWebhookHandler(
			cfg.PaymentsWebhookSecret, app.Sessions, app.Processed, app.FollowUp, logger)
	}

	var adminKnowledge *handlers.AdminKnowledgeHandler
	if app.Knowledge != nil {
		adminKnowledge = handlers.NewAdminKnowledgeHandler(app.Knowledge, logger)
	}

	readiness := map[string]router.ReadinessCheck{
		"redis": func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		},
		"reasoning": app.Reasoner.Ready,
	}
	if app.DB != nil {
		db := app.DB
		readiness["postgres"] = func(ctx context.Context) error {
			return db.PingContext(ctx)
		}
	}

	r := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversationHandler,
		WhatsAppWebhook:     whatsappWebhook,
		TelegramWebhook:     telegramWebhook,
		PaymentsWebhook:     paymentsWebhook,
		WebChatHandler:      webChatHandler,
		AdminKnowledge:      adminKnowledge,
		MetricsHandler:      promhttp.Handler(),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  splitOrigins(cfg.AllowedOrigins),
		WebhookRateLimit:    5,
		WebhookRateBurst:    20,
		ReadinessChecks:     readiness,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}

	logger.Info("server stopped")
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
