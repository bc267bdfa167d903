package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aurora-insure/concierge/internal/channels/telegram"
	"github.com/aurora-insure/concierge/internal/channels/whatsapp"
	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/http/handlers"
	httpmiddleware "github.com/aurora-insure/concierge/internal/http/middleware"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/webchat"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// ReadinessCheck reports whether one dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	WhatsAppWebhook     *whatsapp.WebhookHandler
	TelegramWebhook     *telegram.WebhookHandler
	PaymentsWebhook     *payments.WebhookHandler
	WebChatHandler      *webchat.Handler
	AdminKnowledge      *handlers.AdminKnowledgeHandler
	MetricsHandler      http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int

	// Readiness checks keyed by dependency name, surfaced on /healthz.
	ReadinessChecks map[string]ReadinessCheck
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks, health, metrics.
	r.Group(func(public chi.Router) {
		public.Get("/healthz", healthHandler(cfg.ReadinessChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		public.Group(func(hooks chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				burst := cfg.WebhookRateBurst
				if burst <= 0 {
					burst = int(cfg.WebhookRateLimit) * 2
				}
				hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, burst))
			}
			if cfg.WhatsAppWebhook != nil {
				hooks.Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.ServeHTTP)
			}
			if cfg.TelegramWebhook != nil {
				hooks.Post("/webhooks/telegram", cfg.TelegramWebhook.ServeHTTP)
			}
			if cfg.PaymentsWebhook != nil {
				hooks.Post("/webhooks/payments", cfg.PaymentsWebhook.ServeHTTP)
			}
		})

		if cfg.WebChatHandler != nil {
			public.Route("/webchat", func(chat chi.Router) {
				chat.Get("/ws", cfg.WebChatHandler.HandleWebSocket)
				chat.Post("/message", cfg.WebChatHandler.HandleMessage)
				chat.Get("/history", cfg.WebChatHandler.HandleHistory)
			})
		}
	})

	// Direct conversation API, used by internal tooling and tests.
	if cfg.ConversationHandler != nil {
		r.Route("/conversations", func(conv chi.Router) {
			conv.Post("/message", cfg.ConversationHandler.Message)
			conv.Post("/enqueue", cfg.ConversationHandler.Enqueue)
			conv.Get("/{sessionID}/history", cfg.ConversationHandler.History)
		})
	}

	// Operator endpoints behind JWT.
	if cfg.AdminAuthSecret != "" && cfg.AdminKnowledge != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/knowledge", cfg.AdminKnowledge.GetCounts)
			admin.Put("/knowledge/{market}", cfg.AdminKnowledge.ReindexMarket)
		})
	}

	return r
}

func healthHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]any{"status": "ok"}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
