package mainconfig

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/aurora-insure/concierge/internal/config"
	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/events"
	"github.com/aurora-insure/concierge/internal/idempotency"
	"github.com/aurora-insure/concierge/internal/insurance"
	"github.com/aurora-insure/concierge/internal/knowledge"
	"github.com/aurora-insure/concierge/internal/notify"
	"github.com/aurora-insure/concierge/internal/observability/metrics"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/reasoning"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// App bundles the wired conversation stack shared by the api and worker
// binaries.
type App struct {
	AWS      aws.Config
	Redis    *redis.Client
	DB       *sql.DB
	PGPool   *pgxpool.Pool
	Sessions session.Store

	Registry *tools.Registry
	Executor *tools.Executor
	Engine   *conversation.Engine
	Reasoner *reasoning.Client
	Metrics  *metrics.ConversationMetrics

	Knowledge *knowledge.Repository
	Processed *events.ProcessedStore
	Notifier  *notify.Notifier
	FollowUp  *conversation.PolicyFollowUp
}

// Close releases the app's connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.PGPool != nil {
		a.PGPool.Close()
	}
}

// BuildApp wires the full conversation stack from configuration. Postgres is
// optional: without DATABASE_URL the policy research tool, the transcript
// archive, and webhook dedupe are disabled.
func BuildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	app := &App{}

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	app.AWS = awsCfg

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	app.Redis = redis.NewClient(redisOpts)
	app.Sessions = session.NewRedisStore(app.Redis, cfg.SessionTTL, nil)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.DB = db
		app.Knowledge = knowledge.NewRepository(db)

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open pgx pool: %w", err)
		}
		app.PGPool = pool
		app.Processed = events.NewProcessedStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set; policy research, archive, and webhook dedupe disabled")
	}

	var guard idempotency.Store
	if cfg.IdempotencyTable != "" && !cfg.UseMemoryQueue {
		guard = idempotency.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.IdempotencyTable, logger)
	} else {
		guard = idempotency.NewMemoryStore()
	}
	app.Executor = tools.NewExecutor(guard, logger,
		tools.WithToolTimeout(cfg.ToolTimeout),
		tools.WithReadRetries(cfg.ReadToolRetries),
	)

	claims, err := insurance.LoadClaimsInsights(cfg.ClaimsDataPath, logger)
	if err != nil {
		logger.Warn("claims dataset unavailable; recommendations degraded", "path", cfg.ClaimsDataPath, "error", err)
	}
	documents := insurance.NewDocumentService(s3.NewFromConfig(awsCfg), cfg.DocumentBucket, cfg.ExtractionBaseURL, logger)
	insurer, err := insurance.NewInsurerClient(cfg.InsurerBaseURL, cfg.InsurerAPIKey, cfg.InsurerMarket, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("insurer client: %w", err)
	}
	gateway, err := payments.NewHTTPGateway(cfg.PaymentsBaseURL, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("payments gateway: %w", err)
	}

	var searcher knowledge.Searcher
	if app.Knowledge != nil {
		searcher = app.Knowledge
	}
	app.Registry = tools.NewRegistry()
	if err := insurance.BuildCatalog(app.Registry, insurance.CatalogDeps{
		Knowledge: searcher,
		Claims:    claims,
		Documents: documents,
		Insurer:   insurer,
		Payments:  gateway,
		Market:    cfg.InsurerMarket,
	}); err != nil {
		app.Close()
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}

	llm, model, err := buildLLM(ctx, cfg, awsCfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	reasoner := reasoning.NewClient(llm, model, "chat", logger)
	app.Reasoner = reasoner

	app.Metrics = metrics.NewConversationMetrics(prometheus.DefaultRegisterer)

	engineOpts := []conversation.EngineOption{conversation.WithMetrics(app.Metrics)}
	if app.DB != nil {
		engineOpts = append(engineOpts, conversation.WithArchive(conversation.NewArchiveStore(app.DB)))
	}
	app.Engine = conversation.NewEngine(app.Sessions, reasoner, app.Executor, app.Registry, conversation.EngineConfig{
		MaxToolCallsPerTurn: cfg.MaxToolCallsPerTurn,
		TurnCeiling:         cfg.TurnCeiling,
		ReasoningRetries:    cfg.ReasoningRetries,
		MalformedRetries:    cfg.MalformedRetries,
		ReasoningTimeout:    cfg.ReasoningTimeout,
		CheckoutTool:        insurance.ToolPaymentCheckout,
	}, logger, engineOpts...)

	app.Notifier = notify.NewNotifier(buildEmailSender(cfg, awsCfg, logger), logger)
	app.FollowUp = conversation.NewPolicyFollowUp(
		app.Sessions, app.Registry, app.Executor, app.Notifier, insurance.ToolPolicyPurchase, logger,
		conversation.WithSessionLock(app.Engine.SessionLock()))

	return app, nil
}

func buildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (reasoning.LLMClient, string, error) {
	var primary, secondary reasoning.LLMClient
	model := cfg.GeminiModelID

	if cfg.GeminiAPIKey != "" {
		gemini, err := reasoning.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", fmt.Errorf("gemini client: %w", err)
		}
		primary = gemini
	}
	if cfg.BedrockModelID != "" {
		bedrock := reasoning.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		if primary == nil {
			primary = bedrock
			model = cfg.BedrockModelID
		} else {
			secondary = bedrock
		}
	}

	switch {
	case primary == nil:
		return nil, "", fmt.Errorf("no reasoning backend configured: set GEMINI_API_KEY or BEDROCK_MODEL_ID")
	case secondary == nil:
		return primary, model, nil
	default:
		return reasoning.NewFallbackLLMClient(primary, secondary, logger), model, nil
	}
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.EmailProvider == "sendgrid" {
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return nil
		}
		return sender
	}
	if cfg.EmailFromAddress == "" {
		return nil
	}
	return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
		FromEmail: cfg.EmailFromAddress,
		FromName:  cfg.EmailFromName,
	}, logger)
}
