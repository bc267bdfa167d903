package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Conversation engine policy knobs. Tool-call budget and retry
	// counts are deployment policy, not constants.
	MaxToolCallsPerTurn int
	TurnCeiling         int
	ReasoningRetries    int
	MalformedRetries    int
	ReadToolRetries     int
	ReasoningTimeout    time.Duration
	ToolTimeout         time.Duration

	UseMemoryQueue       bool
	WorkerCount          int
	ConversationQueueURL string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	IdempotencyTable string
	DocumentBucket   string

	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string

	PaymentsBaseURL       string
	PaymentsWebhookSecret string
	CheckoutSuccessURL    string
	CheckoutCancelURL     string

	InsurerBaseURL string
	InsurerAPIKey  string
	InsurerMarket  string

	ExtractionBaseURL string
	ClaimsDataPath    string

	EmailProvider     string
	EmailFromAddress  string
	EmailFromName     string
	SendGridAPIKey    string
	AdminJWTSecret    string
	AllowedOrigins    string
	TelegramBotToken  string
	TelegramSecret    string
	WhatsAppAuthToken string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		MaxToolCallsPerTurn: getEnvAsInt("MAX_TOOL_CALLS_PER_TURN", 6),
		TurnCeiling:         getEnvAsInt("TURN_CEILING", 200),
		ReasoningRetries:    getEnvAsInt("REASONING_RETRIES", 1),
		MalformedRetries:    getEnvAsInt("MALFORMED_RETRIES", 1),
		ReadToolRetries:     getEnvAsInt("READ_TOOL_RETRIES", 1),
		ReasoningTimeout:    getEnvAsDuration("REASONING_TIMEOUT", 30*time.Second),
		ToolTimeout:         getEnvAsDuration("TOOL_TIMEOUT", 15*time.Second),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		AWSRegion:           getEnv("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "tool_idempotency"),
		DocumentBucket:   getEnv("DOCUMENT_BUCKET", ""),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		PaymentsBaseURL:       getEnv("PAYMENTS_BASE_URL", ""),
		PaymentsWebhookSecret: getEnv("PAYMENTS_WEBHOOK_SECRET", ""),
		CheckoutSuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:     getEnv("CHECKOUT_CANCEL_URL", ""),

		InsurerBaseURL: getEnv("INSURER_BASE_URL", ""),
		InsurerAPIKey:  getEnv("INSURER_API_KEY", ""),
		InsurerMarket:  strings.ToUpper(strings.TrimSpace(getEnv("INSURER_MARKET", "SG"))),

		ExtractionBaseURL: getEnv("EXTRACTION_BASE_URL", ""),
		ClaimsDataPath:    getEnv("CLAIMS_DATA_PATH", "data/claims.csv"),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		EmailFromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Aurora Travel Insurance"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramSecret:    getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		WhatsAppAuthToken: getEnv("WHATSAPP_AUTH_TOKEN", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
