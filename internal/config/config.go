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
	DatabaseURL   string
	DBLockTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// IdempotencyBackend selects the store used to dedupe session creation
	// and to guard the overstay sweep: redis, dynamodb or memory.
	IdempotencyBackend string
	IdempotencyTable   string

	PaymentGateway      string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	PaymentSessionTTL   time.Duration
	WebhookRateLimit    float64

	StaffJWTSecret     string
	InternalServiceKey string
	CORSAllowedOrigins []string

	OverstaySweepEnabled  bool
	OverstaySweepInterval time.Duration
	MaxRoomAlternatives   int

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	EventsQueueURL       string
	WebhookArchiveBucket string

	// Operator alerting
	OperatorEmail     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBLockTimeout: getEnvAsDuration("DB_LOCK_TIMEOUT", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		IdempotencyBackend: strings.ToLower(strings.TrimSpace(getEnv("IDEMPOTENCY_BACKEND", "redis"))),
		IdempotencyTable:   getEnv("IDEMPOTENCY_TABLE", "booking_idempotency"),

		PaymentGateway:      strings.ToLower(strings.TrimSpace(getEnv("PAYMENT_GATEWAY", "stripe"))),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		PaymentSessionTTL:   getEnvAsDuration("PAYMENT_SESSION_TTL", time.Hour),
		WebhookRateLimit:    getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),

		StaffJWTSecret:     getEnv("STAFF_JWT_SECRET", ""),
		InternalServiceKey: getEnv("INTERNAL_SERVICE_KEY", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		OverstaySweepEnabled:  getEnvAsBool("OVERSTAY_SWEEP_ENABLED", true),
		OverstaySweepInterval: getEnvAsDuration("OVERSTAY_SWEEP_INTERVAL", time.Hour),
		MaxRoomAlternatives:   getEnvAsInt("MAX_ROOM_ALTERNATIVES", 5),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:       getEnv("EVENTS_QUEUE_URL", ""),
		WebhookArchiveBucket: getEnv("WEBHOOK_ARCHIVE_BUCKET", ""),

		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Front Desk Ops"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
