package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PAYMENT_SESSION_TTL", "")
	t.Setenv("IDEMPOTENCY_BACKEND", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.PaymentSessionTTL != time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.PaymentSessionTTL)
	}
	if cfg.IdempotencyBackend != "redis" {
		t.Fatalf("expected redis idempotency backend, got %s", cfg.IdempotencyBackend)
	}
	if cfg.OverstaySweepInterval != time.Hour {
		t.Fatalf("expected hourly overstay sweep, got %s", cfg.OverstaySweepInterval)
	}
	if cfg.IsProduction() {
		t.Fatalf("development config reported production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DB_LOCK_TIMEOUT", "2s")
	t.Setenv("PAYMENT_GATEWAY", " Fake ")
	t.Setenv("IDEMPOTENCY_BACKEND", "DynamoDB")
	t.Setenv("OVERSTAY_SWEEP_INTERVAL", "15m")
	t.Setenv("OVERSTAY_SWEEP_ENABLED", "false")
	t.Setenv("WEBHOOK_RATE_LIMIT", "12.5")
	t.Setenv("MAX_ROOM_ALTERNATIVES", "not-a-number")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.DBLockTimeout != 2*time.Second {
		t.Fatalf("expected lock timeout override, got %s", cfg.DBLockTimeout)
	}
	if cfg.PaymentGateway != "fake" {
		t.Fatalf("expected normalized gateway, got %q", cfg.PaymentGateway)
	}
	if cfg.IdempotencyBackend != "dynamodb" {
		t.Fatalf("expected normalized idempotency backend, got %q", cfg.IdempotencyBackend)
	}
	if cfg.OverstaySweepInterval != 15*time.Minute {
		t.Fatalf("expected sweep interval override, got %s", cfg.OverstaySweepInterval)
	}
	if cfg.OverstaySweepEnabled {
		t.Fatalf("expected sweep disabled")
	}
	if cfg.WebhookRateLimit != 12.5 {
		t.Fatalf("expected webhook rate override, got %v", cfg.WebhookRateLimit)
	}
	if cfg.MaxRoomAlternatives != 5 {
		t.Fatalf("expected invalid int to fall back to default, got %d", cfg.MaxRoomAlternatives)
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://desk.example.com, ,https://ops.example.com ")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CORSAllowedOrigins[1] != "https://ops.example.com" {
		t.Fatalf("expected trimmed origin, got %q", cfg.CORSAllowedOrigins[1])
	}
}
