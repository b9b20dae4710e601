package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hotel-pms-backend/internal/config"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

func localConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                   "development",
		PaymentGateway:        "fake",
		IdempotencyBackend:    "memory",
		PaymentSessionTTL:     time.Hour,
		WebhookRateLimit:      10,
		StaffJWTSecret:        "staff-secret",
		InternalServiceKey:    "service-key",
		OverstaySweepEnabled:  true,
		OverstaySweepInterval: time.Minute,
		MaxRoomAlternatives:   3,
	}
}

func TestSetupMetricsExposesBookingMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveDecision("approve", "approved")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "hotel_bookings_") {
		t.Fatalf("expected booking counters to be exported")
	}
}

func TestBuildAppInMemory(t *testing.T) {
	logger := logging.New("error")
	metricsHandler, m := setupMetrics()

	app, err := buildApp(localConfig(), logger, nil, nil, nil, m, metricsHandler)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	if app.scheduler == nil {
		t.Fatalf("expected overstay scheduler when sweep is enabled")
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rr.Code)
	}

	// The local checkout is only mounted for the fake gateway.
	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/fake/"+uuid.NewString(), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected unknown fake session to 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "json") {
		t.Fatalf("expected handler error body, got router fallthrough")
	}

	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/bookings/x/submit", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected internal routes to require the service key, got %d", rr.Code)
	}
}

func TestBuildAppWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := localConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.IdempotencyBackend = "redis"
	logger := logging.New("error")

	client := bootstrap.BuildRedisClient(t.Context(), cfg, logger, true)
	if client == nil {
		t.Fatalf("expected redis client")
	}
	t.Cleanup(func() { _ = client.Close() })

	metricsHandler, m := setupMetrics()
	app, err := buildApp(cfg, logger, nil, client, nil, m, metricsHandler)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	if !app.scheduler.RunOnce(t.Context()) {
		t.Fatalf("expected first sweep to acquire the lock")
	}
}

func TestBuildAppRejectsFakeGatewayInProduction(t *testing.T) {
	cfg := localConfig()
	cfg.Env = "production"
	_, m := setupMetrics()

	if _, err := buildApp(cfg, logging.New("error"), nil, nil, nil, m, nil); err == nil {
		t.Fatalf("expected fake gateway to be rejected in production")
	}
}
