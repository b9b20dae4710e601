package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// FakeGateway is a dev/test provider that hands out internal URLs and
// records every call. It must be gated by PAYMENT_GATEWAY=fake and never
// run in production.
type FakeGateway struct {
	publicBaseURL string
	logger        *logging.Logger

	mu            sync.Mutex
	syncAuthorize bool
	failCreate    error
	failCapture   error
	failVoid      error
	sessions      []SessionRequest
	captures      []string
	voids         []string
}

func NewFakeGateway(publicBaseURL string, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeGateway{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
	}
}

func (g *FakeGateway) Name() string { return "fake" }

// SetSyncAuthorize makes sessions with a saved payment method authorize
// immediately, like an off-session charge.
func (g *FakeGateway) SetSyncAuthorize(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncAuthorize = enabled
}

func (g *FakeGateway) FailCreate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCreate = err
}

func (g *FakeGateway) FailCapture(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCapture = err
}

func (g *FakeGateway) FailVoid(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failVoid = err
}

func (g *FakeGateway) CreateSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.SessionID == uuid.Nil {
		return nil, fmt.Errorf("payments: fake gateway requires session id")
	}
	if g.failCreate != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, g.failCreate)
	}
	base := g.publicBaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	if !isValidBaseURL(base) {
		return nil, fmt.Errorf("payments: fake gateway PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	g.sessions = append(g.sessions, req)

	out := &ProviderSession{
		ProviderSessionID: "fake_cs_" + req.SessionID.String(),
		ProviderIntentID:  "fake_pi_" + req.SessionID.String(),
		ExpiresAt:         req.ExpiresAt,
	}
	if g.syncAuthorize && req.PaymentMethodID != "" {
		out.Authorized = true
		return out, nil
	}
	out.RedirectURL = fmt.Sprintf("%s/payments/fake/%s", base, req.SessionID)
	return out, nil
}

func (g *FakeGateway) Capture(ctx context.Context, intentID, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCapture != nil {
		return fmt.Errorf("%w: %v", ErrGateway, g.failCapture)
	}
	g.captures = append(g.captures, intentID)
	g.logger.Info("fake gateway capture", "intent_id", intentID, "idempotency_key", idempotencyKey)
	return nil
}

func (g *FakeGateway) Void(ctx context.Context, intentID, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failVoid != nil {
		return fmt.Errorf("%w: %v", ErrGateway, g.failVoid)
	}
	g.voids = append(g.voids, intentID)
	g.logger.Info("fake gateway void", "intent_id", intentID, "idempotency_key", idempotencyKey)
	return nil
}

func (g *FakeGateway) Sessions() []SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SessionRequest(nil), g.sessions...)
}

func (g *FakeGateway) Captures() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.captures...)
}

func (g *FakeGateway) Voids() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.voids...)
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
