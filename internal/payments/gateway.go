package payments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
)

// Gateway is the provider-side half of authorize-then-capture. Every
// session it opens uses manual capture.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*ProviderSession, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) error
	Void(ctx context.Context, intentID, idempotencyKey string) error
}

// SessionRequest describes the hold the gateway should place.
type SessionRequest struct {
	SessionID   uuid.UUID
	BookingID   uuid.UUID
	PropertyID  uuid.UUID
	Reference   string
	Purpose     bookings.SessionPurpose
	ExtensionID *uuid.UUID
	AmountCents int64
	Currency    string
	Description string
	GuestEmail  string
	// CustomerID and PaymentMethodID allow an off-session authorization
	// without redirecting the guest.
	CustomerID      string
	PaymentMethodID string
	ExpiresAt       time.Time
	IdempotencyKey  string
}

// ProviderSession is what the gateway hands back. Authorized is true when
// the hold was placed synchronously and no webhook will follow for it.
type ProviderSession struct {
	ProviderSessionID string
	ProviderIntentID  string
	RedirectURL       string
	ExpiresAt         time.Time
	Authorized        bool
}

type instrumentedGateway struct {
	Gateway
	metrics *metrics.BookingMetrics
}

// WithMetrics records call counts and latency for every gateway operation.
func WithMetrics(g Gateway, m *metrics.BookingMetrics) Gateway {
	if m == nil {
		return g
	}
	return &instrumentedGateway{Gateway: g, metrics: m}
}

func (g *instrumentedGateway) CreateSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	start := time.Now()
	out, err := g.Gateway.CreateSession(ctx, req)
	g.metrics.ObserveGatewayCall("create_session", err, time.Since(start).Seconds())
	return out, err
}

func (g *instrumentedGateway) Capture(ctx context.Context, intentID, idempotencyKey string) error {
	start := time.Now()
	err := g.Gateway.Capture(ctx, intentID, idempotencyKey)
	g.metrics.ObserveGatewayCall("capture", err, time.Since(start).Seconds())
	return err
}

func (g *instrumentedGateway) Void(ctx context.Context, intentID, idempotencyKey string) error {
	start := time.Now()
	err := g.Gateway.Void(ctx, intentID, idempotencyKey)
	g.metrics.ObserveGatewayCall("void", err, time.Since(start).Seconds())
	return err
}
