package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

var tracer = otel.Tracer("hotel.internal.payments")

// SessionHandle is returned to the guest flow, which redirects the guest.
type SessionHandle struct {
	SessionID        uuid.UUID `json:"session_id"`
	PaymentReference string    `json:"payment_reference"`
	RedirectURL      string    `json:"redirect_url,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// OpenRequest describes a session opened against a locked booking.
type OpenRequest struct {
	Purpose     bookings.SessionPurpose
	ExtensionID *uuid.UUID
	AmountCents int64
	Currency    string
	Description string
}

// AuthorizationService opens manual-capture payment sessions.
type AuthorizationService struct {
	store   bookings.Store
	gateway Gateway
	idem    IdempotencyStore
	ttl     time.Duration
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewAuthorizationService(store bookings.Store, gateway Gateway, idem IdempotencyStore, ttl time.Duration, m *metrics.BookingMetrics, logger *logging.Logger) *AuthorizationService {
	if store == nil {
		panic("payments: booking store required")
	}
	if gateway == nil {
		panic("payments: gateway required")
	}
	if idem == nil {
		idem = NewMemoryIdempotencyStore()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthorizationService{
		store:   store,
		gateway: gateway,
		idem:    idem,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens the initial authorization for a PENDING_PAYMENT
// booking. It does not wait for the guest to complete it.
func (s *AuthorizationService) CreateSession(ctx context.Context, bookingID uuid.UUID) (*SessionHandle, error) {
	ctx, span := tracer.Start(ctx, "payments.create_session")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	var handle *SessionHandle
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.Status != bookings.StatusPendingPayment {
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusPendingApproval, Reason: "payment session requires PENDING_PAYMENT"}
		}

		key := SessionKey(b.PropertyID, b.Reference)
		reserved := s.reserve(ctx, key)
		release := reserved
		defer func() {
			if release {
				if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
					s.logger.Warn("failed to release session key", "key", key, "error", err)
				}
			}
		}()

		// The reservation is a fast path; stored sessions decide.
		sessions, err := tx.ListPaymentSessions(ctx, b.ID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, existing := range sessions {
			if existing.Purpose == bookings.PurposeInitial && existing.Live(now) {
				release = false
				return fmt.Errorf("%w: session %s expires %s", bookings.ErrAlreadyInitiated, existing.ID, existing.ExpiresAt.Format(time.RFC3339))
			}
		}

		sess, err := s.OpenSession(ctx, tx, b, OpenRequest{
			Purpose:     bookings.PurposeInitial,
			AmountCents: b.TotalCents,
			Currency:    b.Currency,
			Description: fmt.Sprintf("Reservation %s (%s to %s)", b.Reference, b.CheckIn, b.CheckOut),
		})
		if err != nil {
			return err
		}
		if err := bookings.RecordPaymentSession(b, sess.Provider, sess.ProviderSessionID); err != nil {
			return err
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		handle = &SessionHandle{
			SessionID:        sess.ID,
			PaymentReference: sess.ProviderSessionID,
			RedirectURL:      sess.RedirectURL,
			ExpiresAt:        sess.ExpiresAt,
		}
		release = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment session created", "booking_id", bookingID, "payment_reference", handle.PaymentReference)
	return handle, nil
}

func (s *AuthorizationService) reserve(ctx context.Context, key string) bool {
	ok, err := s.idem.Reserve(ctx, key, s.ttl)
	switch {
	case err != nil:
		s.metrics.ObserveReservation("error")
		s.logger.Warn("idempotency store unavailable, relying on stored sessions", "key", key, "error", err)
		return false
	case !ok:
		s.metrics.ObserveReservation("held")
		return false
	}
	s.metrics.ObserveReservation("reserved")
	return true
}

// OpenSession creates a provider session for b inside tx and stores it. A
// session the gateway authorized synchronously comes back already
// authorized.
func (s *AuthorizationService) OpenSession(ctx context.Context, tx bookings.Tx, b *bookings.Booking, req OpenRequest) (*bookings.PaymentSession, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: session amount must be positive", bookings.ErrInvalidInput)
	}
	currency := req.Currency
	if currency == "" {
		currency = b.Currency
	}
	now := s.now()
	sess := &bookings.PaymentSession{
		ID:          uuid.New(),
		BookingID:   b.ID,
		Purpose:     req.Purpose,
		ExtensionID: req.ExtensionID,
		Provider:    s.gateway.Name(),
		AmountCents: req.AmountCents,
		Currency:    currency,
		CaptureMode: "manual",
		Status:      bookings.SessionCreated,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}

	greq := SessionRequest{
		SessionID:      sess.ID,
		BookingID:      b.ID,
		PropertyID:     b.PropertyID,
		Reference:      b.Reference,
		Purpose:        req.Purpose,
		ExtensionID:    req.ExtensionID,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		Description:    req.Description,
		GuestEmail:     b.GuestEmail,
		ExpiresAt:      sess.ExpiresAt,
		IdempotencyKey: "session-" + sess.ID.String(),
	}
	if req.Purpose == bookings.PurposeExtension {
		greq.CustomerID = b.PaymentCustomerID
		greq.PaymentMethodID = b.PaymentMethodID
	}
	ps, err := s.gateway.CreateSession(ctx, greq)
	if err != nil {
		if !errors.Is(err, ErrGateway) {
			err = fmt.Errorf("%w: %v", ErrGateway, err)
		}
		return nil, fmt.Errorf("payments: open %s session for %s: %w", req.Purpose, b.ID, err)
	}
	sess.ProviderSessionID = ps.ProviderSessionID
	sess.ProviderIntentID = ps.ProviderIntentID
	sess.RedirectURL = ps.RedirectURL
	if !ps.ExpiresAt.IsZero() {
		sess.ExpiresAt = ps.ExpiresAt
	}
	if ps.Authorized {
		if err := sess.MarkAuthorized(ps.ProviderIntentID, now); err != nil {
			return nil, err
		}
	}
	if err := tx.InsertPaymentSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}
