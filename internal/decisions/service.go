// Package decisions applies staff approval, decline and cancellation to
// bookings, capturing or voiding the payment hold as it goes.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

var tracer = otel.Tracer("hotel.internal.decisions")

// AutoCaptureActor is recorded as decision_by when a property captures
// without staff review.
const AutoCaptureActor = "system:auto-capture"

// Result is what the staff console shows after a decision.
type Result struct {
	BookingID  uuid.UUID         `json:"booking_id"`
	Status     bookings.Status   `json:"status"`
	PaidAt     *time.Time        `json:"paid_at,omitempty"`
	DecisionBy string            `json:"decision_by,omitempty"`
	DecisionAt *time.Time        `json:"decision_at,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Replayed   bool              `json:"replayed"`
	Booking    *bookings.Booking `json:"-"`
}

func resultFor(b *bookings.Booking, replayed bool) *Result {
	r := &Result{
		BookingID:  b.ID,
		Status:     b.Status,
		PaidAt:     b.PaidAt,
		DecisionBy: b.DecisionBy,
		DecisionAt: b.DecisionAt,
		Replayed:   replayed,
		Booking:    b,
	}
	switch b.Status {
	case bookings.StatusDeclined:
		r.Reason = b.DeclineReason
	case bookings.StatusCancelled:
		r.Reason = b.CancelReason
		r.DecisionBy = b.CancelledBy
	}
	return r
}

type Config struct {
	Store       bookings.Store
	Gateway     payments.Gateway
	Idempotency payments.IdempotencyStore
	Publisher   events.Publisher
	Alerter     notify.OperatorAlerter
	Audit       audit.Recorder
	Metrics     *metrics.BookingMetrics
	Logger      *logging.Logger
}

// Service owns the PENDING_APPROVAL exits and pre-arrival cancellation.
type Service struct {
	store     bookings.Store
	gateway   payments.Gateway
	idem      payments.IdempotencyStore
	publisher events.Publisher
	alerter   notify.OperatorAlerter
	audit     audit.Recorder
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		panic("decisions: booking store required")
	}
	if cfg.Gateway == nil {
		panic("decisions: gateway required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		idem:      cfg.Idempotency,
		publisher: cfg.Publisher,
		alerter:   cfg.Alerter,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Approve captures the held amount and confirms the booking. Approving an
// already approved booking returns the earlier result without touching the
// gateway.
func (s *Service) Approve(ctx context.Context, bookingID uuid.UUID, staff string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "decisions.approve")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if staff == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		res        *Result
		evts       []events.Event
		gatewayErr error
		snapshot   *bookings.Booking
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		snapshot = b.Clone()
		if b.DecisionAt != nil {
			if b.PaidAt != nil {
				res = resultFor(b, true)
				return nil
			}
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusConfirmed, Reason: "booking was already declined"}
		}
		if b.Status != bookings.StatusPendingApproval {
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusConfirmed}
		}

		sess, err := heldSession(ctx, tx, b)
		if err != nil {
			return err
		}
		if err := s.gateway.Capture(ctx, b.PaymentIntentID, "capture-"+b.PaymentIntentID); err != nil {
			gatewayErr = err
			return fmt.Errorf("%w: booking %s: %w", payments.ErrCaptureFailed, b.ID, err)
		}

		now := s.now()
		if err := bookings.Transition(b, bookings.StatusConfirmed, bookings.Guard{Actor: staff, At: now, CapturedAt: now}); err != nil {
			return err
		}
		if sess != nil && sess.Status == bookings.SessionAuthorized {
			if err := sess.MarkCaptured(now); err != nil {
				return err
			}
			if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
				return err
			}
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		evts = append(evts, events.New(events.BookingConfirmed, b, now))
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		res = resultFor(b, false)
		return nil
	})
	if err != nil {
		outcome := "rejected"
		if gatewayErr != nil {
			outcome = "capture_failed"
			s.alertGatewayFailure(ctx, "capture_failed", snapshot, gatewayErr, logger)
		}
		s.metrics.ObserveDecision("approve", outcome)
		s.record(ctx, audit.ActionApprove, snapshot, staff, outcome, map[string]string{"error": err.Error()}, logger)
		return nil, err
	}
	if res.Replayed {
		s.metrics.ObserveDecision("approve", "replayed")
		return res, nil
	}

	s.metrics.ObserveDecision("approve", "confirmed")
	s.record(ctx, audit.ActionApprove, res.Booking, staff, "confirmed", map[string]string{"intent_id": res.Booking.PaymentIntentID}, logger)
	logger.Info("booking approved", "reference", res.Booking.Reference)
	return res, nil
}

// AutoApprove is the property-level auto-capture path.
func (s *Service) AutoApprove(ctx context.Context, bookingID uuid.UUID) error {
	_, err := s.Approve(ctx, bookingID, AutoCaptureActor)
	return err
}

// Decline releases the hold and declines the booking.
func (s *Service) Decline(ctx context.Context, bookingID uuid.UUID, staff, reason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "decisions.decline")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if staff == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		res        *Result
		evts       []events.Event
		gatewayErr error
		snapshot   *bookings.Booking
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		snapshot = b.Clone()
		if b.DecisionAt != nil {
			if b.Status == bookings.StatusDeclined {
				res = resultFor(b, true)
				return nil
			}
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusDeclined, Reason: "booking was already approved"}
		}
		if b.Status != bookings.StatusPendingApproval {
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusDeclined}
		}

		sess, err := heldSession(ctx, tx, b)
		if err != nil {
			return err
		}
		if err := s.gateway.Void(ctx, b.PaymentIntentID, "void-"+b.PaymentIntentID); err != nil {
			gatewayErr = err
			return fmt.Errorf("%w: booking %s: %w", payments.ErrVoidFailed, b.ID, err)
		}

		now := s.now()
		if err := bookings.Transition(b, bookings.StatusDeclined, bookings.Guard{Actor: staff, At: now, Reason: reason}); err != nil {
			return err
		}
		if sess != nil && !sess.Terminal() {
			if err := sess.MarkVoided(now); err != nil {
				return err
			}
			if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
				return err
			}
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		evts = append(evts, events.New(events.BookingDeclined, b, now))
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		res = resultFor(b, false)
		return nil
	})
	if err != nil {
		outcome := "rejected"
		if gatewayErr != nil {
			outcome = "void_failed"
			s.alertGatewayFailure(ctx, "void_failed", snapshot, gatewayErr, logger)
		}
		s.metrics.ObserveDecision("decline", outcome)
		s.record(ctx, audit.ActionDecline, snapshot, staff, outcome, map[string]string{"error": err.Error()}, logger)
		return nil, err
	}
	if res.Replayed {
		s.metrics.ObserveDecision("decline", "replayed")
		return res, nil
	}

	s.metrics.ObserveDecision("decline", "declined")
	s.record(ctx, audit.ActionDecline, res.Booking, staff, "declined", map[string]string{"reason": reason}, logger)
	logger.Info("booking declined", "reference", res.Booking.Reference)
	return res, nil
}

// Cancel closes a booking that has not been confirmed. An authorized hold
// is voided first; a session the guest has not finished is left to the
// late-authorization path, which voids it if it ever completes.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, actor, reason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "decisions.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if actor == "" {
		return nil, fmt.Errorf("%w: actor required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "actor", actor)

	var (
		res        *Result
		evts       []events.Event
		gatewayErr error
		snapshot   *bookings.Booking
		releaseKey string
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		snapshot = b.Clone()
		if b.Status == bookings.StatusCancelled {
			res = resultFor(b, true)
			return nil
		}
		if !b.Status.CanTransitionTo(bookings.StatusCancelled) {
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusCancelled}
		}

		now := s.now()
		// Guard first so a refund-requiring cancellation never reaches the gateway.
		next := b.Clone()
		if err := bookings.Transition(next, bookings.StatusCancelled, bookings.Guard{Actor: actor, At: now, Reason: reason}); err != nil {
			return err
		}

		sessions, err := tx.ListPaymentSessions(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if sess.Purpose != bookings.PurposeInitial || sess.Status != bookings.SessionAuthorized {
				continue
			}
			if err := s.gateway.Void(ctx, sess.ProviderIntentID, "void-"+sess.ProviderIntentID); err != nil {
				gatewayErr = err
				return fmt.Errorf("%w: booking %s: %w", payments.ErrVoidFailed, b.ID, err)
			}
			if err := sess.MarkVoided(now); err != nil {
				return err
			}
			if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
				return err
			}
		}

		*b = *next
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		releaseKey = payments.SessionKey(b.PropertyID, b.Reference)
		evts = append(evts,
			events.New(events.BookingCancelled, b, now),
			events.New(events.BookingUpdated, b, now),
		)
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		res = resultFor(b, false)
		return nil
	})
	if err != nil {
		outcome := "rejected"
		if gatewayErr != nil {
			outcome = "void_failed"
			s.alertGatewayFailure(ctx, "void_failed", snapshot, gatewayErr, logger)
		}
		s.metrics.ObserveDecision("cancel", outcome)
		return nil, err
	}
	if res.Replayed {
		s.metrics.ObserveDecision("cancel", "replayed")
		return res, nil
	}

	if s.idem != nil && releaseKey != "" {
		if err := s.idem.Release(ctx, releaseKey); err != nil {
			logger.Warn("failed to release session key", "key", releaseKey, "error", err)
		}
	}
	s.metrics.ObserveDecision("cancel", "cancelled")
	s.record(ctx, audit.ActionCancel, res.Booking, actor, "cancelled", map[string]string{"reason": reason}, logger)
	logger.Info("booking cancelled", "reference", res.Booking.Reference)
	return res, nil
}

// heldSession finds the initial session behind the booking's authorization.
// A booking can be authorized without a stored session when it was
// imported, so nil is not an error.
func heldSession(ctx context.Context, tx bookings.Tx, b *bookings.Booking) (*bookings.PaymentSession, error) {
	if b.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: booking %s has no payment intent", bookings.ErrIntegrity, b.ID)
	}
	sessions, err := tx.ListPaymentSessions(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.Purpose == bookings.PurposeInitial && sess.ProviderIntentID == b.PaymentIntentID {
			return sess, nil
		}
	}
	return nil, nil
}

// publish stages evts in tx so they commit or roll back with the decision.
func (s *Service) publish(ctx context.Context, tx bookings.Tx, evts []events.Event) error {
	if s.publisher == nil || len(evts) == 0 {
		return nil
	}
	if err := s.publisher.Publish(ctx, tx, evts...); err != nil {
		return fmt.Errorf("decisions: stage events: %w", err)
	}
	return nil
}

func (s *Service) alertGatewayFailure(ctx context.Context, kind string, b *bookings.Booking, cause error, logger *logging.Logger) {
	logger.Error("payment gateway call failed", "kind", kind, "error", cause)
	if s.alerter == nil || b == nil {
		return
	}
	err := s.alerter.Alert(ctx, notify.Alert{
		Kind:    kind,
		Subject: fmt.Sprintf("booking %s: %s", b.Reference, kind),
		Detail:  cause.Error(),
		Fields: map[string]string{
			"booking_id":  b.ID.String(),
			"property_id": b.PropertyID.String(),
			"intent_id":   b.PaymentIntentID,
			"status":      string(b.Status),
		},
	})
	if err != nil {
		logger.Warn("operator alert failed", "error", err)
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, b *bookings.Booking, actor, outcome string, details map[string]string, logger *logging.Logger) {
	if s.audit == nil || b == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		Action:     action,
		PropertyID: b.PropertyID,
		BookingID:  b.ID,
		Actor:      actor,
		Outcome:    outcome,
		Details:    audit.Details(details),
	})
	if err != nil {
		logger.Warn("audit record failed", "action", action, "error", err)
	}
}

// IsGatewayFailure reports whether err came from a failed capture or void.
func IsGatewayFailure(err error) bool {
	return errors.Is(err, payments.ErrCaptureFailed) || errors.Is(err, payments.ErrVoidFailed)
}
