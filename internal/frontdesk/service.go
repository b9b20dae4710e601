// Package frontdesk moves bookings through arrival and departure: payment
// submission, room assignment, check-in and check-out.
package frontdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

var tracer = otel.Tracer("hotel.internal.frontdesk")

type Config struct {
	Store     bookings.Store
	Gateway   payments.Gateway
	Rooms     *rooms.Detector
	Publisher events.Publisher
	Alerter   notify.OperatorAlerter
	Audit     audit.Recorder
	Logger    *logging.Logger
}

type Service struct {
	store     bookings.Store
	gateway   payments.Gateway
	rooms     *rooms.Detector
	publisher events.Publisher
	alerter   notify.OperatorAlerter
	audit     audit.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		panic("frontdesk: booking store required")
	}
	if cfg.Gateway == nil {
		panic("frontdesk: gateway required")
	}
	if cfg.Rooms == nil {
		cfg.Rooms = rooms.NewDetector(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		rooms:     cfg.Rooms,
		publisher: cfg.Publisher,
		alerter:   cfg.Alerter,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitForPayment moves a draft to PENDING_PAYMENT once the guest has
// finished entering details. Submitting twice is harmless.
func (s *Service) SubmitForPayment(ctx context.Context, bookingID uuid.UUID) (*bookings.Booking, error) {
	ctx, span := tracer.Start(ctx, "frontdesk.submit")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	var (
		out  *bookings.Booking
		evts []events.Event
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.Status == bookings.StatusPendingPayment {
			out = b
			return nil
		}
		now := s.now()
		if err := bookings.Transition(b, bookings.StatusPendingPayment, bookings.Guard{At: now}); err != nil {
			return err
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		evts = append(evts, events.New(events.BookingUpdated, b, now))
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignRoom puts the booking in a room that is free for the whole stay.
// On conflict the error is a *rooms.ConflictError listing alternatives.
func (s *Service) AssignRoom(ctx context.Context, bookingID, roomID uuid.UUID, staff string) (*bookings.Booking, error) {
	ctx, span := tracer.Start(ctx, "frontdesk.assign_room")
	defer span.End()
	span.SetAttributes(
		attribute.String("hotel.booking_id", bookingID.String()),
		attribute.String("hotel.room_id", roomID.String()),
	)

	if strings.TrimSpace(staff) == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		out  *bookings.Booking
		evts []events.Event
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.RoomID != nil && *b.RoomID == roomID {
			out = b
			return nil
		}
		room, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.OutOfService {
			return fmt.Errorf("%w: room %s is out of service", bookings.ErrInvalidInput, room.Number)
		}
		if err := bookings.AssignRoom(b, room); err != nil {
			return err
		}
		if err := s.rooms.Check(ctx, tx, room.ID, b.CheckIn, b.CheckOut, b.ID); err != nil {
			return err
		}
		now := s.now()
		b.UpdatedAt = now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		evts = append(evts, events.New(events.BookingUpdated, b, now))
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return out, nil
	}
	s.record(ctx, audit.ActionAssignRoom, out, staff, "assigned", map[string]any{"room_id": roomID}, logger)
	logger.Info("room assigned", "room_id", roomID)
	return out, nil
}

// CheckIn marks the guest arrived. The booking must be confirmed and have
// a room.
func (s *Service) CheckIn(ctx context.Context, bookingID uuid.UUID, staff string) (*bookings.Booking, error) {
	ctx, span := tracer.Start(ctx, "frontdesk.check_in")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if strings.TrimSpace(staff) == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		out  *bookings.Booking
		evts []events.Event
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.Status == bookings.StatusCheckedIn {
			out = b
			return nil
		}
		now := s.now()
		if err := bookings.Transition(b, bookings.StatusCheckedIn, bookings.Guard{Actor: staff, At: now}); err != nil {
			return err
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		evts = append(evts, events.New(events.BookingUpdated, b, now))
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return out, nil
	}
	s.record(ctx, audit.ActionCheckIn, out, staff, "checked_in", nil, logger)
	logger.Info("guest checked in", "reference", out.Reference)
	return out, nil
}

// CheckOut completes the stay. Authorized extension holds are captured
// first; if any capture fails the guest stays checked in. The room is left
// dirty and an open overstay incident is resolved.
func (s *Service) CheckOut(ctx context.Context, bookingID uuid.UUID, staff string) (*bookings.Booking, error) {
	ctx, span := tracer.Start(ctx, "frontdesk.check_out")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if strings.TrimSpace(staff) == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		out        *bookings.Booking
		evts       []events.Event
		captured   int
		gatewayErr error
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.Status == bookings.StatusCompleted {
			out = b
			return nil
		}
		if b.Status != bookings.StatusCheckedIn {
			return &bookings.TransitionError{From: b.Status, To: bookings.StatusCompleted}
		}
		now := s.now()

		sessions, err := tx.ListPaymentSessions(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if sess.Purpose != bookings.PurposeExtension || sess.Status != bookings.SessionAuthorized {
				continue
			}
			if err := s.gateway.Capture(ctx, sess.ProviderIntentID, "capture-"+sess.ProviderIntentID); err != nil {
				gatewayErr = err
				return fmt.Errorf("%w: extension session %s: %w", payments.ErrCaptureFailed, sess.ID, err)
			}
			if err := sess.MarkCaptured(now); err != nil {
				return err
			}
			if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
				return err
			}
			captured++
		}

		if err := bookings.Transition(b, bookings.StatusCompleted, bookings.Guard{Actor: staff, At: now}); err != nil {
			return err
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		if b.RoomID != nil {
			room, err := tx.LockRoom(ctx, *b.RoomID)
			if err != nil && !errors.Is(err, bookings.ErrNotFound) {
				return err
			}
			if room != nil {
				room.Housekeeping = bookings.HousekeepingDirty
				if err := tx.SaveRoom(ctx, room); err != nil {
					return err
				}
			}
		}

		evt := events.New(events.BookingUpdated, b, now)
		incident, err := tx.ActiveIncident(ctx, b.ID)
		if err != nil {
			return err
		}
		if incident != nil && incident.Resolve(staff, "guest checked out", now) {
			if err := tx.UpdateIncident(ctx, incident); err != nil {
				return err
			}
			evt = evt.WithIncident(incident)
		}
		evts = append(evts, evt)
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		if gatewayErr != nil {
			s.alert(ctx, "capture_failed", bookingID, gatewayErr.Error(), logger)
		}
		return nil, err
	}
	if len(evts) == 0 {
		return out, nil
	}
	s.record(ctx, audit.ActionCheckOut, out, staff, "completed", map[string]any{"extension_captures": captured}, logger)
	logger.Info("guest checked out", "reference", out.Reference, "extension_captures", captured)
	return out, nil
}

func (s *Service) publish(ctx context.Context, tx bookings.Tx, evts []events.Event) error {
	if s.publisher == nil || len(evts) == 0 {
		return nil
	}
	if err := s.publisher.Publish(ctx, tx, evts...); err != nil {
		return fmt.Errorf("frontdesk: stage events: %w", err)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, kind string, bookingID uuid.UUID, detail string, logger *logging.Logger) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Alert(ctx, notify.Alert{
		Kind:    kind,
		Subject: fmt.Sprintf("booking %s: %s", bookingID, kind),
		Detail:  detail,
		Fields:  map[string]string{"booking_id": bookingID.String()},
	})
	if err != nil {
		logger.Warn("operator alert failed", "error", err)
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, b *bookings.Booking, actor, outcome string, details map[string]any, logger *logging.Logger) {
	if s.audit == nil || b == nil {
		return
	}
	entry := audit.Entry{
		Action:     action,
		PropertyID: b.PropertyID,
		BookingID:  b.ID,
		Actor:      actor,
		Outcome:    outcome,
	}
	if details != nil {
		entry.Details = audit.Details(details)
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		logger.Warn("audit record failed", "action", action, "error", err)
	}
}
