package overstay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// SessionOpener opens a payment session inside the caller's transaction.
type SessionOpener interface {
	OpenSession(ctx context.Context, tx bookings.Tx, b *bookings.Booking, req payments.OpenRequest) (*bookings.PaymentSession, error)
}

// MaxExtensionNights caps a single extension in either request form.
const MaxExtensionNights = 60

// ExtendRequest asks to move checkout later. Exactly one of NewCheckout and
// AddNights is set.
type ExtendRequest struct {
	BookingID      uuid.UUID
	Staff          string
	NewCheckout    *bookings.Date
	AddNights      *int
	IdempotencyKey string
}

type ExtendResult struct {
	ExtensionID      uuid.UUID                `json:"extension_id"`
	NewCheckout      bookings.Date            `json:"new_checkout_date"`
	PaymentReference string                   `json:"payment_reference"`
	Status           bookings.ExtensionStatus `json:"status"`
	RedirectURL      string                   `json:"redirect_url,omitempty"`
	AmountCents      int64                    `json:"amount_cents"`
	Currency         string                   `json:"currency"`
	IncidentResolved bool                     `json:"incident_resolved"`
	Replayed         bool                     `json:"replayed"`
}

type AckResult struct {
	IncidentID     uuid.UUID               `json:"incident_id"`
	IncidentStatus bookings.IncidentStatus `json:"incident_status"`
}

type StatusResult struct {
	BookingID     uuid.UUID                  `json:"booking_id"`
	BookingStatus bookings.Status            `json:"booking_status"`
	CheckOut      bookings.Date              `json:"check_out"`
	Overdue       bool                       `json:"overdue"`
	HoursOverdue  float64                    `json:"hours_overdue"`
	Incident      *bookings.OverstayIncident `json:"incident,omitempty"`
}

type ServiceConfig struct {
	Store     bookings.Store
	Sessions  SessionOpener
	Gateway   payments.Gateway
	Rooms     *rooms.Detector
	Publisher events.Publisher
	Alerter   notify.OperatorAlerter
	Audit     audit.Recorder
	Metrics   *metrics.BookingMetrics
	Logger    *logging.Logger
}

// Service handles staff actions on overstays and completes extensions
// whose payment resolves later.
type Service struct {
	store     bookings.Store
	sessions  SessionOpener
	gateway   payments.Gateway
	rooms     *rooms.Detector
	publisher events.Publisher
	alerter   notify.OperatorAlerter
	audit     audit.Recorder
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("overstay: booking store required")
	}
	if cfg.Sessions == nil {
		panic("overstay: session opener required")
	}
	if cfg.Gateway == nil {
		panic("overstay: gateway required")
	}
	if cfg.Rooms == nil {
		cfg.Rooms = rooms.NewDetector(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		gateway:   cfg.Gateway,
		rooms:     cfg.Rooms,
		publisher: cfg.Publisher,
		alerter:   cfg.Alerter,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r ExtendRequest) validate() error {
	if r.BookingID == uuid.Nil {
		return fmt.Errorf("%w: booking id required", bookings.ErrInvalidInput)
	}
	if strings.TrimSpace(r.Staff) == "" {
		return fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key required", bookings.ErrInvalidInput)
	}
	if (r.NewCheckout == nil) == (r.AddNights == nil) {
		return fmt.Errorf("%w: exactly one of new_checkout_date and add_nights is required", bookings.ErrInvalidInput)
	}
	if r.AddNights != nil && *r.AddNights <= 0 {
		return fmt.Errorf("%w: add_nights must be positive", bookings.ErrInvalidInput)
	}
	if r.AddNights != nil && *r.AddNights > MaxExtensionNights {
		return fmt.Errorf("%w: add_nights may not exceed %d", bookings.ErrInvalidInput, MaxExtensionNights)
	}
	return nil
}

// Extend moves an in-house guest's checkout later and opens a payment
// authorization for the added nights. A repeated idempotency key returns
// the extension it created the first time.
func (s *Service) Extend(ctx context.Context, req ExtendRequest) (*ExtendResult, error) {
	ctx, span := tracer.Start(ctx, "overstay.extend")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", req.BookingID.String()))

	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := s.logger.With("booking_id", req.BookingID, "staff", req.Staff)

	var (
		res      *ExtendResult
		evts     []events.Event
		snapshot *bookings.Booking
	)
	err := s.store.WithBookingLock(ctx, req.BookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		existing, err := tx.GetExtensionByKey(ctx, b.ID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			res, err = replayResult(ctx, tx, existing)
			return err
		}

		if b.Status != bookings.StatusCheckedIn {
			return &bookings.TransitionError{From: b.Status, To: b.Status, Reason: "extension requires CHECKED_IN"}
		}
		if b.RoomID == nil {
			return fmt.Errorf("%w: checked-in booking %s has no room", bookings.ErrIntegrity, b.ID)
		}
		oldCheckout := b.CheckOut
		var newCheckout bookings.Date
		if req.NewCheckout != nil {
			newCheckout = *req.NewCheckout
		} else {
			newCheckout = oldCheckout.AddDays(*req.AddNights)
		}
		if !newCheckout.After(oldCheckout) {
			return fmt.Errorf("%w: new checkout %s must be after %s", bookings.ErrInvalidInput, newCheckout, oldCheckout)
		}
		if oldCheckout.DaysUntil(newCheckout) > MaxExtensionNights {
			return fmt.Errorf("%w: new checkout %s is more than %d nights after %s", bookings.ErrInvalidInput, newCheckout, MaxExtensionNights, oldCheckout)
		}

		if _, err := tx.LockRoom(ctx, *b.RoomID); err != nil {
			return err
		}
		if err := s.rooms.Check(ctx, tx, *b.RoomID, oldCheckout, newCheckout, b.ID); err != nil {
			return err
		}

		pricing, err := PriceNights(b.RatePlan, oldCheckout, newCheckout)
		if err != nil {
			return err
		}
		now := s.now()
		ext := &bookings.BookingExtension{
			ID:             uuid.New(),
			BookingID:      b.ID,
			OldCheckout:    oldCheckout,
			NewCheckout:    newCheckout,
			NightsAdded:    oldCheckout.DaysUntil(newCheckout),
			Pricing:        pricing,
			AmountCents:    pricing.TotalCents,
			Currency:       b.Currency,
			IdempotencyKey: req.IdempotencyKey,
			Status:         bookings.ExtensionPendingPayment,
			RequestedBy:    req.Staff,
			CreatedAt:      now,
		}
		extID := ext.ID
		sess, err := s.sessions.OpenSession(ctx, tx, b, payments.OpenRequest{
			Purpose:     bookings.PurposeExtension,
			ExtensionID: &extID,
			AmountCents: ext.AmountCents,
			Currency:    ext.Currency,
			Description: fmt.Sprintf("Stay extension %s: %d night(s) to %s", b.Reference, ext.NightsAdded, newCheckout),
		})
		if err != nil {
			return err
		}
		sessID := sess.ID
		ext.PaymentSessionID = &sessID
		if err := tx.InsertExtension(ctx, ext); err != nil {
			return err
		}

		resolved := false
		if sess.Status == bookings.SessionAuthorized {
			evts, resolved, err = s.apply(ctx, tx, b, ext, req.Staff, now)
			if err != nil {
				return err
			}
		} else {
			evts = append(evts, events.New(events.BookingUpdated, b, now).WithExtension(ext))
		}
		if err := s.publish(ctx, tx, evts); err != nil {
			return err
		}
		snapshot = b.Clone()
		res = &ExtendResult{
			ExtensionID:      ext.ID,
			NewCheckout:      ext.NewCheckout,
			PaymentReference: paymentReference(sess),
			Status:           ext.Status,
			RedirectURL:      sess.RedirectURL,
			AmountCents:      ext.AmountCents,
			Currency:         ext.Currency,
			IncidentResolved: resolved,
		}
		return nil
	})
	if err != nil {
		var conflict *rooms.ConflictError
		if errors.As(err, &conflict) {
			s.metrics.ObserveExtension("conflict")
		} else {
			s.metrics.ObserveExtension("error")
		}
		return nil, err
	}
	if res.Replayed {
		s.metrics.ObserveExtension("replayed")
		return res, nil
	}

	s.metrics.ObserveExtension(string(res.Status))
	s.record(ctx, audit.ActionExtend, snapshot, req.Staff, string(res.Status), map[string]any{
		"extension_id": res.ExtensionID,
		"new_checkout": res.NewCheckout,
		"amount_cents": res.AmountCents,
	}, logger)
	logger.Info("stay extension requested", "extension_id", res.ExtensionID, "status", res.Status, "new_checkout", res.NewCheckout)
	return res, nil
}

// apply advances checkout for an authorized extension and resolves the
// incident when the guest is no longer overdue.
func (s *Service) apply(ctx context.Context, tx bookings.Tx, b *bookings.Booking, ext *bookings.BookingExtension, actor string, now time.Time) ([]events.Event, bool, error) {
	if err := bookings.ExtendStay(b, ext.NewCheckout, ext.AmountCents, now); err != nil {
		return nil, false, err
	}
	if err := tx.SaveBooking(ctx, b); err != nil {
		return nil, false, err
	}
	ext.Status = bookings.ExtensionConfirmed
	ext.ConfirmedAt = &now
	if err := tx.UpdateExtension(ctx, ext); err != nil {
		return nil, false, err
	}

	evt := events.New(events.BookingOverstayExtended, b, now).WithExtension(ext)
	resolved := false
	incident, err := tx.ActiveIncident(ctx, b.ID)
	if err != nil {
		return nil, false, err
	}
	if incident != nil {
		prop, err := tx.GetProperty(ctx, b.PropertyID)
		if err != nil {
			return nil, false, err
		}
		loc, err := prop.Location()
		if err != nil {
			return nil, false, err
		}
		// Extending to today after noon leaves the guest overdue.
		if !IsOverdue(ext.NewCheckout, loc, now) && incident.Resolve(actor, "checkout extended to "+ext.NewCheckout.String(), now) {
			if err := tx.UpdateIncident(ctx, incident); err != nil {
				return nil, false, err
			}
			resolved = true
			evt = evt.WithIncident(incident)
		}
	}
	return []events.Event{evt, events.New(events.BookingUpdated, b, now).WithExtension(ext)}, resolved, nil
}

// CompleteExtension confirms an extension once its payment authorizes
// asynchronously. It runs inside the webhook transaction with the booking
// locked. If the stay can no longer be extended the hold is voided and the
// extension fails without an error, so the event is still recorded.
func (s *Service) CompleteExtension(ctx context.Context, tx bookings.Tx, b *bookings.Booking, sess *bookings.PaymentSession, at time.Time) ([]events.Event, error) {
	if sess.ExtensionID == nil {
		return nil, fmt.Errorf("%w: extension session %s has no extension", bookings.ErrIntegrity, sess.ID)
	}
	ext, err := tx.GetExtension(ctx, *sess.ExtensionID)
	if err != nil {
		return nil, err
	}
	if ext.Status != bookings.ExtensionPendingPayment {
		return nil, nil
	}
	logger := s.logger.With("booking_id", b.ID, "extension_id", ext.ID)

	reason := ""
	switch {
	case b.Status != bookings.StatusCheckedIn:
		reason = fmt.Sprintf("booking is %s", b.Status)
	case !b.CheckOut.Equal(ext.OldCheckout):
		reason = fmt.Sprintf("checkout moved to %s since the extension was requested", b.CheckOut)
	case b.RoomID == nil:
		reason = "booking has no room"
	default:
		if _, err := tx.LockRoom(ctx, *b.RoomID); err != nil {
			return nil, err
		}
		err := s.rooms.Check(ctx, tx, *b.RoomID, ext.OldCheckout, ext.NewCheckout, b.ID)
		var conflict *rooms.ConflictError
		switch {
		case errors.As(err, &conflict):
			reason = conflict.Error()
		case err != nil:
			return nil, err
		}
	}

	if reason != "" {
		if err := s.gateway.Void(ctx, sess.ProviderIntentID, "void-"+sess.ProviderIntentID); err != nil {
			return nil, fmt.Errorf("%w: extension %s: %v", payments.ErrVoidFailed, ext.ID, err)
		}
		if !sess.Terminal() {
			if err := sess.MarkVoided(at); err != nil {
				return nil, err
			}
			if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
				return nil, err
			}
		}
		ext.Status = bookings.ExtensionFailed
		if err := tx.UpdateExtension(ctx, ext); err != nil {
			return nil, err
		}
		s.metrics.ObserveExtension(string(bookings.ExtensionFailed))
		logger.Warn("extension could not be applied, hold voided", "reason", reason)
		s.alert(ctx, "extension_failed", b, reason, logger)
		return nil, nil
	}

	evts, _, err := s.apply(ctx, tx, b, ext, ext.RequestedBy, at)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveExtension(string(bookings.ExtensionConfirmed))
	logger.Info("stay extension confirmed", "new_checkout", ext.NewCheckout)
	return evts, nil
}

// FailExtension marks the extension of an expired or cancelled session as
// failed. Checkout is left where it was.
func (s *Service) FailExtension(ctx context.Context, tx bookings.Tx, sess *bookings.PaymentSession, reason string, at time.Time) error {
	if sess.ExtensionID == nil {
		return nil
	}
	ext, err := tx.GetExtension(ctx, *sess.ExtensionID)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			return nil
		}
		return err
	}
	if ext.Status != bookings.ExtensionPendingPayment {
		return nil
	}
	ext.Status = bookings.ExtensionFailed
	if err := tx.UpdateExtension(ctx, ext); err != nil {
		return err
	}
	s.metrics.ObserveExtension(string(bookings.ExtensionFailed))
	s.logger.Info("stay extension failed", "extension_id", ext.ID, "booking_id", ext.BookingID, "reason", reason)
	return nil
}

// Acknowledge records that staff have seen the overstay, or dismisses it.
// Acknowledging again only replaces the note.
func (s *Service) Acknowledge(ctx context.Context, bookingID uuid.UUID, staff, note string, dismiss bool) (*AckResult, error) {
	ctx, span := tracer.Start(ctx, "overstay.acknowledge")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.booking_id", bookingID.String()))

	if strings.TrimSpace(staff) == "" {
		return nil, fmt.Errorf("%w: staff id required", bookings.ErrInvalidInput)
	}
	logger := s.logger.With("booking_id", bookingID, "staff", staff)

	var (
		res      *AckResult
		evt      events.Event
		snapshot *bookings.Booking
	)
	err := s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		incident, err := tx.ActiveIncident(ctx, b.ID)
		if err != nil {
			return err
		}
		if incident == nil {
			return fmt.Errorf("%w: booking %s", bookings.ErrNoActiveIncident, b.ID)
		}
		now := s.now()
		switch {
		case dismiss:
			incident.Status = bookings.IncidentDismissed
			incident.DismissedBy = staff
			incident.DismissedAt = &now
			incident.DismissNote = note
		case incident.Status == bookings.IncidentAcked:
			incident.AckNote = note
		default:
			incident.Status = bookings.IncidentAcked
			incident.AckedBy = staff
			incident.AckedAt = &now
			incident.AckNote = note
		}
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return err
		}
		snapshot = b.Clone()
		evt = events.New(events.BookingOverstayAcknowledged, b, now).WithIncident(incident)
		if err := s.publish(ctx, tx, []events.Event{evt}); err != nil {
			return err
		}
		res = &AckResult{IncidentID: incident.ID, IncidentStatus: incident.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveIncident(string(res.IncidentStatus), string(evt.Incident.Severity))
	s.record(ctx, audit.ActionAcknowledge, snapshot, staff, string(res.IncidentStatus), map[string]any{"note": note}, logger)
	return res, nil
}

// Status reports the booking's active incident and how late the guest is.
func (s *Service) Status(ctx context.Context, bookingID uuid.UUID, now time.Time) (*StatusResult, error) {
	var res *StatusResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		prop, err := tx.GetProperty(ctx, b.PropertyID)
		if err != nil {
			return err
		}
		loc, err := prop.Location()
		if err != nil {
			return err
		}
		incident, err := tx.ActiveIncident(ctx, b.ID)
		if err != nil {
			return err
		}
		res = &StatusResult{
			BookingID:     b.ID,
			BookingStatus: b.Status,
			CheckOut:      b.CheckOut,
			Incident:      incident,
		}
		if b.Status == bookings.StatusCheckedIn {
			res.Overdue = IsOverdue(b.CheckOut, loc, now)
			res.HoursOverdue = HoursOverdue(b.CheckOut, loc, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func replayResult(ctx context.Context, tx bookings.Tx, ext *bookings.BookingExtension) (*ExtendResult, error) {
	res := &ExtendResult{
		ExtensionID: ext.ID,
		NewCheckout: ext.NewCheckout,
		Status:      ext.Status,
		AmountCents: ext.AmountCents,
		Currency:    ext.Currency,
		Replayed:    true,
	}
	if ext.PaymentSessionID == nil {
		return res, nil
	}
	sess, err := tx.GetPaymentSession(ctx, *ext.PaymentSessionID)
	if err != nil {
		return nil, err
	}
	res.PaymentReference = paymentReference(sess)
	if sess.Status == bookings.SessionCreated {
		res.RedirectURL = sess.RedirectURL
	}
	return res, nil
}

func paymentReference(sess *bookings.PaymentSession) string {
	if sess.ProviderIntentID != "" && sess.Status == bookings.SessionAuthorized {
		return sess.ProviderIntentID
	}
	return sess.ProviderSessionID
}

func (s *Service) publish(ctx context.Context, tx bookings.Tx, evts []events.Event) error {
	if s.publisher == nil || len(evts) == 0 {
		return nil
	}
	if err := s.publisher.Publish(ctx, tx, evts...); err != nil {
		return fmt.Errorf("overstay: stage events: %w", err)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, kind string, b *bookings.Booking, detail string, logger *logging.Logger) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Alert(ctx, notify.Alert{
		Kind:    kind,
		Subject: fmt.Sprintf("booking %s: %s", b.Reference, kind),
		Detail:  detail,
		Fields: map[string]string{
			"booking_id":  b.ID.String(),
			"property_id": b.PropertyID.String(),
		},
	})
	if err != nil {
		logger.Warn("operator alert failed", "error", err)
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, b *bookings.Booking, actor, outcome string, details map[string]any, logger *logging.Logger) {
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

var _ payments.ExtensionCompleter = (*Service)(nil)
