package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/archive"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// RawEvent is a webhook request as received.
type RawEvent struct {
	Payload   []byte
	Signature string
}

type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeFailed    WebhookOutcome = "failed"
)

type WebhookResult struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Outcome   WebhookOutcome `json:"outcome"`
	BookingID *uuid.UUID     `json:"booking_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ExtensionCompleter finishes stay extensions whose payment resolves
// asynchronously. Both methods run inside the webhook transaction with the
// booking locked.
type ExtensionCompleter interface {
	CompleteExtension(ctx context.Context, tx bookings.Tx, b *bookings.Booking, sess *bookings.PaymentSession, at time.Time) ([]events.Event, error)
	FailExtension(ctx context.Context, tx bookings.Tx, sess *bookings.PaymentSession, reason string, at time.Time) error
}

// AutoApprover captures immediately for properties that skip staff review.
type AutoApprover interface {
	AutoApprove(ctx context.Context, bookingID uuid.UUID) error
}

type PayloadArchiver interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte, at time.Time) (string, error)
}

type WebhookConfig struct {
	Store       bookings.Store
	Gateway     Gateway
	Idempotency IdempotencyStore
	Publisher   events.Publisher
	Archiver    PayloadArchiver
	Alerter     notify.OperatorAlerter
	Metrics     *metrics.BookingMetrics
	Secret      string
	Tolerance   time.Duration
	Logger      *logging.Logger
}

// WebhookProcessor applies provider notifications exactly once per
// provider event id.
type WebhookProcessor struct {
	store     bookings.Store
	gateway   Gateway
	idem      IdempotencyStore
	publisher events.Publisher
	archiver  PayloadArchiver
	alerter   notify.OperatorAlerter
	metrics   *metrics.BookingMetrics
	secret    string
	tolerance time.Duration
	logger    *logging.Logger
	now       func() time.Time

	completer ExtensionCompleter
	approver  AutoApprover
}

func NewWebhookProcessor(cfg WebhookConfig) *WebhookProcessor {
	if cfg.Store == nil {
		panic("payments: booking store required")
	}
	if cfg.Gateway == nil {
		panic("payments: gateway required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Idempotency == nil {
		cfg.Idempotency = NewMemoryIdempotencyStore()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultSignatureTolerance
	}
	return &WebhookProcessor{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		idem:      cfg.Idempotency,
		publisher: cfg.Publisher,
		archiver:  cfg.Archiver,
		alerter:   cfg.Alerter,
		metrics:   cfg.Metrics,
		secret:    cfg.Secret,
		tolerance: cfg.Tolerance,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetExtensionCompleter wires the overstay service, which itself depends
// on payments.
func (p *WebhookProcessor) SetExtensionCompleter(c ExtensionCompleter) {
	p.completer = c
}

func (p *WebhookProcessor) SetAutoApprover(a AutoApprover) {
	p.approver = a
}

// effects collects the events staged in the transaction and what must
// happen after it commits.
type effects struct {
	duplicate   bool
	bookingID   *uuid.UUID
	events      []events.Event
	releaseKeys []string
	autoApprove *uuid.UUID
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, bookings.ErrNotFound) ||
		errors.Is(err, bookings.ErrIntegrity) ||
		errors.Is(err, bookings.ErrInvalidInput) ||
		errors.Is(err, bookings.ErrInvalidTransition)
}

// Handle verifies, records and applies one event. A returned error means
// the provider should redeliver; permanent failures are recorded as FAILED
// and reported through the result instead.
func (p *WebhookProcessor) Handle(ctx context.Context, raw RawEvent) (*WebhookResult, error) {
	start := time.Now()
	if !verifyStripeSignature(p.secret, raw.Payload, raw.Signature, p.now(), p.tolerance) {
		return nil, ErrSignatureInvalid
	}
	evt, env, err := parseStripeEnvelope(raw.Payload)
	if err != nil {
		return nil, err
	}
	bodyErr := env.decodeBody(evt)

	ctx, span := tracer.Start(ctx, "payments.webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("hotel.event_id", evt.ID),
		attribute.String("hotel.event_type", evt.Type),
	)
	logger := p.logger.With("event_id", evt.ID, "event_type", evt.Type)

	result := &WebhookResult{EventID: evt.ID, EventType: evt.Type}
	seen, err := p.alreadyHandled(ctx, evt.ID)
	if err != nil {
		return nil, fmt.Errorf("payments: lookup event %s: %w", evt.ID, err)
	}
	if seen {
		result.Outcome = OutcomeDuplicate
		p.metrics.ObserveWebhook(evt.Type, string(OutcomeDuplicate), time.Since(start).Seconds())
		return result, nil
	}

	receivedAt := p.now()
	ref := p.archive(ctx, evt, raw.Payload, receivedAt)
	if bodyErr != nil {
		return p.recordFailure(ctx, evt, ref, receivedAt, bodyErr, start, logger)
	}

	var eff effects
	err = p.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		eff = effects{}
		prior, err := tx.GetWebhookEvent(ctx, evt.ID)
		switch {
		case err == nil && prior.Status != bookings.WebhookReceived:
			eff.duplicate = true
			return nil
		case err != nil && !errors.Is(err, bookings.ErrNotFound):
			return err
		}

		rec := &bookings.WebhookEvent{
			ProviderEventID: evt.ID,
			Provider:        stripeProvider,
			EventType:       evt.Type,
			PayloadRef:      ref,
			Status:          bookings.WebhookReceived,
			ReceivedAt:      receivedAt,
		}
		if err := tx.InsertWebhookEvent(ctx, rec); err != nil {
			if errors.Is(err, bookings.ErrDuplicate) {
				eff.duplicate = true
				return nil
			}
			return err
		}
		if err := p.dispatch(ctx, tx, evt, &eff, logger); err != nil {
			return err
		}
		if p.publisher != nil && len(eff.events) > 0 {
			if err := p.publisher.Publish(ctx, tx, eff.events...); err != nil {
				return fmt.Errorf("payments: stage events: %w", err)
			}
		}
		processedAt := p.now()
		rec.Status = bookings.WebhookProcessed
		rec.ProcessedAt = &processedAt
		rec.BookingID = eff.bookingID
		return tx.UpdateWebhookEvent(ctx, rec)
	})
	if err != nil {
		if isPermanent(err) {
			return p.recordFailure(ctx, evt, ref, receivedAt, err, start, logger)
		}
		p.metrics.ObserveWebhook(evt.Type, "retry", time.Since(start).Seconds())
		logger.Warn("webhook processing failed, provider will redeliver", "error", err)
		return nil, fmt.Errorf("payments: process event %s: %w", evt.ID, err)
	}
	if eff.duplicate {
		result.Outcome = OutcomeDuplicate
		p.metrics.ObserveWebhook(evt.Type, string(OutcomeDuplicate), time.Since(start).Seconds())
		return result, nil
	}

	p.afterCommit(ctx, &eff, logger)
	result.Outcome = OutcomeProcessed
	result.BookingID = eff.bookingID
	p.metrics.ObserveWebhook(evt.Type, string(OutcomeProcessed), time.Since(start).Seconds())
	return result, nil
}

func (p *WebhookProcessor) alreadyHandled(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := p.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		prior, err := tx.GetWebhookEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, bookings.ErrNotFound) {
				return nil
			}
			return err
		}
		seen = prior.Status != bookings.WebhookReceived
		return nil
	})
	return seen, err
}

func (p *WebhookProcessor) archive(ctx context.Context, evt *ProviderEvent, payload []byte, at time.Time) string {
	if p.archiver == nil {
		return archive.InlineRef(payload)
	}
	ref, err := p.archiver.Archive(ctx, stripeProvider, evt.ID, payload, at)
	if err != nil {
		p.logger.Warn("webhook archive failed, keeping digest only", "event_id", evt.ID, "error", err)
		return archive.InlineRef(payload)
	}
	return ref
}

func (p *WebhookProcessor) afterCommit(ctx context.Context, eff *effects, logger *logging.Logger) {
	for _, key := range eff.releaseKeys {
		if err := p.idem.Release(ctx, key); err != nil {
			logger.Warn("failed to release session key", "key", key, "error", err)
		}
	}
	if eff.autoApprove != nil && p.approver != nil {
		if err := p.approver.AutoApprove(ctx, *eff.autoApprove); err != nil {
			// The booking stays PENDING_APPROVAL for staff to decide.
			logger.Error("auto-capture failed", "booking_id", *eff.autoApprove, "error", err)
		}
	}
}

func (p *WebhookProcessor) recordFailure(ctx context.Context, evt *ProviderEvent, ref string, receivedAt time.Time, cause error, start time.Time, logger *logging.Logger) (*WebhookResult, error) {
	failedAt := p.now()
	rec := &bookings.WebhookEvent{
		ProviderEventID: evt.ID,
		Provider:        stripeProvider,
		EventType:       evt.Type,
		PayloadRef:      ref,
		Status:          bookings.WebhookFailed,
		BookingID:       evt.BookingID(),
		Error:           cause.Error(),
		ReceivedAt:      receivedAt,
		ProcessedAt:     &failedAt,
	}
	err := p.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		err := tx.InsertWebhookEvent(ctx, rec)
		if err == nil || !errors.Is(err, bookings.ErrDuplicate) {
			return err
		}
		existing, err := tx.GetWebhookEvent(ctx, evt.ID)
		if err != nil {
			return err
		}
		if existing.Status == bookings.WebhookProcessed {
			return nil
		}
		return tx.UpdateWebhookEvent(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("payments: record failed event %s: %w", evt.ID, err)
	}

	logger.Error("webhook event failed permanently", "error", cause)
	if p.alerter != nil {
		fields := map[string]string{"provider": stripeProvider, "event_id": evt.ID, "event_type": evt.Type, "payload_ref": ref}
		if rec.BookingID != nil {
			fields["booking_id"] = rec.BookingID.String()
		}
		alertErr := p.alerter.Alert(ctx, notify.Alert{
			Kind:    "webhook_failed",
			Subject: fmt.Sprintf("payment event %s could not be applied", evt.ID),
			Detail:  cause.Error(),
			Fields:  fields,
		})
		if alertErr != nil {
			logger.Warn("operator alert failed", "error", alertErr)
		}
	}
	p.metrics.ObserveWebhook(evt.Type, string(OutcomeFailed), time.Since(start).Seconds())
	return &WebhookResult{
		EventID:   evt.ID,
		EventType: evt.Type,
		Outcome:   OutcomeFailed,
		BookingID: rec.BookingID,
		Error:     cause.Error(),
	}, nil
}

func (p *WebhookProcessor) dispatch(ctx context.Context, tx bookings.Tx, evt *ProviderEvent, eff *effects, logger *logging.Logger) error {
	switch evt.Type {
	case EventCheckoutCompleted:
		if evt.PaymentStatus == paymentStatusPaid {
			return permanent(fmt.Errorf("%w: checkout %s was captured at completion", bookings.ErrIntegrity, evt.ObjectID))
		}
		return p.applyAuthorization(ctx, tx, evt, eff, logger)
	case EventAmountCapturableUpdated:
		if evt.IntentStatus != intentStatusRequiresCapture {
			logger.Info("intent not awaiting capture, ignoring", "intent_status", evt.IntentStatus)
			return nil
		}
		return p.applyAuthorization(ctx, tx, evt, eff, logger)
	case EventCheckoutExpired:
		return p.applyExpiry(ctx, tx, evt, eff, logger)
	case EventPaymentIntentCanceled:
		return p.applyCancel(ctx, tx, evt, eff, logger)
	default:
		return nil
	}
}

func (p *WebhookProcessor) findSession(ctx context.Context, tx bookings.Tx, evt *ProviderEvent) (*bookings.PaymentSession, error) {
	if id, ok := evt.SessionID(); ok {
		sess, err := tx.GetPaymentSession(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, bookings.ErrNotFound) {
			return nil, err
		}
	}
	for _, ref := range []string{evt.ObjectID, evt.IntentID} {
		if ref == "" {
			continue
		}
		sess, err := tx.FindPaymentSessionByProviderRef(ctx, ref)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, bookings.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no payment session for event %s", bookings.ErrNotFound, evt.ID)
}

func (p *WebhookProcessor) applyAuthorization(ctx context.Context, tx bookings.Tx, evt *ProviderEvent, eff *effects, logger *logging.Logger) error {
	if evt.IntentID == "" {
		return fmt.Errorf("%w: authorization event without payment intent", ErrMalformedEvent)
	}
	sess, err := p.findSession(ctx, tx, evt)
	if err != nil {
		return err
	}
	b, err := tx.LockBooking(ctx, sess.BookingID)
	if err != nil {
		return err
	}
	id := b.ID
	eff.bookingID = &id
	now := p.now()
	logger = logger.With("booking_id", b.ID, "session_id", sess.ID)

	beforeCustomer, beforeMethod := b.PaymentCustomerID, b.PaymentMethodID
	bookings.RecordPaymentMethod(b, evt.CustomerID, evt.PaymentMethodID)
	dirty := b.PaymentCustomerID != beforeCustomer || b.PaymentMethodID != beforeMethod

	if sess.Purpose == bookings.PurposeExtension {
		return p.applyExtensionAuthorization(ctx, tx, b, sess, evt, dirty, eff, logger)
	}

	if sess.Terminal() {
		logger.Info("authorization for closed session, skipping", "session_status", sess.Status)
		return p.saveIf(ctx, tx, b, dirty)
	}

	switch b.Status {
	case bookings.StatusPendingPayment:
		err := bookings.Transition(b, bookings.StatusPendingApproval, bookings.Guard{
			At:           now,
			AuthorizedAt: now,
			IntentID:     evt.IntentID,
		})
		if err != nil {
			return err
		}
		dirty = true
		eff.events = append(eff.events, events.New(events.BookingUpdated, b, now))
		prop, err := tx.GetProperty(ctx, b.PropertyID)
		if err != nil {
			return err
		}
		if prop.AutoCapture {
			eff.autoApprove = &id
		}
	case bookings.StatusCancelled, bookings.StatusDeclined:
		// The guest finished paying after the booking was closed; release the hold.
		if err := p.gateway.Void(ctx, evt.IntentID, "void-"+evt.IntentID); err != nil {
			return fmt.Errorf("%w: late authorization %s: %v", ErrVoidFailed, evt.IntentID, err)
		}
		sess.ProviderIntentID = evt.IntentID
		if err := sess.MarkVoided(now); err != nil {
			return err
		}
		if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
			return err
		}
		logger.Warn("voided authorization for closed booking", "status", b.Status)
		return p.saveIf(ctx, tx, b, dirty)
	default:
		logger.Info("booking not awaiting payment, skipping", "status", b.Status)
	}

	if sess.Status == bookings.SessionCreated {
		if err := sess.MarkAuthorized(evt.IntentID, now); err != nil {
			return err
		}
		if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
			return err
		}
	}
	return p.saveIf(ctx, tx, b, dirty)
}

func (p *WebhookProcessor) applyExtensionAuthorization(ctx context.Context, tx bookings.Tx, b *bookings.Booking, sess *bookings.PaymentSession, evt *ProviderEvent, dirty bool, eff *effects, logger *logging.Logger) error {
	now := p.now()
	switch sess.Status {
	case bookings.SessionCreated:
		if err := sess.MarkAuthorized(evt.IntentID, now); err != nil {
			return err
		}
		if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
			return err
		}
	case bookings.SessionAuthorized:
	default:
		logger.Info("authorization for closed extension session, skipping", "session_status", sess.Status)
		return p.saveIf(ctx, tx, b, dirty)
	}
	if err := p.saveIf(ctx, tx, b, dirty); err != nil {
		return err
	}
	if p.completer == nil {
		return fmt.Errorf("payments: extension session %s authorized but no completer configured", sess.ID)
	}
	evts, err := p.completer.CompleteExtension(ctx, tx, b, sess, now)
	if err != nil {
		return err
	}
	eff.events = append(eff.events, evts...)
	return nil
}

func (p *WebhookProcessor) applyExpiry(ctx context.Context, tx bookings.Tx, evt *ProviderEvent, eff *effects, logger *logging.Logger) error {
	sess, err := p.findSession(ctx, tx, evt)
	if errors.Is(err, bookings.ErrNotFound) {
		logger.Info("expiry for unknown session, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	id := sess.BookingID
	eff.bookingID = &id
	if sess.Status != bookings.SessionCreated {
		return nil
	}
	if err := sess.MarkExpired(); err != nil {
		return err
	}
	if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
		return err
	}
	return p.closeSession(ctx, tx, sess, "payment session expired", eff)
}

func (p *WebhookProcessor) applyCancel(ctx context.Context, tx bookings.Tx, evt *ProviderEvent, eff *effects, logger *logging.Logger) error {
	sess, err := p.findSession(ctx, tx, evt)
	if errors.Is(err, bookings.ErrNotFound) {
		logger.Info("cancel for unknown session, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	id := sess.BookingID
	eff.bookingID = &id
	if sess.Terminal() {
		return nil
	}
	wasAuthorized := sess.Status == bookings.SessionAuthorized
	if err := sess.MarkVoided(p.now()); err != nil {
		return err
	}
	if err := tx.UpdatePaymentSession(ctx, sess); err != nil {
		return err
	}
	if wasAuthorized && sess.Purpose == bookings.PurposeInitial {
		logger.Warn("authorization cancelled at provider before a decision", "booking_id", sess.BookingID)
	}
	return p.closeSession(ctx, tx, sess, "payment authorization cancelled", eff)
}

// closeSession handles the follow-up of a session that ended without a
// capture.
func (p *WebhookProcessor) closeSession(ctx context.Context, tx bookings.Tx, sess *bookings.PaymentSession, reason string, eff *effects) error {
	if sess.Purpose == bookings.PurposeExtension {
		if p.completer == nil {
			return nil
		}
		return p.completer.FailExtension(ctx, tx, sess, reason, p.now())
	}
	b, err := tx.GetBooking(ctx, sess.BookingID)
	if err != nil {
		return err
	}
	eff.releaseKeys = append(eff.releaseKeys, SessionKey(b.PropertyID, b.Reference))
	return nil
}

func (p *WebhookProcessor) saveIf(ctx context.Context, tx bookings.Tx, b *bookings.Booking, dirty bool) error {
	if !dirty {
		return nil
	}
	return tx.SaveBooking(ctx, b)
}
