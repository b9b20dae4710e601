package decisions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
)

const webhookSecret = "whsec_decisions"

type harness struct {
	store     *bookings.MemoryStore
	gateway   *payments.FakeGateway
	idem      *payments.MemoryIdempotencyStore
	auth      *payments.AuthorizationService
	proc      *payments.WebhookProcessor
	publisher *events.MemoryPublisher
	alerter   *notify.MemoryAlerter
	audit     *audit.MemoryLog
	svc       *Service
	property  *bookings.Property
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     bookings.NewMemoryStore(nil),
		gateway:   payments.NewFakeGateway("", nil),
		idem:      payments.NewMemoryIdempotencyStore(),
		publisher: events.NewMemoryPublisher(),
		alerter:   notify.NewMemoryAlerter(),
		audit:     audit.NewMemoryLog(),
		property:  &bookings.Property{ID: uuid.New(), Name: "Dune Inn", Timezone: "Europe/Lisbon", Currency: "EUR"},
	}
	h.store.PutProperty(h.property)
	h.auth = payments.NewAuthorizationService(h.store, h.gateway, h.idem, time.Hour, nil, nil)
	h.proc = payments.NewWebhookProcessor(payments.WebhookConfig{
		Store:       h.store,
		Gateway:     h.gateway,
		Idempotency: h.idem,
		Publisher:   h.publisher,
		Alerter:     h.alerter,
		Secret:      webhookSecret,
	})
	h.svc = NewService(Config{
		Store:       h.store,
		Gateway:     h.gateway,
		Idempotency: h.idem,
		Publisher:   h.publisher,
		Alerter:     h.alerter,
		Audit:       h.audit,
	})
	h.proc.SetAutoApprover(h.svc)
	return h
}

func (h *harness) pendingPayment(t *testing.T) *bookings.Booking {
	t.Helper()
	b := &bookings.Booking{
		ID:         uuid.New(),
		Reference:  "BK-" + uuid.New().String()[:6],
		PropertyID: h.property.ID,
		RoomTypeID: uuid.New(),
		GuestName:  "Rui Guest",
		GuestEmail: "rui@example.com",
		CheckIn:    bookings.NewDate(2025, 7, 10),
		CheckOut:   bookings.NewDate(2025, 7, 12),
		Adults:     1,
		TotalCents: 32000,
		Currency:   "EUR",
		Status:     bookings.StatusPendingPayment,
	}
	h.store.PutBooking(b)
	return b
}

// authorize runs the guest flow: open a session, then deliver the
// provider's completion event.
func (h *harness) authorize(t *testing.T, b *bookings.Booking) *bookings.PaymentSession {
	t.Helper()
	handle, err := h.auth.CreateSession(context.Background(), b.ID)
	require.NoError(t, err)
	var sess *bookings.PaymentSession
	for _, s := range h.store.Sessions(b.ID) {
		if s.ID == handle.SessionID {
			sess = s
		}
	}
	require.NotNil(t, sess)
	h.deliver(t, "evt_"+sess.ID.String(), sess)
	return sess
}

func (h *harness) deliver(t *testing.T, eventID string, sess *bookings.PaymentSession) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    payments.EventCheckoutCompleted,
		"created": time.Now().Unix(),
		"data": map[string]any{"object": map[string]any{
			"object":         "checkout.session",
			"id":             sess.ProviderSessionID,
			"payment_intent": sess.ProviderIntentID,
			"payment_status": "unpaid",
			"metadata":       map[string]string{"session_id": sess.ID.String()},
		}},
	})
	require.NoError(t, err)
	res, err := h.proc.Handle(context.Background(), payments.RawEvent{
		Payload:   payload,
		Signature: payments.SignStripePayload(webhookSecret, payload, time.Now()),
	})
	require.NoError(t, err)
	require.NotEqual(t, payments.OutcomeFailed, res.Outcome, res.Error)
}

func (h *harness) pendingApproval(t *testing.T) (*bookings.Booking, *bookings.PaymentSession) {
	t.Helper()
	b := h.pendingPayment(t)
	sess := h.authorize(t, b)
	stored, _ := h.store.Booking(b.ID)
	require.Equal(t, bookings.StatusPendingApproval, stored.Status)
	h.publisher.Reset()
	return stored, sess
}

func TestApproveCapturesAndConfirms(t *testing.T) {
	h := newHarness(t)
	b, sess := h.pendingApproval(t)

	res, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusConfirmed, res.Status)
	assert.Equal(t, "staff:ana", res.DecisionBy)
	require.NotNil(t, res.PaidAt)
	assert.False(t, res.Replayed)
	assert.Equal(t, []string{sess.ProviderIntentID}, h.gateway.Captures())

	stored, _ := h.store.Booking(b.ID)
	require.NoError(t, bookings.ValidateAtRest(stored))
	assert.NotNil(t, stored.PaymentAuthorizedAt)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, bookings.SessionCaptured, h.store.Sessions(b.ID)[0].Status)

	published := h.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.BookingConfirmed, published[0].Type)
	assert.Equal(t, bookings.StatusConfirmed, published[0].Booking.Status)

	entries := h.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionApprove, entries[0].Action)
	assert.Equal(t, "confirmed", entries[0].Outcome)
}

func TestApproveReplayDoesNotCaptureTwice(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)

	first, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.NoError(t, err)
	second, err := h.svc.Approve(context.Background(), b.ID, "staff:ben")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, "staff:ana", second.DecisionBy)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	assert.Len(t, h.gateway.Captures(), 1)
	assert.Len(t, h.publisher.Events(), 1)
}

func TestConcurrentApprovalsCaptureOnce(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	replays := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
			if err != nil {
				return
			}
			mu.Lock()
			if res.Replayed {
				replays++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, h.gateway.Captures(), 1)
	assert.Equal(t, 5, replays)
}

func TestApproveAfterDeclineIsRejected(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)

	_, err := h.svc.Decline(context.Background(), b.ID, "staff:ana", "card flagged")
	require.NoError(t, err)

	_, err = h.svc.Approve(context.Background(), b.ID, "staff:ben")
	require.ErrorIs(t, err, bookings.ErrInvalidTransition)
	assert.Empty(t, h.gateway.Captures())
}

func TestApproveRequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	b := h.pendingPayment(t)

	_, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	var te *bookings.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, bookings.StatusPendingPayment, te.From)
	assert.Empty(t, h.gateway.Captures())
}

func TestCaptureFailureLeavesBookingPending(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)
	h.gateway.FailCapture(errors.New("card_declined"))

	_, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.ErrorIs(t, err, payments.ErrCaptureFailed)
	assert.True(t, IsGatewayFailure(err))
	assert.Contains(t, err.Error(), "card_declined")

	stored, _ := h.store.Booking(b.ID)
	assert.Equal(t, bookings.StatusPendingApproval, stored.Status)
	assert.Nil(t, stored.PaidAt)
	assert.Nil(t, stored.DecisionAt)
	assert.Empty(t, h.publisher.Events())

	alerts := h.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "capture_failed", alerts[0].Kind)
	assert.Equal(t, b.ID.String(), alerts[0].Fields["booking_id"])

	h.gateway.FailCapture(nil)
	res, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusConfirmed, res.Status)
}

func TestDeclineVoidsHold(t *testing.T) {
	h := newHarness(t)
	b, sess := h.pendingApproval(t)

	res, err := h.svc.Decline(context.Background(), b.ID, "staff:ana", "no availability")
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusDeclined, res.Status)
	assert.Equal(t, "no availability", res.Reason)
	assert.Equal(t, []string{sess.ProviderIntentID}, h.gateway.Voids())

	stored, _ := h.store.Booking(b.ID)
	assert.NotNil(t, stored.PaymentAuthorizedAt)
	assert.Nil(t, stored.PaidAt)
	assert.Equal(t, bookings.SessionVoided, h.store.Sessions(b.ID)[0].Status)
	assert.Equal(t, []events.Type{events.BookingDeclined}, h.publisher.Types())

	again, err := h.svc.Decline(context.Background(), b.ID, "staff:ben", "duplicate click")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "no availability", again.Reason)
	assert.Len(t, h.gateway.Voids(), 1)

	_, err = h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.ErrorIs(t, err, bookings.ErrInvalidTransition)
}

func TestVoidFailureOnDecline(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)
	h.gateway.FailVoid(errors.New("network"))

	_, err := h.svc.Decline(context.Background(), b.ID, "staff:ana", "")
	require.ErrorIs(t, err, payments.ErrVoidFailed)
	stored, _ := h.store.Booking(b.ID)
	assert.Equal(t, bookings.StatusPendingApproval, stored.Status)
	require.Len(t, h.alerter.Alerts(), 1)
	assert.Equal(t, "void_failed", h.alerter.Alerts()[0].Kind)
}

func TestDecisionRequiresStaff(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)
	_, err := h.svc.Approve(context.Background(), b.ID, "")
	require.ErrorIs(t, err, bookings.ErrInvalidInput)
	_, err = h.svc.Approve(context.Background(), uuid.New(), "staff:ana")
	require.ErrorIs(t, err, bookings.ErrNotFound)
}

func TestCancelAuthorizedBookingVoidsHold(t *testing.T) {
	h := newHarness(t)
	b, sess := h.pendingApproval(t)

	res, err := h.svc.Cancel(context.Background(), b.ID, "guest", "plans changed")
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, res.Status)
	assert.Equal(t, []string{sess.ProviderIntentID}, h.gateway.Voids())
	assert.Equal(t, []events.Type{events.BookingCancelled, events.BookingUpdated}, h.publisher.Types())

	stored, _ := h.store.Booking(b.ID)
	require.NoError(t, bookings.ValidateAtRest(stored))
	assert.Equal(t, "plans changed", stored.CancelReason)

	again, err := h.svc.Cancel(context.Background(), b.ID, "guest", "")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
}

func TestCancelBeforePaymentThenLateAuthorizationIsVoided(t *testing.T) {
	h := newHarness(t)
	b := h.pendingPayment(t)
	handle, err := h.auth.CreateSession(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = h.svc.Cancel(context.Background(), b.ID, "guest", "")
	require.NoError(t, err)
	assert.Empty(t, h.gateway.Voids())
	assert.False(t, h.idem.Held(payments.SessionKey(b.PropertyID, b.Reference)))

	var sess *bookings.PaymentSession
	for _, s := range h.store.Sessions(b.ID) {
		if s.ID == handle.SessionID {
			sess = s
		}
	}
	require.NotNil(t, sess)
	h.deliver(t, "evt_late", sess)

	assert.Equal(t, []string{sess.ProviderIntentID}, h.gateway.Voids())
	stored, _ := h.store.Booking(b.ID)
	assert.Equal(t, bookings.StatusCancelled, stored.Status)
	assert.Nil(t, stored.PaymentAuthorizedAt)
}

func TestCancelConfirmedRequiresRefund(t *testing.T) {
	h := newHarness(t)
	b, _ := h.pendingApproval(t)
	_, err := h.svc.Approve(context.Background(), b.ID, "staff:ana")
	require.NoError(t, err)

	_, err = h.svc.Cancel(context.Background(), b.ID, "staff:ana", "guest called")
	require.ErrorIs(t, err, bookings.ErrInvalidTransition)
	assert.Empty(t, h.gateway.Voids())
}

func TestAutoCaptureConfirmsAfterWebhook(t *testing.T) {
	h := newHarness(t)
	h.property.AutoCapture = true
	h.store.PutProperty(h.property)

	b := h.pendingPayment(t)
	h.authorize(t, b)

	stored, _ := h.store.Booking(b.ID)
	assert.Equal(t, bookings.StatusConfirmed, stored.Status)
	assert.Equal(t, AutoCaptureActor, stored.DecisionBy)
	assert.Equal(t, []events.Type{events.BookingUpdated, events.BookingConfirmed}, h.publisher.Types())
}
