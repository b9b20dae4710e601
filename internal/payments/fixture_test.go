package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
)

const testWebhookSecret = "whsec_test_secret"

type fixture struct {
	store     *bookings.MemoryStore
	gateway   *FakeGateway
	idem      *MemoryIdempotencyStore
	auth      *AuthorizationService
	publisher *events.MemoryPublisher
	alerter   *notify.MemoryAlerter
	proc      *WebhookProcessor
	property  *bookings.Property
	seq       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     bookings.NewMemoryStore(nil),
		gateway:   NewFakeGateway("https://pms.example.com", nil),
		idem:      NewMemoryIdempotencyStore(),
		publisher: events.NewMemoryPublisher(),
		alerter:   notify.NewMemoryAlerter(),
		property: &bookings.Property{
			ID:       uuid.New(),
			Name:     "Harbor Hotel",
			Timezone: "America/New_York",
			Currency: "USD",
		},
	}
	f.store.PutProperty(f.property)
	f.auth = NewAuthorizationService(f.store, f.gateway, f.idem, 30*time.Minute, nil, nil)
	f.proc = NewWebhookProcessor(WebhookConfig{
		Store:       f.store,
		Gateway:     f.gateway,
		Idempotency: f.idem,
		Publisher:   f.publisher,
		Alerter:     f.alerter,
		Secret:      testWebhookSecret,
	})
	return f
}

func (f *fixture) booking(status bookings.Status) *bookings.Booking {
	f.seq++
	now := time.Now().UTC()
	b := &bookings.Booking{
		ID:         uuid.New(),
		Reference:  "BK-2025-" + uuid.New().String()[:4],
		PropertyID: f.property.ID,
		RoomTypeID: uuid.New(),
		GuestName:  "Ada Guest",
		GuestEmail: "ada@example.com",
		CheckIn:    bookings.NewDate(2025, 5, 1),
		CheckOut:   bookings.NewDate(2025, 5, 4),
		Adults:     2,
		TotalCents: 54000,
		Currency:   "USD",
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.store.PutBooking(b)
	return b
}

// openSession creates an initial session through the service and returns
// the stored row.
func (f *fixture) openSession(t *testing.T, b *bookings.Booking) *bookings.PaymentSession {
	t.Helper()
	handle, err := f.auth.CreateSession(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, s := range f.store.Sessions(b.ID) {
		if s.ID == handle.SessionID {
			return s
		}
	}
	t.Fatalf("session %s not stored", handle.SessionID)
	return nil
}

func (f *fixture) deliver(t *testing.T, payload []byte) (*WebhookResult, error) {
	t.Helper()
	return f.proc.Handle(context.Background(), RawEvent{
		Payload:   payload,
		Signature: SignStripePayload(testWebhookSecret, payload, time.Now()),
	})
}

func stripePayload(t *testing.T, eventID, eventType string, object map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func checkoutCompleted(t *testing.T, eventID string, sess *bookings.PaymentSession) []byte {
	return stripePayload(t, eventID, EventCheckoutCompleted, map[string]any{
		"object":         "checkout.session",
		"id":             sess.ProviderSessionID,
		"payment_intent": sess.ProviderIntentID,
		"payment_status": "unpaid",
		"customer":       "cus_123",
		"metadata": map[string]string{
			"session_id": sess.ID.String(),
			"booking_id": sess.BookingID.String(),
		},
	})
}

func capturableUpdated(t *testing.T, eventID string, sess *bookings.PaymentSession, status string) []byte {
	return stripePayload(t, eventID, EventAmountCapturableUpdated, map[string]any{
		"object":         "payment_intent",
		"id":             sess.ProviderIntentID,
		"status":         status,
		"customer":       "cus_123",
		"payment_method": "pm_card_visa",
		"metadata": map[string]string{
			"session_id": sess.ID.String(),
		},
	})
}
