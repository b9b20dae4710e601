package overstay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
)

const webhookSecret = "whsec_overstay"

// fixedNow is 14:00 in New York on 2025-05-06.
var fixedNow = time.Date(2025, 5, 6, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store     *bookings.MemoryStore
	gateway   *payments.FakeGateway
	auth      *payments.AuthorizationService
	proc      *payments.WebhookProcessor
	publisher *events.MemoryPublisher
	alerter   *notify.MemoryAlerter
	audit     *audit.MemoryLog
	detector  *Detector
	svc       *Service
	property  *bookings.Property
	roomType  uuid.UUID
	room      *bookings.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     bookings.NewMemoryStore(nil),
		gateway:   payments.NewFakeGateway("", nil),
		publisher: events.NewMemoryPublisher(),
		alerter:   notify.NewMemoryAlerter(),
		audit:     audit.NewMemoryLog(),
		property:  &bookings.Property{ID: uuid.New(), Name: "Hudson Lofts", Timezone: "America/New_York", Currency: "USD"},
		roomType:  uuid.New(),
	}
	f.store.PutProperty(f.property)
	f.room = f.addRoom("101", 1, false)

	f.auth = payments.NewAuthorizationService(f.store, f.gateway, nil, time.Hour, nil, nil)
	f.detector = NewDetector(f.store, f.publisher, nil, nil)
	f.svc = NewService(ServiceConfig{
		Store:     f.store,
		Sessions:  f.auth,
		Gateway:   f.gateway,
		Rooms:     rooms.NewDetector(3),
		Publisher: f.publisher,
		Alerter:   f.alerter,
		Audit:     f.audit,
	})
	f.svc.now = func() time.Time { return fixedNow }
	f.proc = payments.NewWebhookProcessor(payments.WebhookConfig{
		Store:     f.store,
		Gateway:   f.gateway,
		Publisher: f.publisher,
		Secret:    webhookSecret,
	})
	f.proc.SetExtensionCompleter(f.svc)
	return f
}

func (f *fixture) addRoom(number string, floor int, outOfService bool) *bookings.Room {
	r := &bookings.Room{
		ID:           uuid.New(),
		PropertyID:   f.property.ID,
		RoomTypeID:   f.roomType,
		Number:       number,
		Floor:        floor,
		Housekeeping: bookings.HousekeepingClean,
		OutOfService: outOfService,
	}
	f.store.PutRoom(r)
	return r
}

// inHouse stages a checked-in, fully paid booking in room. A saved payment
// method lets extensions authorize off-session.
func (f *fixture) inHouse(room *bookings.Room, checkIn, checkOut bookings.Date, savedCard bool) *bookings.Booking {
	authorized := time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)
	paid := authorized.Add(time.Hour)
	roomID := room.ID
	b := &bookings.Booking{
		ID:                  uuid.New(),
		Reference:           "BK-" + uuid.New().String()[:6],
		PropertyID:          f.property.ID,
		RoomID:              &roomID,
		RoomTypeID:          f.roomType,
		GuestName:           "Lee Guest",
		CheckIn:             checkIn,
		CheckOut:            checkOut,
		Adults:              2,
		TotalCents:          80000,
		Currency:            "USD",
		Status:              bookings.StatusCheckedIn,
		RatePlan:            bookings.RatePlan{Code: "BAR", NightlyCents: 20000, WeekendNightlyCents: 25000, TaxBasisPoints: 1000},
		PaymentProvider:     "fake",
		PaymentIntentID:     "pi_initial",
		PaymentAuthorizedAt: &authorized,
		PaidAt:              &paid,
		DecisionBy:          "staff:ana",
		DecisionAt:          &paid,
	}
	if savedCard {
		b.PaymentCustomerID = "cus_saved"
		b.PaymentMethodID = "pm_saved"
	}
	f.store.PutBooking(b)
	return b
}

// confirmed stages another guest's future booking on room.
func (f *fixture) confirmed(room *bookings.Room, checkIn, checkOut bookings.Date) *bookings.Booking {
	b := f.inHouse(room, checkIn, checkOut, false)
	b.Status = bookings.StatusConfirmed
	f.store.PutBooking(b)
	return b
}

func (f *fixture) flag(t *testing.T) {
	t.Helper()
	if _, err := f.detector.Detect(context.Background(), f.property.ID, fixedNow); err != nil {
		t.Fatalf("detect: %v", err)
	}
}

func (f *fixture) extensionSession(t *testing.T, bookingID uuid.UUID) *bookings.PaymentSession {
	t.Helper()
	for _, s := range f.store.Sessions(bookingID) {
		if s.Purpose == bookings.PurposeExtension {
			return s
		}
	}
	t.Fatalf("no extension session for %s", bookingID)
	return nil
}

func (f *fixture) deliver(t *testing.T, eventID, eventType string, sess *bookings.PaymentSession) *payments.WebhookResult {
	t.Helper()
	object := map[string]any{
		"object":   "checkout.session",
		"id":       sess.ProviderSessionID,
		"metadata": map[string]string{"session_id": sess.ID.String()},
	}
	if eventType == payments.EventCheckoutCompleted {
		object["payment_intent"] = sess.ProviderIntentID
		object["payment_status"] = "unpaid"
	}
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := f.proc.Handle(context.Background(), payments.RawEvent{
		Payload:   payload,
		Signature: payments.SignStripePayload(webhookSecret, payload, time.Now()),
	})
	if err != nil {
		t.Fatalf("handle %s: %v", eventType, err)
	}
	return res
}

func intPtr(n int) *int { return &n }

func datePtr(d bookings.Date) *bookings.Date { return &d }
