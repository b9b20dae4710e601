package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/tenancy"
)

type fixture struct {
	store    *bookings.MemoryStore
	property *bookings.Property
	roomType uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    bookings.NewMemoryStore(nil),
		property: &bookings.Property{ID: uuid.New(), Name: "Harbour Hotel", Timezone: "Europe/Lisbon", Currency: "EUR"},
		roomType: uuid.New(),
	}
	f.store.PutProperty(f.property)
	return f
}

func (f *fixture) booking(status bookings.Status) *bookings.Booking {
	return f.bookingFor(f.property.ID, status)
}

func (f *fixture) bookingFor(propertyID uuid.UUID, status bookings.Status) *bookings.Booking {
	b := &bookings.Booking{
		ID:         uuid.New(),
		Reference:  "BK-" + uuid.New().String()[:6],
		PropertyID: propertyID,
		RoomTypeID: f.roomType,
		GuestName:  "Ana Guest",
		CheckIn:    bookings.NewDate(2025, 6, 10),
		CheckOut:   bookings.NewDate(2025, 6, 12),
		Adults:     2,
		TotalCents: 24000,
		Currency:   "EUR",
		Status:     status,
	}
	if status == bookings.StatusPendingApproval {
		at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		b.PaymentAuthorizedAt = &at
		b.PaymentIntentID = "pi_" + b.Reference
	}
	f.store.PutBooking(b)
	return b
}

// staffRequest builds a request as the staff middleware would leave it.
func (f *fixture) staffRequest(method, target, body string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	ctx := tenancy.WithPropertyID(req.Context(), f.property.ID)
	ctx = tenancy.WithStaffID(ctx, "staff:ines")
	return req.WithContext(ctx)
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httperr.Body {
	t.Helper()
	var body httperr.Body
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	return body
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x","extra":1}`))
	var dst cancelRequest
	err := decodeBody(req, &dst)
	require.ErrorIs(t, err, bookings.ErrInvalidInput)
}

func TestDecodeBodyEmptyBodyStillValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)

	var decline declineRequest
	require.NoError(t, decodeBody(req, &decline))

	var cancel cancelRequest
	status, body := httperr.Classify(decodeBody(httptest.NewRequest(http.MethodPost, "/", http.NoBody), &cancel))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "required", body.Fields["reason"])
}

func TestScopedBookingIDHidesOtherProperties(t *testing.T) {
	f := newFixture(t)
	mine := f.booking(bookings.StatusPendingApproval)
	theirs := f.bookingFor(uuid.New(), bookings.StatusPendingApproval)

	resolve := func(id uuid.UUID) (uuid.UUID, error) {
		var (
			got uuid.UUID
			err error
		)
		r := chi.NewRouter()
		r.Get("/{bookingID}", func(w http.ResponseWriter, r *http.Request) {
			got, err = scopedBookingID(r, f.store)
		})
		serve(t, r, f.staffRequest(http.MethodGet, "/"+id.String(), ""))
		return got, err
	}

	got, err := resolve(mine.ID)
	require.NoError(t, err)
	require.Equal(t, mine.ID, got)

	_, err = resolve(theirs.ID)
	require.ErrorIs(t, err, bookings.ErrNotFound)

	_, err = resolve(uuid.New())
	require.ErrorIs(t, err, bookings.ErrNotFound)
}

func (f *fixture) webhookEvent(t *testing.T, id string, status bookings.WebhookStatus, ref string) {
	t.Helper()
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx bookings.Tx) error {
		return tx.InsertWebhookEvent(ctx, &bookings.WebhookEvent{
			ProviderEventID: id,
			Provider:        "stripe",
			EventType:       "checkout.session.completed",
			PayloadRef:      ref,
			Status:          status,
			Error:           "session not found",
			ReceivedAt:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
}
