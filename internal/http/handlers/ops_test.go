package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/archive"
	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

type stubPayloads map[string][]byte

func (s stubPayloads) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if p, ok := s[ref]; ok {
		return p, nil
	}
	return nil, archive.ErrNotArchived
}

func TestOpsListsFailedWebhookEvents(t *testing.T) {
	f := newFixture(t)
	f.webhookEvent(t, "evt_failed", bookings.WebhookFailed, "inline:sha256:aa")
	f.webhookEvent(t, "evt_ok", bookings.WebhookProcessed, "inline:sha256:bb")
	h := NewOpsHandler(f.store, stubPayloads{}, nil).Routes()

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, "FAILED", body["status"])
	list := body["events"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "evt_failed", list[0].(map[string]any)["provider_event_id"])

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events?status=processed&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeMap(t, rec)["events"], 1)
}

func TestOpsRejectsBadFilters(t *testing.T) {
	f := newFixture(t)
	h := NewOpsHandler(f.store, stubPayloads{}, nil).Routes()

	for _, q := range []string{"?status=LOST", "?limit=0", "?limit=ten"} {
		rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestOpsEmptyQueueIsEmptyList(t *testing.T) {
	f := newFixture(t)
	h := NewOpsHandler(f.store, stubPayloads{}, nil).Routes()

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestOpsWebhookPayload(t *testing.T) {
	f := newFixture(t)
	f.webhookEvent(t, "evt_archived", bookings.WebhookFailed, "s3://bucket/webhooks/stripe/evt_archived.json")
	f.webhookEvent(t, "evt_inline", bookings.WebhookFailed, "inline:sha256:cc")
	h := NewOpsHandler(f.store, stubPayloads{
		"s3://bucket/webhooks/stripe/evt_archived.json": []byte(`{"id":"evt_archived"}`),
	}, nil).Routes()

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events/evt_archived/payload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"evt_archived"}`, rec.Body.String())

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events/evt_inline/payload", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_archived", decodeError(t, rec).Code)

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/webhook-events/evt_missing/payload", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestOpsListsAudit(t *testing.T) {
	f := newFixture(t)
	log := audit.NewMemoryLog()
	booking := uuid.New()
	require.NoError(t, log.Record(context.Background(), audit.Entry{Action: audit.ActionApprove, PropertyID: f.property.ID, BookingID: booking, Actor: "staff:ines"}))
	require.NoError(t, log.Record(context.Background(), audit.Entry{Action: audit.ActionCheckIn, PropertyID: f.property.ID, BookingID: booking, Actor: "staff:ines"}))
	h := NewOpsHandler(f.store, nil, nil).WithAudit(log).Routes()

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/audit?property_id="+f.property.ID.String()+"&action=booking.approve", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decodeMap(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "booking.approve", entries[0].(map[string]any)["action"])

	for _, q := range []string{"", "?property_id=nope", "?property_id=" + f.property.ID.String() + "&since=yesterday"} {
		rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/audit"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = serve(t, NewOpsHandler(f.store, nil, nil).Routes(), httptest.NewRequest(http.MethodGet, "/audit?property_id="+f.property.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
