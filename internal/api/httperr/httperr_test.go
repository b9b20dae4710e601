package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", fmt.Errorf("x: %w", bookings.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"not found", fmt.Errorf("load: %w", bookings.ErrNotFound), http.StatusNotFound, "not_found"},
		{"transition", &bookings.TransitionError{From: bookings.StatusDraft, To: bookings.StatusConfirmed}, http.StatusConflict, "invalid_transition"},
		{"already initiated", bookings.ErrAlreadyInitiated, http.StatusConflict, "already_initiated"},
		{"no incident", bookings.ErrNoActiveIncident, http.StatusConflict, "no_active_incident"},
		{"capture", fmt.Errorf("%w: booking: %w", payments.ErrCaptureFailed, errors.New("declined")), http.StatusBadGateway, "capture_failed"},
		{"void", fmt.Errorf("%w: booking", payments.ErrVoidFailed), http.StatusBadGateway, "void_failed"},
		{"gateway", payments.ErrGateway, http.StatusBadGateway, "gateway_error"},
		{"signature", payments.ErrSignatureInvalid, http.StatusForbidden, "signature_invalid"},
		{"malformed", payments.ErrMalformedEvent, http.StatusBadRequest, "malformed_event"},
		{"integrity", bookings.ErrIntegrity, http.StatusInternalServerError, "integrity_violation"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := Classify(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestClassifyTransitionCarriesStates(t *testing.T) {
	_, body := Classify(fmt.Errorf("decisions: %w", &bookings.TransitionError{From: bookings.StatusDeclined, To: bookings.StatusConfirmed}))
	assert.Equal(t, "DECLINED", body.From)
	assert.Equal(t, "CONFIRMED", body.To)
}

func TestWriteRoomConflict(t *testing.T) {
	holder := uuid.New()
	alt := rooms.Alternative{RoomID: uuid.New(), Number: "102", Floor: 1, Housekeeping: bookings.HousekeepingClean}
	err := fmt.Errorf("overstay: %w", &rooms.ConflictError{
		RoomID:       uuid.New(),
		Conflicts:    []uuid.UUID{holder},
		Alternatives: []rooms.Alternative{alt},
	})

	rec := httptest.NewRecorder()
	Write(rec, httptest.NewRequest(http.MethodPost, "/x", nil), nil, err)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body Body
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "room_conflict", body.Code)
	assert.Equal(t, []string{holder.String()}, body.Conflicts)
	require.Len(t, body.Alternatives, 1)
	assert.Equal(t, "102", body.Alternatives[0].Number)
}

func TestWriteHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, httptest.NewRequest(http.MethodGet, "/x", nil), nil, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
