package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/decisions"
	"github.com/wolfman30/hotel-pms-backend/internal/overstay"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// IdempotencyKeyHeader deduplicates retried extension requests.
const IdempotencyKeyHeader = "Idempotency-Key"

type decider interface {
	Approve(ctx context.Context, bookingID uuid.UUID, staff string) (*decisions.Result, error)
	Decline(ctx context.Context, bookingID uuid.UUID, staff, reason string) (*decisions.Result, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, actor, reason string) (*decisions.Result, error)
}

type frontDesk interface {
	AssignRoom(ctx context.Context, bookingID, roomID uuid.UUID, staff string) (*bookings.Booking, error)
	CheckIn(ctx context.Context, bookingID uuid.UUID, staff string) (*bookings.Booking, error)
	CheckOut(ctx context.Context, bookingID uuid.UUID, staff string) (*bookings.Booking, error)
}

type overstayDesk interface {
	Extend(ctx context.Context, req overstay.ExtendRequest) (*overstay.ExtendResult, error)
	Acknowledge(ctx context.Context, bookingID uuid.UUID, staff, note string, dismiss bool) (*overstay.AckResult, error)
	Status(ctx context.Context, bookingID uuid.UUID, now time.Time) (*overstay.StatusResult, error)
}

type declineRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type assignRoomRequest struct {
	RoomID string `json:"room_id" validate:"required,uuid"`
}

type acknowledgeRequest struct {
	Note    string `json:"note" validate:"max=1000"`
	Dismiss bool   `json:"dismiss"`
}

type extendRequest struct {
	NewCheckoutDate string `json:"new_checkout_date" validate:"omitempty,datetime=2006-01-02"`
	AddNights       *int   `json:"add_nights" validate:"omitempty,min=1,max=60"`
}

// StaffBookingsHandler is the staff console's booking API. Every route is
// scoped to the property named in the request.
type StaffBookingsHandler struct {
	store     bookingReader
	decisions decider
	frontDesk frontDesk
	overstay  overstayDesk
	logger    *logging.Logger
	now       func() time.Time
}

func NewStaffBookingsHandler(store bookingReader, d decider, fd frontDesk, o overstayDesk, logger *logging.Logger) *StaffBookingsHandler {
	if store == nil {
		panic("handlers: booking store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffBookingsHandler{
		store:     store,
		decisions: d,
		frontDesk: fd,
		overstay:  o,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *StaffBookingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{bookingID}", func(r chi.Router) {
		r.Post("/approve", h.Approve)
		r.Post("/decline", h.Decline)
		r.Post("/cancel", h.Cancel)
		r.Post("/assign-room", h.AssignRoom)
		r.Post("/check-in", h.CheckIn)
		r.Post("/check-out", h.CheckOut)
		r.Get("/overstay", h.OverstayStatus)
		r.Post("/overstay/acknowledge", h.AcknowledgeOverstay)
		r.Post("/overstay/extend", h.ExtendStay)
	})
	return r
}

// begin resolves the booking and the acting staff member. It writes the
// error response itself and reports whether the handler should continue.
func (h *StaffBookingsHandler) begin(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	staff, ok := requireStaff(w, r)
	if !ok {
		return uuid.Nil, "", false
	}
	id, err := scopedBookingID(r, h.store)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return uuid.Nil, "", false
	}
	return id, staff, true
}

func (h *StaffBookingsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	res, err := h.decisions.Approve(r.Context(), id, staff)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, res)
}

func (h *StaffBookingsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req declineRequest
	if err := decodeBody(r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	res, err := h.decisions.Decline(r.Context(), id, staff, strings.TrimSpace(req.Reason))
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, res)
}

func (h *StaffBookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	res, err := h.decisions.Cancel(r.Context(), id, staff, strings.TrimSpace(req.Reason))
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, res)
}

func (h *StaffBookingsHandler) AssignRoom(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req assignRoomRequest
	if err := decodeBody(r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	b, err := h.frontDesk.AssignRoom(r.Context(), id, uuid.MustParse(req.RoomID), staff)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, b)
}

func (h *StaffBookingsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	b, err := h.frontDesk.CheckIn(r.Context(), id, staff)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, b)
}

func (h *StaffBookingsHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	b, err := h.frontDesk.CheckOut(r.Context(), id, staff)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, b)
}

func (h *StaffBookingsHandler) OverstayStatus(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.begin(w, r)
	if !ok {
		return
	}
	res, err := h.overstay.Status(r.Context(), id, h.now())
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, res)
}

func (h *StaffBookingsHandler) AcknowledgeOverstay(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req acknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	res, err := h.overstay.Acknowledge(r.Context(), id, staff, strings.TrimSpace(req.Note), req.Dismiss)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, res)
}

// ExtendStay answers 200 when the extension is already confirmed and 202
// when the guest still has to authorize the added nights.
func (h *StaffBookingsHandler) ExtendStay(w http.ResponseWriter, r *http.Request) {
	id, staff, ok := h.begin(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		httperr.Message(w, http.StatusBadRequest, "invalid_input", IdempotencyKeyHeader+" header required")
		return
	}
	var req extendRequest
	if err := decodeBody(r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	if (req.NewCheckoutDate == "") == (req.AddNights == nil) {
		httperr.Message(w, http.StatusBadRequest, "invalid_input", "exactly one of new_checkout_date and add_nights is required")
		return
	}

	ext := overstay.ExtendRequest{
		BookingID:      id,
		Staff:          staff,
		AddNights:      req.AddNights,
		IdempotencyKey: key,
	}
	if req.NewCheckoutDate != "" {
		d, err := bookings.ParseDate(req.NewCheckoutDate)
		if err != nil {
			httperr.Write(w, r, h.logger, err)
			return
		}
		checkout, err := h.currentCheckout(r.Context(), id)
		if err != nil {
			httperr.Write(w, r, h.logger, err)
			return
		}
		if checkout.DaysUntil(d) > overstay.MaxExtensionNights {
			httperr.Message(w, http.StatusBadRequest, "invalid_input",
				fmt.Sprintf("new_checkout_date may not be more than %d nights after %s", overstay.MaxExtensionNights, checkout))
			return
		}
		ext.NewCheckout = &d
	}

	res, err := h.overstay.Extend(r.Context(), ext)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.Status == bookings.ExtensionPendingPayment {
		status = http.StatusAccepted
	}
	httperr.WriteJSON(w, status, res)
}

func (h *StaffBookingsHandler) currentCheckout(ctx context.Context, id uuid.UUID) (bookings.Date, error) {
	var out bookings.Date
	err := h.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		out = b.CheckOut
		return nil
	})
	return out, err
}
