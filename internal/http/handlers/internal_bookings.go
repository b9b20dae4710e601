package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

type sessionCreator interface {
	CreateSession(ctx context.Context, bookingID uuid.UUID) (*payments.SessionHandle, error)
}

type paymentSubmitter interface {
	SubmitForPayment(ctx context.Context, bookingID uuid.UUID) (*bookings.Booking, error)
}

// InternalBookingsHandler serves the guest booking flow, which runs as a
// separate service and authenticates with the service key.
type InternalBookingsHandler struct {
	sessions  sessionCreator
	submitter paymentSubmitter
	logger    *logging.Logger
}

func NewInternalBookingsHandler(sessions sessionCreator, submitter paymentSubmitter, logger *logging.Logger) *InternalBookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &InternalBookingsHandler{sessions: sessions, submitter: submitter, logger: logger}
}

func (h *InternalBookingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{bookingID}/submit", h.Submit)
	r.Post("/{bookingID}/payment-session", h.CreatePaymentSession)
	return r
}

func (h *InternalBookingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "bookingID")
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	b, err := h.submitter.SubmitForPayment(r.Context(), id)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{
		"booking_id": b.ID,
		"status":     b.Status,
	})
}

// CreatePaymentSession answers 201 with the redirect the guest follows.
func (h *InternalBookingsHandler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "bookingID")
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	handle, err := h.sessions.CreateSession(r.Context(), id)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	httperr.WriteJSON(w, http.StatusCreated, handle)
}
