package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/archive"
	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

const (
	defaultWebhookListLimit = 50
	maxWebhookListLimit     = 500
	defaultAuditLimit       = 100
)

type payloadFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type auditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// OpsHandler exposes the webhook event log to operators working the
// failed-event queue.
type OpsHandler struct {
	store   bookingReader
	archive payloadFetcher
	audit   auditQuerier
	logger  *logging.Logger
}

func NewOpsHandler(store bookingReader, payloads payloadFetcher, logger *logging.Logger) *OpsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OpsHandler{store: store, archive: payloads, logger: logger}
}

// WithAudit enables the staff audit listing.
func (h *OpsHandler) WithAudit(q auditQuerier) *OpsHandler {
	h.audit = q
	return h
}

func (h *OpsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/webhook-events", h.ListWebhookEvents)
	r.Get("/webhook-events/{eventID}/payload", h.WebhookPayload)
	r.Get("/audit", h.ListAudit)
	return r
}

func (h *OpsHandler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	status := bookings.WebhookStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status == "" {
		status = bookings.WebhookFailed
	}
	switch status {
	case bookings.WebhookReceived, bookings.WebhookProcessed, bookings.WebhookFailed:
	default:
		httperr.Message(w, http.StatusBadRequest, "invalid_input", "status must be RECEIVED, PROCESSED or FAILED")
		return
	}

	limit := defaultWebhookListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httperr.Message(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxWebhookListLimit)
	}

	var list []*bookings.WebhookEvent
	err := h.store.InTx(r.Context(), func(ctx context.Context, tx bookings.Tx) error {
		var err error
		list, err = tx.ListWebhookEvents(ctx, status, limit)
		return err
	})
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*bookings.WebhookEvent{}
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"events": list,
	})
}

// WebhookPayload returns the raw provider payload when it was archived.
func (h *OpsHandler) WebhookPayload(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	var evt *bookings.WebhookEvent
	err := h.store.InTx(r.Context(), func(ctx context.Context, tx bookings.Tx) error {
		var err error
		evt, err = tx.GetWebhookEvent(ctx, eventID)
		return err
	})
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	if h.archive == nil {
		httperr.Message(w, http.StatusNotFound, "not_archived", "payload archive not configured")
		return
	}
	payload, err := h.archive.Fetch(r.Context(), evt.PayloadRef)
	if errors.Is(err, archive.ErrNotArchived) {
		httperr.Message(w, http.StatusNotFound, "not_archived", "only a digest of this payload was kept")
		return
	}
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// ListAudit returns staff actions for one property, newest first.
// Query: property_id (required), booking_id, action (repeatable), since
// (RFC 3339), limit.
func (h *OpsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httperr.Message(w, http.StatusNotFound, "not_found", "audit log not configured")
		return
	}
	q := r.URL.Query()
	propertyID, err := uuid.Parse(q.Get("property_id"))
	if err != nil {
		httperr.Message(w, http.StatusBadRequest, "invalid_input", "property_id must be a UUID")
		return
	}
	f := audit.Filter{PropertyID: propertyID, Limit: defaultAuditLimit}
	if raw := q.Get("booking_id"); raw != "" {
		if f.BookingID, err = uuid.Parse(raw); err != nil {
			httperr.Message(w, http.StatusBadRequest, "invalid_input", "booking_id must be a UUID")
			return
		}
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, audit.Action(strings.TrimSpace(a)))
	}
	if raw := q.Get("since"); raw != "" {
		if f.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			httperr.Message(w, http.StatusBadRequest, "invalid_input", "since must be an RFC 3339 timestamp")
			return
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httperr.Message(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxWebhookListLimit)
	}

	entries, err := h.audit.Query(r.Context(), f)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
