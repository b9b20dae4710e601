package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 20

type webhookProcessor interface {
	Handle(ctx context.Context, raw payments.RawEvent) (*payments.WebhookResult, error)
}

// StripeWebhookHandler receives provider notifications. Only transient
// failures answer 5xx, so Stripe redelivers exactly those.
type StripeWebhookHandler struct {
	processor webhookProcessor
	logger    *logging.Logger
}

func NewStripeWebhookHandler(processor webhookProcessor, logger *logging.Logger) *StripeWebhookHandler {
	if processor == nil {
		panic("handlers: webhook processor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{processor: processor, logger: logger}
}

func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httperr.Message(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook payload too large")
		return
	}

	result, err := h.processor.Handle(r.Context(), payments.RawEvent{
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	switch {
	case errors.Is(err, payments.ErrSignatureInvalid):
		h.logger.Warn("stripe webhook rejected: bad signature", "remote_ip", r.RemoteAddr)
		httperr.Message(w, http.StatusForbidden, "signature_invalid", "invalid signature")
		return
	case errors.Is(err, payments.ErrMalformedEvent):
		h.logger.Warn("stripe webhook rejected: malformed payload", "error", err)
		httperr.Message(w, http.StatusBadRequest, "malformed_event", "malformed event")
		return
	case err != nil:
		h.logger.Error("stripe webhook failed, expecting redelivery", "error", err)
		httperr.Message(w, http.StatusInternalServerError, "retry", "event not processed")
		return
	}
	httperr.WriteJSON(w, http.StatusOK, result)
}
