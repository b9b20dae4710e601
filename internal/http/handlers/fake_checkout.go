package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// FakeCheckoutHandler is the hosted payment page for the fake gateway. It
// answers the guest's redirect and feeds signed provider events into the
// webhook processor, so the whole authorization path runs without Stripe.
// Only mount it when PAYMENT_PROVIDER=fake.
type FakeCheckoutHandler struct {
	store     bookingReader
	processor webhookProcessor
	secret    string
	logger    *logging.Logger
	now       func() time.Time
}

func NewFakeCheckoutHandler(store bookingReader, processor webhookProcessor, secret string, logger *logging.Logger) *FakeCheckoutHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeCheckoutHandler{
		store:     store,
		processor: processor,
		secret:    secret,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Routes are mounted under /payments/fake, the path the gateway redirects to.
func (h *FakeCheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{sessionID}", h.HandleCheckout)
	r.Post("/{sessionID}/complete", h.HandleComplete)
	r.Post("/{sessionID}/cancel", h.HandleCancel)
	r.Get("/{sessionID}/done", h.HandleDone)
	return r
}

func (h *FakeCheckoutHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Test Card Authorization</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .btn{display:inline-block;background:#111827;color:#fff;padding:12px 16px;border-radius:10px;border:0;cursor:pointer;}
      .btn.secondary{background:#fff;color:#111827;border:1px solid #d1d5db;}
      .muted{color:#6b7280;font-size:14px;}
      code{background:#f3f4f6;padding:2px 6px;border-radius:6px;}
    </style>
  </head>
  <body>
    <h1>Test Card Authorization</h1>
    <div class="card">
      <p><strong>Hold:</strong> %.2f %s</p>
      <p class="muted">Nothing is charged here. The amount is held until the hotel confirms your stay.</p>
      <form method="POST" action="/payments/fake/%s/complete" style="display:inline">
        <button class="btn" type="submit">Authorize</button>
      </form>
      <form method="POST" action="/payments/fake/%s/cancel" style="display:inline">
        <button class="btn secondary" type="submit">Abandon</button>
      </form>
      <p class="muted">Session: <code>%s</code> (%s)</p>
    </div>
  </body>
</html>`, float64(sess.AmountCents)/100.0, sess.Currency, sess.ID, sess.ID, sess.ID, sess.Status)
}

func (h *FakeCheckoutHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, payments.EventCheckoutCompleted)
}

func (h *FakeCheckoutHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, payments.EventCheckoutExpired)
}

func (h *FakeCheckoutHandler) HandleDone(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	headline := "Card authorized"
	detail := "Your booking is waiting for the hotel to confirm it."
	if sess.Status != bookings.SessionAuthorized && sess.Status != bookings.SessionCaptured {
		headline = "Payment not completed"
		detail = "No hold was placed on your card."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>%s</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .muted{color:#6b7280;font-size:14px;}
      code{background:#f3f4f6;padding:2px 6px;border-radius:6px;}
    </style>
  </head>
  <body>
    <h1>%s</h1>
    <div class="card">
      <p>%s</p>
      <p class="muted">Session: <code>%s</code></p>
    </div>
  </body>
</html>`, headline, headline, detail, sess.ID)
}

// deliver signs an event the way Stripe would and hands it to the
// processor. Event ids are derived from the session so a double submit is
// a duplicate delivery.
func (h *FakeCheckoutHandler) deliver(w http.ResponseWriter, r *http.Request, eventType string) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	payload, err := fakeCheckoutEvent(eventType, sess, h.now())
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}
	result, err := h.processor.Handle(r.Context(), payments.RawEvent{
		Payload:   payload,
		Signature: payments.SignStripePayload(h.secret, payload, h.now()),
	})
	if err != nil {
		h.logger.Error("fake checkout delivery failed", "error", err, "session_id", sess.ID, "event_type", eventType)
		httperr.Write(w, r, h.logger, err)
		return
	}
	h.logger.Info("fake checkout delivered", "session_id", sess.ID, "event_type", eventType, "outcome", result.Outcome)
	http.Redirect(w, r, fmt.Sprintf("/payments/fake/%s/done", sess.ID), http.StatusSeeOther)
}

func (h *FakeCheckoutHandler) loadSession(w http.ResponseWriter, r *http.Request) (*bookings.PaymentSession, bool) {
	id, err := uuidParam(r, "sessionID")
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return nil, false
	}
	var sess *bookings.PaymentSession
	err = h.store.InTx(r.Context(), func(ctx context.Context, tx bookings.Tx) error {
		var err error
		sess, err = tx.GetPaymentSession(ctx, id)
		return err
	})
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return nil, false
	}
	return sess, true
}

func fakeCheckoutEvent(eventType string, sess *bookings.PaymentSession, at time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":      fmt.Sprintf("evt_fake_%s_%s", eventType, sess.ID),
		"type":    eventType,
		"created": at.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"object":         "checkout.session",
				"id":             sess.ProviderSessionID,
				"payment_intent": sess.ProviderIntentID,
				"payment_status": "unpaid",
				"metadata": map[string]string{
					"session_id": sess.ID.String(),
					"booking_id": sess.BookingID.String(),
				},
			},
		},
	})
}

