package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

type stripeCall struct {
	path           string
	idempotencyKey string
	auth           string
	form           map[string]string
}

type stripeStub struct {
	mu    sync.Mutex
	calls []stripeCall
}

func (s *stripeStub) record(r *http.Request) stripeCall {
	_ = r.ParseForm()
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	call := stripeCall{
		path:           r.URL.Path,
		idempotencyKey: r.Header.Get("Idempotency-Key"),
		auth:           r.Header.Get("Authorization"),
		form:           form,
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return call
}

func newStripeServer(t *testing.T, stub *stripeStub, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewStripeGateway("sk_test_123", "https://pms.example.com/paid", "https://pms.example.com/cancel", nil).
		WithBaseURL(srv.URL).
		WithDryRun(false)
}

func sampleRequest() SessionRequest {
	return SessionRequest{
		SessionID:      uuid.New(),
		BookingID:      uuid.New(),
		PropertyID:     uuid.New(),
		Reference:      "BK-2025-0042",
		Purpose:        bookings.PurposeInitial,
		AmountCents:    54000,
		Currency:       "USD",
		GuestEmail:     "ada@example.com",
		ExpiresAt:      time.Now().Add(30 * time.Minute).Truncate(time.Second),
		IdempotencyKey: "session-abc",
	}
}

func TestStripeCheckoutSessionUsesManualCapture(t *testing.T) {
	stub := &stripeStub{}
	gw := newStripeServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/cs_test_1","payment_intent":"pi_1","expires_at":1900000000}`))
	})
	req := sampleRequest()

	out, err := gw.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", out.ProviderSessionID)
	assert.Equal(t, "pi_1", out.ProviderIntentID)
	assert.False(t, out.Authorized)
	assert.Equal(t, time.Unix(1900000000, 0).UTC(), out.ExpiresAt)

	require.Len(t, stub.calls, 1)
	call := stub.calls[0]
	assert.Equal(t, "/v1/checkout/sessions", call.path)
	assert.Equal(t, "session-abc", call.idempotencyKey)
	assert.Equal(t, "Bearer sk_test_123", call.auth)
	assert.Equal(t, "manual", call.form["payment_intent_data[capture_method]"])
	assert.Equal(t, "54000", call.form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "usd", call.form["line_items[0][price_data][currency]"])
	assert.Equal(t, req.SessionID.String(), call.form["metadata[session_id]"])
	assert.Equal(t, req.SessionID.String(), call.form["payment_intent_data[metadata][session_id]"])
	assert.Equal(t, "BK-2025-0042", call.form["metadata[booking_reference]"])
	assert.Equal(t, "always", call.form["customer_creation"])
	assert.Equal(t, "ada@example.com", call.form["customer_email"])
}

func TestStripeOffSessionAuthorization(t *testing.T) {
	stub := &stripeStub{}
	gw := newStripeServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_saved","status":"requires_capture"}`))
	})
	req := sampleRequest()
	req.Purpose = bookings.PurposeExtension
	req.CustomerID = "cus_1"
	req.PaymentMethodID = "pm_1"

	out, err := gw.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Authorized)
	assert.Equal(t, "pi_saved", out.ProviderIntentID)
	assert.Empty(t, out.RedirectURL)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, "/v1/payment_intents", stub.calls[0].path)
	assert.Equal(t, "session-abc-offsession", stub.calls[0].idempotencyKey)
	assert.Equal(t, "true", stub.calls[0].form["off_session"])
	assert.Equal(t, "manual", stub.calls[0].form["capture_method"])
}

func TestStripeOffSessionFallsBackToCheckout(t *testing.T) {
	stub := &stripeStub{}
	gw := newStripeServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/payment_intents" {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":{"code":"authentication_required","message":"3DS needed"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_2","url":"https://checkout.stripe.com/c/cs_2"}`))
	})
	req := sampleRequest()
	req.CustomerID = "cus_1"
	req.PaymentMethodID = "pm_1"

	out, err := gw.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.Authorized)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_2", out.RedirectURL)
	require.Len(t, stub.calls, 2)
	assert.Equal(t, "cus_1", stub.calls[1].form["customer"])
	assert.Empty(t, stub.calls[1].form["customer_creation"])
}

func TestStripeCaptureAndVoidPaths(t *testing.T) {
	stub := &stripeStub{}
	gw := newStripeServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, gw.Capture(context.Background(), "pi_9", "capture-pi_9"))
	require.NoError(t, gw.Void(context.Background(), "pi_9", "void-pi_9"))

	require.Len(t, stub.calls, 2)
	assert.Equal(t, "/v1/payment_intents/pi_9/capture", stub.calls[0].path)
	assert.Equal(t, "capture-pi_9", stub.calls[0].idempotencyKey)
	assert.Equal(t, "/v1/payment_intents/pi_9/cancel", stub.calls[1].path)
	assert.Equal(t, "void-pi_9", stub.calls[1].idempotencyKey)
}

func TestStripeErrorsWrapGateway(t *testing.T) {
	stub := &stripeStub{}
	gw := newStripeServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"payment_intent_unexpected_state","message":"already captured"}}`))
	})

	err := gw.Capture(context.Background(), "pi_1", "k")
	require.ErrorIs(t, err, ErrGateway)
	assert.True(t, strings.Contains(err.Error(), "payment_intent_unexpected_state: already captured"))
}

func TestStripeDryRunSkipsNetwork(t *testing.T) {
	gw := NewStripeGateway("sk", "", "", nil).WithBaseURL("http://127.0.0.1:1").WithDryRun(true)
	out, err := gw.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ProviderSessionID, "cs_dryrun_"))
	require.NoError(t, gw.Capture(context.Background(), "pi", "k"))
}

func TestStripeRejectsNonPositiveAmount(t *testing.T) {
	gw := NewStripeGateway("sk", "", "", nil).WithDryRun(true)
	req := sampleRequest()
	req.AmountCents = 0
	_, err := gw.CreateSession(context.Background(), req)
	require.Error(t, err)
}
