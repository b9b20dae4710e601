package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

var stripeTracer = otel.Tracer("hotel.internal.payments.stripe")

const stripeProvider = "stripe"

// StripeGateway places manual-capture holds through Stripe Checkout, or
// directly on a saved payment method when the guest already has one.
type StripeGateway struct {
	secretKey  string
	successURL string
	cancelURL  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

func NewStripeGateway(secretKey, successURL, cancelURL string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	dryRun := strings.EqualFold(os.Getenv("STRIPE_DRY_RUN"), "true") || os.Getenv("STRIPE_DRY_RUN") == "1"
	return &StripeGateway{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		dryRun:     dryRun,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithDryRun returns fake sessions without calling Stripe.
func (s *StripeGateway) WithDryRun(enabled bool) *StripeGateway {
	s.dryRun = enabled
	return s
}

func (s *StripeGateway) Name() string { return stripeProvider }

func (s *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("hotel.booking_id", req.BookingID.String()),
		attribute.String("hotel.session_purpose", string(req.Purpose)),
		attribute.Int64("hotel.amount_cents", req.AmountCents),
	)

	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: stripe session amount must be positive")
	}
	if s.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		s.logger.Info("stripe dry run: skipping session creation",
			"booking_id", req.BookingID, "amount_cents", req.AmountCents)
		return &ProviderSession{
			ProviderSessionID: fakeID,
			RedirectURL:       fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID),
			ExpiresAt:         req.ExpiresAt,
		}, nil
	}

	if req.CustomerID != "" && req.PaymentMethodID != "" {
		out, err := s.authorizeOffSession(ctx, req)
		if err == nil {
			return out, nil
		}
		// A saved card can need 3DS or be declined; the guest then gets a
		// hosted page instead.
		s.logger.Warn("stripe off-session authorization failed, falling back to checkout",
			"booking_id", req.BookingID, "error", err)
	}
	return s.createCheckoutSession(ctx, req)
}

func (s *StripeGateway) authorizeOffSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("customer", req.CustomerID)
	form.Set("payment_method", req.PaymentMethodID)
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range sessionMetadata(req) {
		form.Set("metadata["+k+"]", v)
	}

	var intent stripePaymentIntent
	if err := s.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey+"-offsession", &intent); err != nil {
		return nil, err
	}
	if intent.Status != "requires_capture" {
		return nil, fmt.Errorf("%w: off-session intent %s in status %s", ErrGateway, intent.ID, intent.Status)
	}
	return &ProviderSession{
		ProviderSessionID: intent.ID,
		ProviderIntentID:  intent.ID,
		ExpiresAt:         req.ExpiresAt,
		Authorized:        true,
	}, nil
}

func (s *StripeGateway) createCheckoutSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = "Room reservation " + req.Reference
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")
	form.Set("payment_intent_data[capture_method]", "manual")
	form.Set("payment_intent_data[setup_future_usage]", "off_session")
	form.Set("client_reference_id", req.BookingID.String())
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	} else {
		form.Set("customer_creation", "always")
		if req.GuestEmail != "" {
			form.Set("customer_email", req.GuestEmail)
		}
	}
	if !req.ExpiresAt.IsZero() {
		form.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}
	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}
	// Metadata on both objects so either event family can be routed.
	for k, v := range sessionMetadata(req) {
		form.Set("metadata["+k+"]", v)
		form.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	var parsed stripeCheckoutSession
	if err := s.post(ctx, "/v1/checkout/sessions", form, req.IdempotencyKey, &parsed); err != nil {
		return nil, err
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("%w: stripe response missing checkout url", ErrGateway)
	}
	expires := req.ExpiresAt
	if parsed.ExpiresAt > 0 {
		expires = time.Unix(parsed.ExpiresAt, 0).UTC()
	}
	return &ProviderSession{
		ProviderSessionID: parsed.ID,
		ProviderIntentID:  parsed.PaymentIntent,
		RedirectURL:       parsed.URL,
		ExpiresAt:         expires,
	}, nil
}

func (s *StripeGateway) Capture(ctx context.Context, intentID, idempotencyKey string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.capture")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.payment_intent_id", intentID))

	if s.dryRun {
		s.logger.Info("stripe dry run: skipping capture", "intent_id", intentID)
		return nil
	}
	return s.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/capture", url.Values{}, idempotencyKey, nil)
}

func (s *StripeGateway) Void(ctx context.Context, intentID, idempotencyKey string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.void")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.payment_intent_id", intentID))

	if s.dryRun {
		s.logger.Info("stripe dry run: skipping void", "intent_id", intentID)
		return nil
	}
	return s.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", url.Values{}, idempotencyKey, nil)
}

func (s *StripeGateway) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", s.apiVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe http: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: stripe read body: %v", ErrGateway, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: stripe api status %d: %s", ErrGateway, resp.StatusCode, stripeErrorMessage(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: stripe decode: %v", ErrGateway, err)
	}
	return nil
}

func sessionMetadata(req SessionRequest) map[string]string {
	md := map[string]string{
		"session_id":  req.SessionID.String(),
		"booking_id":  req.BookingID.String(),
		"property_id": req.PropertyID.String(),
		"purpose":     string(req.Purpose),
	}
	if req.Reference != "" {
		md["booking_reference"] = req.Reference
	}
	if req.ExtensionID != nil {
		md["extension_id"] = req.ExtensionID.String()
	}
	return md
}

type stripeCheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
	ExpiresAt     int64  `json:"expires_at"`
}

type stripePaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func stripeErrorMessage(body []byte) string {
	var parsed stripeErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		if parsed.Error.Code != "" {
			return parsed.Error.Code + ": " + parsed.Error.Message
		}
		return parsed.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
