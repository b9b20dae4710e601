package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types the processor acts on. Everything else is recorded and
// ignored.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventCheckoutExpired         = "checkout.session.expired"
	EventAmountCapturableUpdated = "payment_intent.amount_capturable_updated"
	EventPaymentIntentCanceled   = "payment_intent.canceled"
)

const (
	defaultSignatureTolerance   = 5 * time.Minute
	paymentStatusPaid           = "paid"
	intentStatusRequiresCapture = "requires_capture"
	paymentIntentObjectType     = "payment_intent"
	metadataSessionID           = "session_id"
	metadataBookingID           = "booking_id"
)

// ProviderEvent is a provider notification reduced to what the processor
// needs.
type ProviderEvent struct {
	ID              string
	Type            string
	Created         time.Time
	ObjectType      string
	ObjectID        string
	IntentID        string
	IntentStatus    string
	PaymentStatus   string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// SessionID returns the internal session id carried in metadata.
func (e *ProviderEvent) SessionID() (uuid.UUID, bool) {
	raw := strings.TrimSpace(e.Metadata[metadataSessionID])
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// BookingID returns the booking id carried in metadata, if any.
func (e *ProviderEvent) BookingID() *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(e.Metadata[metadataBookingID]))
	if err != nil {
		return nil
	}
	return &id
}

type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created json.RawMessage `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeEventObject struct {
	Object        string            `json:"object"`
	ID            string            `json:"id"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	Status        string            `json:"status"`
	Customer      json.RawMessage   `json:"customer"`
	PaymentMethod json.RawMessage   `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

// parseStripeEnvelope reads the event id and type. It fails with
// ErrMalformedEvent only when there is no id to record the event under;
// the rest of the body is left to decodeBody.
func parseStripeEnvelope(payload []byte) (*ProviderEvent, *stripeWebhookEvent, error) {
	var env stripeWebhookEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || strings.TrimSpace(env.ID) == "" {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, nil, fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}
	evt := &ProviderEvent{
		ID:       env.ID,
		Type:     env.Type,
		Metadata: map[string]string{},
	}
	return evt, &env, nil
}

// decodeBody fills evt from the envelope's created time and data.object.
// Failures wrap ErrMalformedEvent.
func (env *stripeWebhookEvent) decodeBody(evt *ProviderEvent) error {
	if len(env.Created) > 0 && string(env.Created) != "null" {
		var created int64
		if err := json.Unmarshal(env.Created, &created); err != nil {
			return fmt.Errorf("%w: created: %v", ErrMalformedEvent, err)
		}
		evt.Created = time.Unix(created, 0).UTC()
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	var data stripeEventData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	if len(data.Object) == 0 {
		return nil
	}
	var obj stripeEventObject
	if err := json.Unmarshal(data.Object, &obj); err != nil {
		return fmt.Errorf("%w: data.object: %v", ErrMalformedEvent, err)
	}
	evt.ObjectType = obj.Object
	evt.ObjectID = obj.ID
	evt.CustomerID = expandableID(obj.Customer)
	evt.PaymentMethodID = expandableID(obj.PaymentMethod)
	if obj.Metadata != nil {
		evt.Metadata = obj.Metadata
	}
	switch obj.Object {
	case paymentIntentObjectType:
		evt.IntentID = obj.ID
		evt.IntentStatus = obj.Status
	default:
		evt.IntentID = expandableID(obj.PaymentIntent)
		evt.PaymentStatus = obj.PaymentStatus
	}
	return nil
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object with an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// verifyStripeSignature checks the Stripe-Signature header:
// t=<timestamp>,v1=<signature>[,v1=...]. Signatures are HMAC-SHA256 over
// "timestamp.payload".
func verifyStripeSignature(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) bool {
	if secret == "" || header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if tolerance > 0 && abs64(now.Unix()-ts) > int64(tolerance/time.Second) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

// SignStripePayload builds a Stripe-Signature header. Used by the fake
// payment page and tests.
func SignStripePayload(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
