package bookings

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Booking is the aggregate root for a guest stay.
type Booking struct {
	ID         uuid.UUID  `json:"id"`
	Reference  string     `json:"reference"`
	PropertyID uuid.UUID  `json:"property_id"`
	RoomID     *uuid.UUID `json:"room_id,omitempty"`
	RoomTypeID uuid.UUID  `json:"room_type_id"`
	GuestName  string     `json:"guest_name,omitempty"`
	GuestEmail string     `json:"guest_email,omitempty"`
	CheckIn    Date       `json:"check_in"`
	CheckOut   Date       `json:"check_out"`
	Adults     int        `json:"adults"`
	Children   int        `json:"children"`
	TotalCents int64      `json:"total_cents"`
	Currency   string     `json:"currency"`
	Status     Status     `json:"status"`
	RatePlan   RatePlan   `json:"rate_plan"`

	PaymentProvider     string     `json:"payment_provider,omitempty"`
	PaymentReference    string     `json:"payment_reference,omitempty"`
	PaymentIntentID     string     `json:"payment_intent_id,omitempty"`
	PaymentCustomerID   string     `json:"payment_customer_id,omitempty"`
	PaymentMethodID     string     `json:"payment_method_id,omitempty"`
	PaymentAuthorizedAt *time.Time `json:"payment_authorized_at,omitempty"`
	PaidAt              *time.Time `json:"paid_at,omitempty"`

	DecisionBy    string     `json:"decision_by,omitempty"`
	DecisionAt    *time.Time `json:"decision_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt  *time.Time `json:"checked_out_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy   string     `json:"cancelled_by,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Nights is the length of the stay.
func (b *Booking) Nights() int {
	return b.CheckIn.DaysUntil(b.CheckOut)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.RoomID = cloneUUID(b.RoomID)
	c.PaymentAuthorizedAt = cloneTime(b.PaymentAuthorizedAt)
	c.PaidAt = cloneTime(b.PaidAt)
	c.DecisionAt = cloneTime(b.DecisionAt)
	c.CheckedInAt = cloneTime(b.CheckedInAt)
	c.CheckedOutAt = cloneTime(b.CheckedOutAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

// RatePlan is the pricing snapshot taken when the booking was made.
type RatePlan struct {
	Code                string `json:"code"`
	NightlyCents        int64  `json:"nightly_cents"`
	WeekendNightlyCents int64  `json:"weekend_nightly_cents,omitempty"`
	TaxBasisPoints      int    `json:"tax_basis_points,omitempty"`
}

type Property struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Timezone      string    `json:"timezone"`
	Currency      string    `json:"currency"`
	AutoCapture   bool      `json:"auto_capture"`
	OperatorEmail string    `json:"operator_email,omitempty"`
}

// Location resolves the property's IANA zone. An unknown zone is a data
// error, not something to paper over with UTC.
func (p *Property) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: property %s has unknown timezone %q", ErrIntegrity, p.ID, p.Timezone)
	}
	return loc, nil
}

type Housekeeping string

const (
	HousekeepingClean Housekeeping = "clean"
	HousekeepingDirty Housekeeping = "dirty"
)

type Room struct {
	ID           uuid.UUID    `json:"id"`
	PropertyID   uuid.UUID    `json:"property_id"`
	RoomTypeID   uuid.UUID    `json:"room_type_id"`
	Number       string       `json:"number"`
	Floor        int          `json:"floor"`
	Housekeeping Housekeeping `json:"housekeeping"`
	OutOfService bool         `json:"out_of_service"`
}

type SessionPurpose string

const (
	PurposeInitial   SessionPurpose = "initial"
	PurposeExtension SessionPurpose = "extension"
)

type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionAuthorized SessionStatus = "authorized"
	SessionCaptured   SessionStatus = "captured"
	SessionVoided     SessionStatus = "voided"
	SessionExpired    SessionStatus = "expired"
)

// PaymentSession is one authorize/capture cycle with the gateway.
type PaymentSession struct {
	ID                uuid.UUID      `json:"id"`
	BookingID         uuid.UUID      `json:"booking_id"`
	Purpose           SessionPurpose `json:"purpose"`
	ExtensionID       *uuid.UUID     `json:"extension_id,omitempty"`
	Provider          string         `json:"provider"`
	ProviderSessionID string         `json:"provider_session_id,omitempty"`
	ProviderIntentID  string         `json:"provider_intent_id,omitempty"`
	RedirectURL       string         `json:"redirect_url,omitempty"`
	AmountCents       int64          `json:"amount_cents"`
	Currency          string         `json:"currency"`
	CaptureMode       string         `json:"capture_mode"`
	Status            SessionStatus  `json:"status"`
	ExpiresAt         time.Time      `json:"expires_at"`
	CreatedAt         time.Time      `json:"created_at"`
	AuthorizedAt      *time.Time     `json:"authorized_at,omitempty"`
	CapturedAt        *time.Time     `json:"captured_at,omitempty"`
	VoidedAt          *time.Time     `json:"voided_at,omitempty"`
}

func (s *PaymentSession) Clone() *PaymentSession {
	if s == nil {
		return nil
	}
	c := *s
	c.ExtensionID = cloneUUID(s.ExtensionID)
	c.AuthorizedAt = cloneTime(s.AuthorizedAt)
	c.CapturedAt = cloneTime(s.CapturedAt)
	c.VoidedAt = cloneTime(s.VoidedAt)
	return &c
}

type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "RECEIVED"
	WebhookProcessed WebhookStatus = "PROCESSED"
	WebhookFailed    WebhookStatus = "FAILED"
)

// WebhookEvent is the durable record of one provider notification.
type WebhookEvent struct {
	ProviderEventID string        `json:"provider_event_id"`
	Provider        string        `json:"provider"`
	EventType       string        `json:"event_type"`
	PayloadRef      string        `json:"payload_ref"`
	Status          WebhookStatus `json:"status"`
	BookingID       *uuid.UUID    `json:"booking_id,omitempty"`
	Error           string        `json:"error,omitempty"`
	ReceivedAt      time.Time     `json:"received_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
}

func (e *WebhookEvent) Clone() *WebhookEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.BookingID = cloneUUID(e.BookingID)
	c.ProcessedAt = cloneTime(e.ProcessedAt)
	return &c
}

type IncidentStatus string

const (
	IncidentOpen      IncidentStatus = "OPEN"
	IncidentAcked     IncidentStatus = "ACKED"
	IncidentResolved  IncidentStatus = "RESOLVED"
	IncidentDismissed IncidentStatus = "DISMISSED"
)

// Active reports whether the incident still needs attention.
func (s IncidentStatus) Active() bool {
	return s == IncidentOpen || s == IncidentAcked
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type OverstayIncident struct {
	ID               uuid.UUID      `json:"id"`
	BookingID        uuid.UUID      `json:"booking_id"`
	PropertyID       uuid.UUID      `json:"property_id"`
	ExpectedCheckout Date           `json:"expected_checkout"`
	DetectedAt       time.Time      `json:"detected_at"`
	Status           IncidentStatus `json:"status"`
	Severity         Severity       `json:"severity"`

	AckedBy string     `json:"acked_by,omitempty"`
	AckedAt *time.Time `json:"acked_at,omitempty"`
	AckNote string     `json:"ack_note,omitempty"`

	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	DismissedBy string     `json:"dismissed_by,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	DismissNote string     `json:"dismiss_note,omitempty"`
}

func (i *OverstayIncident) Clone() *OverstayIncident {
	if i == nil {
		return nil
	}
	c := *i
	c.AckedAt = cloneTime(i.AckedAt)
	c.ResolvedAt = cloneTime(i.ResolvedAt)
	c.DismissedAt = cloneTime(i.DismissedAt)
	return &c
}

// Resolve closes an active incident. Resolving a closed incident is a no-op.
func (i *OverstayIncident) Resolve(actor, note string, at time.Time) bool {
	if !i.Status.Active() {
		return false
	}
	i.Status = IncidentResolved
	i.ResolvedBy = actor
	i.ResolvedAt = &at
	i.ResolutionNote = note
	return true
}

type ExtensionStatus string

const (
	ExtensionPendingPayment ExtensionStatus = "PENDING_PAYMENT"
	ExtensionConfirmed      ExtensionStatus = "CONFIRMED"
	ExtensionFailed         ExtensionStatus = "FAILED"
)

// NightPrice is one priced night of an extension.
type NightPrice struct {
	Date    Date  `json:"date"`
	Cents   int64 `json:"cents"`
	Weekend bool  `json:"weekend,omitempty"`
}

type PricingBreakdown struct {
	RatePlanCode   string       `json:"rate_plan_code"`
	Nights         []NightPrice `json:"nights"`
	SubtotalCents  int64        `json:"subtotal_cents"`
	TaxBasisPoints int          `json:"tax_basis_points"`
	TaxCents       int64        `json:"tax_cents"`
	TotalCents     int64        `json:"total_cents"`
}

type BookingExtension struct {
	ID               uuid.UUID        `json:"id"`
	BookingID        uuid.UUID        `json:"booking_id"`
	OldCheckout      Date             `json:"old_checkout"`
	NewCheckout      Date             `json:"new_checkout"`
	NightsAdded      int              `json:"nights_added"`
	Pricing          PricingBreakdown `json:"pricing"`
	AmountCents      int64            `json:"amount_cents"`
	Currency         string           `json:"currency"`
	PaymentSessionID *uuid.UUID       `json:"payment_session_id,omitempty"`
	IdempotencyKey   string           `json:"idempotency_key"`
	Status           ExtensionStatus  `json:"status"`
	RequestedBy      string           `json:"requested_by"`
	CreatedAt        time.Time        `json:"created_at"`
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
}

func (e *BookingExtension) Clone() *BookingExtension {
	if e == nil {
		return nil
	}
	c := *e
	c.Pricing.Nights = append([]NightPrice(nil), e.Pricing.Nights...)
	c.PaymentSessionID = cloneUUID(e.PaymentSessionID)
	c.ConfirmedAt = cloneTime(e.ConfirmedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
