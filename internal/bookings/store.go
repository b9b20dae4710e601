package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store opens transactions over booking state.
type Store interface {
	// WithBookingLock runs fn with the booking row locked for update. The
	// transaction commits only when fn returns nil.
	WithBookingLock(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx Tx, b *Booking) error) error
	// InTx runs fn in a transaction without locking a booking up front.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
// Lookups that can legitimately find nothing return ErrNotFound unless
// documented otherwise.
type Tx interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	// SaveBooking validates the at-rest invariants before writing.
	SaveBooking(ctx context.Context, b *Booking) error
	ListBookingsByStatus(ctx context.Context, propertyID uuid.UUID, status Status) ([]*Booking, error)
	// FindOverlapping returns CONFIRMED or CHECKED_IN bookings on roomID whose
	// stay intersects [from, to), excluding the given booking.
	FindOverlapping(ctx context.Context, roomID uuid.UUID, from, to Date, exclude uuid.UUID) ([]*Booking, error)

	GetProperty(ctx context.Context, id uuid.UUID) (*Property, error)
	ListProperties(ctx context.Context) ([]*Property, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	// LockRoom serializes assignment and extension decisions for a room.
	LockRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	ListRoomsByType(ctx context.Context, propertyID, roomTypeID uuid.UUID) ([]*Room, error)
	SaveRoom(ctx context.Context, r *Room) error

	InsertPaymentSession(ctx context.Context, s *PaymentSession) error
	UpdatePaymentSession(ctx context.Context, s *PaymentSession) error
	GetPaymentSession(ctx context.Context, id uuid.UUID) (*PaymentSession, error)
	// FindPaymentSessionByProviderRef matches either the provider session id
	// or the provider intent id.
	FindPaymentSessionByProviderRef(ctx context.Context, ref string) (*PaymentSession, error)
	ListPaymentSessions(ctx context.Context, bookingID uuid.UUID) ([]*PaymentSession, error)

	GetWebhookEvent(ctx context.Context, providerEventID string) (*WebhookEvent, error)
	// InsertWebhookEvent returns ErrDuplicate when the provider event id exists.
	InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, e *WebhookEvent) error
	ListWebhookEvents(ctx context.Context, status WebhookStatus, limit int) ([]*WebhookEvent, error)

	// ActiveIncident returns the OPEN or ACKED incident, or nil when none exists.
	ActiveIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error)
	// LatestIncident returns the most recently detected incident in any
	// status, or nil when the booking has none.
	LatestIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error)
	// InsertIncident returns ErrDuplicate when an active incident already exists.
	InsertIncident(ctx context.Context, i *OverstayIncident) error
	UpdateIncident(ctx context.Context, i *OverstayIncident) error

	// GetExtensionByKey returns nil when no extension used the key.
	GetExtensionByKey(ctx context.Context, bookingID uuid.UUID, key string) (*BookingExtension, error)
	GetExtension(ctx context.Context, id uuid.UUID) (*BookingExtension, error)
	InsertExtension(ctx context.Context, e *BookingExtension) error
	UpdateExtension(ctx context.Context, e *BookingExtension) error

	// AppendOutbox writes event records in the same transaction as the state
	// change that produced them.
	AppendOutbox(ctx context.Context, recs ...OutboxRecord) error
	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks are dropped on rollback.
	AfterCommit(fn func())
}

// OutboxRecord is a serialized domain event awaiting delivery.
type OutboxRecord struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	Type       string
	Payload    []byte
	CreatedAt  time.Time
}
