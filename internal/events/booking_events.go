package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

// Type names a domain event on the wire.
type Type string

const (
	BookingOverstayFlagged      Type = "booking_overstay_flagged"
	BookingOverstayAcknowledged Type = "booking_overstay_acknowledged"
	BookingOverstayExtended     Type = "booking_overstay_extended"
	BookingConfirmed            Type = "booking_confirmed"
	BookingDeclined             Type = "booking_declined"
	BookingUpdated              Type = "booking_updated"
	BookingCancelled            Type = "booking_cancelled"
)

// Event carries a full booking snapshot so consumers never read back.
type Event struct {
	ID         uuid.UUID                  `json:"id"`
	Type       Type                       `json:"type"`
	OccurredAt time.Time                  `json:"occurred_at"`
	PropertyID uuid.UUID                  `json:"property_id"`
	Booking    *bookings.Booking          `json:"booking"`
	Incident   *bookings.OverstayIncident `json:"incident,omitempty"`
	Extension  *bookings.BookingExtension `json:"extension,omitempty"`
}

// New snapshots b at the time of the call.
func New(t Type, b *bookings.Booking, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: at.UTC(),
		PropertyID: b.PropertyID,
		Booking:    b.Clone(),
	}
}

// WithIncident attaches an incident snapshot.
func (e Event) WithIncident(i *bookings.OverstayIncident) Event {
	e.Incident = i.Clone()
	return e
}

func (e Event) WithExtension(x *bookings.BookingExtension) Event {
	e.Extension = x.Clone()
	return e
}

// Publisher stages events inside the transaction that produced them. Nothing
// reaches consumers unless tx commits, and a Publish error must abort tx.
type Publisher interface {
	Publish(ctx context.Context, tx bookings.Tx, evts ...Event) error
}

// Record serializes e for the outbox.
func (e Event) Record() (bookings.OutboxRecord, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return bookings.OutboxRecord{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	return bookings.OutboxRecord{
		ID:         e.ID,
		PropertyID: e.PropertyID,
		Type:       string(e.Type),
		Payload:    data,
		CreatedAt:  e.OccurredAt,
	}, nil
}
