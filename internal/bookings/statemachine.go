package bookings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Guard carries the facts a transition needs. Which fields are required
// depends on the edge.
type Guard struct {
	Actor        string
	At           time.Time
	AuthorizedAt time.Time
	CapturedAt   time.Time
	IntentID     string
	Reason       string
	// Refunded must be set by the refunding cancellation path before a
	// CONFIRMED or CHECKED_IN booking may be cancelled.
	Refunded bool
}

// Transition is the only writer of Status, PaymentAuthorizedAt, PaidAt and
// the decision, check-in and check-out audit fields. The booking is left
// untouched when the transition is rejected.
func Transition(b *Booking, target Status, g Guard) error {
	if b == nil {
		return fmt.Errorf("%w: nil booking", ErrInvalidInput)
	}
	from := b.Status
	if !from.CanTransitionTo(target) {
		return &TransitionError{From: from, To: target}
	}
	at := g.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	reject := func(reason string) error {
		return &TransitionError{From: from, To: target, Reason: reason}
	}

	next := b.Clone()
	switch target {
	case StatusPendingPayment:
	case StatusPendingApproval:
		if g.AuthorizedAt.IsZero() {
			return reject("authorization timestamp required")
		}
		if strings.TrimSpace(g.IntentID) == "" {
			return reject("payment intent id required")
		}
		authorized := g.AuthorizedAt.UTC()
		next.PaymentAuthorizedAt = &authorized
		next.PaymentIntentID = g.IntentID
		next.PaymentReference = g.IntentID
	case StatusConfirmed:
		if b.PaymentAuthorizedAt == nil {
			return reject("payment not authorized")
		}
		if g.CapturedAt.IsZero() {
			return reject("capture timestamp required")
		}
		if strings.TrimSpace(g.Actor) == "" {
			return reject("actor required")
		}
		captured := g.CapturedAt.UTC()
		next.PaidAt = &captured
		next.DecisionBy = g.Actor
		next.DecisionAt = &at
	case StatusDeclined:
		if strings.TrimSpace(g.Actor) == "" {
			return reject("actor required")
		}
		next.DecisionBy = g.Actor
		next.DecisionAt = &at
		next.DeclineReason = g.Reason
	case StatusCheckedIn:
		if b.RoomID == nil || *b.RoomID == uuid.Nil {
			return reject("room not assigned")
		}
		next.CheckedInAt = &at
	case StatusCompleted:
		next.CheckedOutAt = &at
	case StatusCancelled:
		if (from == StatusConfirmed || from == StatusCheckedIn) && !g.Refunded {
			return reject("refund required to cancel a confirmed stay")
		}
		next.CancelledAt = &at
		next.CancelledBy = g.Actor
		next.CancelReason = g.Reason
	}
	next.Status = target
	next.UpdatedAt = at
	*b = *next
	return nil
}

// ValidateAtRest checks the status against the two payment timestamps.
func ValidateAtRest(b *Booking) error {
	if b == nil {
		return fmt.Errorf("%w: nil booking", ErrIntegrity)
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrIntegrity, b.Status)
	}
	if !b.CheckIn.IsZero() && !b.CheckOut.After(b.CheckIn) {
		return fmt.Errorf("%w: check_out %s not after check_in %s", ErrIntegrity, b.CheckOut, b.CheckIn)
	}
	authorized := b.PaymentAuthorizedAt != nil
	paid := b.PaidAt != nil

	var ok bool
	switch b.Status {
	case StatusDraft, StatusPendingPayment:
		ok = !authorized && !paid
	case StatusPendingApproval, StatusDeclined:
		ok = authorized && !paid
	case StatusConfirmed, StatusCheckedIn, StatusCompleted:
		ok = authorized && paid
	case StatusCancelled:
		ok = authorized || !paid
	}
	if !ok {
		return fmt.Errorf("%w: status %s with payment_authorized_at set=%t paid_at set=%t",
			ErrIntegrity, b.Status, authorized, paid)
	}
	return nil
}

// RecordPaymentSession stores the provider reference of a freshly opened
// initial session.
func RecordPaymentSession(b *Booking, provider, reference string) error {
	if b.Status != StatusPendingPayment {
		return &TransitionError{From: b.Status, To: b.Status, Reason: "payment session requires PENDING_PAYMENT"}
	}
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: payment reference required", ErrInvalidInput)
	}
	b.PaymentProvider = provider
	b.PaymentReference = reference
	return nil
}

// RecordPaymentMethod keeps the saved customer and payment method so later
// charges (extensions) can be authorized off-session.
func RecordPaymentMethod(b *Booking, customerID, methodID string) {
	if customerID != "" {
		b.PaymentCustomerID = customerID
	}
	if methodID != "" {
		b.PaymentMethodID = methodID
	}
}

// AssignRoom sets the room before arrival.
func AssignRoom(b *Booking, room *Room) error {
	switch b.Status {
	case StatusPendingApproval, StatusConfirmed:
	default:
		return &TransitionError{From: b.Status, To: b.Status, Reason: "room assignment requires PENDING_APPROVAL or CONFIRMED"}
	}
	if room == nil || room.PropertyID != b.PropertyID {
		return fmt.Errorf("%w: room does not belong to property", ErrInvalidInput)
	}
	if room.RoomTypeID != b.RoomTypeID {
		return fmt.Errorf("%w: room type does not match booking", ErrInvalidInput)
	}
	id := room.ID
	b.RoomID = &id
	return nil
}

// ExtendStay moves check_out later for an in-house guest.
func ExtendStay(b *Booking, newCheckout Date, addedCents int64, at time.Time) error {
	if b.Status != StatusCheckedIn {
		return &TransitionError{From: b.Status, To: b.Status, Reason: "extension requires CHECKED_IN"}
	}
	if !newCheckout.After(b.CheckOut) {
		return fmt.Errorf("%w: new checkout %s must be after %s", ErrInvalidInput, newCheckout, b.CheckOut)
	}
	b.CheckOut = newCheckout
	b.TotalCents += addedCents
	b.UpdatedAt = at
	return nil
}
