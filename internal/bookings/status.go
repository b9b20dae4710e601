package bookings

// Status is the canonical booking lifecycle state.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingPayment  Status = "PENDING_PAYMENT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusConfirmed       Status = "CONFIRMED"
	StatusDeclined        Status = "DECLINED"
	StatusCheckedIn       Status = "CHECKED_IN"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// allowedTransitions is the full edge set. Anything not listed is rejected.
var allowedTransitions = map[Status][]Status{
	StatusDraft:           {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment:  {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusConfirmed, StatusDeclined, StatusCancelled},
	StatusConfirmed:       {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:       {StatusCompleted, StatusCancelled},
	StatusCompleted:       {},
	StatusDeclined:        {},
	StatusCancelled:       {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeclined || s == StatusCancelled
}

// CanTransitionTo reports whether the edge s -> target exists, ignoring guards.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range allowedTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}
