package bookings

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBooking(status Status) *Booking {
	return &Booking{
		ID:         uuid.New(),
		Reference:  "BK-2025-0001",
		PropertyID: uuid.New(),
		RoomTypeID: uuid.New(),
		CheckIn:    NewDate(2025, time.March, 8),
		CheckOut:   NewDate(2025, time.March, 10),
		Adults:     2,
		TotalCents: 40000,
		Currency:   "USD",
		Status:     status,
	}
}

func ts(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func TestTransitionTable(t *testing.T) {
	all := []Status{
		StatusDraft, StatusPendingPayment, StatusPendingApproval, StatusConfirmed,
		StatusDeclined, StatusCheckedIn, StatusCompleted, StatusCancelled,
	}
	legal := map[[2]Status]bool{
		{StatusDraft, StatusPendingPayment}:          true,
		{StatusDraft, StatusCancelled}:               true,
		{StatusPendingPayment, StatusPendingApproval}: true,
		{StatusPendingPayment, StatusCancelled}:      true,
		{StatusPendingApproval, StatusConfirmed}:     true,
		{StatusPendingApproval, StatusDeclined}:      true,
		{StatusPendingApproval, StatusCancelled}:     true,
		{StatusConfirmed, StatusCheckedIn}:           true,
		{StatusConfirmed, StatusCancelled}:           true,
		{StatusCheckedIn, StatusCompleted}:           true,
		{StatusCheckedIn, StatusCancelled}:           true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionRejectsUnknownEdgeWithoutMutation(t *testing.T) {
	b := newBooking(StatusDraft)
	before := *b

	err := Transition(b, StatusConfirmed, Guard{Actor: "staff-1", CapturedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusDraft, te.From)
	assert.Equal(t, StatusConfirmed, te.To)
	assert.Equal(t, before, *b)
}

func TestTransitionToPendingApprovalRequiresAuthorization(t *testing.T) {
	b := newBooking(StatusPendingPayment)

	err := Transition(b, StatusPendingApproval, Guard{IntentID: "pi_1"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, b.PaymentAuthorizedAt)

	err = Transition(b, StatusPendingApproval, Guard{AuthorizedAt: time.Now()})
	require.ErrorIs(t, err, ErrInvalidTransition)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, Transition(b, StatusPendingApproval, Guard{AuthorizedAt: at, IntentID: "pi_1"}))
	assert.Equal(t, StatusPendingApproval, b.Status)
	require.NotNil(t, b.PaymentAuthorizedAt)
	assert.True(t, b.PaymentAuthorizedAt.Equal(at))
	assert.Equal(t, "pi_1", b.PaymentIntentID)
	assert.Equal(t, "pi_1", b.PaymentReference)
	assert.Nil(t, b.PaidAt)
}

func TestTransitionConfirmSetsPaidAndDecision(t *testing.T) {
	b := newBooking(StatusPendingApproval)
	b.PaymentAuthorizedAt = ts("2025-03-01T09:00:00Z")

	err := Transition(b, StatusConfirmed, Guard{CapturedAt: time.Now()})
	require.ErrorIs(t, err, ErrInvalidTransition, "actor required")

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, Transition(b, StatusConfirmed, Guard{Actor: "staff-1", At: at, CapturedAt: at}))
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "staff-1", b.DecisionBy)
	require.NotNil(t, b.PaidAt)
	require.NotNil(t, b.DecisionAt)
	assert.True(t, b.DecisionAt.Equal(at))
	require.NoError(t, ValidateAtRest(b))
}

func TestTransitionConfirmWithoutAuthorizationFails(t *testing.T) {
	b := newBooking(StatusPendingApproval)
	err := Transition(b, StatusConfirmed, Guard{Actor: "staff-1", CapturedAt: time.Now()})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, b.PaidAt)
}

func TestTransitionDeclineRecordsReason(t *testing.T) {
	b := newBooking(StatusPendingApproval)
	b.PaymentAuthorizedAt = ts("2025-03-01T09:00:00Z")

	require.NoError(t, Transition(b, StatusDeclined, Guard{Actor: "staff-2", Reason: "no availability"}))
	assert.Equal(t, StatusDeclined, b.Status)
	assert.Equal(t, "no availability", b.DeclineReason)
	assert.Nil(t, b.PaidAt)
	require.NoError(t, ValidateAtRest(b))
}

func TestTransitionCheckInRequiresRoom(t *testing.T) {
	b := newBooking(StatusConfirmed)
	b.PaymentAuthorizedAt = ts("2025-03-01T09:00:00Z")
	b.PaidAt = ts("2025-03-01T10:00:00Z")

	require.ErrorIs(t, Transition(b, StatusCheckedIn, Guard{Actor: "desk"}), ErrInvalidTransition)

	room := uuid.New()
	b.RoomID = &room
	require.NoError(t, Transition(b, StatusCheckedIn, Guard{Actor: "desk"}))
	assert.NotNil(t, b.CheckedInAt)
}

func TestTransitionCancelConfirmedRequiresRefund(t *testing.T) {
	b := newBooking(StatusConfirmed)
	b.PaymentAuthorizedAt = ts("2025-03-01T09:00:00Z")
	b.PaidAt = ts("2025-03-01T10:00:00Z")

	require.ErrorIs(t, Transition(b, StatusCancelled, Guard{Actor: "staff"}), ErrInvalidTransition)
	require.NoError(t, Transition(b, StatusCancelled, Guard{Actor: "staff", Refunded: true, Reason: "guest request"}))
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Equal(t, "guest request", b.CancelReason)
	require.NoError(t, ValidateAtRest(b))
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusDeclined, StatusCancelled} {
		assert.True(t, s.Terminal())
		b := newBooking(s)
		assert.ErrorIs(t, Transition(b, StatusPendingPayment, Guard{}), ErrInvalidTransition)
	}
}

func TestValidateAtRest(t *testing.T) {
	auth := ts("2025-03-01T09:00:00Z")
	paid := ts("2025-03-01T10:00:00Z")

	tests := []struct {
		status     Status
		authorized *time.Time
		paid       *time.Time
		ok         bool
	}{
		{StatusDraft, nil, nil, true},
		{StatusDraft, auth, nil, false},
		{StatusPendingPayment, nil, nil, true},
		{StatusPendingPayment, nil, paid, false},
		{StatusPendingApproval, auth, nil, true},
		{StatusPendingApproval, nil, nil, false},
		{StatusPendingApproval, auth, paid, false},
		{StatusConfirmed, auth, paid, true},
		{StatusConfirmed, auth, nil, false},
		{StatusCheckedIn, auth, paid, true},
		{StatusCompleted, auth, paid, true},
		{StatusCompleted, nil, paid, false},
		{StatusDeclined, auth, nil, true},
		{StatusDeclined, auth, paid, false},
		{StatusCancelled, nil, nil, true},
		{StatusCancelled, auth, nil, true},
		{StatusCancelled, auth, paid, true},
		{StatusCancelled, nil, paid, false},
	}
	for _, tt := range tests {
		b := newBooking(tt.status)
		b.PaymentAuthorizedAt = tt.authorized
		b.PaidAt = tt.paid
		err := ValidateAtRest(b)
		if tt.ok {
			assert.NoError(t, err, "%s auth=%v paid=%v", tt.status, tt.authorized != nil, tt.paid != nil)
		} else {
			assert.ErrorIs(t, err, ErrIntegrity, "%s auth=%v paid=%v", tt.status, tt.authorized != nil, tt.paid != nil)
		}
	}
}

func TestValidateAtRestRejectsBadDates(t *testing.T) {
	b := newBooking(StatusDraft)
	b.CheckOut = b.CheckIn
	assert.ErrorIs(t, ValidateAtRest(b), ErrIntegrity)

	b = newBooking("ARCHIVED")
	assert.ErrorIs(t, ValidateAtRest(b), ErrIntegrity)
}

func TestExtendStay(t *testing.T) {
	b := newBooking(StatusConfirmed)
	require.ErrorIs(t, ExtendStay(b, b.CheckOut.AddDays(1), 100, time.Now()), ErrInvalidTransition)

	b.Status = StatusCheckedIn
	require.ErrorIs(t, ExtendStay(b, b.CheckOut, 100, time.Now()), ErrInvalidInput)

	newOut := b.CheckOut.AddDays(2)
	require.NoError(t, ExtendStay(b, newOut, 5000, time.Now()))
	assert.True(t, b.CheckOut.Equal(newOut))
	assert.Equal(t, int64(45000), b.TotalCents)
}

func TestAssignRoomValidatesType(t *testing.T) {
	b := newBooking(StatusConfirmed)
	wrongType := &Room{ID: uuid.New(), PropertyID: b.PropertyID, RoomTypeID: uuid.New()}
	require.ErrorIs(t, AssignRoom(b, wrongType), ErrInvalidInput)

	otherProperty := &Room{ID: uuid.New(), PropertyID: uuid.New(), RoomTypeID: b.RoomTypeID}
	require.ErrorIs(t, AssignRoom(b, otherProperty), ErrInvalidInput)

	ok := &Room{ID: uuid.New(), PropertyID: b.PropertyID, RoomTypeID: b.RoomTypeID}
	require.NoError(t, AssignRoom(b, ok))
	require.NotNil(t, b.RoomID)
	assert.Equal(t, ok.ID, *b.RoomID)

	b.Status = StatusCheckedIn
	require.ErrorIs(t, AssignRoom(b, ok), ErrInvalidTransition)
}

func TestPaymentSessionLifecycle(t *testing.T) {
	now := time.Now()
	s := &PaymentSession{ID: uuid.New(), Status: SessionCreated, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, s.Live(now))
	assert.False(t, s.Live(now.Add(2*time.Hour)))

	require.NoError(t, s.MarkAuthorized("pi_9", now))
	assert.Equal(t, "pi_9", s.ProviderIntentID)
	assert.True(t, s.Live(now.Add(2*time.Hour)))
	require.Error(t, s.MarkExpired())

	require.NoError(t, s.MarkCaptured(now))
	assert.True(t, s.Terminal())
	assert.ErrorIs(t, s.MarkVoided(now), ErrInvalidTransition)
}
