package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

type fixture struct {
	store      *bookings.MemoryStore
	propertyID uuid.UUID
	roomType   uuid.UUID
	rooms      map[string]*bookings.Room
}

func newFixture() *fixture {
	f := &fixture{
		store:      bookings.NewMemoryStore(nil),
		propertyID: uuid.New(),
		roomType:   uuid.New(),
		rooms:      map[string]*bookings.Room{},
	}
	add := func(number string, floor int, hk bookings.Housekeeping, oos bool) {
		r := &bookings.Room{ID: uuid.New(), PropertyID: f.propertyID, RoomTypeID: f.roomType, Number: number, Floor: floor, Housekeeping: hk, OutOfService: oos}
		f.rooms[number] = r
		f.store.PutRoom(r)
	}
	add("301", 3, bookings.HousekeepingClean, false)
	add("302", 3, bookings.HousekeepingDirty, false)
	add("303", 3, bookings.HousekeepingClean, false)
	add("401", 4, bookings.HousekeepingClean, false)
	add("501", 5, bookings.HousekeepingClean, false)
	add("304", 3, bookings.HousekeepingClean, true)
	// different type on the same floor never qualifies
	other := &bookings.Room{ID: uuid.New(), PropertyID: f.propertyID, RoomTypeID: uuid.New(), Number: "305", Floor: 3, Housekeeping: bookings.HousekeepingClean}
	f.store.PutRoom(other)
	return f
}

func (f *fixture) occupy(number string, status bookings.Status, in, out bookings.Date) *bookings.Booking {
	room := f.rooms[number].ID
	b := &bookings.Booking{
		ID:         uuid.New(),
		Reference:  "BK-" + number + "-" + in.String(),
		PropertyID: f.propertyID,
		RoomTypeID: f.roomType,
		RoomID:     &room,
		CheckIn:    in,
		CheckOut:   out,
		Status:     status,
	}
	f.store.PutBooking(b)
	return b
}

func (f *fixture) check(t *testing.T, number string, from, to bookings.Date, exclude uuid.UUID) error {
	t.Helper()
	var result error
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx bookings.Tx) error {
		result = NewDetector(0).Check(ctx, tx, f.rooms[number].ID, from, to, exclude)
		return nil
	})
	require.NoError(t, err)
	return result
}

func TestCheckFreeRoom(t *testing.T) {
	f := newFixture()
	f.occupy("301", bookings.StatusConfirmed, bookings.NewDate(2025, time.June, 1), bookings.NewDate(2025, time.June, 3))

	// back-to-back stays share the boundary date
	assert.NoError(t, f.check(t, "301", bookings.NewDate(2025, time.June, 3), bookings.NewDate(2025, time.June, 5), uuid.Nil))
	assert.NoError(t, f.check(t, "301", bookings.NewDate(2025, time.May, 30), bookings.NewDate(2025, time.June, 1), uuid.Nil))
}

func TestCheckIgnoresInactiveAndExcludedBookings(t *testing.T) {
	f := newFixture()
	in, out := bookings.NewDate(2025, time.June, 1), bookings.NewDate(2025, time.June, 3)
	f.occupy("301", bookings.StatusCancelled, in, out)
	f.occupy("301", bookings.StatusPendingApproval, in, out)
	self := f.occupy("301", bookings.StatusCheckedIn, in, out)

	assert.NoError(t, f.check(t, "301", in, out.AddDays(2), self.ID))
}

func TestCheckConflictRanksAlternatives(t *testing.T) {
	f := newFixture()
	in, out := bookings.NewDate(2025, time.June, 1), bookings.NewDate(2025, time.June, 4)
	holder := f.occupy("301", bookings.StatusConfirmed, bookings.NewDate(2025, time.June, 3), bookings.NewDate(2025, time.June, 6))
	f.occupy("303", bookings.StatusCheckedIn, bookings.NewDate(2025, time.May, 30), bookings.NewDate(2025, time.June, 2))

	err := f.check(t, "301", in, out, uuid.Nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bookings.ErrRoomConflict))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []uuid.UUID{holder.ID}, conflict.Conflicts)

	var numbers []string
	for _, alt := range conflict.Alternatives {
		numbers = append(numbers, alt.Number)
	}
	// 302 same floor but dirty, then 401 one floor away, then 501
	assert.Equal(t, []string{"302", "401", "501"}, numbers)
}

func TestAlternativesPreferCleanOnSameFloor(t *testing.T) {
	f := newFixture()
	in, out := bookings.NewDate(2025, time.June, 1), bookings.NewDate(2025, time.June, 2)
	f.occupy("301", bookings.StatusConfirmed, in, out)

	err := f.check(t, "301", in, out, uuid.Nil)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.NotEmpty(t, conflict.Alternatives)
	assert.Equal(t, "303", conflict.Alternatives[0].Number)
	assert.Equal(t, "302", conflict.Alternatives[1].Number)
}

func TestAlternativesCapped(t *testing.T) {
	f := newFixture()
	in, out := bookings.NewDate(2025, time.June, 1), bookings.NewDate(2025, time.June, 2)
	f.occupy("301", bookings.StatusConfirmed, in, out)

	var result error
	_ = f.store.InTx(context.Background(), func(ctx context.Context, tx bookings.Tx) error {
		result = NewDetector(2).Check(ctx, tx, f.rooms["301"].ID, in, out, uuid.Nil)
		return nil
	})
	var conflict *ConflictError
	require.True(t, errors.As(result, &conflict))
	assert.Len(t, conflict.Alternatives, 2)
}

func TestCheckRejectsEmptyRange(t *testing.T) {
	f := newFixture()
	d := bookings.NewDate(2025, time.June, 1)
	assert.ErrorIs(t, f.check(t, "301", d, d, uuid.Nil), bookings.ErrInvalidInput)
}
