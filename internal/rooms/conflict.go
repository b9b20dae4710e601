package rooms

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

var roomsTracer = otel.Tracer("hotel.internal.rooms")

const defaultMaxAlternatives = 5

// Alternative is a free room offered when the requested one is taken.
type Alternative struct {
	RoomID       uuid.UUID             `json:"room_id"`
	Number       string                `json:"number"`
	Floor        int                   `json:"floor"`
	Housekeeping bookings.Housekeeping `json:"housekeeping"`
}

// ConflictError reports which bookings hold the room and what else is free.
type ConflictError struct {
	RoomID       uuid.UUID
	From         bookings.Date
	To           bookings.Date
	Conflicts    []uuid.UUID
	Alternatives []Alternative
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, id := range e.Conflicts {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("rooms: room %s unavailable %s..%s (held by %s)", e.RoomID, e.From, e.To, strings.Join(ids, ","))
}

func (e *ConflictError) Unwrap() error { return bookings.ErrRoomConflict }

// Detector answers whether a room is free for a half-open date range.
// It only reads; callers hold whatever locks make the answer stable.
type Detector struct {
	maxAlternatives int
}

func NewDetector(maxAlternatives int) *Detector {
	if maxAlternatives <= 0 {
		maxAlternatives = defaultMaxAlternatives
	}
	return &Detector{maxAlternatives: maxAlternatives}
}

// Check returns nil when roomID is free over [from, to) for everyone except
// the excluded booking, and a *ConflictError carrying ranked alternatives otherwise.
func (d *Detector) Check(ctx context.Context, tx bookings.Tx, roomID uuid.UUID, from, to bookings.Date, exclude uuid.UUID) error {
	ctx, span := roomsTracer.Start(ctx, "rooms.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("hotel.room_id", roomID.String()),
		attribute.String("hotel.from", from.String()),
		attribute.String("hotel.to", to.String()),
	)

	if !to.After(from) {
		return fmt.Errorf("%w: empty date range %s..%s", bookings.ErrInvalidInput, from, to)
	}
	overlapping, err := tx.FindOverlapping(ctx, roomID, from, to, exclude)
	if err != nil {
		return fmt.Errorf("rooms: find overlapping: %w", err)
	}
	if len(overlapping) == 0 {
		return nil
	}

	room, err := tx.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("rooms: load room: %w", err)
	}
	alternatives, err := d.Alternatives(ctx, tx, room, from, to, exclude)
	if err != nil {
		return err
	}
	conflict := &ConflictError{RoomID: roomID, From: from, To: to, Alternatives: alternatives}
	for _, b := range overlapping {
		conflict.Conflicts = append(conflict.Conflicts, b.ID)
	}
	span.SetAttributes(attribute.Int("hotel.conflicts", len(conflict.Conflicts)))
	return conflict
}

// Alternatives lists free rooms of the same type, nearest first: same
// floor, then by floor distance, clean before dirty, then room number.
func (d *Detector) Alternatives(ctx context.Context, tx bookings.Tx, near *bookings.Room, from, to bookings.Date, exclude uuid.UUID) ([]Alternative, error) {
	candidates, err := tx.ListRoomsByType(ctx, near.PropertyID, near.RoomTypeID)
	if err != nil {
		return nil, fmt.Errorf("rooms: list candidates: %w", err)
	}
	var free []*bookings.Room
	for _, r := range candidates {
		if r.ID == near.ID || r.OutOfService {
			continue
		}
		taken, err := tx.FindOverlapping(ctx, r.ID, from, to, exclude)
		if err != nil {
			return nil, fmt.Errorf("rooms: check candidate %s: %w", r.Number, err)
		}
		if len(taken) == 0 {
			free = append(free, r)
		}
	}
	sort.SliceStable(free, func(i, j int) bool {
		di, dj := abs(free[i].Floor-near.Floor), abs(free[j].Floor-near.Floor)
		if di != dj {
			return di < dj
		}
		ci, cj := free[i].Housekeeping == bookings.HousekeepingClean, free[j].Housekeeping == bookings.HousekeepingClean
		if ci != cj {
			return ci
		}
		return free[i].Number < free[j].Number
	})
	if len(free) > d.maxAlternatives {
		free = free[:d.maxAlternatives]
	}
	out := make([]Alternative, 0, len(free))
	for _, r := range free {
		out = append(out, Alternative{RoomID: r.ID, Number: r.Number, Floor: r.Floor, Housekeeping: r.Housekeeping})
	}
	return out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
