package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	propertyKey ctxKey = "hotel.property_id"
	staffKey    ctxKey = "hotel.staff_id"
)

// WithPropertyID stores the property the request is scoped to.
func WithPropertyID(ctx context.Context, propertyID uuid.UUID) context.Context {
	return context.WithValue(ctx, propertyKey, propertyID)
}

// PropertyIDFromContext extracts the property id if present.
func PropertyIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(propertyKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// WithStaffID records the authenticated staff member.
func WithStaffID(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, staffKey, staffID)
}

func StaffIDFromContext(ctx context.Context) (string, bool) {
	staffID, ok := ctx.Value(staffKey).(string)
	return staffID, ok && staffID != ""
}
