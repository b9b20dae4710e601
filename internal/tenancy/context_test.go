package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithPropertyIDAndPropertyIDFromContext(t *testing.T) {
	id := uuid.New()
	ctx := WithPropertyID(context.Background(), id)

	got, ok := PropertyIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected property id to be present")
	}
	if got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
}

func TestPropertyIDFromContext_NilOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := PropertyIDFromContext(ctx); ok {
		t.Fatalf("expected missing property id to return false")
	}

	ctx = WithPropertyID(ctx, uuid.Nil)
	if _, ok := PropertyIDFromContext(ctx); ok {
		t.Fatalf("expected nil property id to return false")
	}

	ctx = context.WithValue(context.Background(), propertyKey, "not-a-uuid")
	if _, ok := PropertyIDFromContext(ctx); ok {
		t.Fatalf("expected non-uuid value to return false")
	}
}

func TestStaffIDFromContext(t *testing.T) {
	ctx := WithStaffID(context.Background(), "staff:ana")
	got, ok := StaffIDFromContext(ctx)
	if !ok || got != "staff:ana" {
		t.Fatalf("expected staff:ana, got %q (ok=%v)", got, ok)
	}
	if _, ok := StaffIDFromContext(WithStaffID(context.Background(), "")); ok {
		t.Fatalf("expected empty staff id to return false")
	}
}
