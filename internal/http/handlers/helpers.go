package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/tenancy"
)

const maxRequestBody = 64 << 10

var validate = newValidator()

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads an optional JSON body into dst and validates it. An
// empty body leaves dst at its zero value.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", bookings.ErrInvalidInput, err)
	}
	return validate.Struct(dst)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", bookings.ErrInvalidInput, name)
	}
	return id, nil
}

// bookingReader loads a booking outside any lock, for scope checks only.
type bookingReader interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx bookings.Tx) error) error
}

// scopedBookingID parses the booking id and confirms it belongs to the
// request's property. Bookings of other properties look missing.
func scopedBookingID(r *http.Request, store bookingReader) (uuid.UUID, error) {
	id, err := uuidParam(r, "bookingID")
	if err != nil {
		return uuid.Nil, err
	}
	propertyID, ok := tenancy.PropertyIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: property scope missing", bookings.ErrInvalidInput)
	}
	err = store.InTx(r.Context(), func(ctx context.Context, tx bookings.Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.PropertyID != propertyID {
			return fmt.Errorf("booking %s: %w", id, bookings.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func staffID(r *http.Request) (string, bool) {
	return tenancy.StaffIDFromContext(r.Context())
}

func requireStaff(w http.ResponseWriter, r *http.Request) (string, bool) {
	staff, ok := staffID(r)
	if !ok {
		httperr.Message(w, http.StatusUnauthorized, "unauthorized", "staff identity missing")
	}
	return staff, ok
}
