// Package httperr turns domain errors into JSON error responses.
package httperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// Body is the error envelope every endpoint returns.
type Body struct {
	Error        string              `json:"error"`
	Code         string              `json:"code"`
	From         string              `json:"from,omitempty"`
	To           string              `json:"to,omitempty"`
	Fields       map[string]string   `json:"fields,omitempty"`
	Conflicts    []string            `json:"conflicting_bookings,omitempty"`
	Alternatives []rooms.Alternative `json:"alternatives,omitempty"`
}

// Classify maps err to a status code and body. Unknown errors are 500s
// with a generic message.
func Classify(err error) (int, Body) {
	var (
		transition *bookings.TransitionError
		conflict   *rooms.ConflictError
		invalid    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &invalid):
		fields := make(map[string]string, len(invalid))
		for _, fe := range invalid {
			fields[fe.Field()] = fe.Tag()
		}
		return http.StatusBadRequest, Body{Error: "request validation failed", Code: "invalid_input", Fields: fields}
	case errors.As(err, &conflict):
		body := Body{Error: "room is not available for the requested dates", Code: "room_conflict", Alternatives: conflict.Alternatives}
		for _, id := range conflict.Conflicts {
			body.Conflicts = append(body.Conflicts, id.String())
		}
		return http.StatusConflict, body
	case errors.As(err, &transition):
		return http.StatusConflict, Body{Error: err.Error(), Code: "invalid_transition", From: string(transition.From), To: string(transition.To)}
	case errors.Is(err, bookings.ErrInvalidTransition):
		return http.StatusConflict, Body{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, bookings.ErrInvalidInput):
		return http.StatusBadRequest, Body{Error: err.Error(), Code: "invalid_input"}
	case errors.Is(err, bookings.ErrNotFound):
		return http.StatusNotFound, Body{Error: "not found", Code: "not_found"}
	case errors.Is(err, bookings.ErrAlreadyInitiated):
		return http.StatusConflict, Body{Error: "a payment session is already open for this booking", Code: "already_initiated"}
	case errors.Is(err, bookings.ErrNoActiveIncident):
		return http.StatusConflict, Body{Error: "booking has no active overstay incident", Code: "no_active_incident"}
	case errors.Is(err, payments.ErrCaptureFailed):
		return http.StatusBadGateway, Body{Error: "payment capture failed", Code: "capture_failed"}
	case errors.Is(err, payments.ErrVoidFailed):
		return http.StatusBadGateway, Body{Error: "payment void failed", Code: "void_failed"}
	case errors.Is(err, payments.ErrGateway):
		return http.StatusBadGateway, Body{Error: "payment provider unavailable", Code: "gateway_error"}
	case errors.Is(err, payments.ErrSignatureInvalid):
		return http.StatusForbidden, Body{Error: "invalid signature", Code: "signature_invalid"}
	case errors.Is(err, payments.ErrMalformedEvent):
		return http.StatusBadRequest, Body{Error: "malformed event", Code: "malformed_event"}
	case errors.Is(err, bookings.ErrIntegrity):
		return http.StatusInternalServerError, Body{Error: "booking data is inconsistent", Code: "integrity_violation"}
	default:
		return http.StatusInternalServerError, Body{Error: "internal error", Code: "internal"}
	}
}

// Write logs server-side failures and sends the mapped response.
func Write(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status, body := Classify(err)
	if logger != nil {
		switch {
		case status >= 500:
			logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		case status == http.StatusConflict:
			logger.Info("request conflicted", "path", r.URL.Path, "code", body.Code, "error", err)
		}
	}
	WriteJSON(w, status, body)
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Message writes an error body without a domain error behind it.
func Message(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, Body{Error: msg, Code: code})
}
