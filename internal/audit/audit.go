// Package audit records staff and system actions taken on bookings.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names a recorded staff action.
type Action string

const (
	ActionApprove     Action = "booking.approve"
	ActionDecline     Action = "booking.decline"
	ActionCancel      Action = "booking.cancel"
	ActionAssignRoom  Action = "booking.assign_room"
	ActionCheckIn     Action = "booking.check_in"
	ActionCheckOut    Action = "booking.check_out"
	ActionExtend      Action = "overstay.extend"
	ActionAcknowledge Action = "overstay.acknowledge"
)

// Entry is an immutable audit record.
type Entry struct {
	ID         string          `json:"id"`
	Action     Action          `json:"action"`
	PropertyID uuid.UUID       `json:"property_id"`
	BookingID  uuid.UUID       `json:"booking_id"`
	Actor      string          `json:"actor"`
	Outcome    string          `json:"outcome"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder is what services write to. Failures are logged by the caller;
// an audit outage never blocks a booking decision.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Querier reads entries back for operators.
type Querier interface {
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Details marshals v for Entry.Details, dropping it on error.
func Details(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// StaffLog stores entries in staff_audit_events.
type StaffLog struct {
	db *sql.DB
}

func NewStaffLog(db *sql.DB) *StaffLog {
	return &StaffLog{db: db}
}

func (s *StaffLog) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO staff_audit_events (
			id, action, property_id, booking_id, actor, outcome, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Action),
		e.PropertyID,
		e.BookingID,
		e.Actor,
		nullString(e.Outcome),
		[]byte(details),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record %s: %w", e.Action, err)
	}
	return nil
}

// Filter narrows a Query. PropertyID is required.
type Filter struct {
	PropertyID uuid.UUID
	BookingID  uuid.UUID
	Actions    []Action
	Since      time.Time
	Limit      int
}

func (s *StaffLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, action, property_id, booking_id, actor, outcome, details, created_at
		FROM staff_audit_events
		WHERE property_id = $1
	`
	args := []any{f.PropertyID}
	argIdx := 2

	if f.BookingID != uuid.Nil {
		query += fmt.Sprintf(" AND booking_id = $%d", argIdx)
		args = append(args, f.BookingID)
		argIdx++
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(actions))
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var action string
		var outcome sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &action, &e.PropertyID, &e.BookingID, &e.Actor, &outcome, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Action = Action(action)
		e.Outcome = outcome.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// MemoryLog keeps entries in process for tests and database-less runs.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Record(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Query applies the same filter semantics as StaffLog, newest first.
func (m *MemoryLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.PropertyID != f.PropertyID {
			continue
		}
		if f.BookingID != uuid.Nil && e.BookingID != f.BookingID {
			continue
		}
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
