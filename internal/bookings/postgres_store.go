package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

const (
	pgUniqueViolation    = "23505"
	pgLockNotAvailable   = "55P03"
	pgCheckViolation     = "23514"
	defaultWebhookListSz = 100
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists booking state with pgx. Booking locks are row
// locks taken with SELECT ... FOR UPDATE under a bounded lock_timeout.
type PostgresStore struct {
	pool        txBeginner
	lockTimeout time.Duration
	logger      *logging.Logger
	tracer      trace.Tracer
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return newPostgresStoreWithBeginner(pool, lockTimeout, logger)
}

func newPostgresStoreWithBeginner(pool txBeginner, lockTimeout time.Duration, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("bookings: tx beginner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout, logger: logger, tracer: otel.Tracer("hotel.internal.bookings")}
}

func (s *PostgresStore) WithBookingLock(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx Tx, b *Booking) error) error {
	ctx, span := s.tracer.Start(ctx, "bookings.lock", trace.WithAttributes(
		attribute.String("hotel.booking_id", bookingID.String()),
	))
	defer span.End()

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, b)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bookings: set lock timeout: %w", err)
		}
	}

	ptx := &pgTx{tx: tx, logger: s.logger}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", mapPgError(err))
	}
	for _, hook := range ptx.hooks {
		hook()
	}
	return nil
}

type pgTx struct {
	tx     pgx.Tx
	logger *logging.Logger
	hooks  []func()
}

const bookingColumns = `
	id, reference, property_id, room_id, room_type_id, guest_name, guest_email,
	check_in, check_out, adults, children, total_cents, currency, status, rate_plan,
	payment_provider, payment_reference, payment_intent_id, payment_customer_id, payment_method_id,
	payment_authorized_at, paid_at, decision_by, decision_at, decline_reason,
	checked_in_at, checked_out_at, cancelled_at, cancelled_by, cancel_reason,
	version, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                 Booking
		roomID            pgtype.UUID
		checkIn, checkOut time.Time
		status            string
		ratePlan          []byte
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.PropertyID, &roomID, &b.RoomTypeID, &b.GuestName, &b.GuestEmail,
		&checkIn, &checkOut, &b.Adults, &b.Children, &b.TotalCents, &b.Currency, &status, &ratePlan,
		&b.PaymentProvider, &b.PaymentReference, &b.PaymentIntentID, &b.PaymentCustomerID, &b.PaymentMethodID,
		&b.PaymentAuthorizedAt, &b.PaidAt, &b.DecisionBy, &b.DecisionAt, &b.DeclineReason,
		&b.CheckedInAt, &b.CheckedOutAt, &b.CancelledAt, &b.CancelledBy, &b.CancelReason,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.RoomID = fromPGUUID(roomID)
	b.CheckIn = DateOf(checkIn)
	b.CheckOut = DateOf(checkOut)
	b.Status = Status(status)
	if len(ratePlan) > 0 {
		if err := json.Unmarshal(ratePlan, &b.RatePlan); err != nil {
			return nil, fmt.Errorf("decode rate plan: %w", err)
		}
	}
	return &b, nil
}

func (t *pgTx) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: get booking %s: %w", id, mapPgError(err))
	}
	return b, nil
}

func (t *pgTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: lock booking %s: %w", id, mapPgError(err))
	}
	return b, nil
}

func (t *pgTx) SaveBooking(ctx context.Context, b *Booking) error {
	if err := ValidateAtRest(b); err != nil {
		t.logger.Error("refusing to persist booking", "booking_id", b.ID, "status", b.Status, "integrity_violation", true, "error", err)
		return err
	}
	ratePlan, err := json.Marshal(b.RatePlan)
	if err != nil {
		return fmt.Errorf("bookings: encode rate plan: %w", err)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, 1, now(), $31)
		ON CONFLICT (id) DO UPDATE SET
			room_id = EXCLUDED.room_id,
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			total_cents = EXCLUDED.total_cents,
			status = EXCLUDED.status,
			payment_provider = EXCLUDED.payment_provider,
			payment_reference = EXCLUDED.payment_reference,
			payment_intent_id = EXCLUDED.payment_intent_id,
			payment_customer_id = EXCLUDED.payment_customer_id,
			payment_method_id = EXCLUDED.payment_method_id,
			payment_authorized_at = EXCLUDED.payment_authorized_at,
			paid_at = EXCLUDED.paid_at,
			decision_by = EXCLUDED.decision_by,
			decision_at = EXCLUDED.decision_at,
			decline_reason = EXCLUDED.decline_reason,
			checked_in_at = EXCLUDED.checked_in_at,
			checked_out_at = EXCLUDED.checked_out_at,
			cancelled_at = EXCLUDED.cancelled_at,
			cancelled_by = EXCLUDED.cancelled_by,
			cancel_reason = EXCLUDED.cancel_reason,
			version = bookings.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version`
	var roomID pgtype.UUID
	if b.RoomID != nil {
		roomID = toPGUUID(*b.RoomID)
	}
	err = t.tx.QueryRow(ctx, query,
		b.ID, b.Reference, b.PropertyID, roomID, b.RoomTypeID, b.GuestName, b.GuestEmail,
		b.CheckIn.Time(), b.CheckOut.Time(), b.Adults, b.Children, b.TotalCents, b.Currency, string(b.Status), ratePlan,
		b.PaymentProvider, b.PaymentReference, b.PaymentIntentID, b.PaymentCustomerID, b.PaymentMethodID,
		b.PaymentAuthorizedAt, b.PaidAt, b.DecisionBy, b.DecisionAt, b.DeclineReason,
		b.CheckedInAt, b.CheckedOutAt, b.CancelledAt, b.CancelledBy, b.CancelReason,
		b.UpdatedAt,
	).Scan(&b.Version)
	if err != nil {
		return fmt.Errorf("bookings: save booking %s: %w", b.ID, mapPgError(err))
	}
	return nil
}

func (t *pgTx) ListBookingsByStatus(ctx context.Context, propertyID uuid.UUID, status Status) ([]*Booking, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE property_id = $1 AND status = $2 ORDER BY reference`, propertyID, string(status))
	if err != nil {
		return nil, fmt.Errorf("bookings: list by status: %w", err)
	}
	return collectBookings(rows)
}

func (t *pgTx) FindOverlapping(ctx context.Context, roomID uuid.UUID, from, to Date, exclude uuid.UUID) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE room_id = $1
		  AND status IN ('CONFIRMED', 'CHECKED_IN')
		  AND check_in < $3
		  AND check_out > $2
		  AND id <> $4
		ORDER BY check_in`
	rows, err := t.tx.Query(ctx, query, roomID, from.Time(), to.Time(), exclude)
	if err != nil {
		return nil, fmt.Errorf("bookings: find overlapping: %w", err)
	}
	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const propertyColumns = `id, name, timezone, currency, auto_capture, operator_email`

func scanProperty(row pgx.Row) (*Property, error) {
	var p Property
	if err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.Currency, &p.AutoCapture, &p.OperatorEmail); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetProperty(ctx context.Context, id uuid.UUID) (*Property, error) {
	p, err := scanProperty(t.tx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: get property %s: %w", id, mapPgError(err))
	}
	return p, nil
}

func (t *pgTx) ListProperties(ctx context.Context) ([]*Property, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("bookings: list properties: %w", err)
	}
	defer rows.Close()
	var out []*Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const roomColumns = `id, property_id, room_type_id, number, floor, housekeeping, out_of_service`

func scanRoom(row pgx.Row) (*Room, error) {
	var (
		r  Room
		hk string
	)
	if err := row.Scan(&r.ID, &r.PropertyID, &r.RoomTypeID, &r.Number, &r.Floor, &hk, &r.OutOfService); err != nil {
		return nil, err
	}
	r.Housekeeping = Housekeeping(hk)
	return &r, nil
}

func (t *pgTx) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	r, err := scanRoom(t.tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: get room %s: %w", id, mapPgError(err))
	}
	return r, nil
}

func (t *pgTx) LockRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	r, err := scanRoom(t.tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: lock room %s: %w", id, mapPgError(err))
	}
	return r, nil
}

func (t *pgTx) ListRoomsByType(ctx context.Context, propertyID, roomTypeID uuid.UUID) ([]*Room, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE property_id = $1 AND room_type_id = $2 ORDER BY number`, propertyID, roomTypeID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list rooms: %w", err)
	}
	defer rows.Close()
	var out []*Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveRoom(ctx context.Context, r *Room) error {
	_, err := t.tx.Exec(ctx, `UPDATE rooms SET housekeeping = $2, out_of_service = $3 WHERE id = $1`,
		r.ID, string(r.Housekeeping), r.OutOfService)
	if err != nil {
		return fmt.Errorf("bookings: save room %s: %w", r.ID, mapPgError(err))
	}
	return nil
}

const sessionColumns = `
	id, booking_id, purpose, extension_id, provider, provider_session_id, provider_intent_id,
	redirect_url, amount_cents, currency, capture_mode, status, expires_at, created_at,
	authorized_at, captured_at, voided_at`

func scanSession(row pgx.Row) (*PaymentSession, error) {
	var (
		s           PaymentSession
		extensionID pgtype.UUID
		purpose     string
		status      string
	)
	err := row.Scan(&s.ID, &s.BookingID, &purpose, &extensionID, &s.Provider, &s.ProviderSessionID, &s.ProviderIntentID,
		&s.RedirectURL, &s.AmountCents, &s.Currency, &s.CaptureMode, &status, &s.ExpiresAt, &s.CreatedAt,
		&s.AuthorizedAt, &s.CapturedAt, &s.VoidedAt)
	if err != nil {
		return nil, err
	}
	s.Purpose = SessionPurpose(purpose)
	s.Status = SessionStatus(status)
	s.ExtensionID = fromPGUUID(extensionID)
	return &s, nil
}

func (t *pgTx) InsertPaymentSession(ctx context.Context, s *PaymentSession) error {
	var extensionID pgtype.UUID
	if s.ExtensionID != nil {
		extensionID = toPGUUID(*s.ExtensionID)
	}
	query := `INSERT INTO payment_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := t.tx.Exec(ctx, query,
		s.ID, s.BookingID, string(s.Purpose), extensionID, s.Provider, s.ProviderSessionID, s.ProviderIntentID,
		s.RedirectURL, s.AmountCents, s.Currency, s.CaptureMode, string(s.Status), s.ExpiresAt, s.CreatedAt,
		s.AuthorizedAt, s.CapturedAt, s.VoidedAt)
	if err != nil {
		return fmt.Errorf("bookings: insert payment session: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) UpdatePaymentSession(ctx context.Context, s *PaymentSession) error {
	query := `UPDATE payment_sessions
		SET provider_session_id = $2, provider_intent_id = $3, redirect_url = $4, status = $5,
			authorized_at = $6, captured_at = $7, voided_at = $8
		WHERE id = $1 AND status NOT IN ('captured', 'voided')`
	ct, err := t.tx.Exec(ctx, query, s.ID, s.ProviderSessionID, s.ProviderIntentID, s.RedirectURL, string(s.Status),
		s.AuthorizedAt, s.CapturedAt, s.VoidedAt)
	if err != nil {
		return fmt.Errorf("bookings: update payment session: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: update payment session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetPaymentSession(ctx context.Context, id uuid.UUID) (*PaymentSession, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: get payment session: %w", mapPgError(err))
	}
	return s, nil
}

func (t *pgTx) FindPaymentSessionByProviderRef(ctx context.Context, ref string) (*PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions
		WHERE provider_session_id = $1 OR provider_intent_id = $1
		ORDER BY created_at DESC LIMIT 1`
	s, err := scanSession(t.tx.QueryRow(ctx, query, ref))
	if err != nil {
		return nil, fmt.Errorf("bookings: find payment session by ref: %w", mapPgError(err))
	}
	return s, nil
}

func (t *pgTx) ListPaymentSessions(ctx context.Context, bookingID uuid.UUID) ([]*PaymentSession, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE booking_id = $1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list payment sessions: %w", err)
	}
	defer rows.Close()
	var out []*PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan payment session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const webhookColumns = `provider_event_id, provider, event_type, payload_ref, status, booking_id, error, received_at, processed_at`

func scanWebhook(row pgx.Row) (*WebhookEvent, error) {
	var (
		e         WebhookEvent
		status    string
		bookingID pgtype.UUID
	)
	if err := row.Scan(&e.ProviderEventID, &e.Provider, &e.EventType, &e.PayloadRef, &status, &bookingID,
		&e.Error, &e.ReceivedAt, &e.ProcessedAt); err != nil {
		return nil, err
	}
	e.Status = WebhookStatus(status)
	e.BookingID = fromPGUUID(bookingID)
	return &e, nil
}

func (t *pgTx) GetWebhookEvent(ctx context.Context, providerEventID string) (*WebhookEvent, error) {
	e, err := scanWebhook(t.tx.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE provider_event_id = $1`, providerEventID))
	if err != nil {
		return nil, fmt.Errorf("bookings: get webhook event: %w", mapPgError(err))
	}
	return e, nil
}

func (t *pgTx) InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	var bookingID pgtype.UUID
	if e.BookingID != nil {
		bookingID = toPGUUID(*e.BookingID)
	}
	query := `INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_event_id) DO NOTHING`
	ct, err := t.tx.Exec(ctx, query, e.ProviderEventID, e.Provider, e.EventType, e.PayloadRef, string(e.Status),
		bookingID, e.Error, e.ReceivedAt, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("bookings: insert webhook event: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: insert webhook event %s: %w", e.ProviderEventID, ErrDuplicate)
	}
	return nil
}

func (t *pgTx) UpdateWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	var bookingID pgtype.UUID
	if e.BookingID != nil {
		bookingID = toPGUUID(*e.BookingID)
	}
	query := `UPDATE webhook_events
		SET status = $2, booking_id = $3, error = $4, processed_at = $5, payload_ref = $6
		WHERE provider_event_id = $1`
	ct, err := t.tx.Exec(ctx, query, e.ProviderEventID, string(e.Status), bookingID, e.Error, e.ProcessedAt, e.PayloadRef)
	if err != nil {
		return fmt.Errorf("bookings: update webhook event: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: update webhook event %s: %w", e.ProviderEventID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) ListWebhookEvents(ctx context.Context, status WebhookStatus, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultWebhookListSz
	}
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY received_at DESC
		LIMIT $2`
	rows, err := t.tx.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("bookings: list webhook events: %w", err)
	}
	defer rows.Close()
	var out []*WebhookEvent
	for rows.Next() {
		e, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan webhook event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const incidentColumns = `
	id, booking_id, property_id, expected_checkout, detected_at, status, severity,
	acked_by, acked_at, ack_note, resolved_by, resolved_at, resolution_note,
	dismissed_by, dismissed_at, dismiss_note`

func scanIncident(row pgx.Row) (*OverstayIncident, error) {
	var (
		i        OverstayIncident
		expected time.Time
		status   string
		severity string
	)
	if err := row.Scan(
		&i.ID, &i.BookingID, &i.PropertyID, &expected, &i.DetectedAt, &status, &severity,
		&i.AckedBy, &i.AckedAt, &i.AckNote, &i.ResolvedBy, &i.ResolvedAt, &i.ResolutionNote,
		&i.DismissedBy, &i.DismissedAt, &i.DismissNote); err != nil {
		return nil, err
	}
	i.ExpectedCheckout = DateOf(expected)
	i.Status = IncidentStatus(status)
	i.Severity = Severity(severity)
	return &i, nil
}

func (t *pgTx) ActiveIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error) {
	query := `SELECT ` + incidentColumns + ` FROM overstay_incidents
		WHERE booking_id = $1 AND status IN ('OPEN', 'ACKED')`
	i, err := scanIncident(t.tx.QueryRow(ctx, query, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: active incident: %w", mapPgError(err))
	}
	return i, nil
}

func (t *pgTx) LatestIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error) {
	query := `SELECT ` + incidentColumns + ` FROM overstay_incidents
		WHERE booking_id = $1
		ORDER BY detected_at DESC
		LIMIT 1`
	i, err := scanIncident(t.tx.QueryRow(ctx, query, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: latest incident: %w", mapPgError(err))
	}
	return i, nil
}

// InsertIncident skips the row when the partial unique index on active
// incidents already holds one, so the transaction stays usable.
func (t *pgTx) InsertIncident(ctx context.Context, i *OverstayIncident) error {
	query := `INSERT INTO overstay_incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING`
	ct, err := t.tx.Exec(ctx, query,
		i.ID, i.BookingID, i.PropertyID, i.ExpectedCheckout.Time(), i.DetectedAt, string(i.Status), string(i.Severity),
		i.AckedBy, i.AckedAt, i.AckNote, i.ResolvedBy, i.ResolvedAt, i.ResolutionNote,
		i.DismissedBy, i.DismissedAt, i.DismissNote)
	if err != nil {
		return fmt.Errorf("bookings: insert incident: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: insert incident for booking %s: %w", i.BookingID, ErrDuplicate)
	}
	return nil
}

func (t *pgTx) UpdateIncident(ctx context.Context, i *OverstayIncident) error {
	query := `UPDATE overstay_incidents
		SET status = $2, acked_by = $3, acked_at = $4, ack_note = $5,
			resolved_by = $6, resolved_at = $7, resolution_note = $8,
			dismissed_by = $9, dismissed_at = $10, dismiss_note = $11
		WHERE id = $1`
	ct, err := t.tx.Exec(ctx, query, i.ID, string(i.Status), i.AckedBy, i.AckedAt, i.AckNote,
		i.ResolvedBy, i.ResolvedAt, i.ResolutionNote, i.DismissedBy, i.DismissedAt, i.DismissNote)
	if err != nil {
		return fmt.Errorf("bookings: update incident: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: update incident %s: %w", i.ID, ErrNotFound)
	}
	return nil
}

const extensionColumns = `
	id, booking_id, old_checkout, new_checkout, nights_added, pricing, amount_cents, currency,
	payment_session_id, idempotency_key, status, requested_by, created_at, confirmed_at`

func scanExtension(row pgx.Row) (*BookingExtension, error) {
	var (
		e                BookingExtension
		oldOut, newOut   time.Time
		pricing          []byte
		paymentSessionID pgtype.UUID
		status           string
	)
	if err := row.Scan(&e.ID, &e.BookingID, &oldOut, &newOut, &e.NightsAdded, &pricing, &e.AmountCents, &e.Currency,
		&paymentSessionID, &e.IdempotencyKey, &status, &e.RequestedBy, &e.CreatedAt, &e.ConfirmedAt); err != nil {
		return nil, err
	}
	e.OldCheckout = DateOf(oldOut)
	e.NewCheckout = DateOf(newOut)
	e.PaymentSessionID = fromPGUUID(paymentSessionID)
	e.Status = ExtensionStatus(status)
	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &e.Pricing); err != nil {
			return nil, fmt.Errorf("decode pricing: %w", err)
		}
	}
	return &e, nil
}

func (t *pgTx) GetExtensionByKey(ctx context.Context, bookingID uuid.UUID, key string) (*BookingExtension, error) {
	e, err := scanExtension(t.tx.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM booking_extensions WHERE booking_id = $1 AND idempotency_key = $2`, bookingID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get extension by key: %w", mapPgError(err))
	}
	return e, nil
}

func (t *pgTx) GetExtension(ctx context.Context, id uuid.UUID) (*BookingExtension, error) {
	e, err := scanExtension(t.tx.QueryRow(ctx, `SELECT `+extensionColumns+` FROM booking_extensions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: get extension: %w", mapPgError(err))
	}
	return e, nil
}

func (t *pgTx) InsertExtension(ctx context.Context, e *BookingExtension) error {
	pricing, err := json.Marshal(e.Pricing)
	if err != nil {
		return fmt.Errorf("bookings: encode pricing: %w", err)
	}
	var paymentSessionID pgtype.UUID
	if e.PaymentSessionID != nil {
		paymentSessionID = toPGUUID(*e.PaymentSessionID)
	}
	query := `INSERT INTO booking_extensions (` + extensionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = t.tx.Exec(ctx, query, e.ID, e.BookingID, e.OldCheckout.Time(), e.NewCheckout.Time(), e.NightsAdded, pricing,
		e.AmountCents, e.Currency, paymentSessionID, e.IdempotencyKey, string(e.Status), e.RequestedBy, e.CreatedAt, e.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("bookings: insert extension: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) UpdateExtension(ctx context.Context, e *BookingExtension) error {
	var paymentSessionID pgtype.UUID
	if e.PaymentSessionID != nil {
		paymentSessionID = toPGUUID(*e.PaymentSessionID)
	}
	ct, err := t.tx.Exec(ctx, `UPDATE booking_extensions SET status = $2, payment_session_id = $3, confirmed_at = $4 WHERE id = $1`,
		e.ID, string(e.Status), paymentSessionID, e.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("bookings: update extension: %w", mapPgError(err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("bookings: update extension %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// mapPgError translates driver errors into package sentinels where the
// caller is expected to branch on them.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrIntegrity, pgErr.ConstraintName)
		case pgLockNotAvailable:
			return fmt.Errorf("lock timeout: %w", err)
		}
	}
	return err
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{
		Bytes: [16]byte(id),
		Valid: true,
	}
}

func fromPGUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

var _ Store = (*PostgresStore)(nil)
var _ Tx = (*pgTx)(nil)

func (t *pgTx) AppendOutbox(ctx context.Context, recs ...OutboxRecord) error {
	query := `
		INSERT INTO outbox (id, property_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	for _, r := range recs {
		if _, err := t.tx.Exec(ctx, query, r.ID, r.PropertyID, r.Type, r.Payload, r.CreatedAt); err != nil {
			return fmt.Errorf("bookings: append outbox: %w", mapPgError(err))
		}
	}
	return nil
}

func (t *pgTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
