package bookings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// MemoryStore keeps all state in process. A single mutex is held for the
// life of each transaction and a failed transaction leaves no trace.
// Used for local development and service tests.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	logger *logging.Logger
}

type memState struct {
	bookings   map[uuid.UUID]*Booking
	properties map[uuid.UUID]*Property
	rooms      map[uuid.UUID]*Room
	sessions   map[uuid.UUID]*PaymentSession
	webhooks   map[string]*WebhookEvent
	incidents  map[uuid.UUID]*OverstayIncident
	extensions map[uuid.UUID]*BookingExtension
	outbox     []OutboxRecord
}

func NewMemoryStore(logger *logging.Logger) *MemoryStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryStore{
		state: &memState{
			bookings:   map[uuid.UUID]*Booking{},
			properties: map[uuid.UUID]*Property{},
			rooms:      map[uuid.UUID]*Room{},
			sessions:   map[uuid.UUID]*PaymentSession{},
			webhooks:   map[string]*WebhookEvent{},
			incidents:  map[uuid.UUID]*OverstayIncident{},
			extensions: map[uuid.UUID]*BookingExtension{},
		},
		logger: logger,
	}
}

func (m *MemoryStore) WithBookingLock(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx Tx, b *Booking) error) error {
	return m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, b)
	})
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hooks, err := m.commit(ctx, fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// commit applies fn to a copy of the state and swaps it in on success. The
// returned hooks run after the lock is released.
func (m *MemoryStore) commit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) ([]func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	tx := &memTx{state: work, logger: m.logger}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	m.state = work
	return tx.hooks, nil
}

// PutProperty seeds a property.
func (m *MemoryStore) PutProperty(p *Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.state.properties[p.ID] = &c
}

func (m *MemoryStore) PutRoom(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.state.rooms[r.ID] = &c
}

// PutBooking seeds a booking without validation so tests can stage any state.
func (m *MemoryStore) PutBooking(b *Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.bookings[b.ID] = b.Clone()
}

func (m *MemoryStore) Booking(id uuid.UUID) (*Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bookings[id]
	return b.Clone(), ok
}

func (m *MemoryStore) Room(id uuid.UUID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.rooms[id]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

func (m *MemoryStore) Sessions(bookingID uuid.UUID) []*PaymentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).sessionsFor(bookingID)
}

func (m *MemoryStore) Incidents(bookingID uuid.UUID) []*OverstayIncident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*OverstayIncident
	for _, i := range m.state.incidents {
		if i.BookingID == bookingID {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DetectedAt.Before(out[b].DetectedAt) })
	return out
}

func (m *MemoryStore) Extensions(bookingID uuid.UUID) []*BookingExtension {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BookingExtension
	for _, e := range m.state.extensions {
		if e.BookingID == bookingID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Outbox returns the committed outbox records in insertion order.
func (m *MemoryStore) Outbox() []OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboxRecord(nil), m.state.outbox...)
}

func (m *MemoryStore) WebhookEvent(providerEventID string) (*WebhookEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.webhooks[providerEventID]
	return e.Clone(), ok
}

func (s *memState) clone() *memState {
	c := &memState{
		bookings:   make(map[uuid.UUID]*Booking, len(s.bookings)),
		properties: make(map[uuid.UUID]*Property, len(s.properties)),
		rooms:      make(map[uuid.UUID]*Room, len(s.rooms)),
		sessions:   make(map[uuid.UUID]*PaymentSession, len(s.sessions)),
		webhooks:   make(map[string]*WebhookEvent, len(s.webhooks)),
		incidents:  make(map[uuid.UUID]*OverstayIncident, len(s.incidents)),
		extensions: make(map[uuid.UUID]*BookingExtension, len(s.extensions)),
	}
	for k, v := range s.bookings {
		c.bookings[k] = v.Clone()
	}
	for k, v := range s.properties {
		p := *v
		c.properties[k] = &p
	}
	for k, v := range s.rooms {
		r := *v
		c.rooms[k] = &r
	}
	for k, v := range s.sessions {
		c.sessions[k] = v.Clone()
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v.Clone()
	}
	for k, v := range s.incidents {
		c.incidents[k] = v.Clone()
	}
	for k, v := range s.extensions {
		c.extensions[k] = v.Clone()
	}
	c.outbox = append([]OutboxRecord(nil), s.outbox...)
	return c
}

type memTx struct {
	state  *memState
	logger *logging.Logger
	hooks  []func()
}

func (t *memTx) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := t.state.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *memTx) SaveBooking(ctx context.Context, b *Booking) error {
	if err := ValidateAtRest(b); err != nil {
		t.logger.Error("refusing to persist booking", "booking_id", b.ID, "status", b.Status, "integrity_violation", true, "error", err)
		return err
	}
	for id, other := range t.state.bookings {
		if id != b.ID && other.PropertyID == b.PropertyID && other.Reference == b.Reference {
			return ErrDuplicate
		}
	}
	c := b.Clone()
	if prev, ok := t.state.bookings[b.ID]; ok {
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	t.state.bookings[b.ID] = c
	b.Version = c.Version
	return nil
}

func (t *memTx) ListBookingsByStatus(ctx context.Context, propertyID uuid.UUID, status Status) ([]*Booking, error) {
	var out []*Booking
	for _, b := range t.state.bookings {
		if b.PropertyID == propertyID && b.Status == status {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}

func (t *memTx) FindOverlapping(ctx context.Context, roomID uuid.UUID, from, to Date, exclude uuid.UUID) ([]*Booking, error) {
	var out []*Booking
	for _, b := range t.state.bookings {
		if b.ID == exclude || b.RoomID == nil || *b.RoomID != roomID {
			continue
		}
		if b.Status != StatusConfirmed && b.Status != StatusCheckedIn {
			continue
		}
		if b.CheckIn.Before(to) && b.CheckOut.After(from) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}

func (t *memTx) GetProperty(ctx context.Context, id uuid.UUID) (*Property, error) {
	p, ok := t.state.properties[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (t *memTx) ListProperties(ctx context.Context) ([]*Property, error) {
	out := make([]*Property, 0, len(t.state.properties))
	for _, p := range t.state.properties {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	r, ok := t.state.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (t *memTx) LockRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return t.GetRoom(ctx, id)
}

func (t *memTx) ListRoomsByType(ctx context.Context, propertyID, roomTypeID uuid.UUID) ([]*Room, error) {
	var out []*Room
	for _, r := range t.state.rooms {
		if r.PropertyID == propertyID && r.RoomTypeID == roomTypeID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *memTx) SaveRoom(ctx context.Context, r *Room) error {
	c := *r
	t.state.rooms[r.ID] = &c
	return nil
}

func (t *memTx) InsertPaymentSession(ctx context.Context, s *PaymentSession) error {
	if _, ok := t.state.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	t.state.sessions[s.ID] = s.Clone()
	return nil
}

func (t *memTx) UpdatePaymentSession(ctx context.Context, s *PaymentSession) error {
	if _, ok := t.state.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	t.state.sessions[s.ID] = s.Clone()
	return nil
}

func (t *memTx) GetPaymentSession(ctx context.Context, id uuid.UUID) (*PaymentSession, error) {
	s, ok := t.state.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (t *memTx) FindPaymentSessionByProviderRef(ctx context.Context, ref string) (*PaymentSession, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, s := range t.state.sessions {
		if s.ProviderSessionID == ref || s.ProviderIntentID == ref {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListPaymentSessions(ctx context.Context, bookingID uuid.UUID) ([]*PaymentSession, error) {
	return t.sessionsFor(bookingID), nil
}

func (t *memTx) sessionsFor(bookingID uuid.UUID) []*PaymentSession {
	var out []*PaymentSession
	for _, s := range t.state.sessions {
		if s.BookingID == bookingID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *memTx) GetWebhookEvent(ctx context.Context, providerEventID string) (*WebhookEvent, error) {
	e, ok := t.state.webhooks[providerEventID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (t *memTx) InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if _, ok := t.state.webhooks[e.ProviderEventID]; ok {
		return ErrDuplicate
	}
	t.state.webhooks[e.ProviderEventID] = e.Clone()
	return nil
}

func (t *memTx) UpdateWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if _, ok := t.state.webhooks[e.ProviderEventID]; !ok {
		return ErrNotFound
	}
	t.state.webhooks[e.ProviderEventID] = e.Clone()
	return nil
}

func (t *memTx) ListWebhookEvents(ctx context.Context, status WebhookStatus, limit int) ([]*WebhookEvent, error) {
	var out []*WebhookEvent
	for _, e := range t.state.webhooks {
		if status == "" || e.Status == status {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) ActiveIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error) {
	for _, i := range t.state.incidents {
		if i.BookingID == bookingID && i.Status.Active() {
			return i.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) LatestIncident(ctx context.Context, bookingID uuid.UUID) (*OverstayIncident, error) {
	var latest *OverstayIncident
	for _, i := range t.state.incidents {
		if i.BookingID != bookingID {
			continue
		}
		if latest == nil || i.DetectedAt.After(latest.DetectedAt) {
			latest = i
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (t *memTx) InsertIncident(ctx context.Context, i *OverstayIncident) error {
	active, err := t.ActiveIncident(ctx, i.BookingID)
	if err != nil {
		return err
	}
	if active != nil && i.Status.Active() {
		return ErrDuplicate
	}
	t.state.incidents[i.ID] = i.Clone()
	return nil
}

func (t *memTx) UpdateIncident(ctx context.Context, i *OverstayIncident) error {
	if _, ok := t.state.incidents[i.ID]; !ok {
		return ErrNotFound
	}
	t.state.incidents[i.ID] = i.Clone()
	return nil
}

func (t *memTx) GetExtensionByKey(ctx context.Context, bookingID uuid.UUID, key string) (*BookingExtension, error) {
	for _, e := range t.state.extensions {
		if e.BookingID == bookingID && e.IdempotencyKey == key {
			return e.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) GetExtension(ctx context.Context, id uuid.UUID) (*BookingExtension, error) {
	e, ok := t.state.extensions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (t *memTx) InsertExtension(ctx context.Context, e *BookingExtension) error {
	existing, err := t.GetExtensionByKey(ctx, e.BookingID, e.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}
	t.state.extensions[e.ID] = e.Clone()
	return nil
}

func (t *memTx) UpdateExtension(ctx context.Context, e *BookingExtension) error {
	if _, ok := t.state.extensions[e.ID]; !ok {
		return ErrNotFound
	}
	t.state.extensions[e.ID] = e.Clone()
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Tx = (*memTx)(nil)

// IsNotFound is a small helper for callers that treat a missing row as optional.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (t *memTx) AppendOutbox(ctx context.Context, recs ...OutboxRecord) error {
	for _, r := range recs {
		r.Payload = append([]byte(nil), r.Payload...)
		t.state.outbox = append(t.state.outbox, r)
	}
	return nil
}

func (t *memTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
