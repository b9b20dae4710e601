package events

import (
	"context"
	"sync"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

// MemoryPublisher records events in process once their transaction commits.
// Used by tests and local runs without a database.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, tx bookings.Tx, evts ...Event) error {
	p.mu.Lock()
	err := p.Err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		return nil
	}
	staged := append([]Event(nil), evts...)
	if tx == nil {
		p.record(staged)
		return nil
	}
	tx.AfterCommit(func() { p.record(staged) })
	return nil
}

func (p *MemoryPublisher) record(evts []Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Types lists published event types in order.
func (p *MemoryPublisher) Types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
