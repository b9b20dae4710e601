// Package overstay flags guests who stay past checkout and lets staff
// acknowledge or extend those stays.
package overstay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

var tracer = otel.Tracer("hotel.internal.overstay")

// DetectResult summarizes one property sweep.
type DetectResult struct {
	PropertyID uuid.UUID                    `json:"property_id"`
	Checked    int                          `json:"checked"`
	Flagged    []*bookings.OverstayIncident `json:"flagged"`
	Escalated  int                          `json:"escalated"`
}

// SweepResult summarizes a sweep over every property.
type SweepResult struct {
	Properties []*DetectResult    `json:"properties"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// Flagged counts new incidents across properties.
func (r *SweepResult) Flagged() int {
	n := 0
	for _, p := range r.Properties {
		n += len(p.Flagged)
	}
	return n
}

// Detector creates overstay incidents. It is safe to run repeatedly; an
// active incident is never duplicated.
type Detector struct {
	store     bookings.Store
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

func NewDetector(store bookings.Store, publisher events.Publisher, m *metrics.BookingMetrics, logger *logging.Logger) *Detector {
	if store == nil {
		panic("overstay: booking store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{store: store, publisher: publisher, metrics: m, logger: logger}
}

// DetectAll sweeps every property. One property failing does not stop the
// others.
func (d *Detector) DetectAll(ctx context.Context, now time.Time) (*SweepResult, error) {
	var props []*bookings.Property
	err := d.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		var err error
		props, err = tx.ListProperties(ctx)
		return err
	})
	if err != nil {
		d.metrics.ObserveSweep("error")
		return nil, fmt.Errorf("overstay: list properties: %w", err)
	}

	out := &SweepResult{}
	for _, p := range props {
		res, err := d.Detect(ctx, p.ID, now)
		if err != nil {
			if out.Failed == nil {
				out.Failed = map[string]string{}
			}
			out.Failed[p.ID.String()] = err.Error()
			d.logger.Error("overstay sweep failed for property", "property_id", p.ID, "error", err)
			continue
		}
		out.Properties = append(out.Properties, res)
	}
	outcome := "ok"
	if len(out.Failed) > 0 {
		outcome = "partial"
	}
	d.metrics.ObserveSweep(outcome)
	return out, nil
}

// Detect flags every checked-in booking of the property that is past
// local noon on its checkout date.
func (d *Detector) Detect(ctx context.Context, propertyID uuid.UUID, now time.Time) (*DetectResult, error) {
	ctx, span := tracer.Start(ctx, "overstay.detect")
	defer span.End()
	span.SetAttributes(attribute.String("hotel.property_id", propertyID.String()))

	var (
		loc        *time.Location
		candidates []*bookings.Booking
	)
	err := d.store.InTx(ctx, func(ctx context.Context, tx bookings.Tx) error {
		prop, err := tx.GetProperty(ctx, propertyID)
		if err != nil {
			return err
		}
		loc, err = prop.Location()
		if err != nil {
			return err
		}
		candidates, err = tx.ListBookingsByStatus(ctx, propertyID, bookings.StatusCheckedIn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("overstay: load property %s: %w", propertyID, err)
	}

	res := &DetectResult{PropertyID: propertyID, Checked: len(candidates)}
	for _, c := range candidates {
		if !IsOverdue(c.CheckOut, loc, now) {
			continue
		}
		incident, escalated, err := d.flag(ctx, c.ID, loc, now)
		if err != nil {
			return res, err
		}
		if incident != nil {
			res.Flagged = append(res.Flagged, incident)
		}
		if escalated {
			res.Escalated++
		}
	}
	span.SetAttributes(attribute.Int("hotel.flagged", len(res.Flagged)))
	if len(res.Flagged) > 0 {
		d.logger.Info("overstays flagged", "property_id", propertyID, "count", len(res.Flagged))
	}
	return res, nil
}

// flag re-checks the booking under its lock, since a checkout or extension
// may have landed since the candidate list was read. A dismissed incident
// stays dismissed until the checkout date moves.
func (d *Detector) flag(ctx context.Context, bookingID uuid.UUID, loc *time.Location, now time.Time) (*bookings.OverstayIncident, bool, error) {
	var (
		created   *bookings.OverstayIncident
		escalated bool
	)
	err := d.store.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx bookings.Tx, b *bookings.Booking) error {
		if b.Status != bookings.StatusCheckedIn || !IsOverdue(b.CheckOut, loc, now) {
			return nil
		}
		severity := SeverityFor(now.Sub(Deadline(b.CheckOut, loc)))
		active, err := tx.ActiveIncident(ctx, b.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if severityRank(severity) > severityRank(active.Severity) {
				active.Severity = severity
				escalated = true
				return tx.UpdateIncident(ctx, active)
			}
			return nil
		}
		latest, err := tx.LatestIncident(ctx, b.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.Status == bookings.IncidentDismissed && latest.ExpectedCheckout.Equal(b.CheckOut) {
			return nil
		}

		incident := &bookings.OverstayIncident{
			ID:               uuid.New(),
			BookingID:        b.ID,
			PropertyID:       b.PropertyID,
			ExpectedCheckout: b.CheckOut,
			DetectedAt:       now.UTC(),
			Status:           bookings.IncidentOpen,
			Severity:         severity,
		}
		if err := tx.InsertIncident(ctx, incident); err != nil {
			if errors.Is(err, bookings.ErrDuplicate) {
				return nil
			}
			return err
		}
		if d.publisher != nil {
			evt := events.New(events.BookingOverstayFlagged, b, now).WithIncident(incident)
			if err := d.publisher.Publish(ctx, tx, evt); err != nil {
				return err
			}
		}
		created = incident
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("overstay: flag booking %s: %w", bookingID, err)
	}
	if created != nil {
		d.metrics.ObserveIncident(string(created.Status), string(created.Severity))
	}
	return created, escalated, nil
}
