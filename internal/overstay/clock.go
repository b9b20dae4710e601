package overstay

import (
	"time"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

// CheckoutHour is the local hour a stay ends. Guests are not overdue
// before noon on their checkout date.
const CheckoutHour = 12

// Deadline is local noon on the checkout date in the property's zone.
func Deadline(checkout bookings.Date, loc *time.Location) time.Time {
	return checkout.At(loc, CheckoutHour)
}

// IsOverdue reports whether now is at or past the checkout deadline.
func IsOverdue(checkout bookings.Date, loc *time.Location, now time.Time) bool {
	return !now.Before(Deadline(checkout, loc))
}

// HoursOverdue is zero for guests who are not overdue.
func HoursOverdue(checkout bookings.Date, loc *time.Location, now time.Time) float64 {
	late := now.Sub(Deadline(checkout, loc))
	if late <= 0 {
		return 0
	}
	return late.Hours()
}

// SeverityFor grades how late a guest is.
func SeverityFor(late time.Duration) bookings.Severity {
	switch {
	case late < 6*time.Hour:
		return bookings.SeverityLow
	case late < 24*time.Hour:
		return bookings.SeverityMedium
	default:
		return bookings.SeverityHigh
	}
}

func severityRank(s bookings.Severity) int {
	switch s {
	case bookings.SeverityHigh:
		return 3
	case bookings.SeverityMedium:
		return 2
	case bookings.SeverityLow:
		return 1
	}
	return 0
}
