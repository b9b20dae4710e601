package overstay

import (
	"fmt"
	"time"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
)

// PriceNights prices the nights [from, to) from the rate plan captured on
// the booking. Friday and Saturday nights use the weekend rate when the
// plan has one. Tax is rounded half up to the cent.
func PriceNights(plan bookings.RatePlan, from, to bookings.Date) (bookings.PricingBreakdown, error) {
	out := bookings.PricingBreakdown{RatePlanCode: plan.Code, TaxBasisPoints: plan.TaxBasisPoints}
	if !to.After(from) {
		return out, fmt.Errorf("%w: no nights between %s and %s", bookings.ErrInvalidInput, from, to)
	}
	if plan.NightlyCents <= 0 {
		return out, fmt.Errorf("%w: rate plan %q has no nightly rate", bookings.ErrInvalidInput, plan.Code)
	}
	if plan.TaxBasisPoints < 0 {
		return out, fmt.Errorf("%w: negative tax rate on plan %q", bookings.ErrInvalidInput, plan.Code)
	}

	for night := from; night.Before(to); night = night.AddDays(1) {
		price := bookings.NightPrice{Date: night, Cents: plan.NightlyCents}
		if wd := night.Weekday(); wd == time.Friday || wd == time.Saturday {
			price.Weekend = true
			if plan.WeekendNightlyCents > 0 {
				price.Cents = plan.WeekendNightlyCents
			}
		}
		out.Nights = append(out.Nights, price)
		out.SubtotalCents += price.Cents
	}
	out.TaxCents = (out.SubtotalCents*int64(plan.TaxBasisPoints) + 5000) / 10000
	out.TotalCents = out.SubtotalCents + out.TaxCents
	return out, nil
}
