package ledger

import (
	"math"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// AmountPolicy decides whose totalAmount is stored when a booking closes.
type AmountPolicy string

const (
	// PolicyVerify recomputes the amount from the lot's pricing and rejects
	// a client amount that differs by more than the tolerance.
	PolicyVerify AmountPolicy = "verify"
	// PolicyTrust stores the client amount as given.  It is the default.
	PolicyTrust AmountPolicy = "trust"
)

func round2(x float64) float64 { return math.Round(x*100) / 100 }

// ReserveAmount is the up-front charge: plannedHours is already in hours.
func ReserveAmount(plannedHours, hourlyCharge float64) float64 {
	return round2(plannedHours * hourlyCharge)
}

// UsageAmount is the charge for actualHours of parking.  The lot's late
// fee is added once when the stay overran the planned hours.
func UsageAmount(actualHours, plannedHours, hourlyCharge, lateFee float64) float64 {
	amount := actualHours * hourlyCharge
	if actualHours > plannedHours {
		amount += lateFee
	}
	return round2(amount)
}

// ElapsedHours is the time since start in hours, two decimals, never
// negative.
func ElapsedHours(start, now time.Time) float64 {
	h := now.Sub(start).Hours()
	if h < 0 {
		return 0
	}
	return round2(h)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// settle works out actualHours and totalAmount for closing b.
//
// A completed booking without actualHours is billed for the time elapsed
// since it started.  A cancelled booking without actualHours carries no
// computed amount.
func (l *Ledger) settle(b model.Booking, lot model.ParkingLot, req CloseRequest, now time.Time) (null.Float, null.Float, error) {
	actual := req.ActualHours
	if !actual.Valid && req.Outcome == model.BookingCompleted {
		actual = null.FloatFrom(ElapsedHours(b.StartTime, now))
	}

	if l.cfg.AmountPolicy == PolicyTrust {
		if req.TotalAmount.Valid {
			return actual, null.FloatFrom(round2(req.TotalAmount.Float64)), nil
		}
		if !actual.Valid {
			return actual, null.Float{}, nil
		}
		return actual, null.FloatFrom(UsageAmount(actual.Float64, b.PlannedHours, lot.HourlyCharge, lot.LateFee)), nil
	}

	if !actual.Valid {
		if req.TotalAmount.Valid {
			return actual, null.Float{}, invalid("totalAmount needs actualHours")
		}
		return actual, null.Float{}, nil
	}
	expected := UsageAmount(actual.Float64, b.PlannedHours, lot.HourlyCharge, lot.LateFee)
	if req.TotalAmount.Valid && math.Abs(req.TotalAmount.Float64-expected) > l.cfg.AmountTolerance {
		return actual, null.Float{}, invalid("totalAmount %.2f does not match %.2f for %.2f hours",
			req.TotalAmount.Float64, expected, actual.Float64)
	}
	return actual, null.FloatFrom(expected), nil
}
