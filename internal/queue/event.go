// Package queue defines the booking event payload, the sink interface
// producers publish through, and the background consumer that records
// events to a log file.
package queue

import "context"

// Event types.
const (
    EventBookingReserved = "booking.reserved"
    EventBookingClosed   = "booking.closed"
    EventLotCapacity     = "lot.capacity"
)

// BookingEvent is emitted after a reserve or close has been committed.
// It carries the lot's capacity after the change so live views can update
// without reading the store.
type BookingEvent struct {
    Type            string   `json:"type"`
    BookingID       string   `json:"booking_id"`
    UserID          string   `json:"user_id"`
    VehicleID       string   `json:"vehicle_id"`
    ParkingLotID    string   `json:"parking_lot_id"`
    LotName         string   `json:"lot_name"`
    Status          string   `json:"status"`
    PlannedHours    float64  `json:"planned_hours"`
    ActualHours     *float64 `json:"actual_hours,omitempty"`
    Amount          float64  `json:"amount"`
    PaymentMethod   string   `json:"payment_method,omitempty"`
    AvailableSpaces int      `json:"available_spaces"`
    TotalSpaces     int      `json:"total_spaces"`
    OccurredAt      string   `json:"occurred_at"`
}

// Sink receives booking events.  Implementations must be safe for
// concurrent use; errors are logged by the caller and never undo the
// booking change.
type Sink interface {
    Publish(ctx context.Context, ev BookingEvent) error
}
