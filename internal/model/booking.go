package model

import (
    "time"

    "gopkg.in/guregu/null.v4"
)

// Booking holds one capacity slot of a parking lot while it is active.
// EndTime, ActualHours and TotalAmount are only set when the booking is
// closed.
type Booking struct {
    ID           string        `json:"id"`
    UserID       string        `json:"userId"`
    VehicleID    string        `json:"vehicleId"`
    ParkingLotID string        `json:"parkingLotId"`
    StartTime    time.Time     `json:"startTime"`
    EndTime      null.Time     `json:"endTime"`
    PlannedHours float64       `json:"plannedHours"`
    ActualHours  null.Float    `json:"actualHours"`
    Status       BookingStatus `json:"status"`
    TotalAmount  null.Float    `json:"totalAmount"`
    CreatedAt    time.Time     `json:"createdAt"`
}

// IsActive reports whether the booking still holds a space.
func (b Booking) IsActive() bool { return b.Status == BookingActive }
