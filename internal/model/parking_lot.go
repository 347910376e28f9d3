package model

import "time"

// Coordinate is a WGS84 position.
type Coordinate struct {
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies on the globe.
func (c Coordinate) Valid() bool {
    return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// ParkingLot is a vendor-owned facility with a fixed number of spaces.
// AvailableSpaces is only ever changed by the reservation ledger; it
// must stay within [0, TotalSpaces] and equal TotalSpaces minus the
// number of active bookings on the lot.
//
// Fields:
//  ID              – store-assigned document id.
//  VendorID        – user id of the owning vendor.
//  HourlyCharge    – price per hour, >= 0.
//  LateFee         – flat fee for overstaying the planned hours, >= 0.
//  TotalSpaces     – capacity, > 0.
//  AvailableSpaces – free spaces right now.
type ParkingLot struct {
    ID              string     `json:"id"`
    VendorID        string     `json:"vendorId"`
    Name            string     `json:"name"`
    Description     string     `json:"description"`
    Address         string     `json:"address"`
    Location        Coordinate `json:"location"`
    HourlyCharge    float64    `json:"hourlyCharge"`
    LateFee         float64    `json:"lateFee"`
    Terms           string     `json:"terms"`
    TotalSpaces     int        `json:"totalSpaces"`
    AvailableSpaces int        `json:"availableSpaces"`
    IsActive        bool       `json:"isActive"`
    CreatedAt       time.Time  `json:"createdAt"`
}

// Occupied returns the number of spaces held by active bookings.
func (l ParkingLot) Occupied() int { return l.TotalSpaces - l.AvailableSpaces }
