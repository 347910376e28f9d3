package model

import (
    "time"

    "gopkg.in/guregu/null.v4"
)

// Vehicle is a car registered by a user.  At most one vehicle per user
// is active; bookings are made for the active one unless the caller
// names another.
type Vehicle struct {
    ID            string      `json:"id"`
    UserID        string      `json:"userId"`
    VehicleNumber string      `json:"vehicleNumber"`
    Model         string      `json:"model"`
    Manufacturer  null.String `json:"manufacturer"`
    Color         null.String `json:"color"`
    IsActive      bool        `json:"isActive"`
    CreatedAt     time.Time   `json:"createdAt"`
}
