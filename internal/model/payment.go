package model

import (
    "time"

    "gopkg.in/guregu/null.v4"
)

// Payment is created together with its booking.  Status starts pending
// for cash and completed for every other method; vendors settle pending
// payments later.
type Payment struct {
    ID            string        `json:"id"`
    BookingID     string        `json:"bookingId"`
    UserID        string        `json:"userId"`
    Amount        float64       `json:"amount"`
    Method        PaymentMethod `json:"method"`
    Status        PaymentStatus `json:"status"`
    TransactionID null.String   `json:"transactionId"`
    CreatedAt     time.Time     `json:"createdAt"`
}
