package model

import (
    "fmt"
    "strings"
)

// BookingStatus is the lifecycle state of a booking.  A booking starts
// active and moves to exactly one terminal state.
type BookingStatus string

const (
    BookingActive    BookingStatus = "active"
    BookingCompleted BookingStatus = "completed"
    BookingCancelled BookingStatus = "cancelled"
)

// ParseBookingStatus normalizes s and rejects unknown values.
func ParseBookingStatus(s string) (BookingStatus, error) {
    switch st := BookingStatus(strings.ToLower(strings.TrimSpace(s))); st {
    case BookingActive, BookingCompleted, BookingCancelled:
        return st, nil
    default:
        return "", fmt.Errorf("unknown booking status %q", s)
    }
}

// IsTerminal reports whether no further transition is allowed.
func (s BookingStatus) IsTerminal() bool {
    switch s {
    case BookingCompleted, BookingCancelled:
        return true
    case BookingActive:
        return false
    }
    return false
}

// CanTransitionTo reports whether s -> next is a legal booking transition.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
    switch s {
    case BookingActive:
        return next == BookingCompleted || next == BookingCancelled
    case BookingCompleted, BookingCancelled:
        return false
    }
    return false
}

// PaymentMethod is how the customer pays for a booking.
type PaymentMethod string

const (
    PaymentCash   PaymentMethod = "cash"
    PaymentCard   PaymentMethod = "card"
    PaymentUPI    PaymentMethod = "upi"
    PaymentWallet PaymentMethod = "wallet"
)

// ParsePaymentMethod normalizes s and rejects unknown values.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
    switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
    case PaymentCash, PaymentCard, PaymentUPI, PaymentWallet:
        return m, nil
    default:
        return "", fmt.Errorf("unknown payment method %q", s)
    }
}

// InitialStatus is the status a payment is created with.  Cash is
// collected on site, every other method is settled up front.
func (m PaymentMethod) InitialStatus() PaymentStatus {
    switch m {
    case PaymentCash:
        return PaymentPending
    case PaymentCard, PaymentUPI, PaymentWallet:
        return PaymentCompleted
    }
    return PaymentPending
}

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
    PaymentPending   PaymentStatus = "pending"
    PaymentCompleted PaymentStatus = "completed"
    PaymentFailed    PaymentStatus = "failed"
)

// ParsePaymentStatus normalizes s and rejects unknown values.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
    switch st := PaymentStatus(strings.ToLower(strings.TrimSpace(s))); st {
    case PaymentPending, PaymentCompleted, PaymentFailed:
        return st, nil
    default:
        return "", fmt.Errorf("unknown payment status %q", s)
    }
}

// CanTransitionTo reports whether s -> next is a legal payment transition.
// Only pending payments may settle.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
    switch s {
    case PaymentPending:
        return next == PaymentCompleted || next == PaymentFailed
    case PaymentCompleted, PaymentFailed:
        return false
    }
    return false
}

// Role is the kind of account a user holds.
type Role string

const (
    RoleUser   Role = "user"
    RoleVendor Role = "vendor"
)

// ParseRole normalizes s; empty input defaults to RoleUser.
func ParseRole(s string) (Role, error) {
    switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
    case "":
        return RoleUser, nil
    case RoleUser, RoleVendor:
        return r, nil
    default:
        return "", fmt.Errorf("unknown role %q", s)
    }
}
