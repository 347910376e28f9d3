package repository

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// PaymentRepo reads payments and applies settlement updates.
type PaymentRepo struct {
	store docstore.Store
}

func NewPaymentRepo(s docstore.Store) *PaymentRepo { return &PaymentRepo{store: s} }

// Get fetches a payment by id.
func (r *PaymentRepo) Get(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	if err := r.store.Get(ctx, CollPayments, id, &p); err != nil {
		return nil, fmt.Errorf("payment %s: %w", id, err)
	}
	return &p, nil
}

// ByBooking returns the payment of a booking.
func (r *PaymentRepo) ByBooking(ctx context.Context, bookingID string) (*model.Payment, error) {
	var out []model.Payment
	err := r.store.Query(ctx, CollPayments, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("bookingId", docstore.Eq, bookingID)},
		Limit:   1,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("payment for booking %s: %w", bookingID, ErrNotFound)
	}
	return &out[0], nil
}

// ListByUser returns the user's payments, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.Payment, error) {
	var out []model.Payment
	err := r.store.Query(ctx, CollPayments, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("userId", docstore.Eq, userID)},
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   limit,
	}, &out)
	return out, err
}

// Settle moves a pending payment to next on behalf of the vendor owning
// the booked lot.  transactionID is recorded when given.
func (r *PaymentRepo) Settle(ctx context.Context, paymentID, vendorID string, next model.PaymentStatus, transactionID string) (*model.Payment, error) {
	p, err := r.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	var b model.Booking
	if err := r.store.Get(ctx, CollBookings, p.BookingID, &b); err != nil {
		return nil, fmt.Errorf("booking %s: %w", p.BookingID, err)
	}
	var l model.ParkingLot
	if err := r.store.Get(ctx, CollLots, b.ParkingLotID, &l); err != nil {
		return nil, fmt.Errorf("parking lot %s: %w", b.ParkingLotID, err)
	}
	if l.VendorID != vendorID {
		return nil, ErrForbidden
	}
	if !p.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: payment is %s", ErrConflict, p.Status)
	}

	set := map[string]any{"status": next}
	if transactionID != "" {
		set["transactionId"] = null.StringFrom(transactionID)
	}
	err = r.store.Update(ctx, CollPayments, paymentID, set,
		docstore.Where("status", docstore.Eq, model.PaymentPending))
	if errors.Is(err, docstore.ErrConditionFailed) {
		return nil, fmt.Errorf("%w: payment already settled", ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, paymentID)
}
