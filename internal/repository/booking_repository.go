package repository

import (
	"context"
	"fmt"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// BookingRepo is the read side of bookings.  Bookings are created and
// closed by the ledger.
type BookingRepo struct {
	store docstore.Store
}

func NewBookingRepo(s docstore.Store) *BookingRepo { return &BookingRepo{store: s} }

// Get fetches a booking by id.
func (r *BookingRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := r.store.Get(ctx, CollBookings, id, &b); err != nil {
		return nil, fmt.Errorf("booking %s: %w", id, err)
	}
	return &b, nil
}

// GetOwned fetches a booking and checks it belongs to userID.
func (r *BookingRepo) GetOwned(ctx context.Context, id, userID string) (*model.Booking, error) {
	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	return b, nil
}

// ListByUser returns the user's bookings, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.Booking, error) {
	return r.list(ctx, docstore.Where("userId", docstore.Eq, userID), limit)
}

// ListByLot returns the bookings of a lot, newest first.
func (r *BookingRepo) ListByLot(ctx context.Context, lotID string, limit int) ([]model.Booking, error) {
	return r.list(ctx, docstore.Where("parkingLotId", docstore.Eq, lotID), limit)
}

func (r *BookingRepo) list(ctx context.Context, f docstore.Filter, limit int) ([]model.Booking, error) {
	var out []model.Booking
	err := r.store.Query(ctx, CollBookings, docstore.Query{
		Filters: []docstore.Filter{f},
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   limit,
	}, &out)
	return out, err
}

// ActiveForUser returns the user's most recent active booking or
// ErrNotFound.
func (r *BookingRepo) ActiveForUser(ctx context.Context, userID string) (*model.Booking, error) {
	var out []model.Booking
	err := r.store.Query(ctx, CollBookings, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.Eq, userID),
			docstore.Where("status", docstore.Eq, model.BookingActive),
		},
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   1,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("active booking: %w", ErrNotFound)
	}
	return &out[0], nil
}
