package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// LotRepo reads and edits parking lots.  It never writes availableSpaces
// or totalSpaces after creation; capacity changes go through the ledger.
type LotRepo struct {
	store docstore.Store
}

func NewLotRepo(s docstore.Store) *LotRepo { return &LotRepo{store: s} }

// LotPatch lists the editable fields of a lot.  Nil fields are left alone.
type LotPatch struct {
	Name         *string           `json:"name"`
	Description  *string           `json:"description"`
	Address      *string           `json:"address"`
	Location     *model.Coordinate `json:"location"`
	HourlyCharge *float64          `json:"hourlyCharge"`
	LateFee      *float64          `json:"lateFee"`
	Terms        *string           `json:"terms"`
	IsActive     *bool             `json:"isActive"`
}

func (p LotPatch) fields() (map[string]any, error) {
	set := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalid)
		}
		set["name"] = name
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Address != nil {
		set["address"] = strings.TrimSpace(*p.Address)
	}
	if p.Location != nil {
		if !p.Location.Valid() {
			return nil, fmt.Errorf("%w: location out of range", ErrInvalid)
		}
		set["location"] = *p.Location
	}
	if p.HourlyCharge != nil {
		if *p.HourlyCharge < 0 {
			return nil, fmt.Errorf("%w: hourlyCharge must be >= 0", ErrInvalid)
		}
		set["hourlyCharge"] = *p.HourlyCharge
	}
	if p.LateFee != nil {
		if *p.LateFee < 0 {
			return nil, fmt.Errorf("%w: lateFee must be >= 0", ErrInvalid)
		}
		set["lateFee"] = *p.LateFee
	}
	if p.Terms != nil {
		set["terms"] = *p.Terms
	}
	if p.IsActive != nil {
		set["isActive"] = *p.IsActive
	}
	return set, nil
}

// Create validates l, opens all of its spaces and stores it.
func (r *LotRepo) Create(ctx context.Context, l *model.ParkingLot) error {
	l.Name = strings.TrimSpace(l.Name)
	switch {
	case l.VendorID == "":
		return fmt.Errorf("%w: vendor is required", ErrInvalid)
	case l.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case l.TotalSpaces <= 0:
		return fmt.Errorf("%w: totalSpaces must be > 0", ErrInvalid)
	case l.HourlyCharge < 0 || l.LateFee < 0:
		return fmt.Errorf("%w: charges must be >= 0", ErrInvalid)
	case !l.Location.Valid():
		return fmt.Errorf("%w: location out of range", ErrInvalid)
	}
	l.AvailableSpaces = l.TotalSpaces
	l.CreatedAt = model.Now()
	id, err := r.store.Insert(ctx, CollLots, l)
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// Get fetches a lot by id.
func (r *LotRepo) Get(ctx context.Context, id string) (*model.ParkingLot, error) {
	var l model.ParkingLot
	if err := r.store.Get(ctx, CollLots, id, &l); err != nil {
		return nil, fmt.Errorf("parking lot %s: %w", id, err)
	}
	return &l, nil
}

// GetOwned fetches a lot and checks it belongs to vendorID.
func (r *LotRepo) GetOwned(ctx context.Context, id, vendorID string) (*model.ParkingLot, error) {
	l, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.VendorID != vendorID {
		return nil, ErrForbidden
	}
	return l, nil
}

// ListActive returns the lots open for booking, by name.
func (r *LotRepo) ListActive(ctx context.Context) ([]model.ParkingLot, error) {
	var out []model.ParkingLot
	err := r.store.Query(ctx, CollLots, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("isActive", docstore.Eq, true)},
		OrderBy: "name",
	}, &out)
	return out, err
}

// ListByVendor returns every lot of a vendor, newest first.
func (r *LotRepo) ListByVendor(ctx context.Context, vendorID string) ([]model.ParkingLot, error) {
	var out []model.ParkingLot
	err := r.store.Query(ctx, CollLots, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("vendorId", docstore.Eq, vendorID)},
		OrderBy: "createdAt",
		Desc:    true,
	}, &out)
	return out, err
}

// Update applies p to a lot owned by vendorID and returns the result.
func (r *LotRepo) Update(ctx context.Context, id, vendorID string, p LotPatch) (*model.ParkingLot, error) {
	set, err := p.fields()
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return r.GetOwned(ctx, id, vendorID)
	}
	err = r.store.Update(ctx, CollLots, id, set, docstore.Where("vendorId", docstore.Eq, vendorID))
	switch {
	case errors.Is(err, docstore.ErrConditionFailed):
		return nil, ErrForbidden
	case err != nil:
		return nil, fmt.Errorf("parking lot %s: %w", id, err)
	}
	return r.Get(ctx, id)
}
