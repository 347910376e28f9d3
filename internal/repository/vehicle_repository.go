package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// VehicleRepo manages a user's vehicles.  At most one vehicle per user is
// active; the active one is used when a booking names no vehicle.
type VehicleRepo struct {
	store docstore.Store
}

func NewVehicleRepo(s docstore.Store) *VehicleRepo { return &VehicleRepo{store: s} }

// NormalizePlate upper-cases a registration number and drops spaces.
func NormalizePlate(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// Register stores v for its user.  The user's first vehicle becomes
// the active one.
func (r *VehicleRepo) Register(ctx context.Context, v *model.Vehicle) error {
	v.VehicleNumber = NormalizePlate(v.VehicleNumber)
	v.Model = strings.TrimSpace(v.Model)
	if v.UserID == "" || v.VehicleNumber == "" || v.Model == "" {
		return fmt.Errorf("%w: vehicleNumber and model are required", ErrInvalid)
	}
	var dup []model.Vehicle
	err := r.store.Query(ctx, CollVehicles, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.Eq, v.UserID),
			docstore.Where("vehicleNumber", docstore.Eq, v.VehicleNumber),
		},
		Limit: 1,
	}, &dup)
	if err != nil {
		return err
	}
	if len(dup) > 0 {
		return fmt.Errorf("%w: vehicle %s already registered", ErrConflict, v.VehicleNumber)
	}

	v.IsActive = false
	v.CreatedAt = model.Now()
	id, err := r.store.Insert(ctx, CollVehicles, v)
	if err != nil {
		return err
	}
	v.ID = id

	if _, err := r.Active(ctx, v.UserID); errors.Is(err, ErrNotFound) {
		if err := r.SetActive(ctx, v.UserID, id); err != nil {
			return err
		}
		v.IsActive = true
	} else if err != nil {
		return err
	}
	return nil
}

// Get fetches a vehicle by id.
func (r *VehicleRepo) Get(ctx context.Context, id string) (*model.Vehicle, error) {
	var v model.Vehicle
	if err := r.store.Get(ctx, CollVehicles, id, &v); err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", id, err)
	}
	return &v, nil
}

// ListByUser returns a user's vehicles, newest first.
func (r *VehicleRepo) ListByUser(ctx context.Context, userID string) ([]model.Vehicle, error) {
	var out []model.Vehicle
	err := r.store.Query(ctx, CollVehicles, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("userId", docstore.Eq, userID)},
		OrderBy: "createdAt",
		Desc:    true,
	}, &out)
	return out, err
}

// Active returns the user's active vehicle or ErrNotFound.
func (r *VehicleRepo) Active(ctx context.Context, userID string) (*model.Vehicle, error) {
	var out []model.Vehicle
	err := r.store.Query(ctx, CollVehicles, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.Eq, userID),
			docstore.Where("isActive", docstore.Eq, true),
		},
		Limit: 1,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("active vehicle: %w", ErrNotFound)
	}
	return &out[0], nil
}

// SetActive makes vehicleID the user's only active vehicle.  With a
// transactional store the switch is atomic.  Otherwise the target is
// activated before the others are deactivated, so a failure in between
// leaves two active vehicles rather than none; the next SetActive
// repairs it.
func (r *VehicleRepo) SetActive(ctx context.Context, userID, vehicleID string) error {
	v, err := r.Get(ctx, vehicleID)
	if err != nil {
		return err
	}
	if v.UserID != userID {
		return ErrForbidden
	}

	if txs, ok := r.store.(docstore.Transactional); ok {
		return txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return switchActive(ctx, tx, userID, vehicleID)
		})
	}
	return switchActive(ctx, r.store, userID, vehicleID)
}

func switchActive(ctx context.Context, rw docstore.Tx, userID, vehicleID string) error {
	if err := rw.Update(ctx, CollVehicles, vehicleID, map[string]any{"isActive": true},
		docstore.Where("userId", docstore.Eq, userID)); err != nil {
		return fmt.Errorf("activate vehicle %s: %w", vehicleID, err)
	}
	var others []model.Vehicle
	err := rw.Query(ctx, CollVehicles, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.Eq, userID),
			docstore.Where("isActive", docstore.Eq, true),
		},
	}, &others)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.ID == vehicleID {
			continue
		}
		if err := rw.Update(ctx, CollVehicles, o.ID, map[string]any{"isActive": false}); err != nil {
			log.Warnf("vehicles: deactivate %s for user %s: %v", o.ID, userID, err)
			return err
		}
	}
	return nil
}
