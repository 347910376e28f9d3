package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// AuditReport compares a lot's counter with its active bookings.
type AuditReport struct {
	ParkingLotID    string `json:"parking_lot_id"`
	TotalSpaces     int    `json:"total_spaces"`
	AvailableSpaces int    `json:"available_spaces"`
	ActiveBookings  int    `json:"active_bookings"`
	Expected        int    `json:"expected_available"`
	Consistent      bool   `json:"consistent"`
}

func countActive(ctx context.Context, r docstore.Reader, lotID string) (int, error) {
	var active []model.Booking
	err := r.Query(ctx, repository.CollBookings, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("parkingLotId", docstore.Eq, lotID),
			docstore.Where("status", docstore.Eq, model.BookingActive),
		},
	}, &active)
	return len(active), storeErr("count active bookings", err)
}

func report(lot model.ParkingLot, active int) *AuditReport {
	expected := lot.TotalSpaces - active
	return &AuditReport{
		ParkingLotID:    lot.ID,
		TotalSpaces:     lot.TotalSpaces,
		AvailableSpaces: lot.AvailableSpaces,
		ActiveBookings:  active,
		Expected:        expected,
		Consistent: lot.AvailableSpaces == expected &&
			lot.AvailableSpaces >= 0 && lot.AvailableSpaces <= lot.TotalSpaces,
	}
}

// Audit reports whether a lot's availableSpaces matches its active
// bookings.  Without transactions the two reads are not atomic, so a
// report taken while requests are in flight may be off by those requests.
func (l *Ledger) Audit(ctx context.Context, lotID string) (*AuditReport, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var rep *AuditReport
	audit := func(ctx context.Context, r docstore.Reader) error {
		lot, err := getLot(ctx, r, lotID)
		if err != nil {
			return err
		}
		active, err := countActive(ctx, r, lotID)
		if err != nil {
			return err
		}
		rep = report(lot, active)
		return nil
	}
	var err error
	if l.txs != nil {
		err = l.txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error { return audit(ctx, tx) })
	} else {
		err = audit(ctx, l.store)
	}
	if err != nil {
		return nil, storeErr("audit", err)
	}
	if !rep.Consistent {
		l.log.Warnj(log.JSON{"op": "audit", "lot": lotID, "available": rep.AvailableSpaces,
			"expected": rep.Expected, "active": rep.ActiveBookings})
	}
	return rep, nil
}

// Reconcile rewrites availableSpaces from the active bookings.  It needs
// a transaction: a reserve landing between the count and the write would
// otherwise be lost.
func (l *Ledger) Reconcile(ctx context.Context, lotID string) (*AuditReport, error) {
	if l.txs == nil {
		return nil, ErrNeedsTransactions
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var (
		before *AuditReport
		lot    model.ParkingLot
	)
	err := l.txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var err error
		if lot, err = getLot(ctx, tx, lotID); err != nil {
			return err
		}
		active, err := countActive(ctx, tx, lotID)
		if err != nil {
			return err
		}
		before = report(lot, active)
		if before.Consistent {
			return nil
		}
		if before.Expected < 0 {
			return invalid("lot %s has %d active bookings for %d spaces", lotID, active, lot.TotalSpaces)
		}
		lot.AvailableSpaces = before.Expected
		return storeErr("write capacity", tx.Update(ctx, repository.CollLots, lotID,
			map[string]any{"availableSpaces": before.Expected}))
	})
	if err != nil {
		return nil, storeErr("reconcile", err)
	}
	if before.Consistent {
		return before, nil
	}
	l.log.Warnj(log.JSON{"op": "reconcile", "lot": lotID, "from": before.AvailableSpaces, "to": before.Expected})
	l.emitCapacity(lot)
	return report(lot, before.ActiveBookings), nil
}

// Resize sets a lot's totalSpaces.  The new total must be positive and
// cover the bookings currently active; availableSpaces becomes the
// difference.
//
// With transactions the active bookings are counted.  Without, the count
// is derived from the counter itself and the write is a compare-and-set
// on both fields, retried while concurrent bookings move the counter.
func (l *Ledger) Resize(ctx context.Context, lotID string, newTotal int) (*model.ParkingLot, error) {
	if newTotal <= 0 {
		return nil, invalid("totalSpaces must be > 0")
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var (
		lot model.ParkingLot
		err error
	)
	if l.txs != nil {
		lot, err = l.resizeTx(ctx, lotID, newTotal)
	} else {
		lot, err = l.resizeCAS(ctx, lotID, newTotal)
	}
	if err != nil {
		return nil, storeErr("resize", err)
	}
	l.log.Infoj(log.JSON{"op": "resize", "lot": lotID, "total": lot.TotalSpaces, "available": lot.AvailableSpaces})
	l.emitCapacity(lot)
	return &lot, nil
}

func resized(lot model.ParkingLot, active, newTotal int) (model.ParkingLot, error) {
	if newTotal < active {
		return lot, invalid("totalSpaces %d is below the %d active bookings", newTotal, active)
	}
	lot.TotalSpaces = newTotal
	lot.AvailableSpaces = newTotal - active
	return lot, nil
}

func (l *Ledger) resizeTx(ctx context.Context, lotID string, newTotal int) (model.ParkingLot, error) {
	var lot model.ParkingLot
	err := l.txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cur, err := getLot(ctx, tx, lotID)
		if err != nil {
			return err
		}
		active, err := countActive(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if lot, err = resized(cur, active, newTotal); err != nil {
			return err
		}
		return storeErr("write capacity", tx.Update(ctx, repository.CollLots, lotID, map[string]any{
			"totalSpaces":     lot.TotalSpaces,
			"availableSpaces": lot.AvailableSpaces,
		}))
	})
	return lot, err
}

const resizeAttempts = 8

func (l *Ledger) resizeCAS(ctx context.Context, lotID string, newTotal int) (model.ParkingLot, error) {
	for attempt := 1; ; attempt++ {
		cur, err := getLot(ctx, l.store, lotID)
		if err != nil {
			return cur, err
		}
		lot, err := resized(cur, cur.TotalSpaces-cur.AvailableSpaces, newTotal)
		if err != nil {
			return cur, err
		}
		err = l.store.Update(ctx, repository.CollLots, lotID, map[string]any{
			"totalSpaces":     lot.TotalSpaces,
			"availableSpaces": lot.AvailableSpaces,
		},
			docstore.Where("totalSpaces", docstore.Eq, cur.TotalSpaces),
			docstore.Where("availableSpaces", docstore.Eq, cur.AvailableSpaces))
		if err == nil {
			return lot, nil
		}
		if !errors.Is(err, docstore.ErrConditionFailed) || attempt >= resizeAttempts {
			return cur, storeErr("write capacity", err)
		}
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}

func (l *Ledger) emitCapacity(lot model.ParkingLot) {
	l.emit(queue.BookingEvent{
		Type:            queue.EventLotCapacity,
		ParkingLotID:    lot.ID,
		LotName:         lot.Name,
		AvailableSpaces: lot.AvailableSpaces,
		TotalSpaces:     lot.TotalSpaces,
		OccurredAt:      l.now().Format(time.RFC3339),
	})
}
