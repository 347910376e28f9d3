// Package ledger owns the capacity counter of parking lots.  Reserving a
// space decrements availableSpaces and creates the booking and its payment;
// closing a booking gives the space back.  Every path keeps
//
//	0 <= availableSpaces <= totalSpaces
//	availableSpaces == totalSpaces - active bookings
//
// when no request is in flight.  availableSpaces is only ever changed
// through a guarded increment or inside a transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Config tunes a Ledger.  Zero values pick the defaults.
type Config struct {
	// Timeout bounds one Reserve or Close, store round trips included.
	Timeout time.Duration
	// AmountPolicy and AmountTolerance control close-time pricing.
	AmountPolicy    AmountPolicy
	AmountTolerance float64
	// CompensationAttempts and CompensationBackoff control how hard a
	// failed reserve tries to give its space back.
	CompensationAttempts int
	CompensationBackoff  time.Duration
	// EventBuffer is how many events may wait for each sink before new
	// ones are dropped.
	EventBuffer int
	// Logger receives JSON decision lines.  Defaults to a "ledger" logger.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.AmountPolicy == "" {
		c.AmountPolicy = PolicyTrust
	}
	if c.AmountTolerance < 0 {
		c.AmountTolerance = 0
	}
	if c.CompensationAttempts <= 0 {
		c.CompensationAttempts = 4
	}
	if c.CompensationBackoff <= 0 {
		c.CompensationBackoff = 50 * time.Millisecond
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = log.New("ledger")
	}
	return c
}

// Ledger performs reserve, close and capacity maintenance against a
// document store.  It uses transactions when the store offers them and
// conditional writes with compensation otherwise.
type Ledger struct {
	store docstore.Store
	txs   docstore.Transactional
	cfg   Config
	log   *log.Logger
	out   *outbox
	now   func() time.Time
}

// New returns a Ledger over store.  Events are sent to sinks after each
// successful reserve and close, in the order they happened.  Call Stop to
// flush them on shutdown.
func New(store docstore.Store, cfg Config, sinks ...queue.Sink) *Ledger {
	cfg = cfg.withDefaults()
	l := &Ledger{
		store: store,
		cfg:   cfg,
		log:   cfg.Logger,
		out:   newOutbox(cfg.Logger, cfg.EventBuffer, sinks),
		now:   model.Now,
	}
	if txs, ok := store.(docstore.Transactional); ok {
		l.txs = txs
	}
	return l
}

// Stop delivers the events already emitted and stops the sink workers.
// Events emitted afterwards are dropped.
func (l *Ledger) Stop() { l.out.stop() }

// Transactional reports which reserve/close path is in use.
func (l *Ledger) Transactional() bool { return l.txs != nil }

// ReserveRequest asks for one space of a lot.
type ReserveRequest struct {
	UserID        string
	VehicleID     string
	ParkingLotID  string
	PlannedHours  float64
	PaymentMethod model.PaymentMethod
}

func (r ReserveRequest) validate() error {
	switch {
	case r.UserID == "":
		return invalid("userId is required")
	case r.VehicleID == "":
		return invalid("vehicleId is required")
	case r.ParkingLotID == "":
		return invalid("parkingLotId is required")
	case !finite(r.PlannedHours) || r.PlannedHours <= 0:
		return invalid("plannedHours must be > 0")
	}
	if _, err := model.ParsePaymentMethod(string(r.PaymentMethod)); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// Reservation is a committed booking and its payment.
type Reservation struct {
	Booking model.Booking
	Payment model.Payment
}

// CloseRequest ends an active booking.
type CloseRequest struct {
	BookingID   string
	Outcome     model.BookingStatus
	ActualHours null.Float
	TotalAmount null.Float
}

func (r CloseRequest) validate() error {
	if r.BookingID == "" {
		return invalid("bookingId is required")
	}
	if !model.BookingActive.CanTransitionTo(r.Outcome) {
		return invalid("outcome must be completed or cancelled")
	}
	if r.ActualHours.Valid && (!finite(r.ActualHours.Float64) || r.ActualHours.Float64 < 0) {
		return invalid("actualHours must be >= 0")
	}
	if r.TotalAmount.Valid && (!finite(r.TotalAmount.Float64) || r.TotalAmount.Float64 < 0) {
		return invalid("totalAmount must be >= 0")
	}
	return nil
}

// CloseResult is the booking after Close.  AlreadyClosed is set when the
// booking had been closed before and nothing was changed.
type CloseResult struct {
	Booking       model.Booking
	AlreadyClosed bool
}

// checkVehicle loads the vehicle and requires it to be the user's active one.
func checkVehicle(ctx context.Context, r docstore.Reader, req ReserveRequest) error {
	var v model.Vehicle
	err := r.Get(ctx, repository.CollVehicles, req.VehicleID, &v)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: vehicle %s not found", ErrInvalidVehicle, req.VehicleID)
	}
	if err != nil {
		return storeErr("read vehicle", err)
	}
	if v.UserID != req.UserID || !v.IsActive {
		return ErrInvalidVehicle
	}
	return nil
}

func getLot(ctx context.Context, r docstore.Reader, id string) (model.ParkingLot, error) {
	var lot model.ParkingLot
	err := r.Get(ctx, repository.CollLots, id, &lot)
	if errors.Is(err, docstore.ErrNotFound) {
		return lot, ErrLotNotFound
	}
	return lot, storeErr("read parking lot", err)
}

func getBooking(ctx context.Context, r docstore.Reader, id string) (model.Booking, error) {
	var b model.Booking
	err := r.Get(ctx, repository.CollBookings, id, &b)
	if errors.Is(err, docstore.ErrNotFound) {
		return b, ErrBookingNotFound
	}
	return b, storeErr("read booking", err)
}

func (l *Ledger) newRecords(req ReserveRequest, lot model.ParkingLot) (model.Booking, model.Payment, error) {
	amount := ReserveAmount(req.PlannedHours, lot.HourlyCharge)
	if amount <= 0 {
		return model.Booking{}, model.Payment{}, invalid("amount must be > 0, lot %s has no hourly charge", lot.ID)
	}
	now := l.now()
	b := model.Booking{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		VehicleID:    req.VehicleID,
		ParkingLotID: req.ParkingLotID,
		StartTime:    now,
		PlannedHours: req.PlannedHours,
		Status:       model.BookingActive,
		CreatedAt:    now,
	}
	p := model.Payment{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		UserID:    req.UserID,
		Amount:    amount,
		Method:    req.PaymentMethod,
		Status:    req.PaymentMethod.InitialStatus(),
		CreatedAt: now,
	}
	return b, p, nil
}

var decrement = docstore.Increment{Field: "availableSpaces", Delta: -1, Min: docstore.AtLeast(0)}
var release = docstore.Increment{Field: "availableSpaces", Delta: 1, MaxField: "totalSpaces"}

// Reserve takes one space of a lot and records the booking and its
// payment.  On ErrCapacityExceeded nothing is written.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if m, err := model.ParsePaymentMethod(string(req.PaymentMethod)); err == nil {
		req.PaymentMethod = m
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var (
		res       *Reservation
		lot       model.ParkingLot
		available int64
		err       error
	)
	if l.txs != nil {
		res, lot, available, err = l.reserveTx(ctx, req)
	} else {
		res, lot, available, err = l.reserveCompensating(ctx, req)
	}
	if err != nil {
		l.log.Infoj(log.JSON{"op": "reserve", "lot": req.ParkingLotID, "user": req.UserID, "result": err.Error()})
		return nil, err
	}

	l.log.Infoj(log.JSON{"op": "reserve", "lot": lot.ID, "booking": res.Booking.ID, "payment": res.Payment.ID,
		"available": available, "total": lot.TotalSpaces})
	l.emit(queue.BookingEvent{
		Type:            queue.EventBookingReserved,
		BookingID:       res.Booking.ID,
		UserID:          res.Booking.UserID,
		VehicleID:       res.Booking.VehicleID,
		ParkingLotID:    lot.ID,
		LotName:         lot.Name,
		Status:          string(res.Booking.Status),
		PlannedHours:    res.Booking.PlannedHours,
		Amount:          res.Payment.Amount,
		PaymentMethod:   string(res.Payment.Method),
		AvailableSpaces: int(available),
		TotalSpaces:     lot.TotalSpaces,
		OccurredAt:      res.Booking.CreatedAt.Format(time.RFC3339),
	})
	return res, nil
}

func (l *Ledger) reserveTx(ctx context.Context, req ReserveRequest) (*Reservation, model.ParkingLot, int64, error) {
	var (
		res       *Reservation
		lot       model.ParkingLot
		available int64
	)
	err := l.txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := checkVehicle(ctx, tx, req); err != nil {
			return err
		}
		var err error
		if lot, err = getLot(ctx, tx, req.ParkingLotID); err != nil {
			return err
		}
		if !lot.IsActive {
			return ErrLotInactive
		}
		if lot.AvailableSpaces <= 0 {
			return ErrCapacityExceeded
		}
		b, p, err := l.newRecords(req, lot)
		if err != nil {
			return err
		}
		available, err = tx.Increment(ctx, repository.CollLots, lot.ID, decrement)
		if errors.Is(err, docstore.ErrConditionFailed) {
			return ErrCapacityExceeded
		}
		if err != nil {
			return storeErr("decrement capacity", err)
		}
		if err := tx.Create(ctx, repository.CollBookings, b.ID, b); err != nil {
			return storeErr("insert booking", err)
		}
		if err := tx.Create(ctx, repository.CollPayments, p.ID, p); err != nil {
			return storeErr("insert payment", err)
		}
		res = &Reservation{Booking: b, Payment: p}
		return nil
	})
	if err != nil {
		return nil, lot, 0, storeErr("reserve", err)
	}
	return res, lot, available, nil
}

func (l *Ledger) reserveCompensating(ctx context.Context, req ReserveRequest) (*Reservation, model.ParkingLot, int64, error) {
	if err := checkVehicle(ctx, l.store, req); err != nil {
		return nil, model.ParkingLot{}, 0, err
	}
	lot, err := getLot(ctx, l.store, req.ParkingLotID)
	if err != nil {
		return nil, lot, 0, err
	}
	if !lot.IsActive {
		return nil, lot, 0, ErrLotInactive
	}
	b, p, err := l.newRecords(req, lot)
	if err != nil {
		return nil, lot, 0, err
	}

	available, err := l.store.Increment(ctx, repository.CollLots, lot.ID, decrement)
	switch {
	case errors.Is(err, docstore.ErrConditionFailed):
		return nil, lot, 0, ErrCapacityExceeded
	case errors.Is(err, docstore.ErrNotFound):
		return nil, lot, 0, ErrLotNotFound
	case err != nil:
		return nil, lot, 0, storeErr("decrement capacity", err)
	}

	if err := l.store.Create(ctx, repository.CollBookings, b.ID, b); err != nil && !l.landed(ctx, repository.CollBookings, b.ID) {
		return nil, lot, 0, l.compensate(ctx, lot.ID, "insert booking", err)
	}
	if err := l.store.Create(ctx, repository.CollPayments, p.ID, p); err != nil && !l.landed(ctx, repository.CollPayments, p.ID) {
		return nil, lot, 0, l.abandonBooking(ctx, lot.ID, b.ID, err)
	}
	return &Reservation{Booking: b, Payment: p}, lot, available, nil
}

// abandonBooking cancels a booking whose payment could not be stored and
// gives its space back.  If the cancel fails the booking stays active
// and keeps the space, so capacity remains consistent.
func (l *Ledger) abandonBooking(ctx context.Context, lotID, bookingID string, cause error) error {
	wctx, cancel := l.detached(ctx)
	defer cancel()
	err := l.store.Update(wctx, repository.CollBookings, bookingID, map[string]any{
		"status":  model.BookingCancelled,
		"endTime": null.TimeFrom(l.now()),
	}, docstore.Where("status", docstore.Eq, model.BookingActive))
	if err != nil {
		l.log.Errorj(log.JSON{"op": "reserve", "lot": lotID, "booking": bookingID,
			"result": "booking without payment", "error": err.Error()})
		return fmt.Errorf("%w: booking %s has no payment: %w", ErrPartialFailure, bookingID, cause)
	}
	return l.compensate(ctx, lotID, "insert payment", cause)
}

// compensate returns a space taken by a reserve that could not finish.
// The request context may already be done, so the retries run on a
// detached context with their own deadline.
func (l *Ledger) compensate(ctx context.Context, lotID, step string, cause error) error {
	_, attempts, err := l.releaseWithRetry(ctx, lotID)
	if err == nil {
		l.log.Warnj(log.JSON{"op": "compensate", "lot": lotID, "step": step, "attempts": attempts,
			"cause": cause.Error()})
		return storeErr(step, cause)
	}
	l.log.Errorj(log.JSON{"op": "compensate", "lot": lotID, "step": step, "result": "failed",
		"cause": cause.Error(), "error": err.Error()})
	return fmt.Errorf("%w: %s failed and capacity of lot %s was not restored: %w", ErrPartialFailure, step, lotID, cause)
}

// landed reports whether a create that returned an error was applied
// anyway, as happens when the deadline hits after the store committed.
func (l *Ledger) landed(ctx context.Context, coll, id string) bool {
	wctx, cancel := l.detached(ctx)
	defer cancel()
	var doc map[string]any
	return l.store.Get(wctx, coll, id, &doc) == nil
}

func (l *Ledger) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.cfg.Timeout)
}

// Close moves an active booking to req.Outcome and releases its space.
// Closing a closed booking succeeds without touching capacity.
func (l *Ledger) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	if s, err := model.ParseBookingStatus(string(req.Outcome)); err == nil {
		req.Outcome = s
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var (
		res       *CloseResult
		lot       model.ParkingLot
		available int64
		err       error
	)
	if l.txs != nil {
		res, lot, available, err = l.closeTx(ctx, req)
	} else {
		res, lot, available, err = l.closeCompensating(ctx, req)
	}
	if err != nil {
		l.log.Infoj(log.JSON{"op": "close", "booking": req.BookingID, "result": err.Error()})
		return nil, err
	}
	if res.AlreadyClosed {
		l.log.Infoj(log.JSON{"op": "close", "booking": req.BookingID, "result": "already closed"})
		return res, nil
	}

	b := res.Booking
	l.log.Infoj(log.JSON{"op": "close", "lot": lot.ID, "booking": b.ID, "status": b.Status,
		"available": available, "total": lot.TotalSpaces})
	ev := queue.BookingEvent{
		Type:            queue.EventBookingClosed,
		BookingID:       b.ID,
		UserID:          b.UserID,
		VehicleID:       b.VehicleID,
		ParkingLotID:    lot.ID,
		LotName:         lot.Name,
		Status:          string(b.Status),
		PlannedHours:    b.PlannedHours,
		Amount:          b.TotalAmount.Float64,
		AvailableSpaces: int(available),
		TotalSpaces:     lot.TotalSpaces,
		OccurredAt:      b.EndTime.Time.Format(time.RFC3339),
	}
	if b.ActualHours.Valid {
		h := b.ActualHours.Float64
		ev.ActualHours = &h
	}
	l.emit(ev)
	return res, nil
}

func (l *Ledger) closedFields(b *model.Booking, outcome model.BookingStatus, actual, total null.Float) map[string]any {
	b.Status = outcome
	b.EndTime = null.TimeFrom(l.now())
	b.ActualHours = actual
	b.TotalAmount = total
	return map[string]any{
		"status":      b.Status,
		"endTime":     b.EndTime,
		"actualHours": b.ActualHours,
		"totalAmount": b.TotalAmount,
	}
}

func (l *Ledger) closeTx(ctx context.Context, req CloseRequest) (*CloseResult, model.ParkingLot, int64, error) {
	var (
		res       *CloseResult
		lot       model.ParkingLot
		available int64
	)
	err := l.txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		b, err := getBooking(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			res = &CloseResult{Booking: b, AlreadyClosed: true}
			return nil
		}
		if lot, err = getLot(ctx, tx, b.ParkingLotID); err != nil {
			return err
		}
		actual, total, err := l.settle(b, lot, req, l.now())
		if err != nil {
			return err
		}
		set := l.closedFields(&b, req.Outcome, actual, total)
		if err := tx.Update(ctx, repository.CollBookings, b.ID, set,
			docstore.Where("status", docstore.Eq, model.BookingActive)); err != nil {
			return storeErr("update booking", err)
		}
		if available, err = tx.Increment(ctx, repository.CollLots, lot.ID, release); err != nil {
			return storeErr("release capacity", err)
		}
		res = &CloseResult{Booking: b}
		return nil
	})
	if err != nil {
		return nil, lot, 0, storeErr("close", err)
	}
	return res, lot, available, nil
}

func (l *Ledger) closeCompensating(ctx context.Context, req CloseRequest) (*CloseResult, model.ParkingLot, int64, error) {
	b, err := getBooking(ctx, l.store, req.BookingID)
	if err != nil {
		return nil, model.ParkingLot{}, 0, err
	}
	if !b.IsActive() {
		return &CloseResult{Booking: b, AlreadyClosed: true}, model.ParkingLot{}, 0, nil
	}
	lot, err := getLot(ctx, l.store, b.ParkingLotID)
	if err != nil {
		return nil, lot, 0, err
	}
	actual, total, err := l.settle(b, lot, req, l.now())
	if err != nil {
		return nil, lot, 0, err
	}

	// The status guard makes this the single point where a booking is
	// closed; a concurrent close loses here and touches nothing.
	set := l.closedFields(&b, req.Outcome, actual, total)
	err = l.store.Update(ctx, repository.CollBookings, b.ID, set,
		docstore.Where("status", docstore.Eq, model.BookingActive))
	if errors.Is(err, docstore.ErrConditionFailed) {
		current, gerr := getBooking(ctx, l.store, b.ID)
		if gerr != nil {
			return nil, lot, 0, gerr
		}
		return &CloseResult{Booking: current, AlreadyClosed: true}, lot, 0, nil
	}
	if err != nil && !l.closeLanded(ctx, b) {
		return nil, lot, 0, storeErr("update booking", err)
	}

	available, _, err := l.releaseWithRetry(ctx, lot.ID)
	if err != nil {
		if rerr := l.reopen(ctx, b); rerr != nil {
			l.log.Errorj(log.JSON{"op": "close", "lot": lot.ID, "booking": b.ID, "result": "capacity not released",
				"error": err.Error(), "reopen_error": rerr.Error()})
			return nil, lot, 0, fmt.Errorf("%w: booking %s closed but lot %s capacity not released: %w",
				ErrPartialFailure, b.ID, lot.ID, err)
		}
		l.log.Warnj(log.JSON{"op": "close", "lot": lot.ID, "booking": b.ID, "result": "reopened",
			"error": err.Error()})
		return nil, lot, 0, storeErr("release capacity", err)
	}
	return &CloseResult{Booking: b}, lot, available, nil
}

// reopen puts a booking whose space could not be released back to active,
// so the next close of it releases again.  It only matches the close
// written by this call.
func (l *Ledger) reopen(ctx context.Context, b model.Booking) error {
	wctx, cancel := l.detached(ctx)
	defer cancel()
	return l.store.Update(wctx, repository.CollBookings, b.ID, map[string]any{
		"status":      model.BookingActive,
		"endTime":     null.Time{},
		"actualHours": null.Float{},
		"totalAmount": null.Float{},
	},
		docstore.Where("status", docstore.Eq, b.Status),
		docstore.Where("endTime", docstore.Eq, b.EndTime),
	)
}

// closeLanded reports whether the close of b was stored despite an error.
func (l *Ledger) closeLanded(ctx context.Context, b model.Booking) bool {
	wctx, cancel := l.detached(ctx)
	defer cancel()
	current, err := getBooking(wctx, l.store, b.ID)
	return err == nil && current.Status == b.Status && current.EndTime.Time.Equal(b.EndTime.Time)
}

// releaseWithRetry gives one space back, retrying with exponential
// backoff on a detached context.  It returns the new availableSpaces and
// the number of attempts used.
func (l *Ledger) releaseWithRetry(ctx context.Context, lotID string) (int64, int, error) {
	wctx, cancel := l.detached(ctx)
	defer cancel()
	backoff := l.cfg.CompensationBackoff
	for attempt := 1; ; attempt++ {
		n, err := l.store.Increment(wctx, repository.CollLots, lotID, release)
		if err == nil {
			return n, attempt, nil
		}
		if attempt >= l.cfg.CompensationAttempts {
			return 0, attempt, err
		}
		select {
		case <-wctx.Done():
			return 0, attempt, err
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
