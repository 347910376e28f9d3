package ledger

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type fixture struct {
	store   docstore.Store
	ledger  *Ledger
	lotID   string
	userID  string
	vehicle string
	events  chan queue.BookingEvent
}

type recordingSink chan queue.BookingEvent

func (s recordingSink) Publish(_ context.Context, ev queue.BookingEvent) error {
	s <- ev
	return nil
}

type blockingSink chan struct{}

func (s blockingSink) Publish(ctx context.Context, _ queue.BookingEvent) error {
	select {
	case <-s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quietLogger() *log.Logger {
	lg := log.New("ledger-test")
	lg.SetOutput(io.Discard)
	return lg
}

func newFixture(t *testing.T, store docstore.Store, total int, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	lot := &model.ParkingLot{
		VendorID:     "vendor-1",
		Name:         "Central",
		HourlyCharge: 30,
		LateFee:      10,
		TotalSpaces:  total,
		IsActive:     true,
	}
	require.NoError(t, repository.NewLotRepo(store).Create(ctx, lot))
	v := &model.Vehicle{UserID: "user-1", VehicleNumber: "KA01AB1234", Model: "Swift"}
	require.NoError(t, repository.NewVehicleRepo(store).Register(ctx, v))

	events := make(chan queue.BookingEvent, 64)
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	return &fixture{
		store:   store,
		ledger:  New(store, cfg, recordingSink(events)),
		lotID:   lot.ID,
		userID:  "user-1",
		vehicle: v.ID,
		events:  events,
	}
}

func (f *fixture) reserveReq(hours float64) ReserveRequest {
	return ReserveRequest{
		UserID:        f.userID,
		VehicleID:     f.vehicle,
		ParkingLotID:  f.lotID,
		PlannedHours:  hours,
		PaymentMethod: model.PaymentCard,
	}
}

func (f *fixture) lot(t *testing.T) model.ParkingLot {
	t.Helper()
	var l model.ParkingLot
	require.NoError(t, f.store.Get(context.Background(), repository.CollLots, f.lotID, &l))
	return l
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	rep, err := f.ledger.Audit(context.Background(), f.lotID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent, "audit: %+v", rep)
}

var stores = map[string]func() docstore.Store{
	"transactional": func() docstore.Store { return docstore.NewMemory() },
	"compensating":  func() docstore.Store { return docstore.WithoutTransactions(docstore.NewMemory()) },
}

func TestReserveAndClose(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 3, Config{})
			assert.Equal(t, name == "transactional", f.ledger.Transactional())

			res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
			require.NoError(t, err)
			assert.Equal(t, model.BookingActive, res.Booking.Status)
			assert.Equal(t, res.Booking.ID, res.Payment.BookingID)
			assert.Equal(t, 60.0, res.Payment.Amount)
			assert.Equal(t, model.PaymentCompleted, res.Payment.Status)
			assert.Equal(t, 2, f.lot(t).AvailableSpaces)

			var stored model.Payment
			require.NoError(t, f.store.Get(ctx, repository.CollPayments, res.Payment.ID, &stored))
			assert.Equal(t, res.Payment.Amount, stored.Amount)

			ev := <-f.events
			assert.Equal(t, queue.EventBookingReserved, ev.Type)
			assert.Equal(t, 2, ev.AvailableSpaces)
			assert.Equal(t, 3, ev.TotalSpaces)

			out, err := f.ledger.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCancelled})
			require.NoError(t, err)
			assert.False(t, out.AlreadyClosed)
			assert.Equal(t, model.BookingCancelled, out.Booking.Status)
			assert.True(t, out.Booking.EndTime.Valid)
			assert.Equal(t, 3, f.lot(t).AvailableSpaces)

			ev = <-f.events
			assert.Equal(t, queue.EventBookingClosed, ev.Type)
			assert.Equal(t, 3, ev.AvailableSpaces)
			f.assertConsistent(t)
		})
	}
}

func TestEventsKeepEmitOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, docstore.NewMemory(), 1, Config{})

	const pairs = 300
	events := make(chan queue.BookingEvent, 2*pairs)
	l := New(f.store, Config{Logger: quietLogger(), EventBuffer: 2 * pairs}, recordingSink(events))
	for i := 0; i < pairs; i++ {
		res, err := l.Reserve(ctx, f.reserveReq(1))
		require.NoError(t, err)
		_, err = l.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCancelled})
		require.NoError(t, err)
	}
	l.Stop()
	close(events)

	var got []queue.BookingEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2*pairs)
	for i := 0; i < pairs; i++ {
		reserved, closed := got[2*i], got[2*i+1]
		assert.Equal(t, queue.EventBookingReserved, reserved.Type)
		assert.Equal(t, queue.EventBookingClosed, closed.Type)
		assert.Equal(t, reserved.BookingID, closed.BookingID)
		assert.Equal(t, 0, reserved.AvailableSpaces)
		assert.Equal(t, 1, closed.AvailableSpaces)
	}

	l.emit(queue.BookingEvent{Type: queue.EventLotCapacity})
}

func TestFullEventQueueDropsWithoutBlocking(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), 3, Config{})
	block := make(chan struct{})
	l := New(f.store, Config{Logger: quietLogger(), EventBuffer: 1}, blockingSink(block))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			_, err := l.Reserve(context.Background(), f.reserveReq(1))
			assert.NoError(t, err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reserve blocked on a stalled sink")
	}
	close(block)
	l.Stop()
}

func TestCashPaymentIsPending(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), 1, Config{})
	req := f.reserveReq(1)
	req.PaymentMethod = "CASH"
	res, err := f.ledger.Reserve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCash, res.Payment.Method)
	assert.Equal(t, model.PaymentPending, res.Payment.Status)
}

func TestCloseTwiceReleasesOnce(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 2, Config{})
			res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
			require.NoError(t, err)

			req := CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCompleted, ActualHours: null.FloatFrom(1)}
			first, err := f.ledger.Close(ctx, req)
			require.NoError(t, err)
			assert.False(t, first.AlreadyClosed)

			second, err := f.ledger.Close(ctx, req)
			require.NoError(t, err)
			assert.True(t, second.AlreadyClosed)
			assert.Equal(t, model.BookingCompleted, second.Booking.Status)

			assert.Equal(t, 2, f.lot(t).AvailableSpaces)
			f.assertConsistent(t)
		})
	}
}

func TestConcurrentReservesOnLastSpace(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 1, Config{})

			const k = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				ok, full int
			)
			for i := 0; i < k; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.ledger.Reserve(ctx, f.reserveReq(1))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, ErrCapacityExceeded):
						full++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, ok)
			assert.Equal(t, k-1, full)
			assert.Equal(t, 0, f.lot(t).AvailableSpaces)
			f.assertConsistent(t)
		})
	}
}

func TestRandomSequenceKeepsInvariant(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 3, Config{})
			var open []string
			ops := []bool{true, true, true, true, false, true, false, false, true, true, false, false, false, false}
			for _, reserve := range ops {
				if reserve {
					res, err := f.ledger.Reserve(ctx, f.reserveReq(1))
					if len(open) == 3 {
						assert.ErrorIs(t, err, ErrCapacityExceeded)
					} else {
						require.NoError(t, err)
						open = append(open, res.Booking.ID)
					}
				} else if len(open) > 0 {
					_, err := f.ledger.Close(ctx, CloseRequest{BookingID: open[0], Outcome: model.BookingCancelled})
					require.NoError(t, err)
					open = open[1:]
				}
				l := f.lot(t)
				assert.GreaterOrEqual(t, l.AvailableSpaces, 0)
				assert.LessOrEqual(t, l.AvailableSpaces, l.TotalSpaces)
				assert.Equal(t, l.TotalSpaces-len(open), l.AvailableSpaces)
			}
			f.assertConsistent(t)
		})
	}
}

func TestScenarioSingleSpace(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 1, Config{})

			res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
			require.NoError(t, err)
			assert.Equal(t, 0, f.lot(t).AvailableSpaces)

			errc := make(chan error, 1)
			go func() {
				_, err := f.ledger.Reserve(ctx, f.reserveReq(2))
				errc <- err
			}()
			assert.ErrorIs(t, <-errc, ErrCapacityExceeded)

			out, err := f.ledger.Close(ctx, CloseRequest{
				BookingID:   res.Booking.ID,
				Outcome:     model.BookingCompleted,
				ActualHours: null.FloatFrom(1.5),
				TotalAmount: null.FloatFrom(45.0),
			})
			require.NoError(t, err)
			assert.Equal(t, model.BookingCompleted, out.Booking.Status)
			assert.Equal(t, 45.0, out.Booking.TotalAmount.Float64)
			assert.Equal(t, 1.5, out.Booking.ActualHours.Float64)
			assert.Equal(t, 1, f.lot(t).AvailableSpaces)

			var stored model.Booking
			require.NoError(t, f.store.Get(ctx, repository.CollBookings, res.Booking.ID, &stored))
			assert.Equal(t, model.BookingCompleted, stored.Status)
		})
	}
}

func TestScenarioClientAmountOnOtherPricing(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 1, Config{})
			require.NoError(t, f.store.Update(ctx, repository.CollLots, f.lotID, map[string]any{"hourlyCharge": 20}))

			res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
			require.NoError(t, err)
			assert.Equal(t, 40.0, res.Payment.Amount)

			out, err := f.ledger.Close(ctx, CloseRequest{
				BookingID:   res.Booking.ID,
				Outcome:     model.BookingCompleted,
				ActualHours: null.FloatFrom(1.5),
				TotalAmount: null.FloatFrom(45.0),
			})
			require.NoError(t, err)
			assert.Equal(t, 45.0, out.Booking.TotalAmount.Float64)
			assert.Equal(t, 1, f.lot(t).AvailableSpaces)

			var stored model.Booking
			require.NoError(t, f.store.Get(ctx, repository.CollBookings, res.Booking.ID, &stored))
			assert.Equal(t, 45.0, stored.TotalAmount.Float64)
			f.assertConsistent(t)
		})
	}
}

func TestReserveValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, docstore.NewMemory(), 2, Config{})

	for _, hours := range []float64{0, -1} {
		_, err := f.ledger.Reserve(ctx, f.reserveReq(hours))
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, Retryable(err))
	}
	req := f.reserveReq(1)
	req.PaymentMethod = "cheque"
	_, err := f.ledger.Reserve(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 2, f.lot(t).AvailableSpaces)
	var bookings []model.Booking
	require.NoError(t, f.store.Query(ctx, repository.CollBookings, docstore.Query{}, &bookings))
	assert.Empty(t, bookings)
}

func TestReservePreconditions(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mk(), 2, Config{})

			req := f.reserveReq(1)
			req.UserID = "someone-else"
			_, err := f.ledger.Reserve(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidVehicle)

			req = f.reserveReq(1)
			req.VehicleID = "missing"
			_, err = f.ledger.Reserve(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidVehicle)

			req = f.reserveReq(1)
			req.ParkingLotID = "missing"
			_, err = f.ledger.Reserve(ctx, req)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, f.store.Update(ctx, repository.CollLots, f.lotID, map[string]any{"isActive": false}))
			_, err = f.ledger.Reserve(ctx, f.reserveReq(1))
			assert.ErrorIs(t, err, ErrLotInactive)

			assert.Equal(t, 2, f.lot(t).AvailableSpaces)
		})
	}
}

func TestCloseUnknownBooking(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(), 2, Config{})
			_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
			require.NoError(t, err)

			_, err = f.ledger.Close(context.Background(), CloseRequest{BookingID: "nope", Outcome: model.BookingCompleted})
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, err, ErrBookingNotFound)
			assert.Equal(t, 1, f.lot(t).AvailableSpaces)
		})
	}
}

func TestCloseRejectsBadOutcome(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), 1, Config{})
	_, err := f.ledger.Close(context.Background(), CloseRequest{BookingID: "b", Outcome: model.BookingActive})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAmountPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("verify rejects mismatch", func(t *testing.T) {
		f := newFixture(t, docstore.NewMemory(), 1, Config{AmountPolicy: PolicyVerify})
		res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
		require.NoError(t, err)
		_, err = f.ledger.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCompleted,
			ActualHours: null.FloatFrom(1.5), TotalAmount: null.FloatFrom(1)})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, f.lot(t).AvailableSpaces)
	})

	t.Run("verify adds late fee", func(t *testing.T) {
		f := newFixture(t, docstore.NewMemory(), 1, Config{AmountPolicy: PolicyVerify})
		res, err := f.ledger.Reserve(ctx, f.reserveReq(1))
		require.NoError(t, err)
		out, err := f.ledger.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCompleted,
			ActualHours: null.FloatFrom(2)})
		require.NoError(t, err)
		assert.Equal(t, 70.0, out.Booking.TotalAmount.Float64)
	})

	t.Run("trust stores client amount", func(t *testing.T) {
		f := newFixture(t, docstore.NewMemory(), 1, Config{})
		res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
		require.NoError(t, err)
		out, err := f.ledger.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCompleted,
			ActualHours: null.FloatFrom(1.5), TotalAmount: null.FloatFrom(12.3)})
		require.NoError(t, err)
		assert.Equal(t, 12.3, out.Booking.TotalAmount.Float64)
	})

	t.Run("completed without hours bills elapsed time", func(t *testing.T) {
		f := newFixture(t, docstore.NewMemory(), 1, Config{})
		start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		f.ledger.now = func() time.Time { return start }
		res, err := f.ledger.Reserve(ctx, f.reserveReq(2))
		require.NoError(t, err)
		f.ledger.now = func() time.Time { return start.Add(90 * time.Minute) }
		out, err := f.ledger.Close(ctx, CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCompleted})
		require.NoError(t, err)
		assert.Equal(t, 1.5, out.Booking.ActualHours.Float64)
		assert.Equal(t, 45.0, out.Booking.TotalAmount.Float64)
	})
}

func TestFreeLotCannotBeReserved(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), 1, Config{})
	require.NoError(t, f.store.Update(context.Background(), repository.CollLots, f.lotID, map[string]any{"hourlyCharge": 0}))
	_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, f.lot(t).AvailableSpaces)
}
