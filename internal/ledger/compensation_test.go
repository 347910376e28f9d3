package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// flakyStore fails chosen writes.  It hides transactions, so the ledger
// takes the compensating path.
type flakyStore struct {
	docstore.Store
	failCreate  map[string]error
	failRelease error
	failUpdate  map[string]error
	failReopen  error
	blockCreate string
}

func newFlaky() *flakyStore {
	return &flakyStore{
		Store:      docstore.NewMemory(),
		failCreate: map[string]error{},
		failUpdate: map[string]error{},
	}
}

func (f *flakyStore) Create(ctx context.Context, coll, id string, doc any) error {
	if coll == f.blockCreate {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.failCreate[coll]; err != nil {
		return err
	}
	return f.Store.Create(ctx, coll, id, doc)
}

func (f *flakyStore) Update(ctx context.Context, coll, id string, set map[string]any, where ...docstore.Filter) error {
	if err := f.failUpdate[coll]; err != nil {
		return err
	}
	if f.failReopen != nil && coll == repository.CollBookings && set["status"] == model.BookingActive {
		return f.failReopen
	}
	return f.Store.Update(ctx, coll, id, set, where...)
}

func (f *flakyStore) Increment(ctx context.Context, coll, id string, inc docstore.Increment) (int64, error) {
	if inc.Delta > 0 && f.failRelease != nil {
		return 0, f.failRelease
	}
	return f.Store.Increment(ctx, coll, id, inc)
}

var errDown = errors.New("connection reset")

func fastCompensation() Config {
	return Config{CompensationAttempts: 3, CompensationBackoff: time.Millisecond}
}

func TestBookingInsertFailureIsCompensated(t *testing.T) {
	s := newFlaky()
	f := newFixture(t, s, 2, fastCompensation())
	s.failCreate[repository.CollBookings] = errDown

	_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 2, f.lot(t).AvailableSpaces)
	f.assertConsistent(t)
}

func TestPaymentInsertFailureCancelsBooking(t *testing.T) {
	s := newFlaky()
	f := newFixture(t, s, 2, fastCompensation())
	s.failCreate[repository.CollPayments] = errDown

	_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 2, f.lot(t).AvailableSpaces)

	var bookings []model.Booking
	require.NoError(t, s.Query(context.Background(), repository.CollBookings, docstore.Query{}, &bookings))
	require.Len(t, bookings, 1)
	assert.Equal(t, model.BookingCancelled, bookings[0].Status)
	f.assertConsistent(t)
}

func TestFailedCompensationIsPartialFailure(t *testing.T) {
	s := newFlaky()
	f := newFixture(t, s, 2, fastCompensation())
	s.failCreate[repository.CollBookings] = errDown
	s.failRelease = errDown

	_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.False(t, Retryable(err))
	assert.Equal(t, 1, f.lot(t).AvailableSpaces)

	rep, err := f.ledger.Audit(context.Background(), f.lotID)
	require.NoError(t, err)
	assert.False(t, rep.Consistent)
	assert.Equal(t, 2, rep.Expected)
}

func TestTimedOutInsertReportsOutcomeUnknown(t *testing.T) {
	s := newFlaky()
	cfg := fastCompensation()
	cfg.Timeout = 30 * time.Millisecond
	f := newFixture(t, s, 1, cfg)
	s.blockCreate = repository.CollBookings

	_, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, OutcomeUnknown(err))
	assert.Equal(t, 1, f.lot(t).AvailableSpaces)
}

func TestCloseReleaseFailureReopensBooking(t *testing.T) {
	ctx := context.Background()
	s := newFlaky()
	f := newFixture(t, s, 1, fastCompensation())
	res, err := f.ledger.Reserve(ctx, f.reserveReq(1))
	require.NoError(t, err)

	s.failRelease = errDown
	req := CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCancelled}
	_, err = f.ledger.Close(ctx, req)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, Retryable(err))
	assert.Equal(t, 0, f.lot(t).AvailableSpaces)

	var stored model.Booking
	require.NoError(t, s.Get(ctx, repository.CollBookings, res.Booking.ID, &stored))
	assert.Equal(t, model.BookingActive, stored.Status)
	assert.False(t, stored.EndTime.Valid)

	s.failRelease = nil
	out, err := f.ledger.Close(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.AlreadyClosed)
	assert.Equal(t, 1, f.lot(t).AvailableSpaces)

	_, err = f.ledger.Reserve(ctx, f.reserveReq(1))
	require.NoError(t, err)
	f.assertConsistent(t)
}

func TestCloseReleaseAndReopenFailureIsPartialFailure(t *testing.T) {
	s := newFlaky()
	f := newFixture(t, s, 1, fastCompensation())
	res, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	require.NoError(t, err)

	s.failRelease = errDown
	s.failReopen = errDown
	_, err = f.ledger.Close(context.Background(), CloseRequest{BookingID: res.Booking.ID, Outcome: model.BookingCancelled})
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.False(t, Retryable(err))
	assert.Equal(t, 0, f.lot(t).AvailableSpaces)
}

func TestCloseUpdateFailureChangesNothing(t *testing.T) {
	s := newFlaky()
	f := newFixture(t, s, 1, fastCompensation())
	res, err := f.ledger.Reserve(context.Background(), f.reserveReq(1))
	require.NoError(t, err)

	s.failUpdate[repository.CollBookings] = errDown
	_, err = f.ledger.Close(context.Background(), CloseRequest{BookingID: res.Booking.ID,
		Outcome: model.BookingCompleted, ActualHours: null.FloatFrom(1)})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 0, f.lot(t).AvailableSpaces)

	delete(s.failUpdate, repository.CollBookings)
	_, err = f.ledger.Close(context.Background(), CloseRequest{BookingID: res.Booking.ID,
		Outcome: model.BookingCompleted, ActualHours: null.FloatFrom(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, f.lot(t).AvailableSpaces)
}
