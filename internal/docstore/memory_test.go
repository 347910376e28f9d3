package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Active    bool   `json:"active"`
}

func seedLot(t *testing.T, s Store, id string, total, available int) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), "lots", id, lot{Name: id, Total: total, Available: available, Active: true}))
}

func TestMemoryCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 10, 4)

	var got lot
	require.NoError(t, s.Get(ctx, "lots", "a", &got))
	assert.Equal(t, lot{ID: "a", Name: "a", Total: 10, Available: 4, Active: true}, got)

	err := s.Create(ctx, "lots", "a", lot{})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = s.Get(ctx, "lots", "missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryInsertAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	id, err := s.Insert(ctx, "lots", lot{ID: "ignored", Name: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "ignored", id)

	var got lot
	require.NoError(t, s.Get(ctx, "lots", id, &got))
	assert.Equal(t, id, got.ID)
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 10, 4)
	seedLot(t, s, "b", 10, 9)
	seedLot(t, s, "c", 5, 0)
	require.NoError(t, s.Update(ctx, "lots", "c", map[string]any{"active": false}))

	var got []lot
	require.NoError(t, s.Query(ctx, "lots", Query{
		Filters: []Filter{Where("active", Eq, true)},
		OrderBy: "available",
		Desc:    true,
	}, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got = nil
	require.NoError(t, s.Query(ctx, "lots", Query{
		Filters: []Filter{Where("available", Lt, 5)},
		OrderBy: "available",
		Limit:   1,
	}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	got = nil
	require.NoError(t, s.Query(ctx, "nothing", Query{}, &got))
	assert.Empty(t, got)
}

func TestMemoryQueryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	var got []lot
	assert.Error(t, s.Query(ctx, "lots", Query{Filters: []Filter{Where("id", Eq, "x")}}, &got))
	assert.Error(t, s.Query(ctx, "lots", Query{Filters: []Filter{Where("name", "~", "x")}}, &got))
	assert.Error(t, s.Query(ctx, "lots", Query{}, got))
}

func TestMemoryConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 10, 4)

	err := s.Update(ctx, "lots", "a", map[string]any{"name": "z"}, Where("active", Eq, false))
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, s.Update(ctx, "lots", "a", map[string]any{"name": "z"}, Where("active", Eq, true)))
	var got lot
	require.NoError(t, s.Get(ctx, "lots", "a", &got))
	assert.Equal(t, "z", got.Name)

	err = s.Update(ctx, "lots", "missing", map[string]any{"name": "z"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 3, 1)

	n, err := s.Increment(ctx, "lots", "a", Increment{Field: "available", Delta: -1, Min: AtLeast(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = s.Increment(ctx, "lots", "a", Increment{Field: "available", Delta: -1, Min: AtLeast(0)})
	assert.ErrorIs(t, err, ErrConditionFailed)

	for i := 0; i < 5; i++ {
		n, err = s.Increment(ctx, "lots", "a", Increment{Field: "available", Delta: 1, MaxField: "total"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), n)

	_, err = s.Increment(ctx, "lots", "missing", Increment{Field: "available", Delta: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentDecrementNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 5, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, "lots", "a", Increment{Field: "available", Delta: -1, Min: AtLeast(0)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, wins)

	var got lot
	require.NoError(t, s.Get(ctx, "lots", "a", &got))
	assert.Equal(t, 0, got.Available)
}

func TestMemoryTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 3, 3)

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Increment(ctx, "lots", "a", Increment{Field: "available", Delta: -1}); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, "bookings", map[string]any{"lot": "a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var got lot
	require.NoError(t, s.Get(ctx, "lots", "a", &got))
	assert.Equal(t, 3, got.Available)
	var bookings []map[string]any
	require.NoError(t, s.Query(ctx, "bookings", Query{}, &bookings))
	assert.Empty(t, bookings)
}

func TestMemoryTransactionCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedLot(t, s, "a", 3, 3)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		var l lot
		if err := tx.Get(ctx, "lots", "a", &l); err != nil {
			return err
		}
		return tx.Update(ctx, "lots", "a", map[string]any{"available": l.Available - 2})
	}))

	var got lot
	require.NoError(t, s.Get(ctx, "lots", "a", &got))
	assert.Equal(t, 1, got.Available)
}

func TestWithoutTransactions(t *testing.T) {
	s := NewMemory()
	assert.True(t, SupportsTransactions(s))
	assert.False(t, SupportsTransactions(WithoutTransactions(s)))
}
