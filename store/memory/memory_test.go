package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
	"github.com/warp/turf-engine/store/memory"
)

func testBooking(id booking.BookingID, hour int) *booking.Booking {
	return &booking.Booking{
		ID:         id,
		UserID:     "user-1",
		TurfID:     "turf-1",
		SlotStart:  time.Date(2026, time.January, 5, hour, 0, 0, 0, time.UTC),
		Status:     booking.StatusConfirmed,
		AmountPaid: decimal.NewFromInt(1000),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMemory_InsertIfFree_RejectsOccupiedSlot(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.InsertIfFree(ctx, testBooking("b1", 10)))

	err := store.InsertIfFree(ctx, testBooking("b2", 10))
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	// A different slot on the same turf is fine.
	assert.NoError(t, store.InsertIfFree(ctx, testBooking("b3", 11)))
}

func TestMemory_MarkCancelled_FreesSlotAndIsTerminal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.InsertIfFree(ctx, testBooking("b1", 10)))
	require.NoError(t, store.MarkCancelled(ctx, "b1"))

	got, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)

	// Slot is bookable again, and a second cancel is rejected.
	assert.NoError(t, store.InsertIfFree(ctx, testBooking("b2", 10)))
	assert.ErrorIs(t, store.MarkCancelled(ctx, "b1"), booking.ErrAlreadyCancelled)
	assert.ErrorIs(t, store.MarkCancelled(ctx, "missing"), booking.ErrNotFound)
}

func TestMemory_CreateUser_DuplicateUsername(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &booking.User{ID: "u1", Username: "alice"}))
	err := store.CreateUser(ctx, &booking.User{ID: "u2", Username: "alice"})
	assert.ErrorIs(t, err, booking.ErrUsernameTaken)

	u, err := store.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, booking.UserID("u1"), u.ID)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that books a slot and appends an entry
	// WHEN: It returns an error
	// THEN: Neither effect is visible afterwards

	store := memory.New()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s booking.Store) error {
		if err := s.InsertIfFree(ctx, testBooking("b1", 10)); err != nil {
			return err
		}
		if err := s.Append(ctx, ledger.Entry{ID: "e1", Account: "acct-1", Delta: 10}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	occupied, err := store.IsOccupied(ctx, "turf-1", testBooking("b1", 10).SlotStart)
	require.NoError(t, err)
	assert.False(t, occupied)

	balance, err := store.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestMemory_BookedSlots_WindowIsHalfOpen(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for hour, id := range map[int]booking.BookingID{9: "b1", 10: "b2", 12: "b3"} {
		require.NoError(t, store.InsertIfFree(ctx, testBooking(id, hour)))
	}

	from := time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC)

	slots, err := store.BookedSlots(ctx, "turf-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{from}, slots, "only 10:00 falls in [10:00, 12:00)")
}

func TestMemory_RecentBookings_NewestFirstWithLimit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	base := time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC)
	for i, id := range []booking.BookingID{"b1", "b2", "b3"} {
		b := testBooking(id, 9+i)
		b.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.InsertIfFree(ctx, b))
	}

	recent, err := store.RecentBookings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, booking.BookingID("b3"), recent[0].ID)
	assert.Equal(t, booking.BookingID("b2"), recent[1].ID)
}
