package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
	"github.com/warp/turf-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC)

// newTestEngine seeds one user and one turf at 1000/hour, with the clock
// pinned so slot validation is deterministic.
func newTestEngine(t *testing.T) (*booking.Engine, *memory.Memory) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &booking.User{
		ID:       "user-1",
		Username: "alice",
	}))
	require.NoError(t, store.SaveTurf(ctx, &booking.Turf{
		ID:           "turf-1",
		Name:         "Center Field",
		PricePerHour: decimal.NewFromInt(1000),
	}))

	engine := booking.NewEngine(store, booking.DefaultRates())
	engine.Now = func() time.Time { return testNow }
	return engine, store
}

func slotAt(hour int) time.Time {
	return time.Date(2026, time.January, 5, hour, 0, 0, 0, time.UTC)
}

// grantPoints appends an adjustment so a user has points to redeem.
func grantPoints(t *testing.T, store *memory.Memory, user booking.UserID, points int64) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), ledger.Entry{
		ID:        ledger.EntryID("grant-" + t.Name()),
		Account:   user.Account(),
		Delta:     points,
		Kind:      ledger.KindAdjustment,
		Reason:    "test grant",
		CreatedAt: testNow,
	}))
}

func reserve(t *testing.T, engine *booking.Engine, hour int, redeem int64) *booking.Booking {
	t.Helper()
	b, err := engine.Reserve(context.Background(), booking.ReserveInput{
		UserID:         "user-1",
		TurfID:         "turf-1",
		SlotStart:      slotAt(hour),
		PointsToRedeem: redeem,
	})
	require.NoError(t, err)
	return b
}

// =============================================================================
// RESERVE - Pricing and earning
// =============================================================================

func TestReserve_FullPrice_EarnsPoints(t *testing.T) {
	// GIVEN: A turf at 1000/hour and a user with no points
	// WHEN: Reserving without redeeming
	// THEN: Full price is charged and 10 points are earned (1 per 100 spent)

	engine, store := newTestEngine(t)

	b := reserve(t, engine, 10, 0)

	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.True(t, b.AmountPaid.Equal(decimal.NewFromInt(1000)), "paid %s", b.AmountPaid)
	assert.Equal(t, int64(0), b.PointsRedeemed)
	assert.Equal(t, int64(10), b.PointsEarned)

	balance, err := store.Balance(context.Background(), booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestReserve_WithRedemption_DiscountsAndEarnsOnPaid(t *testing.T) {
	// GIVEN: A user holding 500 points, turf at 1000/hour
	// WHEN: Redeeming all 500 points on a reservation
	// THEN: 500 is charged, 5 points earned on the amount paid,
	//       leaving a balance of exactly 5

	engine, store := newTestEngine(t)
	grantPoints(t, store, "user-1", 500)

	b := reserve(t, engine, 10, 500)

	assert.True(t, b.AmountPaid.Equal(decimal.NewFromInt(500)), "paid %s", b.AmountPaid)
	assert.Equal(t, int64(500), b.PointsRedeemed)
	assert.Equal(t, int64(5), b.PointsEarned)

	balance, err := store.Balance(context.Background(), booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestReserve_RedemptionExceedingPrice_ClampsToZero(t *testing.T) {
	// GIVEN: A user holding more points than the slot costs
	// WHEN: Redeeming 1500 points against a 1000 price
	// THEN: Amount paid clamps to zero and nothing is earned

	engine, store := newTestEngine(t)
	grantPoints(t, store, "user-1", 1500)

	b := reserve(t, engine, 10, 1500)

	assert.True(t, b.AmountPaid.IsZero(), "paid %s", b.AmountPaid)
	assert.Equal(t, int64(0), b.PointsEarned)

	balance, err := store.Balance(context.Background(), booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestReserve_LedgerEntriesReferenceBooking(t *testing.T) {
	// GIVEN: A user with points to redeem
	// WHEN: Reserving with a partial redemption
	// THEN: Both the redeem and earn entries carry the booking ID

	engine, store := newTestEngine(t)
	grantPoints(t, store, "user-1", 200)

	b := reserve(t, engine, 10, 200)

	entries, err := store.Entries(context.Background(), booking.UserID("user-1").Account())
	require.NoError(t, err)
	require.Len(t, entries, 3) // grant, redeem, earn

	redeem, earn := entries[1], entries[2]
	assert.Equal(t, ledger.KindRedeem, redeem.Kind)
	assert.Equal(t, int64(-200), redeem.Delta)
	assert.Equal(t, string(b.ID), redeem.Reference)
	assert.Equal(t, ledger.KindEarn, earn.Kind)
	assert.Equal(t, int64(8), earn.Delta) // 800 paid -> 8 points
	assert.Equal(t, string(b.ID), earn.Reference)
}

// =============================================================================
// RESERVE - Rejections leave no trace
// =============================================================================

func TestReserve_InsufficientPoints_LeavesNoTrace(t *testing.T) {
	// GIVEN: A user with no points
	// WHEN: Trying to redeem 50
	// THEN: The reservation fails, the slot stays free, the ledger is empty

	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Reserve(ctx, booking.ReserveInput{
		UserID:         "user-1",
		TurfID:         "turf-1",
		SlotStart:      slotAt(10),
		PointsToRedeem: 50,
	})

	var ipe *booking.InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, int64(0), ipe.Available)
	assert.Equal(t, int64(50), ipe.Requested)

	occupied, err := store.IsOccupied(ctx, "turf-1", slotAt(10))
	require.NoError(t, err)
	assert.False(t, occupied, "failed reservation must not hold the slot")

	entries, err := store.Entries(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReserve_InvalidInput(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   booking.ReserveInput
	}{
		{"negative points", booking.ReserveInput{
			UserID: "user-1", TurfID: "turf-1", SlotStart: slotAt(10), PointsToRedeem: -1,
		}},
		{"zero slot start", booking.ReserveInput{
			UserID: "user-1", TurfID: "turf-1",
		}},
		{"slot in the past", booking.ReserveInput{
			UserID: "user-1", TurfID: "turf-1", SlotStart: testNow.Add(-time.Hour),
		}},
		{"slot off the hour grid", booking.ReserveInput{
			UserID: "user-1", TurfID: "turf-1", SlotStart: slotAt(10).Add(30 * time.Minute),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Reserve(ctx, tc.in)
			assert.ErrorIs(t, err, booking.ErrInvalidInput)
		})
	}
}

func TestReserve_UnknownUserAndTurf(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Reserve(ctx, booking.ReserveInput{
		UserID: "ghost", TurfID: "turf-1", SlotStart: slotAt(10),
	})
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = engine.Reserve(ctx, booking.ReserveInput{
		UserID: "user-1", TurfID: "no-such-turf", SlotStart: slotAt(10),
	})
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// RESERVE - Slot conflicts
// =============================================================================

func TestReserve_OccupiedSlot_Rejected(t *testing.T) {
	// GIVEN: A confirmed booking at 10:00
	// WHEN: A second reservation targets the same turf and slot
	// THEN: It fails with ErrSlotUnavailable and no ledger entries are added

	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &booking.User{ID: "user-2", Username: "bob"}))
	reserve(t, engine, 10, 0)

	_, err := engine.Reserve(ctx, booking.ReserveInput{
		UserID: "user-2", TurfID: "turf-1", SlotStart: slotAt(10),
	})
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	entries, err := store.Entries(ctx, booking.UserID("user-2").Account())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReserve_DifferentSlotsAndTurfs_Independent(t *testing.T) {
	// Adjacent slots and other turfs are not blocked by a booking.

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTurf(ctx, &booking.Turf{
		ID: "turf-2", Name: "Side Field", PricePerHour: decimal.NewFromInt(800),
	}))

	reserve(t, engine, 10, 0)
	reserve(t, engine, 11, 0)

	_, err := engine.Reserve(ctx, booking.ReserveInput{
		UserID: "user-1", TurfID: "turf-2", SlotStart: slotAt(10),
	})
	assert.NoError(t, err)
}

func TestReserve_Concurrent_ExactlyOneWinner(t *testing.T) {
	// GIVEN: Ten users racing for the same turf and slot
	// WHEN: All reservations run concurrently
	// THEN: Exactly one confirms; every loser sees ErrSlotUnavailable

	engine, store := newTestEngine(t)
	ctx := context.Background()

	const racers = 10
	users := make([]booking.UserID, racers)
	users[0] = "user-1"
	for i := 1; i < racers; i++ {
		id := booking.UserID("racer-" + string(rune('a'+i)))
		require.NoError(t, store.CreateUser(ctx, &booking.User{ID: id, Username: string(id)}))
		users[i] = id
	}

	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Reserve(ctx, booking.ReserveInput{
				UserID: users[i], TurfID: "turf-1", SlotStart: slotAt(10),
			})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, booking.ErrSlotUnavailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one reservation must win")
	assert.Equal(t, racers-1, losses)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_RestoresRedeemedAndClawsBackEarned(t *testing.T) {
	// GIVEN: A booking that redeemed 500 points and earned 5
	// WHEN: The owner cancels it
	// THEN: The 500 come back, the 5 are clawed back, and the balance
	//       returns to exactly where it started

	engine, store := newTestEngine(t)
	ctx := context.Background()
	grantPoints(t, store, "user-1", 500)

	b := reserve(t, engine, 10, 500)
	require.NoError(t, engine.Cancel(ctx, b.ID, "user-1", false))

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)

	balance, err := store.Balance(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	occupied, err := store.IsOccupied(ctx, "turf-1", slotAt(10))
	require.NoError(t, err)
	assert.False(t, occupied, "cancelled slot must be bookable again")
}

func TestCancel_ClawbackClampedToBalance_RecordsShortfall(t *testing.T) {
	// GIVEN: Booking A earned 10 points, which were then partly spent on
	//        booking B (leaving a balance of 9)
	// WHEN: Booking A is cancelled
	// THEN: Only 9 can be clawed back; the missing point is recorded as
	//       shortfall and the balance lands on zero, never below

	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := reserve(t, engine, 10, 0)  // earns 10
	_ = reserve(t, engine, 11, 10)  // redeems the 10, earns 9 on 990 paid

	require.NoError(t, engine.Cancel(ctx, a.ID, "user-1", false))

	balance, err := store.Balance(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	entries, err := store.Entries(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, ledger.KindReversal, last.Kind)
	assert.Equal(t, int64(-9), last.Delta)
	assert.Equal(t, int64(1), last.Shortfall)
	assert.Equal(t, string(a.ID), last.Reference)
}

func TestCancel_OwnerOnly_UnlessAdmin(t *testing.T) {
	// GIVEN: Alice's confirmed booking
	// WHEN: Bob (not an admin) tries to cancel, then an admin does
	// THEN: Bob is forbidden; the admin succeeds

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &booking.User{ID: "user-2", Username: "bob"}))

	b := reserve(t, engine, 10, 0)

	err := engine.Cancel(ctx, b.ID, "user-2", false)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status, "forbidden cancel must not change status")

	require.NoError(t, engine.Cancel(ctx, b.ID, "user-2", true))
}

func TestCancel_Twice_SecondIsRejectedWithoutDoubleReversal(t *testing.T) {
	// GIVEN: A cancelled booking
	// WHEN: It is cancelled again
	// THEN: The second cancel fails as invalid input and the ledger is
	//       not reversed a second time

	engine, store := newTestEngine(t)
	ctx := context.Background()
	grantPoints(t, store, "user-1", 500)

	b := reserve(t, engine, 10, 500)
	require.NoError(t, engine.Cancel(ctx, b.ID, "user-1", false))

	balanceAfterFirst, err := store.Balance(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)

	err = engine.Cancel(ctx, b.ID, "user-1", false)
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
	assert.ErrorIs(t, err, booking.ErrAlreadyCancelled)

	balanceAfterSecond, err := store.Balance(ctx, booking.UserID("user-1").Account())
	require.NoError(t, err)
	assert.Equal(t, balanceAfterFirst, balanceAfterSecond)
}

func TestCancel_UnknownBooking(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Cancel(context.Background(), "no-such-booking", "user-1", false)
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestAvailability_ExcludesBookedSlots(t *testing.T) {
	// GIVEN: Bookings at 10:00 and 12:00
	// WHEN: Asking for availability between 09:00 and 13:00
	// THEN: Only 09:00 and 11:00 remain

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	reserve(t, engine, 10, 0)
	reserve(t, engine, 12, 0)

	seq, err := engine.Availability(ctx, "turf-1", slotAt(9), slotAt(13))
	require.NoError(t, err)

	var got []time.Time
	for s := range seq {
		got = append(got, s)
	}
	assert.Equal(t, []time.Time{slotAt(9), slotAt(11)}, got)
}

func TestAvailability_Restartable(t *testing.T) {
	// The sequence captures occupancy once: iterating twice, with an
	// early break in between, yields identical slots.

	engine, _ := newTestEngine(t)
	reserve(t, engine, 10, 0)

	seq, err := engine.Availability(context.Background(), "turf-1", slotAt(9), slotAt(12))
	require.NoError(t, err)

	for range seq {
		break
	}

	var first, second []time.Time
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, []time.Time{slotAt(9), slotAt(11)}, first)
}

func TestAvailability_AlignsRangeUpToSlotGrid(t *testing.T) {
	// A window opening mid-hour starts at the next full slot.

	engine, _ := newTestEngine(t)

	seq, err := engine.Availability(context.Background(), "turf-1",
		slotAt(9).Add(20*time.Minute), slotAt(12))
	require.NoError(t, err)

	var got []time.Time
	for s := range seq {
		got = append(got, s)
	}
	assert.Equal(t, []time.Time{slotAt(10), slotAt(11)}, got)
}

func TestAvailability_EmptyRangeAndUnknownTurf(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Availability(ctx, "turf-1", slotAt(12), slotAt(12))
	assert.ErrorIs(t, err, booking.ErrInvalidInput)

	_, err = engine.Availability(ctx, "ghost-turf", slotAt(9), slotAt(12))
	assert.ErrorIs(t, err, booking.ErrNotFound)
}
