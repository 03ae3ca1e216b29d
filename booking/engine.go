/*
engine.go - The reservation engine: reserve, cancel, availability

PURPOSE:
  The only component allowed to write bookings or loyalty entries.
  Reserve and Cancel each run as one atomic unit of work against the
  store, so two concurrent callers cannot both win a slot, and a balance
  check can never race its own deduction.

CONCURRENCY:
  Mutual exclusion is per (turf, slot) for reserve and per booking for
  cancel, provided by the store: a partial unique index makes the insert
  a test-and-set, and the status flip is conditional. Unrelated keys
  proceed in parallel; there is no global lock and no queueing here.

RETRY DISCIPLINE:
  A slot race detected at commit (the pre-check saw the slot free, the
  insert hit the unique constraint, or the store reported a
  serialization conflict) is retried exactly once with fresh reads, then
  surfaced as ErrSlotUnavailable. Every other failure surfaces
  immediately and leaves no trace - no booking row, no ledger change.
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/warp/turf-engine/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store TxStore
	Rates Rates

	// Now and NewID are swappable for tests.
	Now   func() time.Time
	NewID func() string
}

func NewEngine(store TxStore, rates Rates) *Engine {
	return &Engine{
		Store: store,
		Rates: rates,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// =============================================================================
// RESERVE
// =============================================================================

type ReserveInput struct {
	UserID         UserID
	TurfID         TurfID
	SlotStart      time.Time
	PointsToRedeem int64
}

// Reserve books one slot for one user, charging the turf's hourly price net
// of redeemed points and crediting points earned on the amount paid. On
// success the booking row and both ledger entries are committed together.
func (e *Engine) Reserve(ctx context.Context, in ReserveInput) (*Booking, error) {
	if err := e.validateReserve(in); err != nil {
		return nil, err
	}

	b, err := e.reserveOnce(ctx, in)
	if IsRetryable(err) {
		// One retry with fresh reads; losing twice means the slot is gone.
		b, err = e.reserveOnce(ctx, in)
		if IsRetryable(err) {
			return nil, ErrSlotUnavailable
		}
	}
	return b, err
}

func (e *Engine) validateReserve(in ReserveInput) error {
	if in.PointsToRedeem < 0 {
		return fmt.Errorf("%w: points to redeem must not be negative", ErrInvalidInput)
	}
	if in.SlotStart.IsZero() {
		return fmt.Errorf("%w: slot start is required", ErrInvalidInput)
	}
	if in.SlotStart.Before(e.Now()) {
		return fmt.Errorf("%w: slot start is in the past", ErrInvalidInput)
	}
	if !e.Rates.Aligned(in.SlotStart) {
		return fmt.Errorf("%w: slot start must fall on a %s boundary", ErrInvalidInput, e.Rates.SlotDuration)
	}
	return nil
}

func (e *Engine) reserveOnce(ctx context.Context, in ReserveInput) (*Booking, error) {
	var booked *Booking

	err := e.Store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		turf, err := s.GetTurf(ctx, in.TurfID)
		if err != nil {
			return err
		}

		occupied, err := s.IsOccupied(ctx, in.TurfID, in.SlotStart)
		if err != nil {
			return err
		}
		if occupied {
			return ErrSlotUnavailable
		}

		balance, err := s.Balance(ctx, user.ID.Account())
		if err != nil {
			return err
		}
		if in.PointsToRedeem > balance {
			return &InsufficientPointsError{
				User:      user.ID,
				Available: balance,
				Requested: in.PointsToRedeem,
			}
		}

		amount := e.Rates.AmountDue(turf.PricePerHour, in.PointsToRedeem)
		earned := e.Rates.PointsEarned(amount)
		now := e.Now().UTC()

		b := &Booking{
			ID:             BookingID(e.NewID()),
			UserID:         user.ID,
			TurfID:         turf.ID,
			SlotStart:      in.SlotStart.UTC(),
			Status:         StatusConfirmed,
			AmountPaid:     amount,
			PointsRedeemed: in.PointsToRedeem,
			PointsEarned:   earned,
			CreatedAt:      now,
		}

		if err := s.InsertIfFree(ctx, b); err != nil {
			if errors.Is(err, ErrSlotUnavailable) {
				// The pre-check saw the slot free, so another writer won it
				// between our read and this insert.
				return fmt.Errorf("%w: slot taken at commit", ErrConflict)
			}
			return err
		}

		var entries []ledger.Entry
		if in.PointsToRedeem > 0 {
			entries = append(entries, ledger.Entry{
				ID:        ledger.EntryID(e.NewID()),
				Account:   user.ID.Account(),
				Delta:     -in.PointsToRedeem,
				Kind:      ledger.KindRedeem,
				Reference: string(b.ID),
				Reason:    "points redeemed against booking price",
				CreatedAt: now,
			})
		}
		if earned > 0 {
			entries = append(entries, ledger.Entry{
				ID:        ledger.EntryID(e.NewID()),
				Account:   user.ID.Account(),
				Delta:     earned,
				Kind:      ledger.KindEarn,
				Reference: string(b.ID),
				Reason:    "points earned on amount paid",
				CreatedAt: now,
			})
		}
		if len(entries) > 0 {
			if err := s.Append(ctx, entries...); err != nil {
				return err
			}
		}

		booked = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booked, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel flips a confirmed booking to cancelled and reverses its ledger
// effect: redeemed points are restored and earned points clawed back. The
// clawback is clamped so the balance never goes negative; any remainder is
// recorded as Shortfall on the reversal entry.
func (e *Engine) Cancel(ctx context.Context, id BookingID, requester UserID, admin bool) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if !admin && b.UserID != requester {
			return ErrForbidden
		}
		if b.Status != StatusConfirmed {
			return ErrAlreadyCancelled
		}

		if err := s.MarkCancelled(ctx, id); err != nil {
			return err
		}

		balance, err := s.Balance(ctx, b.UserID.Account())
		if err != nil {
			return err
		}

		now := e.Now().UTC()
		var entries []ledger.Entry

		if b.PointsRedeemed > 0 {
			entries = append(entries, ledger.Entry{
				ID:        ledger.EntryID(e.NewID()),
				Account:   b.UserID.Account(),
				Delta:     b.PointsRedeemed,
				Kind:      ledger.KindReversal,
				Reference: string(b.ID),
				Reason:    "redeemed points restored on cancellation",
				CreatedAt: now,
			})
		}

		// The earned points may have been spent already; claw back what the
		// balance allows and record the rest as shortfall.
		available := balance + b.PointsRedeemed
		claw := b.PointsEarned
		var shortfall int64
		if claw > available {
			shortfall = claw - available
			claw = available
		}
		if claw > 0 || shortfall > 0 {
			entries = append(entries, ledger.Entry{
				ID:        ledger.EntryID(e.NewID()),
				Account:   b.UserID.Account(),
				Delta:     -claw,
				Kind:      ledger.KindReversal,
				Reference: string(b.ID),
				Reason:    "earned points reversed on cancellation",
				Shortfall: shortfall,
				CreatedAt: now,
			})
		}

		if len(entries) > 0 {
			return s.Append(ctx, entries...)
		}
		return nil
	})
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// Availability enumerates the free slot starts for a turf in [from, to),
// ascending. The returned sequence is finite and restartable: occupancy is
// captured once, so every replay yields the same slots.
func (e *Engine) Availability(ctx context.Context, turfID TurfID, from, to time.Time) (iter.Seq[time.Time], error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: availability range is empty", ErrInvalidInput)
	}
	if _, err := e.Store.GetTurf(ctx, turfID); err != nil {
		return nil, err
	}

	booked, err := e.Store.BookedSlots(ctx, turfID, from, to)
	if err != nil {
		return nil, err
	}
	occupied := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		occupied[t.Unix()] = struct{}{}
	}

	step := e.Rates.SlotDuration
	start := alignUp(from, step)
	end := to.UTC()

	return func(yield func(time.Time) bool) {
		for t := start; t.Before(end); t = t.Add(step) {
			if _, taken := occupied[t.Unix()]; taken {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}

// alignUp rounds t up to the next slot boundary (UTC).
func alignUp(t time.Time, step time.Duration) time.Time {
	u := t.UTC().Truncate(step)
	if u.Before(t.UTC()) {
		u = u.Add(step)
	}
	return u
}
