/*
Package ledger is the append-only record of loyalty-point changes.

PURPOSE:
  Every change to a user's point balance is an immutable Entry: points
  earned by a booking, points redeemed against a booking's price, and
  reversals when a booking is cancelled. The balance is always the sum
  of deltas - there is no mutable counter that can drift out of sync
  with the bookings that produced it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. AUDITABLE: Every entry carries the booking that caused it.
  3. NON-NEGATIVE: Callers must never append a redeem or clawback that
     would drive the account below zero; clamped clawbacks record the
     remainder as Shortfall instead.

CORRECTIONS:
  Mistakes and cancellations are reversed, never edited. A cancelled
  booking gets reversal entries with the opposite sign of the originals;
  both remain in the ledger, so history always explains the balance.

SEE ALSO:
  - booking/engine.go: The only writer of earn/redeem/reversal entries
  - store/sqlite, store/postgres, store/memory: Ledger implementations
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY - Atomic change to a loyalty-point balance
// =============================================================================

type AccountID string
type EntryID string

type Kind string

const (
	KindEarn       Kind = "earn"       // Points granted for a confirmed booking
	KindRedeem     Kind = "redeem"     // Points spent to reduce a booking's price
	KindReversal   Kind = "reversal"   // Undo of an earn or redeem on cancellation
	KindAdjustment Kind = "adjustment" // Manual operator correction
)

type Entry struct {
	ID        EntryID
	Account   AccountID
	Delta     int64 // Positive for earn/restore, negative for redeem/clawback
	Kind      Kind
	Reference string // Booking ID this entry belongs to
	Reason    string
	Shortfall int64 // Points a clamped clawback could not recover
	CreatedAt time.Time
}

// Sum replays entries into a balance. Deltas are whole points, so plain
// integer arithmetic is exact.
func Sum(entries []Entry) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.Delta
	}
	return balance
}

// =============================================================================
// LEDGER - Persistence interface
// =============================================================================

// Ledger stores entries. Append is the ONLY write operation; a multi-entry
// Append is atomic (all entries or none).
type Ledger interface {
	Append(ctx context.Context, entries ...Entry) error

	// Entries returns all entries for an account, oldest first.
	Entries(ctx context.Context, account AccountID) ([]Entry, error)

	// Balance is the sum of all deltas for an account. Implementations may
	// compute it in the store, but it must always equal Sum(Entries(...)).
	Balance(ctx context.Context, account AccountID) (int64, error)
}
