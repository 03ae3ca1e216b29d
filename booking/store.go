/*
store.go - Persistence interfaces consumed by the reservation engine

PURPOSE:
  Defines the contract between the engine and the database. The engine
  only ever talks to these interfaces; SQLite, PostgreSQL, and the
  in-memory store all implement them.

KEY INTERFACES:
  SlotRegistry: confirmed bookings per turf/slot - the source of truth
                for conflict detection, with test-and-set insert
  Directory:    read access to users and turfs
  Store:        SlotRegistry + Directory + the loyalty ledger
  TxStore:      Store plus WithTx for a single atomic unit of work
  Registry:     TxStore plus the facade surface (signup, turf CRUD,
                booking listings)

ATOMICITY CONTRACT:
  Everything the engine does for one reserve or cancel happens inside
  one WithTx call: no observer may see a booking without its ledger
  entries, or vice versa. InsertIfFree must be atomic test-and-set -
  a unique constraint on (turf, slot, status=confirmed) enforced at
  commit, never a separate read followed by a separate write.

IMPLEMENTATIONS:
  - store/sqlite:   production single-node store (WAL)
  - store/postgres: production store with serializable transactions
  - store/memory:   tests and dev
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/turf-engine/ledger"
)

// =============================================================================
// SLOT REGISTRY - Confirmed bookings per turf/slot
// =============================================================================

type SlotRegistry interface {
	// IsOccupied reports whether a confirmed booking holds the slot.
	IsOccupied(ctx context.Context, turfID TurfID, slotStart time.Time) (bool, error)

	// InsertIfFree inserts a confirmed booking, failing with
	// ErrSlotUnavailable if a confirmed booking already holds the slot.
	// The check and the insert are one atomic operation.
	InsertIfFree(ctx context.Context, b *Booking) error

	// MarkCancelled flips a confirmed booking to cancelled. Returns
	// ErrAlreadyCancelled if the booking is not confirmed, so concurrent
	// cancels cannot both reverse the ledger.
	MarkCancelled(ctx context.Context, id BookingID) error

	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// BookedSlots returns the confirmed slot starts for a turf in
	// [from, to), ascending.
	BookedSlots(ctx context.Context, turfID TurfID, from, to time.Time) ([]time.Time, error)
}

// =============================================================================
// DIRECTORY - Users and turfs, read-only for the engine
// =============================================================================

type Directory interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetTurf(ctx context.Context, id TurfID) (*Turf, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Store is everything the engine touches inside a unit of work.
type Store interface {
	Directory
	SlotRegistry
	ledger.Ledger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. If fn returns an error,
	// nothing fn did is visible afterwards.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REGISTRY - Full persistence surface, including the facade's needs
// =============================================================================

type Registry interface {
	TxStore

	// CreateUser inserts a new user, failing with ErrUsernameTaken on a
	// duplicate username.
	CreateUser(ctx context.Context, u *User) error
	UserByUsername(ctx context.Context, username string) (*User, error)

	SaveTurf(ctx context.Context, t *Turf) error
	// DeleteTurf removes the turf record only; its bookings survive as
	// audit trail.
	DeleteTurf(ctx context.Context, id TurfID) error
	ListTurfs(ctx context.Context) ([]Turf, error)

	BookingsByUser(ctx context.Context, id UserID) ([]Booking, error)
	// RecentBookings returns the newest bookings across all users, for
	// the admin dashboard and reports.
	RecentBookings(ctx context.Context, limit int) ([]Booking, error)
}
