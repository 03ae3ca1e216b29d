/*
Package booking provides the reservation core for turf slot bookings.

PURPOSE:
  Decides, under concurrent requests, whether an hourly slot on a turf
  may be granted, computes the price after a loyalty-point redemption,
  and keeps the points ledger consistent across booking and cancellation.
  Everything else (HTTP, sessions, rendering) lives in the api facade and
  calls in through the Engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - User / Turf / Booking: the durable records the engine works with
  - Rates: the configuration constants (slot length, point value, earn
    rate) supplied at initialization, never hard-coded per call
  - Typed string IDs to keep user/turf/booking identifiers apart

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for money, int64 for whole points
  2. Immutability: bookings are never deleted; cancellation is a status
     flip plus reversing ledger entries
  3. Type Safety: strong typing for IDs prevents mixing them up

SEE ALSO:
  - engine.go: reserve / cancel / availability
  - store.go: collaborator interfaces the engine consumes
  - errors.go: failure kinds surfaced to the facade
*/
package booking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/turf-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TurfID string
type BookingID string

// Account maps a user to their loyalty-ledger account.
func (id UserID) Account() ledger.AccountID { return ledger.AccountID(id) }

// =============================================================================
// RECORDS
// =============================================================================

type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	Admin        bool
	CreatedAt    time.Time
}

// Turf is read-only from the engine's perspective; admin operations in the
// facade mutate it.
type Turf struct {
	ID           TurfID
	Name         string
	Location     string
	Description  string
	PricePerHour decimal.Decimal
	ImageURL     string
	CreatedAt    time.Time
}

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Booking is one confirmed (or later cancelled) slot on one turf. AmountPaid
// is the price actually charged after redemption; PointsEarned is kept so a
// cancellation can reverse exactly what the reservation granted.
type Booking struct {
	ID             BookingID
	UserID         UserID
	TurfID         TurfID
	SlotStart      time.Time
	Status         Status
	AmountPaid     decimal.Decimal
	PointsRedeemed int64
	PointsEarned   int64
	CreatedAt      time.Time
}

// =============================================================================
// RATES - System-wide conversion constants
// =============================================================================

// Rates holds the configuration constants the engine needs from its
// environment. All pricing and earning flows through these; nothing in the
// engine hard-codes a rate.
type Rates struct {
	// SlotDuration is the fixed length of a reservable slot.
	SlotDuration time.Duration

	// PointValue is the currency credited per redeemed point.
	PointValue decimal.Decimal

	// EarnSpend is the currency spend that earns one point. Points earned
	// are computed on the amount actually paid, after redemption.
	EarnSpend decimal.Decimal
}

// DefaultRates matches the deployed configuration: one-hour slots, one
// currency unit per point, one point earned per hundred spent.
func DefaultRates() Rates {
	return Rates{
		SlotDuration: time.Hour,
		PointValue:   decimal.NewFromInt(1),
		EarnSpend:    decimal.NewFromInt(100),
	}
}

func (r Rates) Validate() error {
	if r.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidInput)
	}
	if r.PointValue.IsNegative() {
		return fmt.Errorf("%w: point value must not be negative", ErrInvalidInput)
	}
	if !r.EarnSpend.IsPositive() {
		return fmt.Errorf("%w: earn spend must be positive", ErrInvalidInput)
	}
	return nil
}

// AmountDue is the price charged for one slot after redeeming points:
// max(0, pricePerHour - pointValue*points).
func (r Rates) AmountDue(pricePerHour decimal.Decimal, pointsRedeemed int64) decimal.Decimal {
	discount := r.PointValue.Mul(decimal.NewFromInt(pointsRedeemed))
	return decimal.Max(decimal.Zero, pricePerHour.Sub(discount))
}

// PointsEarned is the whole number of points granted for an amount actually
// paid, rounded down.
func (r Rates) PointsEarned(amountPaid decimal.Decimal) int64 {
	if !r.EarnSpend.IsPositive() {
		return 0
	}
	return amountPaid.Div(r.EarnSpend).IntPart()
}

// Aligned reports whether t falls on a slot boundary (UTC).
func (r Rates) Aligned(t time.Time) bool {
	return t.UTC().Truncate(r.SlotDuration).Equal(t.UTC())
}
