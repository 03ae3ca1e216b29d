/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and in the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/types.go: Domain types these mirror
*/
package api

import (
	"time"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// LoginRequest authenticates an existing account.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserDTO represents a user in API responses. The password hash never
// leaves the server.
type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Admin    bool   `json:"admin"`
}

// TurfDTO represents a turf in API responses.
type TurfDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	PricePerHour string `json:"price_per_hour"`
	ImageURL     string `json:"image_url,omitempty"`
}

// CreateTurfRequest adds or updates a turf (admin only).
type CreateTurfRequest struct {
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	PricePerHour string `json:"price_per_hour"`
	ImageURL     string `json:"image_url,omitempty"`
}

// ReserveRequest books one slot.
type ReserveRequest struct {
	TurfID         string `json:"turf_id"`
	SlotStart      string `json:"slot_start"` // RFC 3339
	PointsToRedeem int64  `json:"points_to_redeem,omitempty"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	TurfID         string `json:"turf_id"`
	SlotStart      string `json:"slot_start"`
	Status         string `json:"status"`
	AmountPaid     string `json:"amount_paid"`
	PointsRedeemed int64  `json:"points_redeemed"`
	PointsEarned   int64  `json:"points_earned"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// AvailabilityDTO lists the free slot starts for a turf on a window.
type AvailabilityDTO struct {
	TurfID string   `json:"turf_id"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Slots  []string `json:"slots"`
}

// PointsDTO is a loyalty account statement: current balance plus the
// full entry history, oldest first.
type PointsDTO struct {
	Balance int64            `json:"balance"`
	History []LedgerEntryDTO `json:"history"`
}

// LedgerEntryDTO represents one loyalty ledger entry.
type LedgerEntryDTO struct {
	ID        string `json:"id"`
	Delta     int64  `json:"delta"`
	Kind      string `json:"kind"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u *booking.User) UserDTO {
	return UserDTO{
		ID:       string(u.ID),
		Username: u.Username,
		Email:    u.Email,
		Admin:    u.Admin,
	}
}

func toTurfDTO(t booking.Turf) TurfDTO {
	return TurfDTO{
		ID:           string(t.ID),
		Name:         t.Name,
		Location:     t.Location,
		Description:  t.Description,
		PricePerHour: t.PricePerHour.String(),
		ImageURL:     t.ImageURL,
	}
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		ID:             string(b.ID),
		UserID:         string(b.UserID),
		TurfID:         string(b.TurfID),
		SlotStart:      b.SlotStart.Format(time.RFC3339),
		Status:         string(b.Status),
		AmountPaid:     b.AmountPaid.String(),
		PointsRedeemed: b.PointsRedeemed,
		PointsEarned:   b.PointsEarned,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
}

func toBookingDTOs(bs []booking.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

func toLedgerEntryDTOs(es []ledger.Entry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(es))
	for i, e := range es {
		dtos[i] = LedgerEntryDTO{
			ID:        string(e.ID),
			Delta:     e.Delta,
			Kind:      string(e.Kind),
			Reference: e.Reference,
			Reason:    e.Reason,
			Shortfall: e.Shortfall,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
