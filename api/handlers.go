/*
handlers.go - HTTP API handlers for the turf booking system

PURPOSE:
  Exposes the reservation engine via REST API. Handles HTTP
  request/response, JSON serialization, sessions, and delegates all
  booking semantics to the engine.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account (and sign in)
    POST   /api/auth/login             Sign in
    POST   /api/auth/logout            Sign out
    GET    /api/me                     Current user
    GET    /api/me/points              Points balance + ledger history

  Turfs:
    GET    /api/turfs                  List turfs
    GET    /api/turfs/{id}             Turf details
    GET    /api/turfs/{id}/availability Free slots for a day or range

  Bookings:
    POST   /api/bookings               Reserve a slot
    GET    /api/bookings               Own bookings
    DELETE /api/bookings/{id}          Cancel a booking

  Admin:
    POST   /api/admin/turfs            Add a turf
    DELETE /api/admin/turfs/{id}       Remove a turf (bookings survive)
    GET    /api/admin/bookings         Recent bookings across users
    GET    /api/admin/reports/bookings.csv  CSV export

ERROR HANDLING:
  Domain errors map to HTTP status by classification:
  - 400: invalid input, insufficient points
  - 401: no session
  - 403: not the owner, not an admin
  - 404: unknown user/turf/booking
  - 409: slot already taken, username taken
  - 503: storage unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - session.go: Cookie sessions
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/turf-engine/booking"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// OpenHours bounds the default availability window when the client asks
// for a whole day rather than an explicit range.
type OpenHours struct {
	Open  int // first bookable hour, inclusive
	Close int // last hour, exclusive
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    booking.Registry
	Engine   *booking.Engine
	Sessions *SessionManager
	Hours    OpenHours
}

// NewHandler creates a handler wired to the given store and engine.
func NewHandler(store booking.Registry, engine *booking.Engine, sessions *SessionManager, hours OpenHours) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Sessions: sessions,
		Hours:    hours,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates a new account and signs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required", nil)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	user := &booking.User{
		ID:           booking.UserID(uuid.NewString()),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeDomainError(w, "Failed to register", err)
		return
	}

	if err := h.Sessions.SetUser(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// Login verifies credentials and starts a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if booking.IsNotFound(err) {
			// Same response as a bad password, so usernames cannot be probed.
			writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
			return
		}
		writeDomainError(w, "Failed to log in", err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if err := h.Sessions.SetUser(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start session", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// Logout expires the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// Points returns the loyalty balance and full entry history.
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	balance, err := h.Store.Balance(r.Context(), user.ID.Account())
	if err != nil {
		writeDomainError(w, "Failed to read balance", err)
		return
	}
	entries, err := h.Store.Entries(r.Context(), user.ID.Account())
	if err != nil {
		writeDomainError(w, "Failed to read ledger", err)
		return
	}

	writeJSON(w, http.StatusOK, PointsDTO{
		Balance: balance,
		History: toLedgerEntryDTOs(entries),
	})
}

// =============================================================================
// TURF HANDLERS
// =============================================================================

// ListTurfs returns all turfs.
func (h *Handler) ListTurfs(w http.ResponseWriter, r *http.Request) {
	turfs, err := h.Store.ListTurfs(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list turfs", err)
		return
	}

	dtos := make([]TurfDTO, len(turfs))
	for i, t := range turfs {
		dtos[i] = toTurfDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTurf returns a single turf.
func (h *Handler) GetTurf(w http.ResponseWriter, r *http.Request) {
	id := booking.TurfID(chi.URLParam(r, "id"))

	turf, err := h.Store.GetTurf(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get turf", err)
		return
	}
	writeJSON(w, http.StatusOK, toTurfDTO(*turf))
}

// Availability returns the free slot starts for a turf. The window is
// either an explicit from/to pair (RFC 3339) or a date (YYYY-MM-DD)
// bounded by the facade's open hours.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	id := booking.TurfID(chi.URLParam(r, "id"))

	from, to, err := h.availabilityWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	seq, err := h.Engine.Availability(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, "Failed to compute availability", err)
		return
	}

	slots := []string{}
	for t := range seq {
		slots = append(slots, t.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		TurfID: string(id),
		From:   from.UTC().Format(time.RFC3339),
		To:     to.UTC().Format(time.RFC3339),
		Slots:  slots,
	})
}

func (h *Handler) availabilityWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	if fromRaw, toRaw := q.Get("from"), q.Get("to"); fromRaw != "" || toRaw != "" {
		from, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' (use RFC 3339)")
		}
		to, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' (use RFC 3339)")
		}
		return from, to, nil
	}

	dateRaw := q.Get("date")
	if dateRaw == "" {
		dateRaw = time.Now().UTC().Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", dateRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid 'date' (use YYYY-MM-DD)")
	}
	from := day.Add(time.Duration(h.Hours.Open) * time.Hour)
	to := day.Add(time.Duration(h.Hours.Close) * time.Hour)
	return from, to, nil
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking reserves a slot for the authenticated user.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	slotStart, err := time.Parse(time.RFC3339, req.SlotStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot_start (use RFC 3339)", err)
		return
	}

	b, err := h.Engine.Reserve(r.Context(), booking.ReserveInput{
		UserID:         user.ID,
		TurfID:         booking.TurfID(req.TurfID),
		SlotStart:      slotStart,
		PointsToRedeem: req.PointsToRedeem,
	})
	if err != nil {
		writeDomainError(w, "Failed to reserve slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// ListMyBookings returns the authenticated user's bookings, newest slot
// first.
func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	bookings, err := h.Store.BookingsByUser(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, "Failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// CancelBooking cancels one booking. Owners cancel their own; admins may
// cancel any.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id := booking.BookingID(chi.URLParam(r, "id"))

	if err := h.Engine.Cancel(r.Context(), id, user.ID, user.Admin); err != nil {
		writeDomainError(w, "Failed to cancel booking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateTurf adds a new turf.
func (h *Handler) CreateTurf(w http.ResponseWriter, r *http.Request) {
	var req CreateTurfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Turf name is required", nil)
		return
	}
	price, err := decimal.NewFromString(req.PricePerHour)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price_per_hour", err)
		return
	}

	turf := &booking.Turf{
		ID:           booking.TurfID(uuid.NewString()),
		Name:         req.Name,
		Location:     req.Location,
		Description:  req.Description,
		PricePerHour: price,
		ImageURL:     req.ImageURL,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.SaveTurf(r.Context(), turf); err != nil {
		writeDomainError(w, "Failed to create turf", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTurfDTO(*turf))
}

// DeleteTurf removes a turf. Existing bookings are kept as audit trail.
func (h *Handler) DeleteTurf(w http.ResponseWriter, r *http.Request) {
	id := booking.TurfID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteTurf(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete turf", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAllBookings returns the newest bookings across all users.
func (h *Handler) ListAllBookings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	bookings, err := h.Store.RecentBookings(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// BookingsReportCSV streams recent bookings as a CSV download.
func (h *Handler) BookingsReportCSV(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 1000)

	bookings, err := h.Store.RecentBookings(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"id", "user_id", "turf_id", "slot_start", "status",
		"amount_paid", "points_redeemed", "points_earned", "created_at",
	})
	for _, b := range bookings {
		cw.Write([]string{
			string(b.ID),
			string(b.UserID),
			string(b.TurfID),
			b.SlotStart.Format(time.RFC3339),
			string(b.Status),
			b.AmountPaid.String(),
			strconv.FormatInt(b.PointsRedeemed, 10),
			strconv.FormatInt(b.PointsEarned, 10),
			b.CreatedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey int

const userKey ctxKey = 0

func userFrom(ctx context.Context) *booking.User {
	u, _ := ctx.Value(userKey).(*booking.User)
	return u
}

// RequireUser resolves the session to a user and stores it on the
// request context. No session, or a session for a deleted user, is 401.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := h.Sessions.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		user, err := h.Store.GetUser(r.Context(), uid)
		if err != nil {
			if booking.IsNotFound(err) {
				h.Sessions.Clear(w)
				writeError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}
			writeDomainError(w, "Failed to resolve session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// RequireAdmin sits behind RequireUser and rejects non-admins.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := userFrom(r.Context()); user == nil || !user.Admin {
			writeError(w, http.StatusForbidden, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	writeError(w, statusFor(err), msg, err)
}

func statusFor(err error) int {
	switch {
	case booking.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrUsernameTaken):
		return http.StatusConflict
	case booking.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
