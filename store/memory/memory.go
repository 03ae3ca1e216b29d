/*
Package memory provides an in-memory implementation of booking.Registry
for tests and development.

WithTx is simulated with a snapshot of the whole state: if the unit of
work fails, the snapshot is restored, so partial effects never leak -
the same all-or-nothing contract the SQL stores give the engine. A
single mutex serializes transactions, which also provides the per-slot
mutual exclusion the engine relies on.
*/
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
)

type slotKey struct {
	Turf booking.TurfID
	Unix int64
}

type Memory struct {
	mu        sync.RWMutex
	users     map[booking.UserID]booking.User
	usernames map[string]booking.UserID
	turfs     map[booking.TurfID]booking.Turf
	bookings  map[booking.BookingID]booking.Booking
	confirmed map[slotKey]booking.BookingID
	entries   map[ledger.AccountID][]ledger.Entry
}

func New() *Memory {
	return &Memory{
		users:     make(map[booking.UserID]booking.User),
		usernames: make(map[string]booking.UserID),
		turfs:     make(map[booking.TurfID]booking.Turf),
		bookings:  make(map[booking.BookingID]booking.Booking),
		confirmed: make(map[slotKey]booking.BookingID),
		entries:   make(map[ledger.AccountID][]ledger.Entry),
	}
}

var _ booking.Registry = (*Memory)(nil)

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id booking.UserID) (*booking.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) CreateUser(_ context.Context, u *booking.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.usernames[u.Username]; taken {
		return booking.ErrUsernameTaken
	}
	m.users[u.ID] = *u
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*booking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usernames[username]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "user", ID: username}
	}
	return m.getUserLocked(id)
}

func (m *Memory) GetTurf(ctx context.Context, id booking.TurfID) (*booking.Turf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTurfLocked(id)
}

func (m *Memory) getTurfLocked(id booking.TurfID) (*booking.Turf, error) {
	t, ok := m.turfs[id]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	return &t, nil
}

func (m *Memory) SaveTurf(_ context.Context, t *booking.Turf) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turfs[t.ID] = *t
	return nil
}

func (m *Memory) DeleteTurf(_ context.Context, id booking.TurfID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.turfs[id]; !ok {
		return &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	delete(m.turfs, id)
	return nil
}

func (m *Memory) ListTurfs(_ context.Context) ([]booking.Turf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turfs := make([]booking.Turf, 0, len(m.turfs))
	for _, t := range m.turfs {
		turfs = append(turfs, t)
	}
	sort.Slice(turfs, func(i, j int) bool {
		return strings.ToLower(turfs[i].Name) < strings.ToLower(turfs[j].Name)
	})
	return turfs, nil
}

// =============================================================================
// SLOT REGISTRY
// =============================================================================

func (m *Memory) IsOccupied(ctx context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOccupiedLocked(turfID, slotStart), nil
}

func (m *Memory) isOccupiedLocked(turfID booking.TurfID, slotStart time.Time) bool {
	_, taken := m.confirmed[slotKey{Turf: turfID, Unix: slotStart.Unix()}]
	return taken
}

func (m *Memory) InsertIfFree(ctx context.Context, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertIfFreeLocked(b)
}

func (m *Memory) insertIfFreeLocked(b *booking.Booking) error {
	key := slotKey{Turf: b.TurfID, Unix: b.SlotStart.Unix()}
	if _, taken := m.confirmed[key]; taken {
		return booking.ErrSlotUnavailable
	}
	m.bookings[b.ID] = *b
	m.confirmed[key] = b.ID
	return nil
}

func (m *Memory) MarkCancelled(ctx context.Context, id booking.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markCancelledLocked(id)
}

func (m *Memory) markCancelledLocked(id booking.BookingID) error {
	b, ok := m.bookings[id]
	if !ok {
		return &booking.NotFoundError{Kind: "booking", ID: string(id)}
	}
	if b.Status != booking.StatusConfirmed {
		return booking.ErrAlreadyCancelled
	}
	b.Status = booking.StatusCancelled
	m.bookings[id] = b
	delete(m.confirmed, slotKey{Turf: b.TurfID, Unix: b.SlotStart.Unix()})
	return nil
}

func (m *Memory) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookingLocked(id)
}

func (m *Memory) getBookingLocked(id booking.BookingID) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, &booking.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return &b, nil
}

func (m *Memory) BookedSlots(ctx context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bookedSlotsLocked(turfID, from, to), nil
}

func (m *Memory) bookedSlotsLocked(turfID booking.TurfID, from, to time.Time) []time.Time {
	var slots []time.Time
	for key := range m.confirmed {
		if key.Turf != turfID {
			continue
		}
		t := time.Unix(key.Unix, 0).UTC()
		if t.Before(from) || !t.Before(to) {
			continue
		}
		slots = append(slots, t)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

func (m *Memory) BookingsByUser(_ context.Context, id booking.UserID) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bookings []booking.Booking
	for _, b := range m.bookings {
		if b.UserID == id {
			bookings = append(bookings, b)
		}
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].SlotStart.After(bookings[j].SlotStart) })
	return bookings, nil
}

func (m *Memory) RecentBookings(_ context.Context, limit int) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bookings := make([]booking.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		bookings = append(bookings, b)
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].CreatedAt.After(bookings[j].CreatedAt) })
	if limit > 0 && len(bookings) > limit {
		bookings = bookings[:limit]
	}
	return bookings, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) Append(ctx context.Context, entries ...ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(entries)
	return nil
}

func (m *Memory) appendLocked(entries []ledger.Entry) {
	for _, e := range entries {
		m.entries[e.Account] = append(m.entries[e.Account], e)
	}
}

func (m *Memory) Entries(ctx context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(account), nil
}

func (m *Memory) entriesLocked(account ledger.AccountID) []ledger.Entry {
	out := make([]ledger.Entry, len(m.entries[account]))
	copy(out, m.entries[account])
	return out
}

func (m *Memory) Balance(ctx context.Context, account ledger.AccountID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.Sum(m.entries[account]), nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn against an unlocked view while holding the write lock,
// restoring a snapshot if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	bookings  map[booking.BookingID]booking.Booking
	confirmed map[slotKey]booking.BookingID
	entries   map[ledger.AccountID][]ledger.Entry
}

func (m *Memory) snapshot() snapshot {
	bookings := make(map[booking.BookingID]booking.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v
	}
	confirmed := make(map[slotKey]booking.BookingID, len(m.confirmed))
	for k, v := range m.confirmed {
		confirmed[k] = v
	}
	entries := make(map[ledger.AccountID][]ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]ledger.Entry(nil), v...)
	}
	return snapshot{bookings: bookings, confirmed: confirmed, entries: entries}
}

func (m *Memory) restore(s snapshot) {
	m.bookings = s.bookings
	m.confirmed = s.confirmed
	m.entries = s.entries
}

// txView exposes the locked helpers as a booking.Store. The parent's mutex
// is already held by WithTx.
type txView struct {
	m *Memory
}

func (v *txView) GetUser(_ context.Context, id booking.UserID) (*booking.User, error) {
	return v.m.getUserLocked(id)
}

func (v *txView) GetTurf(_ context.Context, id booking.TurfID) (*booking.Turf, error) {
	return v.m.getTurfLocked(id)
}

func (v *txView) IsOccupied(_ context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	return v.m.isOccupiedLocked(turfID, slotStart), nil
}

func (v *txView) InsertIfFree(_ context.Context, b *booking.Booking) error {
	return v.m.insertIfFreeLocked(b)
}

func (v *txView) MarkCancelled(_ context.Context, id booking.BookingID) error {
	return v.m.markCancelledLocked(id)
}

func (v *txView) GetBooking(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	return v.m.getBookingLocked(id)
}

func (v *txView) BookedSlots(_ context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	return v.m.bookedSlotsLocked(turfID, from, to), nil
}

func (v *txView) Append(_ context.Context, entries ...ledger.Entry) error {
	v.m.appendLocked(entries)
	return nil
}

func (v *txView) Entries(_ context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	return v.m.entriesLocked(account), nil
}

func (v *txView) Balance(_ context.Context, account ledger.AccountID) (int64, error) {
	return ledger.Sum(v.m.entries[account]), nil
}
