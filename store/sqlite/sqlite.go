/*
Package sqlite provides the SQLite-backed implementation of booking.Registry.

PURPOSE:
  Persists users, turfs, bookings, and the loyalty ledger in one SQLite
  database. Implements every storage interface the engine and the facade
  consume, including WithTx for the engine's atomic units of work.

SLOT EXCLUSIVITY:
  The invariant "at most one confirmed booking per (turf, slot)" is
  enforced by a partial unique index evaluated at commit time:

    CREATE UNIQUE INDEX idx_bookings_slot_confirmed
        ON bookings(turf_id, slot_start) WHERE status = 'confirmed';

  InsertIfFree therefore has test-and-set semantics - a losing writer
  gets a unique-constraint failure, never a silent double booking.

LEDGER:
  ledger_entries is append-only: no UPDATE, no DELETE. Cancellations
  append reversal entries. Balance is SUM(delta).

WAL MODE:
  The database is opened with WAL for better concurrency: readers don't
  block, one writer at a time, better crash recovery. A process-wide
  mutex serializes writers; in PostgreSQL (store/postgres) database-level
  concurrency control takes over.

USAGE:
  store, err := sqlite.New("./data/turf.db")  // ":memory:" for tests
  engine := booking.NewEngine(store, booking.DefaultRates())
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
)

// Store implements booking.Registry using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turfs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		description TEXT,
		price_per_hour TEXT NOT NULL,
		image_url TEXT,
		created_at TEXT NOT NULL
	);

	-- Bookings are never deleted; cancellation is a status flip.
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		turf_id TEXT NOT NULL,
		slot_start TEXT NOT NULL,
		status TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		points_redeemed INTEGER NOT NULL DEFAULT 0,
		points_earned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one confirmed booking per turf and slot.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_slot_confirmed
		ON bookings(turf_id, slot_start) WHERE status = 'confirmed';

	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bookings_turf_slot
		ON bookings(turf_id, slot_start);

	-- Loyalty ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		shortfall INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account
		ON ledger_entries(account_id, created_at ASC);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the same query helpers
// serve plain calls and transactional ones.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DIRECTORY (booking.Directory)
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(ctx, s.db, id)
}

func (s *Store) getUser(ctx context.Context, q dbtx, id booking.UserID) (*booking.User, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = ?`, id)
	return scanUser(row, string(id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*booking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = ?`, username)
	return scanUser(row, username)
}

func scanUser(row *sql.Row, ref string) (*booking.User, error) {
	var (
		u         booking.User
		email     sql.NullString
		admin     int
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &admin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &booking.NotFoundError{Kind: "user", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	u.Admin = admin != 0
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *booking.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, nullString(u.Email), u.PasswordHash, boolInt(u.Admin),
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetTurf(ctx context.Context, id booking.TurfID) (*booking.Turf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTurf(ctx, s.db, id)
}

func (s *Store) getTurf(ctx context.Context, q dbtx, id booking.TurfID) (*booking.Turf, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, location, description, price_per_hour, image_url, created_at
		 FROM turfs WHERE id = ?`, id)

	var (
		t                          booking.Turf
		location, description, img sql.NullString
		price, createdAt           string
	)
	err := row.Scan(&t.ID, &t.Name, &location, &description, &price, &img, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan turf: %w", err)
	}
	t.Location = location.String
	t.Description = description.String
	t.ImageURL = img.String
	t.PricePerHour = mustDecimal(price)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *Store) SaveTurf(ctx context.Context, t *booking.Turf) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turfs (id, name, location, description, price_per_hour, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			description = excluded.description,
			price_per_hour = excluded.price_per_hour,
			image_url = excluded.image_url`,
		t.ID, t.Name, nullString(t.Location), nullString(t.Description),
		t.PricePerHour.String(), nullString(t.ImageURL),
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save turf: %w", err)
	}
	return nil
}

func (s *Store) DeleteTurf(ctx context.Context, id booking.TurfID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Bookings referencing the turf stay for the audit trail.
	res, err := s.db.ExecContext(ctx, `DELETE FROM turfs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete turf: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	return nil
}

func (s *Store) ListTurfs(ctx context.Context) ([]booking.Turf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, description, price_per_hour, image_url, created_at
		 FROM turfs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list turfs: %w", err)
	}
	defer rows.Close()

	var turfs []booking.Turf
	for rows.Next() {
		var (
			t                          booking.Turf
			location, description, img sql.NullString
			price, createdAt           string
		)
		if err := rows.Scan(&t.ID, &t.Name, &location, &description, &price, &img, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turf: %w", err)
		}
		t.Location = location.String
		t.Description = description.String
		t.ImageURL = img.String
		t.PricePerHour = mustDecimal(price)
		t.CreatedAt = parseTime(createdAt)
		turfs = append(turfs, t)
	}
	return turfs, rows.Err()
}

// =============================================================================
// SLOT REGISTRY (booking.SlotRegistry)
// =============================================================================

func (s *Store) IsOccupied(ctx context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOccupied(ctx, s.db, turfID, slotStart)
}

func (s *Store) isOccupied(ctx context.Context, q dbtx, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE turf_id = ? AND slot_start = ? AND status = ?`,
		turfID, slotStart.UTC().Format(time.RFC3339), booking.StatusConfirmed,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) InsertIfFree(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertIfFree(ctx, s.db, b)
}

func (s *Store) insertIfFree(ctx context.Context, q dbtx, b *booking.Booking) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bookings
		(id, user_id, turf_id, slot_start, status, amount_paid, points_redeemed, points_earned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.TurfID,
		b.SlotStart.UTC().Format(time.RFC3339),
		b.Status, b.AmountPaid.String(), b.PointsRedeemed, b.PointsEarned,
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrSlotUnavailable
		}
		if isBusyError(err) {
			return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) MarkCancelled(ctx context.Context, id booking.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCancelled(ctx, s.db, id)
}

func (s *Store) markCancelled(ctx context.Context, q dbtx, id booking.BookingID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE id = ? AND status = ?`,
		booking.StatusCancelled, id, booking.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getBooking(ctx, q, id); err != nil {
			return err
		}
		return booking.ErrAlreadyCancelled
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBooking(ctx, s.db, id)
}

func (s *Store) getBooking(ctx context.Context, q dbtx, id booking.BookingID) (*booking.Booking, error) {
	rows, err := q.QueryContext(ctx, bookingSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &booking.NotFoundError{Kind: "booking", ID: string(id)}
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) BookedSlots(ctx context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookedSlots(ctx, s.db, turfID, from, to)
}

func (s *Store) bookedSlots(ctx context.Context, q dbtx, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT slot_start FROM bookings
		WHERE turf_id = ? AND status = ? AND slot_start >= ? AND slot_start < ?
		ORDER BY slot_start ASC`,
		turfID, booking.StatusConfirmed,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query booked slots: %w", err)
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		slots = append(slots, parseTime(raw))
	}
	return slots, rows.Err()
}

const bookingSelect = `
	SELECT id, user_id, turf_id, slot_start, status, amount_paid,
	       points_redeemed, points_earned, created_at
	FROM bookings`

func scanBooking(rows *sql.Rows) (booking.Booking, error) {
	var (
		b                    booking.Booking
		slotStart, createdAt string
		amount               string
	)
	err := rows.Scan(&b.ID, &b.UserID, &b.TurfID, &slotStart, &b.Status,
		&amount, &b.PointsRedeemed, &b.PointsEarned, &createdAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.SlotStart = parseTime(slotStart)
	b.AmountPaid = mustDecimal(amount)
	b.CreatedAt = parseTime(createdAt)
	return b, nil
}

func (s *Store) BookingsByUser(ctx context.Context, id booking.UserID) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBookings(ctx, s.db, bookingSelect+` WHERE user_id = ? ORDER BY slot_start DESC`, id)
}

func (s *Store) RecentBookings(ctx context.Context, limit int) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBookings(ctx, s.db, bookingSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryBookings(ctx context.Context, q dbtx, query string, args ...any) ([]booking.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// LEDGER (ledger.Ledger)
// =============================================================================

func (s *Store) Append(ctx context.Context, entries ...ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) > 1 {
		// Multi-entry appends outside WithTx still commit atomically.
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer sqlTx.Rollback()
		if err := s.appendEntries(ctx, sqlTx, entries); err != nil {
			return err
		}
		return sqlTx.Commit()
	}
	return s.appendEntries(ctx, s.db, entries)
}

func (s *Store) appendEntries(ctx context.Context, q dbtx, entries []ledger.Entry) error {
	for _, e := range entries {
		_, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(id, account_id, delta, kind, reference_id, reason, shortfall, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Account, e.Delta, e.Kind,
			nullString(e.Reference), nullString(e.Reason), e.Shortfall,
			e.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries(ctx, s.db, account)
}

func (s *Store) entries(ctx context.Context, q dbtx, account ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, delta, kind, reference_id, reason, shortfall, created_at
		FROM ledger_entries WHERE account_id = ?
		ORDER BY created_at ASC, id ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                 ledger.Entry
			reference, reason sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Delta, &e.Kind, &reference, &reason, &e.Shortfall, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reference = reference.String
		e.Reason = reason.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Balance(ctx context.Context, account ledger.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(ctx, s.db, account)
}

func (s *Store) balance(ctx context.Context, q dbtx, account ledger.AccountID) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = ?`, account,
	).Scan(&balance)
	return balance, err
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The mutex is held for
// the whole unit of work, so the transactional view below runs unlocked.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{parent: s, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("%w: %v", booking.ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
	}
	return nil
}

type txStore struct {
	parent *Store
	tx     *sql.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	return ts.parent.getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetTurf(ctx context.Context, id booking.TurfID) (*booking.Turf, error) {
	return ts.parent.getTurf(ctx, ts.tx, id)
}

func (ts *txStore) IsOccupied(ctx context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	return ts.parent.isOccupied(ctx, ts.tx, turfID, slotStart)
}

func (ts *txStore) InsertIfFree(ctx context.Context, b *booking.Booking) error {
	return ts.parent.insertIfFree(ctx, ts.tx, b)
}

func (ts *txStore) MarkCancelled(ctx context.Context, id booking.BookingID) error {
	return ts.parent.markCancelled(ctx, ts.tx, id)
}

func (ts *txStore) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return ts.parent.getBooking(ctx, ts.tx, id)
}

func (ts *txStore) BookedSlots(ctx context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	return ts.parent.bookedSlots(ctx, ts.tx, turfID, from, to)
}

func (ts *txStore) Append(ctx context.Context, entries ...ledger.Entry) error {
	return ts.parent.appendEntries(ctx, ts.tx, entries)
}

func (ts *txStore) Entries(ctx context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	return ts.parent.entries(ctx, ts.tx, account)
}

func (ts *txStore) Balance(ctx context.Context, account ledger.AccountID) (int64, error) {
	return ts.parent.balance(ctx, ts.tx, account)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(raw string) time.Time {
	t, _ := time.Parse(time.RFC3339, raw)
	return t
}

func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
