/*
Package postgres provides the PostgreSQL-backed implementation of
booking.Registry.

Same schema and contract as store/sqlite, with the concurrency control
moved into the database: WithTx runs serializable transactions, the
partial unique index on (turf_id, slot_start) WHERE status='confirmed'
makes InsertIfFree a commit-time test-and-set, and serialization
failures (SQLSTATE 40001) surface as the engine's retryable conflict.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/ledger"
)

// Store implements booking.Registry using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turfs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		description TEXT,
		price_per_hour TEXT NOT NULL,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		turf_id TEXT NOT NULL,
		slot_start TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		points_redeemed BIGINT NOT NULL DEFAULT 0,
		points_earned BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_slot_confirmed
		ON bookings(turf_id, slot_start) WHERE status = 'confirmed';
	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bookings_turf_slot
		ON bookings(turf_id, slot_start);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		delta BIGINT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		shortfall BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account
		ON ledger_entries(account_id, created_at ASC);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	return getUser(ctx, s.pool, id)
}

func getUser(ctx context.Context, q dbtx, id booking.UserID) (*booking.User, error) {
	row := q.QueryRow(ctx,
		`SELECT id, username, COALESCE(email, ''), password_hash, is_admin, created_at
		 FROM users WHERE id = $1`, id)
	return scanUser(row, string(id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*booking.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, COALESCE(email, ''), password_hash, is_admin, created_at
		 FROM users WHERE username = $1`, username)
	return scanUser(row, username)
}

func scanUser(row pgx.Row, ref string) (*booking.User, error) {
	var u booking.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Admin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "user", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *booking.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Admin, u.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return booking.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetTurf(ctx context.Context, id booking.TurfID) (*booking.Turf, error) {
	return getTurf(ctx, s.pool, id)
}

func getTurf(ctx context.Context, q dbtx, id booking.TurfID) (*booking.Turf, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, COALESCE(location, ''), COALESCE(description, ''),
		       price_per_hour, COALESCE(image_url, ''), created_at
		FROM turfs WHERE id = $1`, id)

	var (
		t     booking.Turf
		price string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Location, &t.Description, &price, &t.ImageURL, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan turf: %w", err)
	}
	t.PricePerHour = mustDecimal(price)
	return &t, nil
}

func (s *Store) SaveTurf(ctx context.Context, t *booking.Turf) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turfs (id, name, location, description, price_per_hour, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			price_per_hour = EXCLUDED.price_per_hour,
			image_url = EXCLUDED.image_url`,
		t.ID, t.Name, t.Location, t.Description, t.PricePerHour.String(), t.ImageURL, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save turf: %w", err)
	}
	return nil
}

func (s *Store) DeleteTurf(ctx context.Context, id booking.TurfID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM turfs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete turf: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &booking.NotFoundError{Kind: "turf", ID: string(id)}
	}
	return nil
}

func (s *Store) ListTurfs(ctx context.Context) ([]booking.Turf, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(location, ''), COALESCE(description, ''),
		       price_per_hour, COALESCE(image_url, ''), created_at
		FROM turfs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list turfs: %w", err)
	}
	defer rows.Close()

	var turfs []booking.Turf
	for rows.Next() {
		var (
			t     booking.Turf
			price string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Location, &t.Description, &price, &t.ImageURL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turf: %w", err)
		}
		t.PricePerHour = mustDecimal(price)
		turfs = append(turfs, t)
	}
	return turfs, rows.Err()
}

// =============================================================================
// SLOT REGISTRY
// =============================================================================

func (s *Store) IsOccupied(ctx context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	return isOccupied(ctx, s.pool, turfID, slotStart)
}

func isOccupied(ctx context.Context, q dbtx, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE turf_id = $1 AND slot_start = $2 AND status = $3`,
		turfID, slotStart.UTC(), booking.StatusConfirmed,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) InsertIfFree(ctx context.Context, b *booking.Booking) error {
	return insertIfFree(ctx, s.pool, b)
}

func insertIfFree(ctx context.Context, q dbtx, b *booking.Booking) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bookings
		(id, user_id, turf_id, slot_start, status, amount_paid, points_redeemed, points_earned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.TurfID, b.SlotStart.UTC(), b.Status,
		b.AmountPaid.String(), b.PointsRedeemed, b.PointsEarned, b.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) MarkCancelled(ctx context.Context, id booking.BookingID) error {
	return markCancelled(ctx, s.pool, id)
}

func markCancelled(ctx context.Context, q dbtx, id booking.BookingID) error {
	tag, err := q.Exec(ctx,
		`UPDATE bookings SET status = $1 WHERE id = $2 AND status = $3`,
		booking.StatusCancelled, id, booking.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getBooking(ctx, q, id); err != nil {
			return err
		}
		return booking.ErrAlreadyCancelled
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return getBooking(ctx, s.pool, id)
}

const bookingSelect = `
	SELECT id, user_id, turf_id, slot_start, status, amount_paid,
	       points_redeemed, points_earned, created_at
	FROM bookings`

func getBooking(ctx context.Context, q dbtx, id booking.BookingID) (*booking.Booking, error) {
	row := q.QueryRow(ctx, bookingSelect+` WHERE id = $1`, id)

	var (
		b      booking.Booking
		amount string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.TurfID, &b.SlotStart, &b.Status,
		&amount, &b.PointsRedeemed, &b.PointsEarned, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &booking.NotFoundError{Kind: "booking", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.AmountPaid = mustDecimal(amount)
	return &b, nil
}

func (s *Store) BookedSlots(ctx context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	return bookedSlots(ctx, s.pool, turfID, from, to)
}

func bookedSlots(ctx context.Context, q dbtx, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	rows, err := q.Query(ctx, `
		SELECT slot_start FROM bookings
		WHERE turf_id = $1 AND status = $2 AND slot_start >= $3 AND slot_start < $4
		ORDER BY slot_start ASC`,
		turfID, booking.StatusConfirmed, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query booked slots: %w", err)
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		slots = append(slots, t.UTC())
	}
	return slots, rows.Err()
}

func (s *Store) BookingsByUser(ctx context.Context, id booking.UserID) ([]booking.Booking, error) {
	return queryBookings(ctx, s.pool, bookingSelect+` WHERE user_id = $1 ORDER BY slot_start DESC`, id)
}

func (s *Store) RecentBookings(ctx context.Context, limit int) ([]booking.Booking, error) {
	return queryBookings(ctx, s.pool, bookingSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
}

func queryBookings(ctx context.Context, q dbtx, query string, args ...any) ([]booking.Booking, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		var (
			b      booking.Booking
			amount string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.TurfID, &b.SlotStart, &b.Status,
			&amount, &b.PointsRedeemed, &b.PointsEarned, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		b.AmountPaid = mustDecimal(amount)
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, entries ...ledger.Entry) error {
	return appendEntries(ctx, s.pool, entries)
}

func appendEntries(ctx context.Context, q dbtx, entries []ledger.Entry) error {
	for _, e := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO ledger_entries
			(id, account_id, delta, kind, reference_id, reason, shortfall, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.Account, e.Delta, e.Kind, e.Reference, e.Reason, e.Shortfall, e.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	return entries(ctx, s.pool, account)
}

func entries(ctx context.Context, q dbtx, account ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, account_id, delta, kind, COALESCE(reference_id, ''), COALESCE(reason, ''), shortfall, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at ASC, id ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.Account, &e.Delta, &e.Kind, &e.Reference, &e.Reason, &e.Shortfall, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Balance(ctx context.Context, account ledger.AccountID) (int64, error) {
	return balance(ctx, s.pool, account)
}

func balance(ctx context.Context, q dbtx, account ledger.AccountID) (int64, error) {
	var b int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = $1`, account,
	).Scan(&b)
	return b, err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn in a serializable transaction. Commit-time serialization
// failures map to the engine's retryable conflict.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return mapTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("commit failed: %w", err))
	}
	return nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", booking.ErrConflict, err)
	}
	return err
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetTurf(ctx context.Context, id booking.TurfID) (*booking.Turf, error) {
	return getTurf(ctx, ts.tx, id)
}

func (ts *txStore) IsOccupied(ctx context.Context, turfID booking.TurfID, slotStart time.Time) (bool, error) {
	return isOccupied(ctx, ts.tx, turfID, slotStart)
}

func (ts *txStore) InsertIfFree(ctx context.Context, b *booking.Booking) error {
	return insertIfFree(ctx, ts.tx, b)
}

func (ts *txStore) MarkCancelled(ctx context.Context, id booking.BookingID) error {
	return markCancelled(ctx, ts.tx, id)
}

func (ts *txStore) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return getBooking(ctx, ts.tx, id)
}

func (ts *txStore) BookedSlots(ctx context.Context, turfID booking.TurfID, from, to time.Time) ([]time.Time, error) {
	return bookedSlots(ctx, ts.tx, turfID, from, to)
}

func (ts *txStore) Append(ctx context.Context, es ...ledger.Entry) error {
	return appendEntries(ctx, ts.tx, es)
}

func (ts *txStore) Entries(ctx context.Context, account ledger.AccountID) ([]ledger.Entry, error) {
	return entries(ctx, ts.tx, account)
}

func (ts *txStore) Balance(ctx context.Context, account ledger.AccountID) (int64, error) {
	return balance(ctx, ts.tx, account)
}

func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
