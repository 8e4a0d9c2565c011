// Package postgres is the durable Repository used in production. Expected
// schema:
//
//	offline_queue    (reference_number text primary key, payload jsonb,
//	                  status text, attempts int, last_error text,
//	                  created_at timestamptz, updated_at timestamptz,
//	                  synced_at timestamptz)
//	bill_sequences   (location_id text, prefix text, month int, year int,
//	                  seq int, primary key (location_id, prefix, month, year))
//	staff_members    (id text primary key, name text)
//	trade_in_prices  (battery_size int, condition text, amount numeric,
//	                  primary key (battery_size, condition))
//	users            (username text primary key, password text, role text,
//	                  active bool, created_at timestamptz)
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"altarath/pos/internal/domain"
	"altarath/pos/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnqueueTransaction(ctx context.Context, entry domain.QueueEntry) error {
	if entry.ReferenceNumber == "" {
		return store.ErrInvalidEntry
	}
	if entry.Status == "" {
		entry.Status = domain.QueuePendingSync
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal queue payload")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queue (reference_number, payload, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (reference_number) DO NOTHING
	`, entry.ReferenceNumber, payload, entry.Status, entry.Attempts, entry.LastError)
	if err != nil {
		return errors.Wrap(err, "enqueue transaction")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "enqueue transaction")
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) PendingTransactions(ctx context.Context) ([]domain.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference_number, payload, status, attempts, COALESCE(last_error, ''), created_at, updated_at, synced_at
		FROM offline_queue
		WHERE status = $1
		ORDER BY created_at
	`, domain.QueuePendingSync)
	if err != nil {
		return nil, errors.Wrap(err, "scan pending queue")
	}
	defer rows.Close()

	entries := make([]domain.QueueEntry, 0, 16)
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "scan pending queue")
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (domain.QueueEntry, error) {
	var (
		entry    domain.QueueEntry
		payload  []byte
		syncedAt sql.NullTime
	)
	if err := row.Scan(&entry.ReferenceNumber, &payload, &entry.Status, &entry.Attempts,
		&entry.LastError, &entry.CreatedAt, &entry.UpdatedAt, &syncedAt); err != nil {
		return domain.QueueEntry{}, errors.Wrap(err, "scan queue entry")
	}
	if err := json.Unmarshal(payload, &entry.Payload); err != nil {
		return domain.QueueEntry{}, errors.Wrap(err, "unmarshal queue payload")
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		entry.SyncedAt = &t
	}
	return entry, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, referenceNumber string) (*domain.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reference_number, payload, status, attempts, COALESCE(last_error, ''), created_at, updated_at, synced_at
		FROM offline_queue
		WHERE reference_number = $1
	`, referenceNumber)

	entry, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) MarkSynced(ctx context.Context, referenceNumber string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_queue
		SET status = $2, synced_at = $3, updated_at = now()
		WHERE reference_number = $1 AND status <> $2
	`, referenceNumber, domain.QueueSynced, at)
	if err != nil {
		return errors.Wrap(err, "mark synced")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "mark synced")
	}
	if affected == 0 {
		// either unknown or already synced; disambiguate
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM offline_queue WHERE reference_number = $1`, referenceNumber).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "mark synced")
		}
		return store.ErrAlreadySynced
	}
	return nil
}

func (s *Store) RecordSyncAttempt(ctx context.Context, referenceNumber string, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_queue
		SET attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE reference_number = $1
	`, referenceNumber, lastError)
	if err != nil {
		return errors.Wrap(err, "record sync attempt")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "record sync attempt")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM offline_queue
		WHERE status = $1 AND synced_at < $2
	`, domain.QueueSynced, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "purge synced")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "purge synced")
	}
	return int(affected), nil
}

func (s *Store) QueueStatus(ctx context.Context) (domain.SyncStatus, error) {
	var status domain.SyncStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		FROM offline_queue
	`, domain.QueuePendingSync, domain.QueueSynced).Scan(&status.Pending, &status.Synced)
	if err != nil {
		return domain.SyncStatus{}, errors.Wrap(err, "queue status")
	}
	return status, nil
}

func (s *Store) NextBillSequence(ctx context.Context, locationID string, prefix string, month int, year int) (int, error) {
	if locationID == "" || prefix == "" {
		return 0, store.ErrInvalidEntry
	}

	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bill_sequences (location_id, prefix, month, year, seq)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (location_id, prefix, month, year)
		DO UPDATE SET seq = bill_sequences.seq + 1
		RETURNING seq
	`, locationID, prefix, month, year).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "next bill sequence")
	}
	return seq, nil
}

func (s *Store) GetStaffMember(ctx context.Context, id string) (*domain.StaffMember, error) {
	var m domain.StaffMember
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM staff_members WHERE id = $1`, id).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get staff member")
	}
	return &m, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]domain.StaffMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM staff_members ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list staff")
	}
	defer rows.Close()

	members := make([]domain.StaffMember, 0, 16)
	for rows.Next() {
		var m domain.StaffMember
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, errors.Wrap(err, "list staff")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list staff")
	}
	return members, nil
}

func (s *Store) ListTradeInPrices(ctx context.Context) ([]domain.TradeInPrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT battery_size, condition, amount
		FROM trade_in_prices
		ORDER BY battery_size, condition
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list trade-in prices")
	}
	defer rows.Close()

	prices := make([]domain.TradeInPrice, 0, 12)
	for rows.Next() {
		var p domain.TradeInPrice
		if err := rows.Scan(&p.BatterySize, &p.Condition, &p.Amount); err != nil {
			return nil, errors.Wrap(err, "list trade-in prices")
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list trade-in prices")
	}
	return prices, nil
}

func (s *Store) GetTradeInPrice(ctx context.Context, size int, condition domain.TradeInCondition) (*domain.TradeInPrice, error) {
	var p domain.TradeInPrice
	err := s.db.QueryRowContext(ctx, `
		SELECT battery_size, condition, amount
		FROM trade_in_prices
		WHERE battery_size = $1 AND condition = $2
	`, size, condition).Scan(&p.BatterySize, &p.Condition, &p.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get trade-in price")
	}
	return &p, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidEntry
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "create user")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "create user")
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if password == "" {
		return store.ErrInvalidEntry
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return errors.Wrap(err, "update user password")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update user password")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "list users")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}
