package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"zakupbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// HasProcessed checks whether a spreadsheet file has already been evaluated.
func (s *SQLite) HasProcessed(ctx context.Context, fileUID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_files WHERE file_uid = ?`, fileUID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records a spreadsheet file as evaluated. Idempotent.
func (s *SQLite) MarkProcessed(ctx context.Context, fileUID string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_files (file_uid, processed_at) VALUES (?, ?)`,
		fileUID, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// NewRows returns the rows not yet stored for the customer, preserving
// input order.
func (s *SQLite) NewRows(ctx context.Context, customerBIN string, rows []string) ([]string, error) {
	known, err := s.customerRows(ctx, customerBIN)
	if err != nil {
		return nil, err
	}

	var fresh []string
	for _, row := range rows {
		if !known[row] {
			fresh = append(fresh, row)
		}
	}
	return fresh, nil
}

// RecordRows unions the given rows into the customer's stored set. The
// write is committed before returning, so later failures in the same cycle
// never lose dedup state.
func (s *SQLite) RecordRows(ctx context.Context, customerBIN string, rows []string) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO customer_rows (customer_bin, row_text, seen_at) VALUES (?, ?, ?)`,
			customerBIN, row, now,
		); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) customerRows(ctx context.Context, customerBIN string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_text FROM customer_rows WHERE customer_bin = ?`, customerBIN,
	)
	if err != nil {
		return nil, fmt.Errorf("query customer rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	known := make(map[string]bool)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		known[text] = true
	}
	return known, rows.Err()
}

// Subscribe adds a user to the notification subscriber set. Idempotent.
func (s *SQLite) Subscribe(ctx context.Context, userID int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers (user_id, subscribed_at) VALUES (?, ?)`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a user from the subscriber set.
func (s *SQLite) Unsubscribe(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// IsSubscribed checks whether a user receives scheduled notifications.
func (s *SQLite) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}

// ListSubscribers returns all subscribed user IDs.
func (s *SQLite) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscribers ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetEmail stores or replaces a user's delivery address.
func (s *SQLite) SetEmail(ctx context.Context, userID int64, address string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (user_id, address) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET address = excluded.address`,
		userID, address,
	)
	if err != nil {
		return fmt.Errorf("set email: %w", err)
	}
	return nil
}

// Email returns a user's delivery address, or "" when none is on file.
func (s *SQLite) Email(ctx context.Context, userID int64) (string, error) {
	var address string
	err := s.db.QueryRowContext(ctx,
		`SELECT address FROM emails WHERE user_id = ?`, userID,
	).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get email: %w", err)
	}
	return address, nil
}
