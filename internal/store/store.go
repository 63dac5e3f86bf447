package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Exchange is one answered chat request as seen by the relay
type Exchange struct {
	ID        int64
	RequestID string
	Username  string
	Provider  string
	Message   string
	Response  string
	Cached    bool
	Error     string // Empty when the provider answered
	Duration  time.Duration
	CreatedAt time.Time
}

// DB is the relay's SQLite exchange log
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the exchange log at path. ":memory:" is
// accepted for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		first_seen DATETIME,
		last_seen DATETIME
	);`

	createExchangesTable := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		username TEXT,
		provider TEXT,
		message TEXT,
		response TEXT,
		cached BOOLEAN,
		error TEXT,
		duration_ms INTEGER,
		created_at DATETIME,
		FOREIGN KEY(username) REFERENCES users(username)
	);`

	if _, err := db.Exec(createUsersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}

	if _, err := db.Exec(createExchangesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create exchanges table: %w", err)
	}

	return &DB{db: db}, nil
}

// Record saves an exchange and returns its ID
func (s *DB) Record(ctx context.Context, e Exchange) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (username, first_seen, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET last_seen = excluded.last_seen`,
		e.Username, e.CreatedAt, e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save user: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges
		(request_id, username, provider, message, response, cached, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Username, e.Provider, e.Message, e.Response, e.Cached, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save exchange: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read exchange id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// Recent returns up to limit exchanges, newest first. An empty username
// returns exchanges of every user.
func (s *DB) Recent(ctx context.Context, username string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, request_id, username, provider, message, response, cached, error, duration_ms, created_at
		FROM exchanges`
	args := []interface{}{}
	if username != "" {
		query += " WHERE username = ?"
		args = append(args, username)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []Exchange{}
	for rows.Next() {
		var e Exchange
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Username, &e.Provider, &e.Message,
			&e.Response, &e.Cached, &e.Error, &durationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		exchanges = append(exchanges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}
	return exchanges, nil
}

// UserCount returns how many distinct users have chatted
func (s *DB) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Ping checks the database connection
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DB) Close() error {
	return s.db.Close()
}
