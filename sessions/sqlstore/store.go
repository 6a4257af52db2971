// Package sqlstore persists sessions in a SQL table. SQLite (modernc.org/sqlite)
// and MySQL (github.com/go-sql-driver/mysql) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	apperrors "github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	_ "modernc.org/sqlite"
)

// Driver names as registered with database/sql
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const pingTimeout = 5 * time.Second

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS oidc_sessions (
		id         TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	DriverMySQL: `CREATE TABLE IF NOT EXISTS oidc_sessions (
		id         VARCHAR(64) PRIMARY KEY,
		data       BLOB NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

var _ sessions.Repo = (*Store)(nil)

// Store is a sessions.Repo backed by database/sql.
type Store struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// Open connects to the database, verifies the connection and creates the table if needed.
func Open(ctx context.Context, driver, dsn string, maxAge time.Duration) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("[sqlstore Open] unsupported driver %q", driver)
	}

	if driver == DriverMySQL {
		var err error
		if dsn, err = normalizeMySQLDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore Open] open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[sqlstore Open] ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[sqlstore Open] create table: %w", err)
	}

	return &Store{db: db, maxAge: maxAge, now: time.Now}, nil
}

// WithClock replaces the time source used for expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, session *sessions.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("[sqlstore Upsert] session with ID is required")
	}

	now := s.now()
	session.UpdatedAt = now
	data, err := sessions.Marshal(session)
	if err != nil {
		return err
	}

	// REPLACE INTO is understood by both SQLite and MySQL
	if _, err := s.db.ExecContext(ctx,
		`REPLACE INTO oidc_sessions (id, data, expires_at) VALUES (?, ?, ?)`,
		session.ID, data, s.expiresAt(now),
	); err != nil {
		return fmt.Errorf("[sqlstore Upsert] %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	var (
		data      []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM oidc_sessions WHERE id = ?`, sessionID,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[sqlstore Get] %w", err)
	}

	if expiresAt > 0 && s.now().UnixMilli() > expiresAt {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrSessionNotFound
	}

	return sessions.Unmarshal(data)
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oidc_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("[sqlstore Delete] %w", err)
	}
	return nil
}

// DeleteExpired removes every session past its max age and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oidc_sessions WHERE expires_at > 0 AND expires_at < ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("[sqlstore DeleteExpired] %w", err)
	}
	return res.RowsAffected()
}

// expiresAt is the row expiry in epoch milliseconds; 0 means never.
func (s *Store) expiresAt(now time.Time) int64 {
	if s.maxAge <= 0 {
		return 0
	}
	return now.Add(s.maxAge).UnixMilli()
}

func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("[sqlstore Open] parse mysql dsn: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
