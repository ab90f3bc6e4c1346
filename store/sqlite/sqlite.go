// Package sqlite is an IdentityStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"github.com/brewboard/userauth"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL,
	created_at    INTEGER NOT NULL
)`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements userauth.IdentityStore using SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; SQLite serializes writes anyway
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.Migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Migrate creates the users table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, schema); err != nil {
		return oops.Code("STORE_MIGRATE_FAILED").
			With("operation", "create users table").
			Wrap(err)
	}
	return nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (userauth.UserRecord, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT username, email, password_hash, provider, created_at
		FROM users
		WHERE email = ?1
	`, email)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return userauth.UserRecord{}, false, nil
	}
	if err != nil {
		return userauth.UserRecord{}, false, oops.Code("STORE_QUERY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return rec, true, nil
}

// InsertIfAbsent relies on the UNIQUE email column: an ignored insert
// affects no rows.
func (s *Store) InsertIfAbsent(ctx context.Context, rec userauth.UserRecord) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (email, username, password_hash, provider, created_at)
		VALUES (?1, ?2, ?3, ?4, ?5)
	`,
		rec.Email,
		rec.Username,
		rec.PasswordHash,
		rec.Provider,
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return false, oops.Code("STORE_INSERT_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("STORE_INSERT_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	return n == 1, nil
}

// ListUsers returns every record in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]userauth.UserRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT username, email, password_hash, provider, created_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").
			With("operation", "list users").
			Wrap(err)
	}
	defer rows.Close()

	out := []userauth.UserRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, oops.Code("STORE_QUERY_FAILED").
				With("operation", "scan user").
				Wrap(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").
			With("operation", "iterate users").
			Wrap(err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (userauth.UserRecord, error) {
	var (
		rec       userauth.UserRecord
		createdAt int64
	)
	if err := row.Scan(&rec.Username, &rec.Email, &rec.PasswordHash, &rec.Provider, &createdAt); err != nil {
		return userauth.UserRecord{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

var (
	_ userauth.IdentityStore = (*Store)(nil)
	_ userauth.UserLister    = (*Store)(nil)
)
