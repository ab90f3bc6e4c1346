// Package postgres is an IdentityStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/brewboard/userauth"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements userauth.IdentityStore using PostgreSQL.
type Store struct {
	pool pool
}

// New wraps an open pool.
func New(p *pgxpool.Pool) *Store {
	return &Store{pool: p}
}

func newWithPool(p pool) *Store {
	return &Store{pool: p}
}

// Migrate creates the users table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return oops.Code("STORE_MIGRATE_FAILED").
			With("operation", "create users table").
			Wrap(err)
	}
	return nil
}

// GetByEmail looks the record up by exact email.
func (s *Store) GetByEmail(ctx context.Context, email string) (userauth.UserRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT username, email, password_hash, provider, created_at
		FROM users
		WHERE email = $1
	`, email)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return userauth.UserRecord{}, false, nil
	}
	if err != nil {
		return userauth.UserRecord{}, false, oops.Code("STORE_QUERY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return rec, true, nil
}

// InsertIfAbsent relies on the UNIQUE email constraint: a conflicting insert
// affects no rows.
func (s *Store) InsertIfAbsent(ctx context.Context, rec userauth.UserRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (email, username, password_hash, provider, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`,
		rec.Email,
		rec.Username,
		rec.PasswordHash,
		rec.Provider,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, oops.Code("STORE_INSERT_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUsers returns every record in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]userauth.UserRecord, error) {
	rows, err := s.pool.Query(ctx, `
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

func scanRecord(row pgx.Row) (userauth.UserRecord, error) {
	var (
		rec       userauth.UserRecord
		createdAt time.Time
	)
	if err := row.Scan(&rec.Username, &rec.Email, &rec.PasswordHash, &rec.Provider, &createdAt); err != nil {
		return userauth.UserRecord{}, err
	}
	rec.CreatedAt = createdAt.UTC()
	return rec, nil
}

var (
	_ userauth.IdentityStore = (*Store)(nil)
	_ userauth.UserLister    = (*Store)(nil)
)
