package postgres

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewboard/userauth"
)

var columns = []string{"username", "email", "password_hash", "provider", "created_at"}

var created = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func record(email, username string) userauth.UserRecord {
	return userauth.UserRecord{
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Provider:     userauth.ProviderLocal,
		CreatedAt:    created,
	}
}

func TestStoreGetByEmail(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantFound bool
		wantCode  string
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT username, email, password_hash, provider, created_at`).
					WithArgs("a@example.com").
					WillReturnRows(pgxmock.NewRows(columns).
						AddRow("brewer", "a@example.com", "hash", "local", created))
			},
			wantFound: true,
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT username, email, password_hash, provider, created_at`).
					WithArgs("a@example.com").
					WillReturnRows(pgxmock.NewRows(columns))
			},
			wantFound: false,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT username, email, password_hash, provider, created_at`).
					WithArgs("a@example.com").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "STORE_QUERY_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			rec, found, err := newWithPool(mock).GetByEmail(context.Background(), "a@example.com")
			if tt.wantCode != "" {
				require.Error(t, err)
				oopsErr, ok := oops.AsOops(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, oopsErr.Code())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantFound, found)
				if found {
					assert.Equal(t, "brewer", rec.Username)
					assert.True(t, created.Equal(rec.CreatedAt))
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreInsertIfAbsent(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      bool
		wantErr   bool
	}{
		{
			name: "inserted",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(email\) DO NOTHING`).
					WithArgs("a@example.com", "brewer", pgxmock.AnyArg(), "local", created).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			want: true,
		},
		{
			name: "conflict affects no rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("a@example.com", "brewer", pgxmock.AnyArg(), "local", created).
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
			},
			want: false,
		},
		{
			name: "unique violation treated as lost race",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("a@example.com", "brewer", pgxmock.AnyArg(), "local", created).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			want: false,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("a@example.com", "brewer", pgxmock.AnyArg(), "local", created).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			got, err := newWithPool(mock).InsertIfAbsent(context.Background(), record("a@example.com", "brewer"))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreListUsers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT username, email, password_hash, provider, created_at\s+FROM users\s+ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("c", "c@example.com", "", "https://idp.example", created).
			AddRow("a", "a@example.com", "hash", "local", created))

	users, err := newWithPool(mock).ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "c", users[0].Username)
	assert.Empty(t, users[0].PasswordHash)
	assert.Equal(t, "a", users[1].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, newWithPool(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStoreConcurrentInsertSingleWinner runs against a real server when
// USERAUTH_POSTGRES_DSN is set.
func TestStoreConcurrentInsertSingleWinner(t *testing.T) {
	dsn := os.Getenv("USERAUTH_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("USERAUTH_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	p, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer p.Close()

	s := New(p)
	require.NoError(t, s.Migrate(ctx))
	email := "race-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "@example.com"

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.InsertIfAbsent(ctx, record(email, "u"+strconv.Itoa(i)))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
