// Package redis is an IdentityStore on Redis. Each record is a JSON string
// under its own key; a list keeps creation order for ListUsers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/brewboard/userauth"
)

const defaultPrefix = "userauth"

// insertScript sets the record only when absent and appends the email to the
// listing index in the same atomic step.
var insertScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

type storedRecord struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store implements userauth.IdentityStore using Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a store using keys under prefix. An empty prefix means
// "userauth".
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) userKey(email string) string {
	return s.prefix + ":user:" + email
}

func (s *Store) indexKey() string {
	return s.prefix + ":users"
}

func (s *Store) GetByEmail(ctx context.Context, email string) (userauth.UserRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, s.userKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return userauth.UserRecord{}, false, nil
	}
	if err != nil {
		return userauth.UserRecord{}, false, oops.Code("STORE_QUERY_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	rec, err := decode(raw)
	if err != nil {
		return userauth.UserRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, rec userauth.UserRecord) (bool, error) {
	data, err := json.Marshal(storedRecord{
		Username:     rec.Username,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt.UTC(),
	})
	if err != nil {
		return false, oops.Code("STORE_INSERT_FAILED").
			With("operation", "marshal user").
			Wrap(err)
	}

	n, err := insertScript.Run(ctx, s.rdb, []string{s.userKey(rec.Email), s.indexKey()}, data, rec.Email).Int()
	if err != nil {
		return false, oops.Code("STORE_INSERT_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return n == 1, nil
}

// ListUsers returns every record in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]userauth.UserRecord, error) {
	emails, err := s.rdb.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").
			With("operation", "list user index").
			Wrap(err)
	}
	if len(emails) == 0 {
		return []userauth.UserRecord{}, nil
	}

	keys := make([]string, len(emails))
	for i, email := range emails {
		keys[i] = s.userKey(email)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").
			With("operation", "list users").
			Wrap(err)
	}

	out := make([]userauth.UserRecord, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// record removed out of band
			continue
		}
		rec, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decode(raw []byte) (userauth.UserRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal(raw, &sr); err != nil {
		return userauth.UserRecord{}, oops.Code("STORE_DECODE_FAILED").
			With("operation", "unmarshal user").
			Wrap(err)
	}
	return userauth.UserRecord{
		Username:     sr.Username,
		Email:        sr.Email,
		PasswordHash: sr.PasswordHash,
		Provider:     sr.Provider,
		CreatedAt:    sr.CreatedAt,
	}, nil
}

var (
	_ userauth.IdentityStore = (*Store)(nil)
	_ userauth.UserLister    = (*Store)(nil)
)
