package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	ErrLimiterUnavailable      = errors.New("rate limiter unavailable")
)

type RegistrationConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxAttempts         int
	Window              time.Duration
}

// RegistrationLimiter counts sign-up attempts per email and per client IP in
// fixed windows.
type RegistrationLimiter struct {
	redis  redis.UniversalClient
	config RegistrationConfig
}

func NewRegistrationLimiter(redisClient redis.UniversalClient, cfg RegistrationConfig) *RegistrationLimiter {
	return &RegistrationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enforce counts one attempt against every enabled key and fails with
// ErrRegistrationRateLimited once a key is over MaxAttempts.
func (l *RegistrationLimiter) Enforce(ctx context.Context, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	if l.config.EnableEmailThrottle && email != "" {
		if err := l.enforceKey(ctx, registrationEmailKey(email)); err != nil {
			return err
		}
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, registrationIPKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

func (l *RegistrationLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := incrWindow(ctx, l.redis, key, l.config.Window)
	if err != nil {
		return err
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrRegistrationRateLimited
	}

	return nil
}

// incrWindow bumps key and starts its window on the first hit.
func incrWindow(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (int64, error) {
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	if count == 1 && window > 0 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	return count, nil
}

func registrationEmailKey(email string) string {
	return "ureg:" + email
}

func registrationIPKey(ip string) string {
	return "uregip:" + ip
}
