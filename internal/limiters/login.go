package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLoginRateLimited = errors.New("login rate limited")

// LoginConfig holds the password login failure throttle.
type LoginConfig struct {
	Enabled     bool
	MaxFailures int
	Cooldown    time.Duration
}

// LoginLimiter tracks failed password logins per email. Once MaxFailures is
// reached further attempts are refused until Cooldown passes.
type LoginLimiter struct {
	redis  redis.UniversalClient
	config LoginConfig
}

func NewLoginLimiter(redisClient redis.UniversalClient, cfg LoginConfig) *LoginLimiter {
	return &LoginLimiter{redis: redisClient, config: cfg}
}

func (l *LoginLimiter) active() bool {
	return l != nil && l.redis != nil && l.config.Enabled
}

func loginFailureKey(email string) string {
	return "ulogin:" + email
}

// Check fails with ErrLoginRateLimited while email is over the threshold.
func (l *LoginLimiter) Check(ctx context.Context, email string) error {
	if !l.active() || email == "" {
		return nil
	}

	count, err := l.redis.Get(ctx, loginFailureKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count >= int64(l.config.MaxFailures) {
		return ErrLoginRateLimited
	}
	return nil
}

// RecordFailure counts one failed attempt. The first failure starts the
// cooldown window.
func (l *LoginLimiter) RecordFailure(ctx context.Context, email string) error {
	if !l.active() || email == "" {
		return nil
	}
	_, err := incrWindow(ctx, l.redis, loginFailureKey(email), l.config.Cooldown)
	return err
}

// Reset clears the failure counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	if !l.active() || email == "" {
		return nil
	}

	if err := l.redis.Del(ctx, loginFailureKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
