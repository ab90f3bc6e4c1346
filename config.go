package userauth

import (
	"errors"
	"time"

	"github.com/brewboard/userauth/policy"
)

// Config groups every tunable of the engine. It holds only values, so the
// copy taken by Builder is unaffected by later caller changes.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	Policy    PolicyConfig
	Federated FederatedConfig
	Limits    LimitsConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls session token issuance.
type TokenConfig struct {
	// TTL is the lifetime of every issued token.
	TTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the fixed Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig tunes credential validation. The password length bounds may
// only be tightened within 8..64.
type PolicyConfig struct {
	MinLength int
	MaxLength int
	// MinScore is the lowest accepted strength estimate, 0 (anything) to 4.
	MinScore int
}

/*
====================================
FEDERATED CONFIG
====================================
*/

// FederatedConfig configures external identity assertions.
type FederatedConfig struct {
	// Audience is the client id assertions must be issued for.
	Audience string
}

/*
====================================
LIMITS CONFIG
====================================
*/

// LimitsConfig holds the Redis-backed throttles. They only apply when the
// Builder was given a Redis client.
type LimitsConfig struct {
	RegistrationPerIP    bool
	RegistrationPerEmail bool
	RegistrationMax      int
	RegistrationWindow   time.Duration

	LoginThrottle    bool
	LoginMaxFailures int
	LoginCooldown    time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL: time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: PolicyConfig{
			MinLength: 8,
			MaxLength: 64,
			MinScore:  3,
		},
		Limits: LimitsConfig{
			RegistrationPerIP:    true,
			RegistrationPerEmail: false,
			RegistrationMax:      10,
			RegistrationWindow:   time.Hour,
			LoginThrottle:        true,
			LoginMaxFailures:     5,
			LoginCooldown:        15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.TTL < time.Second {
		return errors.New("Token TTL must be >= 1s")
	}

	// Password
	if c.Password.Memory < 8192 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Policy
	if c.Policy.MinLength < policy.DefaultMinLength {
		return errors.New("Policy MinLength must be >= 8")
	}
	if c.Policy.MaxLength > policy.DefaultMaxLength {
		return errors.New("Policy MaxLength must be <= 64")
	}
	if c.Policy.MaxLength < c.Policy.MinLength {
		return errors.New("Policy MaxLength must be >= MinLength")
	}
	if c.Policy.MinScore < 0 || c.Policy.MinScore > 4 {
		return errors.New("Policy MinScore must be between 0 and 4")
	}

	// Limits
	if (c.Limits.RegistrationPerIP || c.Limits.RegistrationPerEmail) &&
		(c.Limits.RegistrationMax <= 0 || c.Limits.RegistrationWindow <= 0) {
		return errors.New("Limits RegistrationMax and RegistrationWindow must be > 0 when registration throttling is enabled")
	}
	if c.Limits.LoginThrottle && (c.Limits.LoginMaxFailures <= 0 || c.Limits.LoginCooldown <= 0) {
		return errors.New("Limits LoginMaxFailures and LoginCooldown must be > 0 when login throttling is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
