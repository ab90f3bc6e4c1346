package userauth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brewboard/userauth/internal"
	"github.com/brewboard/userauth/internal/audit"
	"github.com/brewboard/userauth/internal/limiters"
	"github.com/brewboard/userauth/internal/logging"
	"github.com/brewboard/userauth/password"
	"github.com/brewboard/userauth/policy"
	"github.com/brewboard/userauth/token"
	"github.com/redis/go-redis/v9"
)

// Builder collects engine dependencies. A Builder produces one Engine; a
// second Build call fails.
type Builder struct {
	config Config
	store  IdentityStore
	redis  redis.UniversalClient

	verifier  FederatedVerifier
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time
	random    io.Reader

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the identity store. It is required.
func (b *Builder) WithStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithRedis enables the registration and login throttles configured in
// Config.Limits. Without it no throttling is applied.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithFederatedVerifier enables RegisterOrLoginFederated.
func (b *Builder) WithFederatedVerifier(v FederatedVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token expiry and record timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRandom replaces crypto/rand as the source of the signing key and
// password salts.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, generates the process signing key and
// returns a ready Engine. A failure to read the key from the random source
// is reported as ErrSecretGeneration; there is no fallback key.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if b.store == nil {
		return nil, errors.New("identity store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}

	// -------- SIGNING KEY --------
	key, err := token.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretGeneration, err)
	}
	codec, err := token.NewCodec(key, now)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		Rand:        random,
	})
	if err != nil {
		return nil, err
	}

	dummySecret, err := internal.RandomToken(random, 24)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretGeneration, err)
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretGeneration, err)
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		verifier: b.verifier,
		hasher:   hasher,
		policy: policy.New(policy.Config{
			MinLength: cfg.Policy.MinLength,
			MaxLength: cfg.Policy.MaxLength,
			MinScore:  cfg.Policy.MinScore,
		}),
		codec:  codec,
		logger: logger,
		now:    now,
	}

	// -------- LIMITERS --------
	if b.redis != nil {
		engine.registrationLimiter = limiters.NewRegistrationLimiter(b.redis, limiters.RegistrationConfig{
			EnableEmailThrottle: cfg.Limits.RegistrationPerEmail,
			EnableIPThrottle:    cfg.Limits.RegistrationPerIP,
			MaxAttempts:         cfg.Limits.RegistrationMax,
			Window:              cfg.Limits.RegistrationWindow,
		})
		engine.loginLimiter = limiters.NewLoginLimiter(b.redis, limiters.LoginConfig{
			Enabled:     cfg.Limits.LoginThrottle,
			MaxFailures: cfg.Limits.LoginMaxFailures,
			Cooldown:    cfg.Limits.LoginCooldown,
		})
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.flows = engine.newFlowService(dummyHash)

	b.built = true

	return engine, nil
}
