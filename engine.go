package userauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brewboard/userauth/internal/audit"
	"github.com/brewboard/userauth/internal/flows"
	"github.com/brewboard/userauth/internal/limiters"
	"github.com/brewboard/userauth/password"
	"github.com/brewboard/userauth/policy"
	"github.com/brewboard/userauth/token"
)

// Engine registers accounts, signs users in and verifies session tokens.
// It is safe for concurrent use once returned by Builder.Build.
type Engine struct {
	config   Config
	store    IdentityStore
	verifier FederatedVerifier
	hasher   *password.Argon2
	policy   *policy.Policy
	codec    *token.Codec

	registrationLimiter *limiters.RegistrationLimiter
	loginLimiter        *limiters.LoginLimiter

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	flows flows.Service
}

// Register creates a local account and returns a session token for it.
//
// Failures are a *policy.Violation (matching ErrPolicyViolation),
// ErrDuplicateAccount, ErrRegistrationRateLimited or an error wrapping
// ErrStoreUnavailable. The plaintext password is not retained.
func (e *Engine) Register(ctx context.Context, username, email, password string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.Register(ctx, flows.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
}

// RegisterOrLoginFederated verifies an external identity assertion and
// returns a session token for the account keyed by its email, creating the
// account on first sight. An existing local account with the same email is
// signed into as is.
//
// Any rejected assertion is reported as ErrVerification.
func (e *Engine) RegisterOrLoginFederated(ctx context.Context, assertion string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.Federated(ctx, assertion)
}

// CheckSession verifies a bearer token. Missing, malformed, forged and
// expired tokens all return ErrUnauthenticated.
func (e *Engine) CheckSession(ctx context.Context, tok string) (Claims, error) {
	if !e.ready() {
		return Claims{}, ErrEngineNotReady
	}

	raw, err := e.flows.CheckSession(ctx, tok)
	if err != nil {
		return Claims{}, err
	}
	return Claims{
		Email: raw[token.ClaimSubject],
		Name:  raw[token.ClaimName],
		Raw:   raw,
	}, nil
}

// Login checks an email and password and returns a session token.
func (e *Engine) Login(ctx context.Context, email, password string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.Login(ctx, email, password)
}

// ListUsers returns every account as a UserSummary in store order. It needs
// a store implementing UserLister.
func (e *Engine) ListUsers(ctx context.Context) ([]UserSummary, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	lister, ok := e.store.(UserLister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	records, err := lister.ListUsers(ctx)
	if err != nil {
		e.metricInc(MetricStoreError)
		e.logger.WarnContext(ctx, "list users failed", "error", err)
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	out := make([]UserSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, UserSummary{Username: rec.Username, Email: rec.Email})
	}
	return out, nil
}

// Close stops the audit dispatcher after draining accepted events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) issueToken(email, username string) (string, error) {
	return e.codec.Issue(map[string]string{
		token.ClaimSubject: email,
		token.ClaimName:    username,
	}, e.config.Token.TTL)
}

func (e *Engine) lookup(ctx context.Context, email string) (flows.Record, bool, error) {
	rec, found, err := e.store.GetByEmail(ctx, email)
	if err != nil || !found {
		return flows.Record{}, found, err
	}
	return toFlowRecord(rec), true, nil
}

func (e *Engine) insertIfAbsent(ctx context.Context, rec flows.Record) (bool, error) {
	return e.store.InsertIfAbsent(ctx, fromFlowRecord(rec))
}

func (e *Engine) enforceRegistrationLimit(ctx context.Context, email string) error {
	err := e.registrationLimiter.Enforce(ctx, email, clientIPFromContext(ctx))
	return mapLimiterError(err, ErrRegistrationRateLimited)
}

func (e *Engine) checkLoginThrottle(ctx context.Context, email string) error {
	return mapLimiterError(e.loginLimiter.Check(ctx, email), ErrLoginRateLimited)
}

func (e *Engine) recordLoginFailure(ctx context.Context, email string) {
	if err := e.loginLimiter.RecordFailure(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "record login failure", "error", err)
	}
}

func (e *Engine) resetLoginFailures(ctx context.Context, email string) {
	if err := e.loginLimiter.Reset(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "reset login failures", "error", err)
	}
}

func mapLimiterError(err, limited error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRegistrationRateLimited),
		errors.Is(err, limiters.ErrLoginRateLimited):
		return limited
	default:
		return fmt.Errorf("%w: %v", ErrRateLimiterUnavailable, err)
	}
}

func toFlowRecord(rec UserRecord) flows.Record {
	return flows.Record{
		Username:     rec.Username,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt,
	}
}

func fromFlowRecord(rec flows.Record) UserRecord {
	return UserRecord{
		Username:     rec.Username,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt,
	}
}
