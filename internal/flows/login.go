package flows

import (
	"context"
	"errors"
	"fmt"
)

type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	StoreError       int
}

type LoginEvents struct {
	LoginSuccess string
	LoginFailure string
	LoginLimited string
}

type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	StoreUnavailable   error
}

type LoginDeps struct {
	Lookup         func(context.Context, string) (Record, bool, error)
	VerifyPassword func(password, hash string) (bool, error)
	// DummyHash is verified against when there is no usable hash so unknown
	// and federated-only emails cost the same as a wrong password.
	DummyHash  string
	IssueToken func(email, username string) (string, error)

	// Throttle hooks are optional. CheckThrottle's error is returned
	// unchanged; the other two are best effort.
	CheckThrottle func(ctx context.Context, email string) error
	RecordFailure func(ctx context.Context, email string)
	ResetFailures func(ctx context.Context, email string)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin checks a password against the stored hash and issues a token.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (string, error) {
	normalizeLoginDeps(&deps)

	if deps.Lookup == nil || deps.VerifyPassword == nil || deps.IssueToken == nil || deps.DummyHash == "" {
		return "", deps.Errors.EngineNotReady
	}

	if err := deps.CheckThrottle(ctx, email); err != nil {
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.EmitAudit(ctx, deps.Events.LoginLimited, false, email, "", err, nil)
		return "", err
	}

	rec, found, err := deps.Lookup(ctx, email)
	if err != nil {
		deps.MetricInc(deps.Metrics.StoreError)
		return "", errors.Join(deps.Errors.StoreUnavailable, err)
	}

	if !found || rec.PasswordHash == "" {
		_, _ = deps.VerifyPassword(password, deps.DummyHash)
		reason := "unknown_email"
		if found {
			reason = "no_password"
		}
		return "", loginFailure(ctx, deps, email, reason)
	}

	ok, err := deps.VerifyPassword(password, rec.PasswordHash)
	if err != nil {
		return "", loginFailure(ctx, deps, email, "malformed_hash")
	}
	if !ok {
		return "", loginFailure(ctx, deps, email, "wrong_password")
	}

	tok, err := deps.IssueToken(rec.Email, rec.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	deps.ResetFailures(ctx, rec.Email)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, rec.Email, rec.Provider, nil, nil)
	return tok, nil
}

func loginFailure(ctx context.Context, deps LoginDeps, email, reason string) error {
	deps.RecordFailure(ctx, email)
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, email, "", deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return deps.Errors.InvalidCredentials
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.CheckThrottle == nil {
		deps.CheckThrottle = func(context.Context, string) error { return nil }
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) {}
	}
	if deps.ResetFailures == nil {
		deps.ResetFailures = func(context.Context, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.InvalidCredentials == nil {
		deps.Errors.InvalidCredentials = errors.New("invalid credentials")
	}
	if deps.Errors.StoreUnavailable == nil {
		deps.Errors.StoreUnavailable = errors.New("identity store unavailable")
	}
}
