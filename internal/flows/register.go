package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

type RegisterMetrics struct {
	RegisterSuccess        int
	RegisterDuplicate      int
	RegisterPolicyRejected int
	RegisterRateLimited    int
	RegisterLatency        int
	StoreError             int
}

type RegisterEvents struct {
	RegisterSuccess   string
	RegisterFailure   string
	RegisterDuplicate string
	RegisterPolicy    string
	RegisterLimited   string
}

type RegisterErrors struct {
	EngineNotReady   error
	DuplicateAccount error
	StoreUnavailable error
}

type RegisterDeps struct {
	Provider string

	// EnforceLimit is optional. Its error is returned unchanged.
	EnforceLimit func(ctx context.Context, email string) error

	// ValidateCredentials returns a policy violation as is; the flow does
	// not wrap it so callers can errors.As the concrete type.
	ValidateCredentials func(username, password, email string) error
	ViolationKind       func(error) string

	Lookup         func(context.Context, string) (Record, bool, error)
	HashPassword   func(string) (string, error)
	InsertIfAbsent func(context.Context, Record) (bool, error)
	IssueToken     func(email, username string) (string, error)
	Now            func() time.Time

	MetricInc func(int)
	Observe   func(int, time.Duration)
	EmitAudit AuditFunc

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

// RunRegister validates credentials, creates the record and returns a token
// bound to the email.
//
// The lookup is a fast path for the common duplicate. The store's atomic
// insert is what decides a race: a false result is reported as a duplicate
// even though the lookup saw no record.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (string, error) {
	normalizeRegisterDeps(&deps)

	if deps.ValidateCredentials == nil ||
		deps.Lookup == nil ||
		deps.HashPassword == nil ||
		deps.InsertIfAbsent == nil ||
		deps.IssueToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() {
		deps.Observe(deps.Metrics.RegisterLatency, deps.Now().Sub(start))
	}()

	if deps.EnforceLimit != nil {
		if err := deps.EnforceLimit(ctx, req.Email); err != nil {
			req.Password = ""
			deps.MetricInc(deps.Metrics.RegisterRateLimited)
			deps.EmitAudit(ctx, deps.Events.RegisterLimited, false, req.Email, deps.Provider, err, nil)
			return "", err
		}
	}

	if err := deps.ValidateCredentials(req.Username, req.Password, req.Email); err != nil {
		req.Password = ""
		deps.MetricInc(deps.Metrics.RegisterPolicyRejected)
		deps.EmitAudit(ctx, deps.Events.RegisterPolicy, false, req.Email, deps.Provider, err, func() map[string]string {
			return map[string]string{
				"rule": deps.ViolationKind(err),
			}
		})
		return "", err
	}

	username := strings.TrimSpace(req.Username)

	if _, exists, err := deps.Lookup(ctx, req.Email); err != nil {
		req.Password = ""
		return "", storeFailure(ctx, deps, req.Email, "lookup", err)
	} else if exists {
		req.Password = ""
		return "", duplicate(ctx, deps, req.Email, "lookup")
	}

	passwordHash, err := deps.HashPassword(req.Password)
	req.Password = ""
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, req.Email, deps.Provider, err, func() map[string]string {
			return map[string]string{
				"reason": "hash_failed",
			}
		})
		return "", fmt.Errorf("hash password: %w", err)
	}

	inserted, err := deps.InsertIfAbsent(ctx, Record{
		Username:     username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Provider:     deps.Provider,
		CreatedAt:    deps.Now().UTC(),
	})
	if err != nil {
		return "", storeFailure(ctx, deps, req.Email, "insert", err)
	}
	if !inserted {
		return "", duplicate(ctx, deps, req.Email, "insert")
	}

	tok, err := deps.IssueToken(req.Email, username)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, req.Email, deps.Provider, err, func() map[string]string {
			return map[string]string{
				"reason": "token_issue_failed",
			}
		})
		return "", fmt.Errorf("issue token: %w", err)
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, req.Email, deps.Provider, nil, func() map[string]string {
		return map[string]string{
			"username": username,
		}
	})
	return tok, nil
}

func duplicate(ctx context.Context, deps RegisterDeps, email, stage string) error {
	deps.MetricInc(deps.Metrics.RegisterDuplicate)
	deps.EmitAudit(ctx, deps.Events.RegisterDuplicate, false, email, deps.Provider, deps.Errors.DuplicateAccount, func() map[string]string {
		return map[string]string{
			"stage": stage,
		}
	})
	return deps.Errors.DuplicateAccount
}

func storeFailure(ctx context.Context, deps RegisterDeps, email, stage string, err error) error {
	deps.MetricInc(deps.Metrics.StoreError)
	deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, email, deps.Provider, deps.Errors.StoreUnavailable, func() map[string]string {
		return map[string]string{
			"reason": "store_" + stage,
		}
	})
	return errors.Join(deps.Errors.StoreUnavailable, err)
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ViolationKind == nil {
		deps.ViolationKind = func(error) string { return "" }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Observe == nil {
		deps.Observe = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.DuplicateAccount == nil {
		deps.Errors.DuplicateAccount = errors.New("account already exists")
	}
	if deps.Errors.StoreUnavailable == nil {
		deps.Errors.StoreUnavailable = errors.New("identity store unavailable")
	}
}
