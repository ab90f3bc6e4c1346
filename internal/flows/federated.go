package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type FederatedIdentity struct {
	Email       string
	DisplayName string
	Provider    string
}

type FederatedMetrics struct {
	FederatedLogin    int
	FederatedCreated  int
	FederatedRejected int
	StoreError        int
}

type FederatedEvents struct {
	FederatedLogin    string
	FederatedCreated  string
	FederatedRejected string
	FederatedFailure  string
}

type FederatedErrors struct {
	EngineNotReady   error
	Verification     error
	FederationOff    error
	StoreUnavailable error
}

type FederatedDeps struct {
	// Verify checks the assertion. Its error detail goes to LogRejected
	// only and is never returned.
	Verify      func(context.Context, string) (FederatedIdentity, error)
	LogRejected func(context.Context, error)
	ValidEmail  func(string) bool

	Lookup         func(context.Context, string) (Record, bool, error)
	InsertIfAbsent func(context.Context, Record) (bool, error)
	IssueToken     func(email, username string) (string, error)
	Now            func() time.Time

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics FederatedMetrics
	Events  FederatedEvents
	Errors  FederatedErrors
}

// RunFederated signs a federated identity in, creating its record on first
// sight.
//
// Records are keyed by email alone. A verified email that already belongs to
// a local account logs into that account and leaves its password hash in
// place. An insert lost to a concurrent request for the same email is also
// treated as a login.
func RunFederated(ctx context.Context, assertion string, deps FederatedDeps) (string, error) {
	normalizeFederatedDeps(&deps)

	if deps.Verify == nil {
		return "", deps.Errors.FederationOff
	}
	if deps.Lookup == nil || deps.InsertIfAbsent == nil || deps.IssueToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	ident, err := deps.Verify(ctx, assertion)
	if err == nil && !deps.ValidEmail(ident.Email) {
		err = fmt.Errorf("assertion email %q is not a valid address", ident.Email)
	}
	if err != nil {
		deps.LogRejected(ctx, err)
		deps.MetricInc(deps.Metrics.FederatedRejected)
		deps.EmitAudit(ctx, deps.Events.FederatedRejected, false, "", ident.Provider, deps.Errors.Verification, nil)
		return "", deps.Errors.Verification
	}

	rec, found, err := deps.Lookup(ctx, ident.Email)
	if err != nil {
		return "", federatedStoreFailure(ctx, deps, ident, "lookup", err)
	}

	created := false
	if !found {
		rec = Record{
			Username:  displayName(ident),
			Email:     ident.Email,
			Provider:  ident.Provider,
			CreatedAt: deps.Now().UTC(),
		}
		inserted, err := deps.InsertIfAbsent(ctx, rec)
		if err != nil {
			return "", federatedStoreFailure(ctx, deps, ident, "insert", err)
		}
		if inserted {
			created = true
		} else {
			rec, found, err = deps.Lookup(ctx, ident.Email)
			if err != nil {
				return "", federatedStoreFailure(ctx, deps, ident, "lookup", err)
			}
			if !found {
				return "", federatedStoreFailure(ctx, deps, ident, "lookup", errors.New("record vanished after lost insert"))
			}
		}
	}

	tok, err := deps.IssueToken(rec.Email, rec.Username)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.FederatedFailure, false, rec.Email, ident.Provider, err, func() map[string]string {
			return map[string]string{
				"reason": "token_issue_failed",
			}
		})
		return "", fmt.Errorf("issue token: %w", err)
	}

	if created {
		deps.MetricInc(deps.Metrics.FederatedCreated)
		deps.EmitAudit(ctx, deps.Events.FederatedCreated, true, rec.Email, ident.Provider, nil, nil)
	} else {
		deps.MetricInc(deps.Metrics.FederatedLogin)
		deps.EmitAudit(ctx, deps.Events.FederatedLogin, true, rec.Email, ident.Provider, nil, func() map[string]string {
			return map[string]string{
				"account_provider": rec.Provider,
			}
		})
	}
	return tok, nil
}

// displayName falls back to the email local part when the provider sends no
// usable name.
func displayName(ident FederatedIdentity) string {
	if name := strings.TrimSpace(ident.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(ident.Email, "@")
	return local
}

func federatedStoreFailure(ctx context.Context, deps FederatedDeps, ident FederatedIdentity, stage string, err error) error {
	deps.MetricInc(deps.Metrics.StoreError)
	deps.EmitAudit(ctx, deps.Events.FederatedFailure, false, ident.Email, ident.Provider, deps.Errors.StoreUnavailable, func() map[string]string {
		return map[string]string{
			"reason": "store_" + stage,
		}
	})
	return errors.Join(deps.Errors.StoreUnavailable, err)
}

func normalizeFederatedDeps(deps *FederatedDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LogRejected == nil {
		deps.LogRejected = func(context.Context, error) {}
	}
	if deps.ValidEmail == nil {
		deps.ValidEmail = func(s string) bool { return s != "" }
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
	if deps.Errors.Verification == nil {
		deps.Errors.Verification = errors.New("invalid external credential")
	}
	if deps.Errors.FederationOff == nil {
		deps.Errors.FederationOff = errors.New("federated sign-in not configured")
	}
	if deps.Errors.StoreUnavailable == nil {
		deps.Errors.StoreUnavailable = errors.New("identity store unavailable")
	}
}
