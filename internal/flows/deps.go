package flows

import (
	"context"
	"time"
)

// Record is the flow-local copy of a stored user record.
type Record struct {
	Username     string
	Email        string
	PasswordHash string
	Provider     string
	CreatedAt    time.Time
}

// AuditFunc emits one audit event. metadata is only called when auditing is
// enabled.
type AuditFunc func(ctx context.Context, event string, success bool, email, provider string, err error, metadata func() map[string]string)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Register  RegisterDeps
	Federated FederatedDeps
	Session   SessionDeps
	Login     LoginDeps
}

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}
