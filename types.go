package userauth

import (
	"context"
	"time"
)

// ProviderLocal marks accounts registered with a password.
const ProviderLocal = "local"

// UserRecord is the stored identity for one email. Records are created once
// and never mutated by this package.
type UserRecord struct {
	Username string
	// Email is the unique key, compared as an exact string.
	Email string
	// PasswordHash is empty for accounts created through federated sign-in.
	PasswordHash string
	Provider     string
	CreatedAt    time.Time
}

// IdentityStore is the storage contract the engine depends on.
//
// InsertIfAbsent must be atomic per email: of any number of concurrent
// inserts for one email exactly one may report true.
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (UserRecord, bool, error)
	InsertIfAbsent(ctx context.Context, rec UserRecord) (bool, error)
}

// UserLister is implemented by stores that can enumerate records in
// creation order.
type UserLister interface {
	ListUsers(ctx context.Context) ([]UserRecord, error)
}

// Identity is a verified external identity.
type Identity struct {
	Email       string
	DisplayName string
	// Provider is the issuer that asserted the identity.
	Provider string
	Subject  string
}

// FederatedVerifier validates a third-party identity assertion issued for
// audience.
type FederatedVerifier interface {
	Verify(ctx context.Context, assertion, audience string) (Identity, error)
}

// Claims is what a valid session token says about its bearer.
type Claims struct {
	Email string
	Name  string
	// Raw holds every claim exactly as signed.
	Raw map[string]string
}

// UserSummary is the public projection of a record.
type UserSummary struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}
