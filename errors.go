package userauth

import (
	"errors"

	"github.com/brewboard/userauth/policy"
)

var (
	// ErrPolicyViolation matches any credential rule failure. The concrete
	// *policy.Violation is reachable with errors.As and carries the reason.
	ErrPolicyViolation = policy.ErrViolation
	// ErrDuplicateAccount is returned when the email already has an account.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrVerification is the only error federated sign-in reports for a
	// rejected assertion. Verifier detail is logged, never returned.
	ErrVerification = errors.New("invalid external credential")
	// ErrUnauthenticated covers missing, malformed, forged and expired tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials is returned by Login for an unknown email, a
	// federated-only account or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRegistrationRateLimited is returned when the client IP or email is
	// over the registration window.
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	// ErrLoginRateLimited is returned while an email is over the failed
	// login threshold.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRateLimiterUnavailable is returned when the limiter backend fails.
	// Requests are refused rather than let through unthrottled.
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
	// ErrStoreUnavailable wraps identity store failures.
	ErrStoreUnavailable = errors.New("identity store unavailable")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrFederationDisabled is returned when no FederatedVerifier was configured.
	ErrFederationDisabled = errors.New("federated sign-in not configured")
	// ErrListingUnsupported is returned by ListUsers when the store cannot enumerate records.
	ErrListingUnsupported = errors.New("identity store does not support listing")
	// ErrSecretGeneration aborts Build when the signing key cannot be read
	// from the random source.
	ErrSecretGeneration = errors.New("signing key generation failed")
)
