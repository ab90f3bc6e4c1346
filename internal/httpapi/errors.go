package httpapi

import (
	"errors"
	"net/http"

	"github.com/brewboard/userauth"
	"github.com/brewboard/userauth/policy"
)

// statusFor maps engine errors to a status and a detail safe to show to the
// caller. Store and limiter errors never leak their cause.
func statusFor(err error) (int, string) {
	var violation *policy.Violation
	switch {
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity, violation.Reason
	case errors.Is(err, userauth.ErrDuplicateAccount):
		return http.StatusBadRequest, "Email already registered"
	case errors.Is(err, userauth.ErrVerification):
		return http.StatusUnauthorized, "invalid external credential"
	case errors.Is(err, userauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, userauth.ErrRegistrationRateLimited):
		return http.StatusTooManyRequests, "too many registration attempts, try again later"
	case errors.Is(err, userauth.ErrLoginRateLimited):
		return http.StatusTooManyRequests, "too many failed logins, try again later"
	case errors.Is(err, userauth.ErrFederationDisabled):
		return http.StatusNotImplemented, "federated sign-in is not enabled"
	case errors.Is(err, userauth.ErrListingUnsupported):
		return http.StatusNotImplemented, "listing is not supported by this store"
	case errors.Is(err, userauth.ErrStoreUnavailable),
		errors.Is(err, userauth.ErrRateLimiterUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
