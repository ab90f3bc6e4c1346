// Package middleware exposes an HTTP guard that admits requests carrying a
// valid userauth session token.
//
// [Guard] reads the Authorization header, calls CheckSession and injects the
// resulting claims into the request context. It makes no decisions of its
// own beyond pass or reject.
package middleware
