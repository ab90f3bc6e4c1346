// Package limiters provides Redis fixed-window throttles for registration and
// password login.
//
// # Limiters
//
//   - [RegistrationLimiter]: per-IP and per-email throttle for sign-ups.
//   - [LoginLimiter]: per-email failure counter that blocks password login
//     once the threshold is reached.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// Each limiter owns its own key namespace and error values. Thresholds come
// from Config structs supplied at construction time; the flows decide what a
// limit means for the caller.
package limiters
