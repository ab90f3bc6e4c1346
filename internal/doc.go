// Package internal contains helpers private to userauth, currently secure
// random token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for every Engine operation
//   - limiters: Redis fixed-window throttles for registration and login
//   - logging: slog setup with request and trace correlation
//   - httpapi: the JSON HTTP surface served by cmd/userauthd
//
// # What this package must NOT do
//
//   - Export types that appear in the public userauth API.
//   - Be imported by any package outside the userauth module.
package internal
