// Package userauth registers accounts, signs users in with a password or a
// federated identity assertion, and verifies the signed session tokens it
// issues.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// userauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [IdentityStore] and [FederatedVerifier] contracts and value types. Flow
// orchestration, throttling and audit dispatch live under internal/. The
// building blocks are importable on their own: password (Argon2id), policy
// (credential rules) and token (HMAC-signed tokens).
//
// Accounts are keyed by email alone. A federated sign-in for an email that
// already has a local account signs into that account.
//
// # What this package must NOT do
//
//   - Log, return or retain plaintext passwords.
//   - Persist or rotate the signing key: it lives for the process lifetime.
//   - Import any sub-package that re-imports userauth (no import cycles).
package userauth
