// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format with unpadded base64 fields:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Every hash carries its own salt and cost parameters, so a stored value is
// all that [Argon2.Verify] needs.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Credential quality rules
// live in the policy package and run before a plaintext ever reaches Hash.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other userauth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
