// Package store holds the IdentityStore implementations.
//
// Every implementation makes InsertIfAbsent atomic per email with the
// primitive its backend offers:
//
//   - memory: a mutex around a map
//   - redis: SETNX inside a Lua script that also appends the listing index
//   - postgres: INSERT ... ON CONFLICT (email) DO NOTHING
//   - sqlite: INSERT OR IGNORE against a UNIQUE email column
//
// All of them also implement userauth.UserLister in creation order.
package store
