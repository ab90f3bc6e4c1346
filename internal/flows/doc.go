// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunRegister, RunFederated, RunCheckSession, RunLogin)
// accepts a typed dependency struct and returns results without side-effects
// beyond those dependencies. Tests drive every branch with plain function
// fakes and the Engine type stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the credential policy, password hasher,
// identity store, token codec, audit dispatcher and metrics. They do NOT own
// any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import userauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
