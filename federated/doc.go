// Package federated verifies OpenID Connect ID tokens issued by an external
// identity provider and turns them into a userauth.Identity.
//
// Signing keys come from the provider's JWKS endpoint and are cached. An
// unknown kid forces one refresh, rate limited by MinRefreshInterval, so key
// rotation is picked up without a restart.
package federated
