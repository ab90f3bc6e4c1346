package federated

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/brewboard/userauth"
)

var (
	// ErrUnknownKey is returned when no signing key matches the token's kid,
	// even after a refresh.
	ErrUnknownKey = errors.New("federated: unknown signing key")
	// ErrEmailNotVerified is returned when the provider does not vouch for
	// the email claim.
	ErrEmailNotVerified = errors.New("federated: email not verified")
	// ErrMissingEmail is returned for tokens without an email claim.
	ErrMissingEmail = errors.New("federated: email claim missing")
	// ErrIssuer is returned when iss is not one of the configured issuers.
	ErrIssuer = errors.New("federated: untrusted issuer")
)

var validMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

// Config describes one trusted identity provider.
type Config struct {
	// Issuers lists the accepted iss values. Some providers use more than
	// one spelling, so this is a list.
	Issuers []string
	// JWKSURL is where signing keys are fetched from. It may be empty when
	// Keys is set.
	JWKSURL string
	// Keys pins signing keys by kid instead of fetching them.
	Keys map[string]crypto.PublicKey

	HTTPClient         *http.Client
	Leeway             time.Duration
	MinRefreshInterval time.Duration
	Now                func() time.Time
}

// Verifier implements userauth.FederatedVerifier for OpenID Connect ID
// tokens.
type Verifier struct {
	config Config

	// refresh collapses concurrent JWKS fetches into one request.
	refresh singleflight.Group

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time
}

var _ userauth.FederatedVerifier = (*Verifier)(nil)

type idClaims struct {
	Email         string  `json:"email"`
	EmailVerified boolish `json:"email_verified"`
	Name          string  `json:"name"`
	jwt.RegisteredClaims
}

// boolish accepts both true and "true"; providers disagree on the type of
// email_verified.
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}
	*b = boolish(v)
	return nil
}

// New validates cfg and returns a Verifier. Keys are fetched lazily on the
// first Verify call.
func New(cfg Config) (*Verifier, error) {
	issuers := make([]string, 0, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			issuers = append(issuers, iss)
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("federated: at least one issuer is required")
	}
	cfg.Issuers = issuers

	cfg.JWKSURL = strings.TrimSpace(cfg.JWKSURL)
	if cfg.JWKSURL == "" && len(cfg.Keys) == 0 {
		return nil, errors.New("federated: JWKSURL or Keys is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("federated: invalid leeway configuration")
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	v := &Verifier{config: cfg}
	if len(cfg.Keys) > 0 {
		v.keys = make(map[string]any, len(cfg.Keys))
		for kid, key := range cfg.Keys {
			v.keys[kid] = key
		}
	}
	return v, nil
}

// Verify checks the signature, issuer, audience and expiry of assertion and
// returns the identity it asserts. Only identities with a verified email are
// accepted.
func (v *Verifier) Verify(ctx context.Context, assertion, audience string) (userauth.Identity, error) {
	if strings.TrimSpace(audience) == "" {
		return userauth.Identity{}, errors.New("federated: audience is required")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.config.Now),
	}
	if v.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(assertion, &idClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.key(ctx, kid)
	})
	if err != nil {
		return userauth.Identity{}, err
	}

	claims, ok := token.Claims.(*idClaims)
	if !ok || !token.Valid {
		return userauth.Identity{}, jwt.ErrTokenInvalidClaims
	}
	if !v.trustedIssuer(claims.Issuer) {
		return userauth.Identity{}, fmt.Errorf("%w: %q", ErrIssuer, claims.Issuer)
	}
	if claims.Email == "" {
		return userauth.Identity{}, ErrMissingEmail
	}
	if !claims.EmailVerified {
		return userauth.Identity{}, ErrEmailNotVerified
	}

	return userauth.Identity{
		Email:       claims.Email,
		DisplayName: strings.TrimSpace(claims.Name),
		Provider:    claims.Issuer,
		Subject:     claims.Subject,
	}, nil
}

func (v *Verifier) trustedIssuer(iss string) bool {
	for _, want := range v.config.Issuers {
		if iss == want {
			return true
		}
	}
	return false
}

// key returns the key for kid, refreshing the set at most once per
// MinRefreshInterval when kid is unknown. Lookups of cached kids never wait
// on a fetch.
func (v *Verifier) key(ctx context.Context, kid string) (any, error) {
	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}
	if v.config.JWKSURL == "" {
		return nil, ErrUnknownKey
	}

	if _, err, _ := v.refresh.Do(v.config.JWKSURL, func() (any, error) {
		return nil, v.refreshKeys(ctx)
	}); err != nil {
		return nil, err
	}

	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

func (v *Verifier) cachedKey(kid string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.keys[kid]
	return key, ok
}

// refreshKeys replaces the fetched keys. Pinned keys always survive and win
// over a fetched key with the same kid.
func (v *Verifier) refreshKeys(ctx context.Context) error {
	v.mu.RLock()
	fetchedAt := v.fetchedAt
	v.mu.RUnlock()
	if !fetchedAt.IsZero() && v.config.Now().Sub(fetchedAt) < v.config.MinRefreshInterval {
		return nil
	}

	keys, err := fetchJWKS(ctx, v.config.HTTPClient, v.config.JWKSURL)
	if err != nil {
		return err
	}
	for kid, key := range v.config.Keys {
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = v.config.Now()
	v.mu.Unlock()
	return nil
}
