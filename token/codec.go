package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

const (
	// KeySize is the length of a generated signing key in bytes.
	KeySize = 32
	// ClaimSubject carries the account email.
	ClaimSubject = "sub"
	// ClaimName carries the display name.
	ClaimName = "name"

	tagSize = sha256.Size
)

var (
	// ErrInvalid is the single verification failure. Decode errors, tag
	// mismatches and expiry are deliberately indistinguishable.
	ErrInvalid = errors.New("invalid token")

	errShortKey    = errors.New("token key must be at least 32 bytes")
	errBadTTL      = errors.New("token ttl must be at least one second")
	errEmptyClaims = errors.New("token claims must not be empty")
	errBadUTF8     = errors.New("token claims must be valid UTF-8")
)

var encoding = base64.RawURLEncoding.Strict()

// payload is the signed body. Field order is fixed by the struct and
// encoding/json sorts map keys, so a given claim set always serializes to the
// same bytes.
type payload struct {
	Claims map[string]string `json:"c"`
	Expiry int64             `json:"exp"`
}

// Codec issues and verifies HMAC-SHA256 signed tokens. The key is copied at
// construction and never changes, so a Codec is safe for concurrent use.
type Codec struct {
	key []byte
	now func() time.Time
}

// GenerateKey reads a fresh signing key from r, or crypto/rand when r is nil.
// Callers must treat an error as fatal: there is no safe fallback key.
func GenerateKey(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("generate token key: %w", err)
	}
	return key, nil
}

// NewCodec returns a codec signing with key. now defaults to time.Now.
func NewCodec(key []byte, now func() time.Time) (*Codec, error) {
	if len(key) < KeySize {
		return nil, errShortKey
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{key: bytes.Clone(key), now: now}, nil
}

// Issue signs claims with an absolute expiry of now+ttl.
//
// Layout: base64url(payload || HMAC-SHA256(key, payload)).
func (c *Codec) Issue(claims map[string]string, ttl time.Duration) (string, error) {
	if ttl < time.Second {
		return "", errBadTTL
	}
	if len(claims) == 0 {
		return "", errEmptyClaims
	}
	// encoding/json would rewrite invalid bytes to U+FFFD and Verify would
	// then return different claims.
	for k, v := range claims {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return "", errBadUTF8
		}
	}

	body, err := json.Marshal(payload{
		Claims: claims,
		Expiry: c.now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}

	raw := make([]byte, 0, len(body)+tagSize)
	raw = append(raw, body...)
	raw = c.sign(raw, body)

	return encoding.EncodeToString(raw), nil
}

// Verify checks the tag in constant time and then the expiry. It returns the
// embedded claims or ErrInvalid.
func (c *Codec) Verify(tok string) (map[string]string, error) {
	raw, err := encoding.DecodeString(tok)
	if err != nil || len(raw) <= tagSize {
		return nil, ErrInvalid
	}

	body, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	expected := c.sign(make([]byte, 0, tagSize), body)
	if !hmac.Equal(tag, expected) {
		return nil, ErrInvalid
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil || len(p.Claims) == 0 {
		return nil, ErrInvalid
	}

	if !c.now().Before(time.Unix(p.Expiry, 0)) {
		return nil, ErrInvalid
	}

	return p.Claims, nil
}

func (c *Codec) sign(dst, body []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(dst)
}
