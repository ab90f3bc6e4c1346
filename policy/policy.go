package policy

import (
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"
	"github.com/nbutton23/zxcvbn-go/match"
)

// Symbols is the fixed punctuation set a password must draw at least one
// character from.
const Symbols = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

const (
	DefaultMinLength = 8
	DefaultMaxLength = 64
	DefaultMinScore  = 3

	// user inputs shorter than this are too common to treat as personal
	minPersonalTokenLen = 3
)

// Kind names the rule a credential failed.
type Kind string

const (
	KindUsername    Kind = "username"
	KindEmail       Kind = "email"
	KindLength      Kind = "length"
	KindWhitespace  Kind = "whitespace"
	KindComposition Kind = "composition"
	KindWeak        Kind = "weak"
)

// ErrViolation matches every *Violation through errors.Is.
var ErrViolation = errors.New("credential policy violation")

// Violation is a failed credential rule. Reason is safe to show to the end
// user and never contains the password.
type Violation struct {
	Kind   Kind
	Reason string
}

func (v *Violation) Error() string {
	return v.Reason
}

// Is makes errors.Is(err, ErrViolation) hold for any violation.
func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// Config tunes the rules. Zero lengths take the package defaults; MinScore
// is used as given after clamping to 0..4.
type Config struct {
	MinLength int
	MaxLength int
	// MinScore is the lowest accepted zxcvbn score (0..4).
	MinScore int
}

// Credentials is the immutable input the rules run over.
type Credentials struct {
	Username string
	Email    string
	Password string
}

// Rule inspects credentials and returns nil or a *Violation.
type Rule func(Credentials) *Violation

// Policy is an ordered list of rules evaluated with first-failure
// short-circuit, so the reported violation is deterministic.
type Policy struct {
	rules []Rule
}

// New builds the default rule chain: username, email, then the password
// checks in order length, whitespace, composition, strength.
func New(cfg Config) *Policy {
	cfg = normalize(cfg)
	return &Policy{
		rules: []Rule{
			requireUsername,
			requireEmail,
			lengthRule(cfg.MinLength, cfg.MaxLength),
			noWhitespace,
			composition,
			strengthRule(cfg.MinScore),
		},
	}
}

// Validate runs every rule over (username, password, email) and returns the
// first violation.
func (p *Policy) Validate(username, password, email string) error {
	c := Credentials{Username: username, Email: email, Password: password}
	for _, rule := range p.rules {
		if v := rule(c); v != nil {
			return v
		}
	}
	return nil
}

// ValidEmail reports whether s is a bare, syntactically valid address.
func ValidEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s || !utf8.ValidString(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && addr.Name == ""
}

func normalize(cfg Config) Config {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.MinScore < 0 {
		cfg.MinScore = 0
	}
	if cfg.MinScore > 4 {
		cfg.MinScore = 4
	}
	return cfg
}

func requireUsername(c Credentials) *Violation {
	if strings.TrimSpace(c.Username) == "" {
		return &Violation{Kind: KindUsername, Reason: "username must not be empty"}
	}
	if !utf8.ValidString(c.Username) {
		return &Violation{Kind: KindUsername, Reason: "username must be valid UTF-8"}
	}
	return nil
}

func requireEmail(c Credentials) *Violation {
	if !ValidEmail(c.Email) {
		return &Violation{Kind: KindEmail, Reason: "email address is not valid"}
	}
	return nil
}

func lengthRule(minLen, maxLen int) Rule {
	return func(c Credentials) *Violation {
		n := utf8.RuneCountInString(c.Password)
		if n < minLen || n > maxLen {
			return &Violation{
				Kind:   KindLength,
				Reason: "password must be between " + strconv.Itoa(minLen) + " and " + strconv.Itoa(maxLen) + " characters",
			}
		}
		return nil
	}
}

func noWhitespace(c Credentials) *Violation {
	if strings.IndexFunc(c.Password, unicode.IsSpace) >= 0 {
		return &Violation{Kind: KindWhitespace, Reason: "password must not contain whitespace"}
	}
	return nil
}

func composition(c Credentials) *Violation {
	var upper, lower, digit, symbol bool
	for _, r := range c.Password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case r < utf8.RuneSelf && strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	var missing string
	switch {
	case !upper:
		missing = "an uppercase letter"
	case !lower:
		missing = "a lowercase letter"
	case !digit:
		missing = "a digit"
	case !symbol:
		missing = "a symbol"
	default:
		return nil
	}
	return &Violation{Kind: KindComposition, Reason: "password must contain " + missing}
}

func strengthRule(minScore int) Rule {
	return func(c Credentials) *Violation {
		inputs := personalTokens(c)

		lowered := strings.ToLower(c.Password)
		for _, token := range inputs {
			if strings.Contains(lowered, token) {
				return &Violation{Kind: KindWeak, Reason: reasonPersonal}
			}
		}

		if minScore == 0 {
			return nil
		}

		result := zxcvbn.PasswordStrength(c.Password, inputs)
		if result.Score >= minScore {
			return nil
		}
		return &Violation{Kind: KindWeak, Reason: weakestReason(result.MatchSequence)}
	}
}

const (
	reasonPersonal   = "password is too similar to your username or email"
	reasonDictionary = "password is based on a common word or password"
	reasonSpatial    = "password follows a keyboard pattern"
	reasonRepeat     = "password contains repeated characters"
	reasonSequence   = "password contains a predictable sequence"
	reasonDate       = "password contains a date or year"
	reasonGeneric    = "password is too easy to guess"
)

// weakestReason picks the match that contributes least entropy per
// character. Matches against user inputs always win.
func weakestReason(seq []match.Match) string {
	var (
		best     *match.Match
		bestRate float64
	)
	for i := range seq {
		m := &seq[i]
		if m.DictionaryName == "user_inputs" {
			return reasonPersonal
		}
		if m.Pattern == "bruteforce" {
			continue
		}
		n := m.J - m.I + 1
		if n <= 0 {
			continue
		}
		rate := m.Entropy / float64(n)
		if best == nil || rate < bestRate {
			best, bestRate = m, rate
		}
	}
	if best == nil {
		return reasonGeneric
	}

	switch best.Pattern {
	case "dictionary":
		return reasonDictionary
	case "spatial":
		return reasonSpatial
	case "repeat":
		return reasonRepeat
	case "sequence", "digits":
		return reasonSequence
	case "year", "date":
		return reasonDate
	default:
		return reasonGeneric
	}
}

// personalTokens lowercases username, email and email local part, dropping
// anything too short to be meaningful.
func personalTokens(c Credentials) []string {
	candidates := []string{strings.TrimSpace(c.Username), c.Email}
	if local, _, ok := strings.Cut(c.Email, "@"); ok {
		candidates = append(candidates, local)
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, s := range candidates {
		s = strings.ToLower(s)
		if utf8.RuneCountInString(s) < minPersonalTokenLen {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
