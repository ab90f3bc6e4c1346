package flows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var (
	errDup      = errors.New("dup")
	errStore    = errors.New("store down")
	errVerify   = errors.New("bad assertion")
	errUnauth   = errors.New("unauth")
	errBadCreds = errors.New("bad creds")
)

type auditCall struct {
	event   string
	success bool
	email   string
	err     error
	meta    map[string]string
}

type recorder struct {
	metrics map[int]int
	audits  []auditCall
}

func newRecorder() *recorder {
	return &recorder{metrics: map[int]int{}}
}

func (r *recorder) inc(id int) { r.metrics[id]++ }

func (r *recorder) emit(_ context.Context, event string, success bool, email, _ string, err error, meta func() map[string]string) {
	c := auditCall{event: event, success: success, email: email, err: err}
	if meta != nil {
		c.meta = meta()
	}
	r.audits = append(r.audits, c)
}

func (r *recorder) last() auditCall {
	if len(r.audits) == 0 {
		return auditCall{}
	}
	return r.audits[len(r.audits)-1]
}

type memStore struct {
	records    map[string]Record
	lookupErr  error
	insertErr  error
	loseInsert func(Record)
	inserts    int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]Record{}}
}

func (s *memStore) lookup(_ context.Context, email string) (Record, bool, error) {
	if s.lookupErr != nil {
		return Record{}, false, s.lookupErr
	}
	r, ok := s.records[email]
	return r, ok, nil
}

func (s *memStore) insert(_ context.Context, r Record) (bool, error) {
	s.inserts++
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if s.loseInsert != nil {
		s.loseInsert(r)
		return false, nil
	}
	if _, ok := s.records[r.Email]; ok {
		return false, nil
	}
	s.records[r.Email] = r
	return true, nil
}

func issue(email, username string) (string, error) {
	return "tok:" + email + ":" + username, nil
}

func registerDeps(store *memStore, rec *recorder) RegisterDeps {
	return RegisterDeps{
		Provider: "local",
		ValidateCredentials: func(username, password, email string) error {
			if strings.TrimSpace(username) == "" {
				return errors.New("username must not be empty")
			}
			if len(password) < 8 {
				return errors.New("too short")
			}
			return nil
		},
		Lookup:         store.lookup,
		HashPassword:   func(p string) (string, error) { return "hash(" + p + ")", nil },
		InsertIfAbsent: store.insert,
		IssueToken:     issue,
		Now:            func() time.Time { return time.Unix(1_700_000_000, 0) },
		MetricInc:      rec.inc,
		EmitAudit:      rec.emit,
		Metrics: RegisterMetrics{
			RegisterSuccess:        1,
			RegisterDuplicate:      2,
			RegisterPolicyRejected: 3,
			StoreError:             4,
		},
		Events: RegisterEvents{
			RegisterSuccess:   "register_success",
			RegisterFailure:   "register_failure",
			RegisterDuplicate: "register_duplicate",
			RegisterPolicy:    "register_policy",
		},
		Errors: RegisterErrors{
			DuplicateAccount: errDup,
			StoreUnavailable: errStore,
		},
	}
}

func TestRunRegisterSuccess(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	tok, err := RunRegister(context.Background(), RegisterRequest{Username: "  brewer ", Email: "a@example.com", Password: "longenough"}, registerDeps(store, rec))
	if err != nil {
		t.Fatalf("RunRegister error: %v", err)
	}
	if tok != "tok:a@example.com:brewer" {
		t.Fatalf("unexpected token %q", tok)
	}

	got := store.records["a@example.com"]
	if got.Username != "brewer" || got.PasswordHash != "hash(longenough)" || got.Provider != "local" {
		t.Fatalf("unexpected record %#v", got)
	}
	if !got.CreatedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected CreatedAt %v", got.CreatedAt)
	}
	if rec.metrics[1] != 1 || rec.last().event != "register_success" || !rec.last().success {
		t.Fatalf("expected success metric and audit, got %v %#v", rec.metrics, rec.last())
	}
}

func TestRunRegisterPolicyErrorReturnedUnwrapped(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps := registerDeps(store, rec)
	violation := errors.New("too short")
	deps.ValidateCredentials = func(string, string, string) error { return violation }
	deps.ViolationKind = func(error) string { return "length" }

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "b", Email: "a@example.com", Password: "x"}, deps)
	if err != violation {
		t.Fatalf("expected violation as is, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("store must not be touched on policy failure")
	}
	if rec.metrics[3] != 1 || rec.last().meta["rule"] != "length" {
		t.Fatalf("expected policy metric and audit rule, got %v %#v", rec.metrics, rec.last())
	}
}

func TestRunRegisterDuplicateOnLookup(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.records["a@example.com"] = Record{Email: "a@example.com", Username: "first"}

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "second", Email: "a@example.com", Password: "longenough"}, registerDeps(store, rec))
	if !errors.Is(err, errDup) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("expected no insert after lookup hit")
	}
	if rec.last().meta["stage"] != "lookup" {
		t.Fatalf("expected lookup stage, got %#v", rec.last())
	}
}

func TestRunRegisterLostInsertIsDuplicate(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.loseInsert = func(Record) {}

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "b", Email: "a@example.com", Password: "longenough"}, registerDeps(store, rec))
	if !errors.Is(err, errDup) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if rec.metrics[2] != 1 || rec.last().meta["stage"] != "insert" {
		t.Fatalf("expected insert-stage duplicate, got %v %#v", rec.metrics, rec.last())
	}
}

func TestRunRegisterStoreErrors(t *testing.T) {
	for _, stage := range []string{"lookup", "insert"} {
		store, rec := newMemStore(), newRecorder()
		cause := errors.New("connection refused")
		if stage == "lookup" {
			store.lookupErr = cause
		} else {
			store.insertErr = cause
		}

		_, err := RunRegister(context.Background(), RegisterRequest{Username: "b", Email: "a@example.com", Password: "longenough"}, registerDeps(store, rec))
		if !errors.Is(err, errStore) || !errors.Is(err, cause) {
			t.Fatalf("%s: expected joined store error, got %v", stage, err)
		}
		if rec.metrics[4] != 1 {
			t.Fatalf("%s: expected store error metric", stage)
		}
	}
}

func TestRunRegisterHashFailure(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps := registerDeps(store, rec)
	deps.HashPassword = func(string) (string, error) { return "", errors.New("entropy exhausted") }

	if _, err := RunRegister(context.Background(), RegisterRequest{Username: "b", Email: "a@example.com", Password: "longenough"}, deps); err == nil {
		t.Fatal("expected hash failure")
	}
	if store.inserts != 0 {
		t.Fatal("expected no insert after hash failure")
	}
}

func TestRunRegisterNotReady(t *testing.T) {
	_, err := RunRegister(context.Background(), RegisterRequest{}, RegisterDeps{})
	if err == nil || err.Error() != "engine not initialized" {
		t.Fatalf("expected not-ready error, got %v", err)
	}
}

func federatedDeps(store *memStore, rec *recorder, ident FederatedIdentity, verifyErr error) (FederatedDeps, *[]error) {
	var logged []error
	return FederatedDeps{
		Verify: func(context.Context, string) (FederatedIdentity, error) {
			return ident, verifyErr
		},
		LogRejected:    func(_ context.Context, err error) { logged = append(logged, err) },
		ValidEmail:     func(s string) bool { return strings.Contains(s, "@") },
		Lookup:         store.lookup,
		InsertIfAbsent: store.insert,
		IssueToken:     issue,
		MetricInc:      rec.inc,
		EmitAudit:      rec.emit,
		Metrics: FederatedMetrics{
			FederatedLogin:    1,
			FederatedCreated:  2,
			FederatedRejected: 3,
			StoreError:        4,
		},
		Events: FederatedEvents{
			FederatedLogin:    "federated_login",
			FederatedCreated:  "federated_create",
			FederatedRejected: "federated_rejected",
			FederatedFailure:  "federated_failure",
		},
		Errors: FederatedErrors{
			Verification:     errVerify,
			StoreUnavailable: errStore,
		},
	}, &logged
}

func TestRunFederatedCreatesRecordWithoutHash(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps, _ := federatedDeps(store, rec, FederatedIdentity{Email: "f@example.com", DisplayName: "Fed User", Provider: "https://idp.example"}, nil)

	tok, err := RunFederated(context.Background(), "assertion", deps)
	if err != nil {
		t.Fatalf("RunFederated error: %v", err)
	}
	if tok != "tok:f@example.com:Fed User" {
		t.Fatalf("unexpected token %q", tok)
	}
	got := store.records["f@example.com"]
	if got.PasswordHash != "" || got.Provider != "https://idp.example" {
		t.Fatalf("unexpected record %#v", got)
	}
	if rec.metrics[2] != 1 {
		t.Fatal("expected created metric")
	}
}

func TestRunFederatedExistingLocalAccountIsLogin(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.records["a@example.com"] = Record{Email: "a@example.com", Username: "local", PasswordHash: "hash(x)", Provider: "local"}
	deps, _ := federatedDeps(store, rec, FederatedIdentity{Email: "a@example.com", DisplayName: "Other Name"}, nil)

	tok, err := RunFederated(context.Background(), "assertion", deps)
	if err != nil {
		t.Fatalf("RunFederated error: %v", err)
	}
	if tok != "tok:a@example.com:local" {
		t.Fatalf("expected token for existing username, got %q", tok)
	}
	if store.inserts != 0 || len(store.records) != 1 || store.records["a@example.com"].PasswordHash != "hash(x)" {
		t.Fatal("existing record must be left untouched")
	}
	if rec.metrics[1] != 1 || rec.last().meta["account_provider"] != "local" {
		t.Fatalf("expected login metric and audit, got %v %#v", rec.metrics, rec.last())
	}
}

func TestRunFederatedLostInsertIsLogin(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.loseInsert = func(r Record) {
		store.records[r.Email] = Record{Email: r.Email, Username: "winner", PasswordHash: "hash(w)"}
	}
	deps, _ := federatedDeps(store, rec, FederatedIdentity{Email: "a@example.com", DisplayName: "loser"}, nil)

	tok, err := RunFederated(context.Background(), "assertion", deps)
	if err != nil {
		t.Fatalf("RunFederated error: %v", err)
	}
	if tok != "tok:a@example.com:winner" {
		t.Fatalf("expected token for winning record, got %q", tok)
	}
	if rec.metrics[1] != 1 || rec.metrics[2] != 0 {
		t.Fatalf("expected login not create, got %v", rec.metrics)
	}
}

func TestRunFederatedRejectionIsGeneric(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	detail := errors.New("aud mismatch: expected brewboard got evil")
	deps, logged := federatedDeps(store, rec, FederatedIdentity{}, detail)

	_, err := RunFederated(context.Background(), "assertion", deps)
	if err != errVerify {
		t.Fatalf("expected generic verification error, got %v", err)
	}
	if len(*logged) != 1 || (*logged)[0] != detail {
		t.Fatal("expected verifier detail to be logged")
	}
	if rec.last().err != errVerify {
		t.Fatal("audit must carry only the generic error")
	}
}

func TestRunFederatedRejectsInvalidEmail(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps, _ := federatedDeps(store, rec, FederatedIdentity{Email: "not-an-email"}, nil)

	if _, err := RunFederated(context.Background(), "assertion", deps); err != errVerify {
		t.Fatalf("expected verification error, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("expected no insert")
	}
}

func TestRunFederatedUsernameFallsBackToLocalPart(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps, _ := federatedDeps(store, rec, FederatedIdentity{Email: "barista@example.com", DisplayName: "   "}, nil)

	if _, err := RunFederated(context.Background(), "assertion", deps); err != nil {
		t.Fatalf("RunFederated error: %v", err)
	}
	if got := store.records["barista@example.com"].Username; got != "barista" {
		t.Fatalf("expected local-part username, got %q", got)
	}
}

func TestRunFederatedWithoutVerifier(t *testing.T) {
	off := errors.New("off")
	_, err := RunFederated(context.Background(), "x", FederatedDeps{Errors: FederatedErrors{FederationOff: off}})
	if err != off {
		t.Fatalf("expected federation-off error, got %v", err)
	}
}

func TestRunCheckSession(t *testing.T) {
	rec := newRecorder()
	deps := SessionDeps{
		VerifyToken: func(tok string) (map[string]string, error) {
			switch tok {
			case "good":
				return map[string]string{"sub": "a@example.com"}, nil
			case "nosub":
				return map[string]string{"name": "x"}, nil
			default:
				return nil, errors.New("invalid token")
			}
		},
		MetricInc:          rec.inc,
		Metrics:            SessionMetrics{SessionValid: 1, SessionInvalid: 2},
		ErrUnauthenticated: errUnauth,
	}

	claims, err := RunCheckSession(context.Background(), "good", deps)
	if err != nil || claims["sub"] != "a@example.com" {
		t.Fatalf("expected claims, got %v %v", claims, err)
	}
	for _, tok := range []string{"", "nosub", "forged"} {
		if _, err := RunCheckSession(context.Background(), tok, deps); err != errUnauth {
			t.Fatalf("%q: expected unauthenticated, got %v", tok, err)
		}
	}
	if rec.metrics[1] != 1 || rec.metrics[2] != 3 {
		t.Fatalf("unexpected metrics %v", rec.metrics)
	}
}

func loginDeps(store *memStore, rec *recorder, verified *[]string) LoginDeps {
	return LoginDeps{
		Lookup: store.lookup,
		VerifyPassword: func(password, hash string) (bool, error) {
			*verified = append(*verified, hash)
			if hash == "broken" {
				return false, errors.New("malformed")
			}
			return hash == "hash("+password+")", nil
		},
		DummyHash:  "dummy",
		IssueToken: issue,
		MetricInc:  rec.inc,
		EmitAudit:  rec.emit,
		Metrics:    LoginMetrics{LoginSuccess: 1, LoginFailure: 2, StoreError: 3},
		Events:     LoginEvents{LoginSuccess: "login_success", LoginFailure: "login_failure"},
		Errors:     LoginErrors{InvalidCredentials: errBadCreds, StoreUnavailable: errStore},
	}
}

func TestRunLogin(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.records["a@example.com"] = Record{Email: "a@example.com", Username: "a", PasswordHash: "hash(secret)"}
	store.records["f@example.com"] = Record{Email: "f@example.com", Username: "f"}
	store.records["b@example.com"] = Record{Email: "b@example.com", Username: "b", PasswordHash: "broken"}

	var verified []string
	deps := loginDeps(store, rec, &verified)

	tok, err := RunLogin(context.Background(), "a@example.com", "secret", deps)
	if err != nil || tok != "tok:a@example.com:a" {
		t.Fatalf("expected login, got %q %v", tok, err)
	}

	cases := []struct {
		email, password, reason, hash string
	}{
		{"a@example.com", "wrong", "wrong_password", "hash(secret)"},
		{"missing@example.com", "secret", "unknown_email", "dummy"},
		{"f@example.com", "secret", "no_password", "dummy"},
		{"b@example.com", "secret", "malformed_hash", "broken"},
	}
	for _, c := range cases {
		verified = verified[:0]
		if _, err := RunLogin(context.Background(), c.email, c.password, deps); err != errBadCreds {
			t.Fatalf("%s: expected invalid credentials, got %v", c.reason, err)
		}
		if len(verified) != 1 || verified[0] != c.hash {
			t.Fatalf("%s: expected one verify against %q, got %v", c.reason, c.hash, verified)
		}
		if rec.last().meta["reason"] != c.reason {
			t.Fatalf("expected reason %q, got %#v", c.reason, rec.last())
		}
	}
	if rec.metrics[1] != 1 || rec.metrics[2] != 4 {
		t.Fatalf("unexpected metrics %v", rec.metrics)
	}
}

func TestRunLoginStoreError(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.lookupErr = errors.New("down")
	var verified []string

	_, err := RunLogin(context.Background(), "a@example.com", "x", loginDeps(store, rec, &verified))
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRunRegisterLimitedBeforeValidation(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	deps := registerDeps(store, rec)
	limited := errors.New("limited")
	validated := false
	deps.EnforceLimit = func(context.Context, string) error { return limited }
	deps.ValidateCredentials = func(string, string, string) error {
		validated = true
		return nil
	}
	deps.Metrics.RegisterRateLimited = 9

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "b", Email: "a@example.com", Password: "longenough"}, deps)
	if err != limited {
		t.Fatalf("expected limiter error, got %v", err)
	}
	if validated || store.inserts != 0 {
		t.Fatal("limited request must stop before validation")
	}
	if rec.metrics[9] != 1 {
		t.Fatalf("expected rate limited metric, got %v", rec.metrics)
	}
}

func TestRunLoginThrottleHooks(t *testing.T) {
	store, rec := newMemStore(), newRecorder()
	store.records["a@example.com"] = Record{Email: "a@example.com", Username: "a", PasswordHash: "hash(secret)"}
	var verified []string
	deps := loginDeps(store, rec, &verified)

	failures := map[string]int{}
	blocked := errors.New("blocked")
	deps.CheckThrottle = func(_ context.Context, email string) error {
		if failures[email] >= 2 {
			return blocked
		}
		return nil
	}
	deps.RecordFailure = func(_ context.Context, email string) { failures[email]++ }
	deps.ResetFailures = func(_ context.Context, email string) { delete(failures, email) }

	if _, err := RunLogin(context.Background(), "a@example.com", "wrong", deps); err != errBadCreds {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := RunLogin(context.Background(), "a@example.com", "secret", deps); err != nil {
		t.Fatalf("expected login, got %v", err)
	}
	if failures["a@example.com"] != 0 {
		t.Fatal("expected success to reset failures")
	}

	for i := 0; i < 2; i++ {
		_, _ = RunLogin(context.Background(), "a@example.com", "wrong", deps)
	}
	verified = verified[:0]
	if _, err := RunLogin(context.Background(), "a@example.com", "secret", deps); err != blocked {
		t.Fatalf("expected throttle error, got %v", err)
	}
	if len(verified) != 0 {
		t.Fatal("throttled login must not verify a password")
	}
}
