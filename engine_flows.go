package userauth

import (
	"context"
	"errors"
	"time"

	"github.com/brewboard/userauth/internal/flows"
	"github.com/brewboard/userauth/policy"
)

func (e *Engine) newFlowService(dummyHash string) flows.Service {
	metricInc := func(id int) { e.metricInc(MetricID(id)) }

	deps := flows.Deps{
		Register: flows.RegisterDeps{
			Provider:            ProviderLocal,
			ValidateCredentials: e.policy.Validate,
			ViolationKind:       violationKind,
			Lookup:              e.lookup,
			HashPassword:        e.hasher.Hash,
			InsertIfAbsent:      e.insertIfAbsent,
			IssueToken:          e.issueToken,
			Now:                 e.now,
			MetricInc:           metricInc,
			Observe: func(id int, d time.Duration) {
				e.metrics.Observe(MetricID(id), d)
			},
			EmitAudit: e.emitAudit,
			Metrics: flows.RegisterMetrics{
				RegisterSuccess:        int(MetricRegisterSuccess),
				RegisterDuplicate:      int(MetricRegisterDuplicate),
				RegisterPolicyRejected: int(MetricRegisterPolicyRejected),
				RegisterRateLimited:    int(MetricRegisterRateLimited),
				RegisterLatency:        int(MetricRegisterLatency),
				StoreError:             int(MetricStoreError),
			},
			Events: flows.RegisterEvents{
				RegisterSuccess:   auditEventRegisterSuccess,
				RegisterFailure:   auditEventRegisterFailure,
				RegisterDuplicate: auditEventRegisterDuplicate,
				RegisterPolicy:    auditEventRegisterPolicy,
				RegisterLimited:   auditEventRegisterLimited,
			},
			Errors: flows.RegisterErrors{
				EngineNotReady:   ErrEngineNotReady,
				DuplicateAccount: ErrDuplicateAccount,
				StoreUnavailable: ErrStoreUnavailable,
			},
		},
		Federated: flows.FederatedDeps{
			LogRejected: func(ctx context.Context, err error) {
				e.logger.DebugContext(ctx, "federated assertion rejected", "error", err)
			},
			ValidEmail:     policy.ValidEmail,
			Lookup:         e.lookup,
			InsertIfAbsent: e.insertIfAbsent,
			IssueToken:     e.issueToken,
			Now:            e.now,
			MetricInc:      metricInc,
			EmitAudit:      e.emitAudit,
			Metrics: flows.FederatedMetrics{
				FederatedLogin:    int(MetricFederatedLogin),
				FederatedCreated:  int(MetricFederatedCreated),
				FederatedRejected: int(MetricFederatedRejected),
				StoreError:        int(MetricStoreError),
			},
			Events: flows.FederatedEvents{
				FederatedLogin:    auditEventFederatedLogin,
				FederatedCreated:  auditEventFederatedCreate,
				FederatedRejected: auditEventFederatedRejected,
				FederatedFailure:  auditEventFederatedFailure,
			},
			Errors: flows.FederatedErrors{
				EngineNotReady:   ErrEngineNotReady,
				Verification:     ErrVerification,
				FederationOff:    ErrFederationDisabled,
				StoreUnavailable: ErrStoreUnavailable,
			},
		},
		Session: flows.SessionDeps{
			VerifyToken: e.codec.Verify,
			MetricInc:   metricInc,
			Metrics: flows.SessionMetrics{
				SessionValid:   int(MetricSessionValid),
				SessionInvalid: int(MetricSessionInvalid),
			},
			ErrUnauthenticated: ErrUnauthenticated,
		},
		Login: flows.LoginDeps{
			Lookup:         e.lookup,
			VerifyPassword: e.hasher.Verify,
			DummyHash:      dummyHash,
			IssueToken:     e.issueToken,
			MetricInc:      metricInc,
			EmitAudit:      e.emitAudit,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				StoreError:       int(MetricStoreError),
			},
			Events: flows.LoginEvents{
				LoginSuccess: auditEventLoginSuccess,
				LoginFailure: auditEventLoginFailure,
				LoginLimited: auditEventLoginLimited,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				StoreUnavailable:   ErrStoreUnavailable,
			},
		},
	}

	if e.verifier != nil {
		audience := e.config.Federated.Audience
		deps.Federated.Verify = func(ctx context.Context, assertion string) (flows.FederatedIdentity, error) {
			ident, err := e.verifier.Verify(ctx, assertion, audience)
			if err != nil {
				return flows.FederatedIdentity{Provider: ident.Provider}, err
			}
			return flows.FederatedIdentity{
				Email:       ident.Email,
				DisplayName: ident.DisplayName,
				Provider:    ident.Provider,
			}, nil
		}
	}

	if e.registrationLimiter != nil {
		deps.Register.EnforceLimit = e.enforceRegistrationLimit
	}
	if e.loginLimiter != nil {
		deps.Login.CheckThrottle = e.checkLoginThrottle
		deps.Login.RecordFailure = e.recordLoginFailure
		deps.Login.ResetFailures = e.resetLoginFailures
	}

	return flows.New(deps)
}

func violationKind(err error) string {
	var v *policy.Violation
	if errors.As(err, &v) {
		return string(v.Kind)
	}
	return ""
}
