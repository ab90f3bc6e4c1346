package flows

import (
	"context"
	"errors"
)

type SessionMetrics struct {
	SessionValid   int
	SessionInvalid int
}

type SessionDeps struct {
	VerifyToken  func(string) (map[string]string, error)
	SubjectClaim string

	MetricInc func(int)

	Metrics SessionMetrics

	ErrUnauthenticated error
}

// RunCheckSession verifies a bearer token and returns its claims. Every
// failure, including a token without a subject, is ErrUnauthenticated.
func RunCheckSession(_ context.Context, tok string, deps SessionDeps) (map[string]string, error) {
	normalizeSessionDeps(&deps)

	if deps.VerifyToken == nil || tok == "" {
		deps.MetricInc(deps.Metrics.SessionInvalid)
		return nil, deps.ErrUnauthenticated
	}

	claims, err := deps.VerifyToken(tok)
	if err != nil || claims[deps.SubjectClaim] == "" {
		deps.MetricInc(deps.Metrics.SessionInvalid)
		return nil, deps.ErrUnauthenticated
	}

	deps.MetricInc(deps.Metrics.SessionValid)
	return claims, nil
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.SubjectClaim == "" {
		deps.SubjectClaim = "sub"
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ErrUnauthenticated == nil {
		deps.ErrUnauthenticated = errors.New("unauthenticated")
	}
}
