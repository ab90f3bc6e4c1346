package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Session.VerifyToken != nil
}

func (s Service) Register(ctx context.Context, req RegisterRequest) (string, error) {
	return RunRegister(ctx, req, s.deps.Register)
}

func (s Service) Federated(ctx context.Context, assertion string) (string, error) {
	return RunFederated(ctx, assertion, s.deps.Federated)
}

func (s Service) CheckSession(ctx context.Context, tok string) (map[string]string, error) {
	return RunCheckSession(ctx, tok, s.deps.Session)
}

func (s Service) Login(ctx context.Context, email, password string) (string, error) {
	return RunLogin(ctx, email, password, s.deps.Login)
}
