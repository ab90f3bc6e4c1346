package httpapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brewboard/userauth"
	"github.com/brewboard/userauth/internal/logging"
	"github.com/brewboard/userauth/middleware"
)

//go:embed static/index.html
var indexHTML []byte

const maxBodyBytes = 64 << 10

// Service is the part of *userauth.Engine the HTTP layer calls.
type Service interface {
	Register(ctx context.Context, username, email, password string) (string, error)
	RegisterOrLoginFederated(ctx context.Context, assertion string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	CheckSession(ctx context.Context, token string) (userauth.Claims, error)
	ListUsers(ctx context.Context) ([]userauth.UserSummary, error)
}

// Options tunes the handler. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// TrustProxyHeaders takes the client IP from X-Forwarded-For. Enable it
	// only behind a proxy that overwrites the header.
	TrustProxyHeaders bool
	// Registerer receives the request counter. Nil disables it.
	Registerer prometheus.Registerer
}

type handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler returns the full route table wrapped in request id, client IP
// and access log middleware.
func NewHandler(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	h := &handler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /auth/federated", h.federated)
	mux.Handle("GET /session", middleware.Guard(svc)(http.HandlerFunc(h.session)))
	mux.HandleFunc("GET /brewboard", h.brewboard)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /{$}", h.index)

	var requests *prometheus.CounterVec
	if opts.Registerer != nil {
		requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userauth_http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"route", "status"},
		)
		opts.Registerer.MustRegister(requests)
	}

	return withRequestContext(accessLog(mux, logger, requests), opts.TrustProxyHeaders)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
	Token   string `json:"token"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type federatedRequest struct {
	IDToken string `json:"id_token"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decode(w, r, &body) {
		return
	}

	token, err := h.svc.Register(r.Context(), body.Username, body.Email, body.Password)
	body.Password = ""
	if err != nil {
		h.writeError(w, r, "register", err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Message: "User registered successfully",
		User:    body.Username,
		Token:   token,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decode(w, r, &body) {
		return
	}

	token, err := h.svc.Login(r.Context(), body.Email, body.Password)
	body.Password = ""
	if err != nil {
		h.writeError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *handler) federated(w http.ResponseWriter, r *http.Request) {
	var body federatedRequest
	if !decode(w, r, &body) {
		return
	}

	token, err := h.svc.RegisterOrLoginFederated(r.Context(), body.IDToken)
	if err != nil {
		h.writeError(w, r, "federated", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Email: claims.Email, Name: claims.Name})
}

func (h *handler) brewboard(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, "brewboard", err)
		return
	}
	if len(users) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "No brewers found ☕️"})
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handler) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "operation", op, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}

// decode reads a JSON body. Malformed input is answered with 422, matching
// how field validation failures are reported.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "request body must be a JSON object"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
