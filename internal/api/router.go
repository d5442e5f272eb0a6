// Package api exposes the ledger over HTTP. The transport layer validates
// framing only; all business rules live in the ledger engine.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/minibank/internal/auth"
	"github.com/example/minibank/internal/ledger"
	"github.com/example/minibank/internal/security"
	"github.com/example/minibank/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Ledger is the slice of the engine the transport needs.
type Ledger interface {
	Deposit(ctx context.Context, userID int64, amountText string) error
	Transfer(ctx context.Context, userID int64, toEmail, amountText, note string) error
	Overview(ctx context.Context, userID int64) (*ledger.Overview, error)
	RecentTransactions(ctx context.Context, userID int64, limit int) ([]ledger.Transaction, error)
}

type Dependencies struct {
	Logger       *slog.Logger
	Auth         *auth.Service
	JWTValidator *auth.JWTValidator
	Ledger       Ledger
	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	registerV, err := security.NewJSONSchemaValidator(registerSchema)
	if err != nil {
		return nil, err
	}
	loginV, err := security.NewJSONSchemaValidator(loginSchema)
	if err != nil {
		return nil, err
	}
	depositV, err := security.NewJSONSchemaValidator(depositSchema)
	if err != nil {
		return nil, err
	}
	transferV, err := security.NewJSONSchemaValidator(transferSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.With(registerV.Middleware).Post("/register", handleRegister(deps))
		r.With(loginV.Middleware).Post("/login", handleLogin(deps))
		r.Get("/jwks.json", handleJWKS(deps))
	})

	r.Route("/api/bank", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))

		r.Get("/me", handleMe(deps))
		r.With(depositV.Middleware).Post("/deposit", handleDeposit(deps))
		r.With(transferV.Middleware).Post("/transfer", handleTransfer(deps))
		r.Get("/transactions", handleTransactions(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
