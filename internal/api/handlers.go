package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/example/minibank/internal/auth"
	"github.com/example/minibank/internal/ledger"
	"github.com/example/minibank/internal/security"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type depositRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	ToEmail string `json:"to_email"`
	Amount  string `json:"amount"`
	Note    string `json:"note"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type transactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
}

func handleRegister(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if err := deps.Auth.Register(r.Context(), req.Email, req.Password); err != nil {
			if errors.Is(err, auth.ErrEmailTaken) {
				security.WriteJSONError(w, r, http.StatusConflict, "email_taken")
				return
			}
			deps.Logger.Error("registration failed", "error", err)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusCreated, okResponse{OK: true})
	}
}

func handleLogin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		token, err := deps.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				security.WriteJSONError(w, r, http.StatusUnauthorized, "invalid_credentials")
				return
			}
			deps.Logger.Error("login failed", "error", err)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, loginResponse{Token: token})
	}
}

func handleJWKS(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := deps.Auth.Keys.JWKS()
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, r, http.StatusOK, jwks)
	}
}

func handleMe(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		overview, err := deps.Ledger.Overview(r.Context(), id.UserID)
		if err != nil {
			writeLedgerError(deps, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, overview)
	}
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req depositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if err := deps.Ledger.Deposit(r.Context(), id.UserID, req.Amount); err != nil {
			writeLedgerError(deps, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, okResponse{OK: true})
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if err := deps.Ledger.Transfer(r.Context(), id.UserID, req.ToEmail, req.Amount, req.Note); err != nil {
			writeLedgerError(deps, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, okResponse{OK: true})
	}
}

func handleTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		// Out-of-range or non-numeric limits fall back to the default.
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				limit = i
			}
		}

		items, err := deps.Ledger.RecentTransactions(r.Context(), id.UserID, limit)
		if err != nil {
			writeLedgerError(deps, w, r, err)
			return
		}
		if items == nil {
			items = []ledger.Transaction{}
		}
		writeJSON(w, r, http.StatusOK, transactionsResponse{Items: items})
	}
}

// writeLedgerError maps the engine's typed failures onto stable HTTP codes.
// Anything untyped is an internal error: logged, never leaked.
func writeLedgerError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, ledger.ErrAmountNotPositive):
		security.WriteJSONError(w, r, http.StatusBadRequest, "amount_not_positive")
	case errors.Is(err, ledger.ErrSelfTransfer):
		security.WriteJSONError(w, r, http.StatusBadRequest, "self_transfer")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		security.WriteJSONError(w, r, http.StatusBadRequest, "insufficient_funds")
	case errors.Is(err, ledger.ErrAccountNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "account_not_found")
	case errors.Is(err, ledger.ErrSenderAccountNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "sender_account_not_found")
	case errors.Is(err, ledger.ErrRecipientNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "recipient_not_found")
	default:
		deps.Logger.Error("ledger operation failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
