package security

import (
	"encoding/json"
	"net/http"
)

// ErrorBody carries a stable machine-readable code, never internal detail,
// plus the correlation id so clients can quote it in support requests.
type ErrorBody struct {
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ErrorResponse is the uniform failure envelope: {"error":{"code":...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSONError writes the failure envelope tagged with the request's
// correlation id.
func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{
		Code:          code,
		CorrelationID: cid,
	}})
}
