// Package security holds the transport-side middleware: correlation ids,
// request validation, body limits, rate limiting and error envelopes.
package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

// Client-supplied ids are only reused when they look like an id; anything
// else is replaced so log fields stay clean and bounded.
var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type correlationIDKey struct{}

// CorrelationID tags every request with a correlation id, reusing a
// well-formed one the client sent, and echoes it back in the response header.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if !correlationIDPattern.MatchString(cid) {
			cid = uuid.NewString()
		}

		w.Header().Set(CorrelationIDHeader, cid)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext returns the request's correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(correlationIDKey{}).(string)
	return s
}
