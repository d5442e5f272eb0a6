package api

import (
	"fmt"
	"net/http"

	"github.com/example/minibank/internal/security"
)

// AuditMiddleware records every mutating request in the tamper-evident chain.
func AuditMiddleware(auditor Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
				auditor.Append(fmt.Sprintf("%s %s cid=%s",
					r.Method, r.URL.Path, security.CorrelationIDFromContext(r.Context())))
			}
			next.ServeHTTP(w, r)
		})
	}
}
