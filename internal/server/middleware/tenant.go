package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequireTenant rejects requests that reach it without a resolved tenant.
// Auth already guarantees one; this is the second gate for routes mounted
// outside Auth by mistake.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || p.TenantID == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"valid tenant required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
