package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/tenancy"
)

// PrincipalResolver turns a bearer token into the request Principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Principal, error)
}

// Recorder receives security events.
type Recorder interface {
	Record(ctx context.Context, e *domain.SecurityEvent)
}

const unauthorizedBody = `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`

// Auth resolves the bearer token (or the access_token query parameter for
// websocket upgrades) into a Principal. Every rejection gets the same 401
// body; the reason only reaches the log and, when a tenant is known, the
// audit trail.
func Auth(resolver PrincipalResolver, recorder Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolver.Resolve(r.Context(), extractToken(r))
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			var failure *tenancy.Failure
			if !errors.As(err, &failure) {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("auth: principal resolution failed")
				http.Error(w, `{"title":"Service Unavailable","status":503,"detail":"try again later"}`, http.StatusServiceUnavailable)
				return
			}

			log.Debug().Err(failure.Err).Str("path", r.URL.Path).Msg("auth: rejected")
			if failure.TenantID != uuid.Nil && recorder != nil {
				recorder.Record(r.Context(), &domain.SecurityEvent{
					EventType: domain.EventUnauthenticated,
					TenantID:  failure.TenantID,
					UserID:    failure.UserID,
					Severity:  domain.SeverityWarning,
					Details: map[string]any{
						"reason": failure.Err.Error(),
						"path":   r.URL.Path,
					},
				})
			}
			http.Error(w, unauthorizedBody, http.StatusUnauthorized)
		})
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	// Browsers cannot set headers on a websocket handshake.
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
