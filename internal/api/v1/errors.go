package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/server/middleware"
)

// principal returns the caller resolved by middleware.Auth.
func principal(ctx context.Context) (*domain.Principal, error) {
	p, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("missing or invalid credentials")
	}
	return p, nil
}

// accessError maps a guarded lookup failure onto a status. Tenant mismatch
// already arrives as domain.ErrNotFound, so both produce the same 404 body.
func accessError(err error, resource, op string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(resource + " not found")
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden("insufficient permissions")
	case errors.Is(err, domain.ErrUnauthenticated):
		return huma.Error401Unauthorized("missing or invalid credentials")
	default:
		return huma.Error500InternalServerError("failed to "+op, err)
	}
}

// rejectionError maps an intake refusal onto a status. The reason code goes
// in the error detail so clients can branch on it.
func rejectionError(r *command.Rejection) error {
	detail := &huma.ErrorDetail{Message: string(r.Reason), Location: "body"}

	switch r.Reason {
	case command.RejectTooLong, command.RejectEmptyPrompt:
		return huma.NewError(http.StatusBadRequest, "invalid prompt", detail)
	case command.RejectSuspiciousPrompt:
		return huma.NewError(http.StatusUnprocessableEntity, "prompt rejected", detail)
	case command.RejectTenantMismatch:
		return huma.NewError(http.StatusNotFound, "house not found", detail)
	case command.RejectForbidden:
		return huma.NewError(http.StatusForbidden, "insufficient permissions", detail)
	case command.RejectUnauthenticated:
		return huma.NewError(http.StatusUnauthorized, "missing or invalid credentials", detail)
	default:
		return huma.Error500InternalServerError("unexpected rejection")
	}
}
