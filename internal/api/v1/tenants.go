package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
)

type TenantBody struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Active          bool      `json:"active"`
	DefaultLanguage string    `json:"default_language"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func tenantBody(t *domain.Tenant) TenantBody {
	return TenantBody{
		ID:              t.ID,
		Name:            t.Name,
		Slug:            t.Slug,
		Active:          t.Active,
		DefaultLanguage: t.DefaultLanguage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type TenantOutput struct {
	Body TenantBody
}

type UpdateTenantInput struct {
	Body struct {
		Name            *string `json:"name,omitempty" minLength:"1" maxLength:"255" doc:"Tenant name"`
		DefaultLanguage *string `json:"default_language,omitempty" minLength:"2" maxLength:"35" doc:"BCP 47 fallback language"`
	}
}

// RegisterTenantRoutes exposes the caller's own tenant. There is no route
// that addresses another tenant.
func RegisterTenantRoutes(api huma.API, store DataStore, guard Authorizer) {
	huma.Register(api, huma.Operation{
		OperationID: "get-current-tenant",
		Method:      http.MethodGet,
		Path:        "/tenant",
		Summary:     "Get the caller's tenant",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, _ *struct{}) (*TenantOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		scope := domain.TenantScope{TenantID: p.TenantID}
		if err := guard.AuthorizeScope(ctx, p, authz.ResourceTenant, scope, authz.OpRead).Err(); err != nil {
			return nil, accessError(err, "tenant", "get tenant")
		}

		t, err := store.Tenants().GetByID(ctx, p.TenantID)
		if err != nil {
			return nil, accessError(err, "tenant", "get tenant")
		}

		return &TenantOutput{Body: tenantBody(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-current-tenant",
		Method:      http.MethodPatch,
		Path:        "/tenant",
		Summary:     "Update the caller's tenant settings",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *UpdateTenantInput) (*TenantOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		scope := domain.TenantScope{TenantID: p.TenantID}
		if err := guard.AuthorizeScope(ctx, p, authz.ResourceTenant, scope, authz.OpManage).Err(); err != nil {
			return nil, accessError(err, "tenant", "update tenant")
		}

		t, err := store.Tenants().GetByID(ctx, p.TenantID)
		if err != nil {
			return nil, accessError(err, "tenant", "update tenant")
		}

		if input.Body.Name != nil {
			t.Name = *input.Body.Name
		}
		if input.Body.DefaultLanguage != nil {
			t.DefaultLanguage = *input.Body.DefaultLanguage
		}
		t.UpdatedAt = time.Now().UTC()

		if err := store.Tenants().Update(ctx, t); err != nil {
			return nil, accessError(err, "tenant", "update tenant")
		}

		return &TenantOutput{Body: tenantBody(t)}, nil
	})
}
