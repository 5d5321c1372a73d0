package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/domus/internal/api/v1"
	"github.com/gosuda/domus/internal/domain"
)

func tenantStore(t *testing.T, tenant *domain.Tenant, updated **domain.Tenant) *mockDataStore {
	t.Helper()
	return &mockDataStore{
		tenants: &mockTenantRepo{
			getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
				if id != tenant.ID {
					return nil, domain.ErrNotFound
				}
				cp := *tenant
				return &cp, nil
			},
			updateFunc: func(_ context.Context, got *domain.Tenant) error {
				*updated = got
				return nil
			},
		},
		houses: newMemHouses(),
	}
}

// ---------------------------------------------------------------------------
// GET /tenant
// ---------------------------------------------------------------------------

func TestGetCurrentTenant(t *testing.T) {
	t.Parallel()

	tenant := &domain.Tenant{ID: uuid.New(), Name: "Acme", Slug: "acme", Active: true, DefaultLanguage: "en"}

	tests := []struct {
		name string
		ctx  context.Context
		code int
	}{
		{"member", memberCtx(tenant.ID), http.StatusOK},
		{"viewer", principalCtx(tenant.ID, "viewer"), http.StatusOK},
		{"auditor_lacks_tenant_read", principalCtx(tenant.ID, "auditor"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var updated *domain.Tenant
			guard, _ := newGuard(newMemHouses())
			_, api := humatest.New(t)
			v1.RegisterTenantRoutes(api, tenantStore(t, tenant, &updated), guard)

			resp := api.GetCtx(tt.ctx, "/tenant")
			require.Equal(t, tt.code, resp.Code)
			if tt.code != http.StatusOK {
				return
			}

			var body v1.TenantBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "acme", body.Slug)
			assert.Equal(t, "en", body.DefaultLanguage)
		})
	}
}

// ---------------------------------------------------------------------------
// PATCH /tenant
// ---------------------------------------------------------------------------

func TestUpdateCurrentTenant(t *testing.T) {
	t.Parallel()

	tenant := &domain.Tenant{ID: uuid.New(), Name: "Acme", Slug: "acme", Active: true, DefaultLanguage: "en"}

	t.Run("admin_updates_language", func(t *testing.T) {
		t.Parallel()

		var updated *domain.Tenant
		guard, _ := newGuard(newMemHouses())
		_, api := humatest.New(t)
		v1.RegisterTenantRoutes(api, tenantStore(t, tenant, &updated), guard)

		resp := api.PatchCtx(adminCtx(tenant.ID), "/tenant", map[string]any{"default_language": "ko"})
		require.Equal(t, http.StatusOK, resp.Code)

		require.NotNil(t, updated)
		assert.Equal(t, "ko", updated.DefaultLanguage)
		assert.Equal(t, "Acme", updated.Name)
		assert.Equal(t, tenant.ID, updated.ID)
	})

	t.Run("member_is_forbidden", func(t *testing.T) {
		t.Parallel()

		var updated *domain.Tenant
		guard, _ := newGuard(newMemHouses())
		_, api := humatest.New(t)
		v1.RegisterTenantRoutes(api, tenantStore(t, tenant, &updated), guard)

		resp := api.PatchCtx(memberCtx(tenant.ID), "/tenant", map[string]any{"name": "Hijacked"})
		assert.Equal(t, http.StatusForbidden, resp.Code)
		assert.Nil(t, updated)
	})
}
