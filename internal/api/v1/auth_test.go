package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/domus/internal/api/v1"
	"github.com/gosuda/domus/internal/auth"
	"github.com/gosuda/domus/internal/domain"
)

// slugStore serves one tenant by slug. Any other slug is missing.
func slugStore(tenant *domain.Tenant) *mockDataStore {
	return &mockDataStore{
		tenants: &mockTenantRepo{
			getBySlugFunc: func(_ context.Context, slug string) (*domain.Tenant, error) {
				if tenant != nil && slug == tenant.Slug {
					return tenant, nil
				}
				return nil, fmt.Errorf("repo.GetBySlug: %w", domain.ErrNotFound)
			},
		},
	}
}

func acmeTenant(active bool) *domain.Tenant {
	now := time.Now()
	return &domain.Tenant{
		ID:              uuid.New(),
		Name:            "Acme",
		Slug:            "acme",
		Active:          active,
		DefaultLanguage: "en",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Detail
}

// ---------------------------------------------------------------------------
// POST /auth/register
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	t.Parallel()

	tenant := acmeTenant(true)
	user := &domain.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Email:        "alice@acme.io",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Name:         "Alice",
		Roles:        []string{"member"},
	}

	t.Run("creates the user and signs them in", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuthRoutes(api, slugStore(tenant), &mockAuthService{
			registerFunc: func(_ context.Context, tid uuid.UUID, email, password, name string) (*domain.User, error) {
				assert.Equal(t, tenant.ID, tid)
				assert.Equal(t, "alice@acme.io", email)
				assert.Equal(t, "secretpw1", password)
				assert.Equal(t, "Alice", name)
				return user, nil
			},
			loginFunc: func(_ context.Context, tid uuid.UUID, _, _ string) (string, string, error) {
				assert.Equal(t, tenant.ID, tid)
				return "access-tok", "refresh-tok", nil
			},
		})

		resp := api.Post("/auth/register", map[string]any{
			"tenant_slug": "acme",
			"email":       "alice@acme.io",
			"password":    "secretpw1",
			"name":        "Alice",
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.NotContains(t, resp.Body.String(), "argon2id")

		var body struct {
			User         map[string]any `json:"user"`
			AccessToken  string         `json:"access_token"`
			RefreshToken string         `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, user.Email, body.User["email"])
		assert.Equal(t, tenant.ID.String(), body.User["tenant_id"])
		assert.Equal(t, []any{"member"}, body.User["roles"])
		assert.NotContains(t, body.User, "password_hash")
		assert.Equal(t, "access-tok", body.AccessToken)
		assert.Equal(t, "refresh-tok", body.RefreshToken)
	})

	tests := []struct {
		name       string
		slug       string
		tenant     *domain.Tenant
		registerFn func(context.Context, uuid.UUID, string, string, string) (*domain.User, error)
		loginFn    func(context.Context, uuid.UUID, string, string) (string, string, error)
		wantStatus int
		wantDetail string
	}{
		{
			name:       "unknown tenant",
			slug:       "ghost",
			tenant:     tenant,
			wantStatus: http.StatusNotFound,
			wantDetail: "tenant not found",
		},
		{
			name:       "inactive tenant reads as missing",
			slug:       "acme",
			tenant:     acmeTenant(false),
			wantStatus: http.StatusNotFound,
			wantDetail: "tenant not found",
		},
		{
			name:   "duplicate email",
			slug:   "acme",
			tenant: tenant,
			registerFn: func(context.Context, uuid.UUID, string, string, string) (*domain.User, error) {
				return nil, fmt.Errorf("auth.Register: %w", auth.ErrUserAlreadyExists)
			},
			wantStatus: http.StatusConflict,
			wantDetail: "user already exists",
		},
		{
			name:   "store failure does not leak",
			slug:   "acme",
			tenant: tenant,
			registerFn: func(context.Context, uuid.UUID, string, string, string) (*domain.User, error) {
				return nil, errors.New("pq: connection refused on 10.0.0.7")
			},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "failed to register user",
		},
		{
			name:   "token issue after register fails",
			slug:   "acme",
			tenant: tenant,
			registerFn: func(context.Context, uuid.UUID, string, string, string) (*domain.User, error) {
				return user, nil
			},
			loginFn: func(context.Context, uuid.UUID, string, string) (string, string, error) {
				return "", "", errors.New("signing key unavailable")
			},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "registered but failed to issue tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, api := humatest.New(t)
			v1.RegisterAuthRoutes(api, slugStore(tt.tenant), &mockAuthService{
				registerFunc: tt.registerFn,
				loginFunc:    tt.loginFn,
			})

			resp := api.Post("/auth/register", map[string]any{
				"tenant_slug": tt.slug,
				"email":       "alice@acme.io",
				"password":    "password123",
				"name":        "Alice",
			})

			require.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())
			assert.Equal(t, tt.wantDetail, decodeError(t, resp))
			assert.NotContains(t, resp.Body.String(), "10.0.0.7")
		})
	}

	t.Run("short password is refused by validation", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuthRoutes(api, slugStore(tenant), &mockAuthService{})

		resp := api.Post("/auth/register", map[string]any{
			"tenant_slug": "acme",
			"email":       "alice@acme.io",
			"password":    "short",
			"name":        "Alice",
		})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// POST /auth/login
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	t.Parallel()

	tenant := acmeTenant(true)

	t.Run("returns both tokens", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuthRoutes(api, slugStore(tenant), &mockAuthService{
			loginFunc: func(_ context.Context, tid uuid.UUID, email, password string) (string, string, error) {
				assert.Equal(t, tenant.ID, tid)
				assert.Equal(t, "alice@acme.io", email)
				assert.Equal(t, "secretpw1", password)
				return "access-tok", "refresh-tok", nil
			},
		})

		resp := api.Post("/auth/login", map[string]any{
			"tenant_slug": "acme",
			"email":       "alice@acme.io",
			"password":    "secretpw1",
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var body struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "access-tok", body.AccessToken)
		assert.Equal(t, "refresh-tok", body.RefreshToken)
	})

	// Unknown tenants, inactive tenants and bad credentials must produce
	// the same response so a caller cannot enumerate tenants or accounts.
	badCredentials := func(context.Context, uuid.UUID, string, string) (string, string, error) {
		return "", "", fmt.Errorf("auth.Login: %w", auth.ErrInvalidCredentials)
	}

	tests := []struct {
		name   string
		slug   string
		tenant *domain.Tenant
	}{
		{"unknown tenant", "ghost", tenant},
		{"inactive tenant", "acme", acmeTenant(false)},
		{"bad credentials", "acme", tenant},
	}

	var bodies []string
	for _, tt := range tests {
		_, api := humatest.New(t)
		v1.RegisterAuthRoutes(api, slugStore(tt.tenant), &mockAuthService{loginFunc: badCredentials})

		resp := api.Post("/auth/login", map[string]any{
			"tenant_slug": tt.slug,
			"email":       "alice@acme.io",
			"password":    "wrong-pw",
		})

		require.Equal(t, http.StatusUnauthorized, resp.Code, tt.name)
		bodies = append(bodies, resp.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		assert.JSONEq(t, bodies[0], bodies[i], "%s differs from %s", tests[i].name, tests[0].name)
	}

	t.Run("store failure is a 500", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuthRoutes(api, slugStore(tenant), &mockAuthService{
			loginFunc: func(context.Context, uuid.UUID, string, string) (string, string, error) {
				return "", "", errors.New("connection refused")
			},
		})

		resp := api.Post("/auth/login", map[string]any{
			"tenant_slug": "acme",
			"email":       "alice@acme.io",
			"password":    "secretpw1",
		})

		require.Equal(t, http.StatusInternalServerError, resp.Code)
		assert.NotContains(t, resp.Body.String(), "connection refused")
	})
}

// ---------------------------------------------------------------------------
// POST /auth/refresh
// ---------------------------------------------------------------------------

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		refreshErr error
		wantStatus int
	}{
		{"valid token", nil, http.StatusOK},
		{"invalid token", fmt.Errorf("auth.RefreshToken: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{"lookup failure", errors.New("connection refused"), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, api := humatest.New(t)
			v1.RegisterAuthRoutes(api, slugStore(nil), &mockAuthService{
				refreshTokenFunc: func(_ context.Context, rt string) (string, error) {
					assert.Equal(t, "refresh-tok", rt)
					if tt.refreshErr != nil {
						return "", tt.refreshErr
					}
					return "new-access-tok", nil
				},
			})

			resp := api.Post("/auth/refresh", map[string]any{"refresh_token": "refresh-tok"})

			require.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, resp.Body.String(), "new-access-tok")
			} else {
				assert.NotContains(t, resp.Body.String(), "connection refused")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /me
// ---------------------------------------------------------------------------

func TestMe(t *testing.T) {
	t.Parallel()

	t.Run("describes the resolved principal", func(t *testing.T) {
		t.Parallel()

		tenantID := uuid.New()
		_, api := humatest.New(t)
		v1.RegisterSessionRoutes(api)

		resp := api.GetCtx(memberCtx(tenantID), "/me")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var body struct {
			TenantID    uuid.UUID `json:"tenant_id"`
			Roles       []string  `json:"roles"`
			Permissions []string  `json:"permissions"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, tenantID, body.TenantID)
		assert.Equal(t, []string{"member"}, body.Roles)
		assert.IsIncreasing(t, body.Permissions)
		assert.Contains(t, body.Permissions, "house:command")
		assert.NotContains(t, body.Permissions, "audit:read")
	})

	t.Run("no principal", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterSessionRoutes(api)

		resp := api.Get("/me")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}
