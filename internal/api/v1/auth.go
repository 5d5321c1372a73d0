package v1

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/auth"
	"github.com/gosuda/domus/internal/domain"
)

type RegisterInput struct {
	Body struct {
		TenantSlug string `json:"tenant_slug" minLength:"1" maxLength:"63" doc:"Tenant slug"`
		Email      string `json:"email" minLength:"3" maxLength:"255" doc:"User email"`
		Password   string `json:"password" minLength:"8" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
		Name       string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
	}
}

type UserBody struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Roles    []string  `json:"roles"`
}

type RegisterOutput struct {
	Body struct {
		User         UserBody `json:"user"`
		AccessToken  string   `json:"access_token"`  //nolint:gosec // G117: auth response DTO
		RefreshToken string   `json:"refresh_token"` //nolint:gosec // G117: auth response DTO
	}
}

type LoginInput struct {
	Body struct {
		TenantSlug string `json:"tenant_slug" minLength:"1" maxLength:"63" doc:"Tenant slug"`
		Email      string `json:"email" minLength:"3" maxLength:"255" doc:"User email"`
		Password   string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
	}
}

type LoginOutput struct {
	Body struct {
		AccessToken  string `json:"access_token"`  //nolint:gosec // G117: auth response DTO
		RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: auth response DTO
	}
}

type RefreshInput struct {
	Body struct {
		RefreshToken string `json:"refresh_token" minLength:"1" doc:"Refresh token"` //nolint:gosec // G117: token refresh DTO
	}
}

type RefreshOutput struct {
	Body struct {
		AccessToken string `json:"access_token"` //nolint:gosec // G117: auth response DTO
	}
}

type MeOutput struct {
	Body struct {
		UserID      uuid.UUID `json:"user_id"`
		TenantID    uuid.UUID `json:"tenant_id"`
		Roles       []string  `json:"roles"`
		Permissions []string  `json:"permissions" doc:"Resolved permissions: direct grants plus role grants"`
	}
}

// errBadLogin is shared by every login failure a caller could use to learn
// which tenants or accounts exist.
func errBadLogin() error {
	return huma.Error401Unauthorized("invalid email or password")
}

// activeTenant resolves a slug for the unauthenticated auth routes. An
// inactive tenant is reported like a missing one.
func activeTenant(ctx context.Context, store DataStore, slug string) (*domain.Tenant, error) {
	tenant, err := store.Tenants().GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, domain.ErrNotFound
	}
	return tenant, nil
}

func RegisterAuthRoutes(api huma.API, store DataStore, authSvc AuthService) {
	huma.Register(api, huma.Operation{
		OperationID: "register",
		Method:      http.MethodPost,
		Path:        "/auth/register",
		Summary:     "Register a new user",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
		tenant, err := activeTenant(ctx, store, input.Body.TenantSlug)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("tenant not found")
			}
			log.Error().Err(err).Msg("v1.register: tenant lookup failed")
			return nil, huma.Error500InternalServerError("failed to register user")
		}

		user, err := authSvc.Register(ctx, tenant.ID, input.Body.Email, input.Body.Password, input.Body.Name)
		if err != nil {
			if errors.Is(err, auth.ErrUserAlreadyExists) {
				return nil, huma.Error409Conflict("user already exists")
			}
			log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("v1.register: failed")
			return nil, huma.Error500InternalServerError("failed to register user")
		}

		accessToken, refreshToken, err := authSvc.Login(ctx, tenant.ID, input.Body.Email, input.Body.Password)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("v1.register: token issue failed")
			return nil, huma.Error500InternalServerError("registered but failed to issue tokens")
		}

		out := &RegisterOutput{}
		out.Body.User = UserBody{
			ID:       user.ID,
			TenantID: user.TenantID,
			Email:    user.Email,
			Name:     user.Name,
			Roles:    user.Roles,
		}
		out.Body.AccessToken = accessToken
		out.Body.RefreshToken = refreshToken
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Login with email and password",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *LoginInput) (*LoginOutput, error) {
		tenant, err := activeTenant(ctx, store, input.Body.TenantSlug)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, errBadLogin()
			}
			log.Error().Err(err).Msg("v1.login: tenant lookup failed")
			return nil, huma.Error500InternalServerError("login failed")
		}

		accessToken, refreshToken, err := authSvc.Login(ctx, tenant.ID, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return nil, errBadLogin()
			}
			log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("v1.login: failed")
			return nil, huma.Error500InternalServerError("login failed")
		}

		out := &LoginOutput{}
		out.Body.AccessToken = accessToken
		out.Body.RefreshToken = refreshToken
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-token",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Refresh access token",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
		accessToken, err := authSvc.RefreshToken(ctx, input.Body.RefreshToken)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				log.Warn().Err(err).Msg("v1.refresh-token: failed")
			}
			return nil, huma.Error401Unauthorized("invalid or expired refresh token")
		}

		out := &RefreshOutput{}
		out.Body.AccessToken = accessToken
		return out, nil
	})
}

// RegisterSessionRoutes serves the authenticated caller's own identity.
func RegisterSessionRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Describe the calling principal",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, _ *struct{}) (*MeOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		out := &MeOutput{}
		out.Body.UserID = p.UserID
		out.Body.TenantID = p.TenantID
		out.Body.Roles = slices.Clone(p.Roles)
		out.Body.Permissions = make([]string, 0, len(p.Permissions))
		for perm := range p.Permissions {
			out.Body.Permissions = append(out.Body.Permissions, perm)
		}
		slices.Sort(out.Body.Permissions)
		return out, nil
	})
}
