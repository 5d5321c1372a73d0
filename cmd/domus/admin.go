package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/auth"
	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/domain"
)

//nolint:gochecknoglobals // compiled once
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

var errInvalidArgument = errors.New("invalid argument") //nolint:gochecknoglobals // sentinel error

// TenantCmd groups tenant administration. Tenants have no public creation
// endpoint; operators provision them here.
type TenantCmd struct {
	Create     TenantCreateCmd     `cmd:"" help:"Create a tenant"`
	Deactivate TenantDeactivateCmd `cmd:"" help:"Deactivate a tenant; its tokens stop resolving"`
}

type TenantCreateCmd struct {
	Name     string `required:"" help:"Display name."`
	Slug     string `required:"" help:"Login slug (lowercase letters, digits, dashes)."`
	Language string `default:"en" help:"Default language for commands in an unsupported language."`
}

func (c *TenantCreateCmd) Run(ctx context.Context) error {
	if !slugPattern.MatchString(c.Slug) {
		return fmt.Errorf("slug %q: %w", c.Slug, errInvalidArgument)
	}

	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	policy := command.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = command.LoadPolicy(cfg.PolicyFile); err != nil {
			return err
		}
	}
	if !policy.SupportsLanguage(c.Language) {
		return fmt.Errorf("language %q is not in the prompt policy: %w", c.Language, errInvalidArgument)
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:              uuid.New(),
		Name:            c.Name,
		Slug:            c.Slug,
		Active:          true,
		DefaultLanguage: c.Language,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.Tenants().Create(ctx, tenant); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("tenant %q already exists", c.Slug)
		}
		return err
	}

	log.Info().Str("tenant_id", tenant.ID.String()).Str("slug", tenant.Slug).Msg("tenant created")
	return nil
}

type TenantDeactivateCmd struct {
	Slug string `arg:"" help:"Tenant slug."`
}

func (c *TenantDeactivateCmd) Run(ctx context.Context) error {
	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	tenant, err := store.Tenants().GetBySlug(ctx, c.Slug)
	if err != nil {
		return err
	}
	tenant.Active = false
	if err := store.Tenants().Update(ctx, tenant); err != nil {
		return err
	}

	log.Info().Str("tenant_id", tenant.ID.String()).Msg("tenant deactivated")
	return nil
}

// UserCmd groups user administration.
type UserCmd struct {
	Grant UserGrantCmd `cmd:"" help:"Replace a user's roles and direct permissions"`
}

type UserGrantCmd struct {
	Tenant      string   `required:"" help:"Tenant slug."`
	Email       string   `required:"" help:"User email."`
	Roles       []string `help:"Roles to assign (admin, member, viewer, auditor)."`
	Permissions []string `help:"Direct grants such as audit:read."`
}

func (c *UserGrantCmd) validate() error {
	for _, r := range c.Roles {
		if !authz.KnownRole(r) {
			return fmt.Errorf("role %q: %w", r, errInvalidArgument)
		}
	}
	for _, p := range c.Permissions {
		if !permissionPattern.MatchString(p) {
			return fmt.Errorf("permission %q: %w", p, errInvalidArgument)
		}
	}
	return nil
}

//nolint:gochecknoglobals // compiled once
var permissionPattern = regexp.MustCompile(`^[a-z]+:[a-z]+$`)

func (c *UserGrantCmd) Run(ctx context.Context) error {
	if err := c.validate(); err != nil {
		return err
	}

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	tenant, err := store.Tenants().GetBySlug(ctx, c.Tenant)
	if err != nil {
		return err
	}
	user, err := store.Users().GetByEmail(ctx, tenant.ID, auth.NormalizeEmail(c.Email))
	if err != nil {
		return err
	}

	user.Roles = slices.Compact(slices.Sorted(slices.Values(c.Roles)))
	user.Permissions = slices.Compact(slices.Sorted(slices.Values(c.Permissions)))
	if err := store.Users().Update(ctx, user); err != nil {
		return err
	}

	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("user_id", user.ID.String()).
		Strs("roles", user.Roles).
		Strs("permissions", user.Permissions).
		Msg("user grants updated")
	return nil
}
