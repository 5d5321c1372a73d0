package domain

import (
	"slices"

	"github.com/google/uuid"
)

// RoleAdmin bypasses permission checks inside its own tenant. It never
// crosses tenants.
const RoleAdmin = "admin"

// Principal is the authenticated caller for the duration of one request.
// Permissions already contains the union of direct and role grants.
type Principal struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal builds a Principal whose permission set is the union of the
// direct grants and the given role grants.
func NewPrincipal(userID, tenantID uuid.UUID, roles, direct []string, grants func(role string) []string) *Principal {
	perms := make(map[string]struct{}, len(direct))
	for _, p := range direct {
		perms[p] = struct{}{}
	}
	if grants != nil {
		for _, role := range roles {
			for _, p := range grants(role) {
				perms[p] = struct{}{}
			}
		}
	}

	return &Principal{
		UserID:      userID,
		TenantID:    tenantID,
		Roles:       slices.Clone(roles),
		Permissions: perms,
	}
}

func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p *Principal) HasPermission(perm string) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// IsSuperuser reports whether the principal skips permission checks.
func (p *Principal) IsSuperuser() bool {
	return p.HasRole(RoleAdmin)
}
