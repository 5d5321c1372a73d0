package authz

import "github.com/gosuda/domus/internal/domain"

type ResourceType string

const (
	ResourceHouse   ResourceType = "house"
	ResourceCommand ResourceType = "command"
	ResourceAudit   ResourceType = "audit"
	ResourceTenant  ResourceType = "tenant"
)

type Operation string

const (
	OpRead    Operation = "read"
	OpCommand Operation = "command"
	OpCancel  Operation = "cancel"
	OpManage  Operation = "manage" // settings changes; granted to no role
)

// Permission returns the capability string required for op on rt,
// e.g. "command:read".
func Permission(rt ResourceType, op Operation) string {
	return string(rt) + ":" + string(op)
}

// Role names.
const (
	RoleAdmin   = domain.RoleAdmin
	RoleMember  = "member"
	RoleViewer  = "viewer"
	RoleAuditor = "auditor"
)

//nolint:gochecknoglobals // static role table
var roleGrants = map[string][]string{
	RoleMember: {
		Permission(ResourceHouse, OpRead),
		Permission(ResourceHouse, OpCommand),
		Permission(ResourceCommand, OpRead),
		Permission(ResourceCommand, OpCancel),
		Permission(ResourceTenant, OpRead),
	},
	RoleViewer: {
		Permission(ResourceHouse, OpRead),
		Permission(ResourceCommand, OpRead),
		Permission(ResourceTenant, OpRead),
	},
	RoleAuditor: {
		Permission(ResourceAudit, OpRead),
	},
}

// KnownRole reports whether role is one the service assigns meaning to.
func KnownRole(role string) bool {
	if role == RoleAdmin {
		return true
	}
	_, ok := roleGrants[role]
	return ok
}

// RoleGrants returns the permissions inherited from role. Admin has no
// explicit grants; it bypasses the permission check instead.
func RoleGrants(role string) []string {
	return roleGrants[role]
}
