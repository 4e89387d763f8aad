package auth

import (
	"slices"
	"strings"
)

// PermissionMapping maps resource → action → roles or groups granted that
// action. It is only used to normalize external claims.
type PermissionMapping map[string]map[string][]string

// Permissions returns every resource:action granted to role or any of groups.
func (m PermissionMapping) Permissions(role string, groups []string) []string {
	var out []string

	for resource, actions := range m {
		for action, allowed := range actions {
			if grants(allowed, role, groups) {
				out = append(out, Permission(resource, action))
			}
		}
	}

	slices.Sort(out)

	return out
}

func grants(allowed []string, role string, groups []string) bool {
	for _, a := range allowed {
		if role != "" && strings.EqualFold(a, role) {
			return true
		}

		for _, g := range groups {
			if strings.EqualFold(a, g) {
				return true
			}
		}
	}

	return false
}

// GroupRole assigns Role to members of the external Group.
type GroupRole struct {
	Group string `toml:"group" json:"group" validate:"required"`
	Role  string `toml:"role" json:"role" validate:"required"`
}

// Normalizer turns external roles and groups into internal permissions.
type Normalizer struct {
	Mapping PermissionMapping
	// GroupRoles are evaluated in order; the first match wins.
	GroupRoles []GroupRole
}

// Normalize assigns a role from the group rules when the backend sent none
// and adds the mapped permissions to user. A nil Normalizer is a no-op.
func (n *Normalizer) Normalize(user *User) {
	if n == nil || user == nil {
		return
	}

	if user.Role == "" {
		user.Role = n.roleFor(user.Groups)
	}

	user.Permissions = union(user.Permissions, n.Mapping.Permissions(user.Role, user.Groups))
}

func (n *Normalizer) roleFor(groups []string) string {
	for _, rule := range n.GroupRoles {
		for _, g := range groups {
			if strings.EqualFold(rule.Group, g) {
				return rule.Role
			}
		}
	}

	return ""
}
