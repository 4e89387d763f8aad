package auth

import (
	"slices"
)

// Evaluator answers authorization questions. Effective permissions are the
// union of the user's explicit permissions and those implied by the role;
// there is no revocation. An Evaluator is immutable and safe for concurrent
// use.
type Evaluator struct {
	roles map[string]map[string]struct{}
}

// NewEvaluator creates an evaluator for table. A nil table selects
// DefaultRoleTable.
func NewEvaluator(table RoleTable) *Evaluator {
	if table == nil {
		table = DefaultRoleTable()
	}

	roles := make(map[string]map[string]struct{}, len(table))

	for role, perms := range table {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}

		roles[role] = set
	}

	return &Evaluator{roles: roles}
}

// HasPermission checks if user holds permission explicitly or through its role.
func (e *Evaluator) HasPermission(user *User, permission string) bool {
	if user == nil {
		return false
	}

	if slices.Contains(user.Permissions, permission) {
		return true
	}

	_, ok := e.roles[user.Role][permission]

	return ok
}

// HasAnyPermission checks if user has at least one of the given permissions.
func (e *Evaluator) HasAnyPermission(user *User, permissions ...string) bool {
	if user == nil || len(permissions) == 0 {
		return false
	}

	for _, perm := range permissions {
		if e.HasPermission(user, perm) {
			return true
		}
	}

	return false
}

// HasAllPermissions checks if user has all of the given permissions. An
// empty list is satisfied by any authenticated user.
func (e *Evaluator) HasAllPermissions(user *User, permissions ...string) bool {
	if user == nil {
		return false
	}

	for _, perm := range permissions {
		if !e.HasPermission(user, perm) {
			return false
		}
	}

	return true
}

// CanAccess checks the resource:action permission.
func (e *Evaluator) CanAccess(user *User, resource, action string) bool {
	return e.HasPermission(user, Permission(resource, action))
}

// RolePermissions returns the sorted permissions implied by role.
func (e *Evaluator) RolePermissions(role string) []string {
	set := e.roles[role]

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}

	slices.Sort(out)

	return out
}

// EffectivePermissions returns the sorted union of user's explicit and role
// permissions.
func (e *Evaluator) EffectivePermissions(user *User) []string {
	if user == nil {
		return nil
	}

	return union(user.Permissions, e.RolePermissions(user.Role))
}

func union(lists ...[]string) []string {
	var out []string

	for _, l := range lists {
		out = append(out, l...)
	}

	slices.Sort(out)

	return slices.Compact(out)
}
