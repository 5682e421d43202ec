package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownRole indicates a role name outside the role table.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrUnknownPermission indicates a permission outside the permission catalogue.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrMalformedPermission indicates a permission not shaped "<module>.<action>".
	ErrMalformedPermission = errors.New("rbac: malformed permission")
)

// Role represents a high-level permission grouping with a hierarchy rank.
type Role string

// Roles issued by the school API.
const (
	RoleSuperAdministrator  Role = "Super Administrator"
	RoleAdministrator       Role = "Administrator"
	RoleSchoolAdministrator Role = "School Administrator"
	RoleFinanceOfficer      Role = "Finance Officer"
	RoleTeacher             Role = "Teacher"
	RoleParent              Role = "Parent"
	RoleStudent             Role = "Student"
)

// RoleLevels ranks roles; higher is more privileged. Roles missing here rank 0.
var RoleLevels = map[Role]int{
	RoleSuperAdministrator:  100,
	RoleAdministrator:       90,
	RoleSchoolAdministrator: 80,
	RoleFinanceOfficer:      60,
	RoleTeacher:             50,
	RoleParent:              30,
	RoleStudent:             10,
}

// Level returns the rank of the role, 0 when unknown.
func (r Role) Level() int {
	return RoleLevels[r]
}

// Known reports whether the role is part of the role table.
func (r Role) Known() bool {
	_, ok := RoleLevels[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// ParseRole validates a role name against the role table.
func ParseRole(name string) (Role, error) {
	role := Role(strings.TrimSpace(name))
	if !role.Known() {
		return role, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// AllRoles lists the known roles from most to least privileged.
func AllRoles() []Role {
	roles := make([]Role, 0, len(RoleLevels))
	for r := range RoleLevels {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i].Level() > roles[j].Level()
	})
	return roles
}

// Permission represents an atomic "<module>.<action>" capability.
type Permission string

// Module returns the part before the dot.
func (p Permission) Module() string {
	module, _, _ := strings.Cut(string(p), ".")
	return module
}

// Action returns the part after the dot.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ".")
	return action
}

// Known reports whether the permission is part of the catalogue.
func (p Permission) Known() bool {
	_, ok := catalogue[p]
	return ok
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission validates the shape of a permission and its presence in the catalogue.
func ParsePermission(name string) (Permission, error) {
	perm := Permission(strings.TrimSpace(name))
	module, action, ok := strings.Cut(string(perm), ".")
	if !ok || module == "" || action == "" || strings.Contains(action, ".") {
		return perm, fmt.Errorf("%w: %q", ErrMalformedPermission, name)
	}
	if !perm.Known() {
		return perm, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return perm, nil
}
