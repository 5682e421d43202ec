package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Module names understood by CanAccessModule.
const (
	ModuleDashboard      = "dashboard"
	ModuleStudents       = "students"
	ModuleTeachers       = "teachers"
	ModuleAcademic       = "academic"
	ModuleFinance        = "finance"
	ModuleCommunications = "communications"
	ModuleLibrary        = "library"
	ModuleSettings       = "settings"
	ModuleReports        = "reports"
	ModuleParentPortal   = "parent-portal"
)

// Evaluator answers role and permission questions about one identity snapshot.
// The zero value describes an absent identity and denies everything.
type Evaluator struct {
	present bool
	roles   []Role
	perms   []Permission
	roleSet map[Role]struct{}
	permSet map[Permission]struct{}
}

// NewEvaluator builds an Evaluator for a present identity.
func NewEvaluator(roles []Role, perms []Permission) Evaluator {
	e := Evaluator{
		present: true,
		roles:   append([]Role(nil), roles...),
		perms:   append([]Permission(nil), perms...),
		roleSet: make(map[Role]struct{}, len(roles)),
		permSet: make(map[Permission]struct{}, len(perms)),
	}
	for _, r := range roles {
		e.roleSet[r] = struct{}{}
	}
	for _, p := range perms {
		e.permSet[p] = struct{}{}
	}
	return e
}

// Anonymous returns an Evaluator for an absent identity.
func Anonymous() Evaluator {
	return Evaluator{}
}

// Present reports whether the evaluator describes a signed-in identity.
func (e Evaluator) Present() bool {
	return e.present
}

// Roles returns a copy of the identity roles.
func (e Evaluator) Roles() []Role {
	return append([]Role(nil), e.roles...)
}

// Permissions returns a copy of the identity permissions.
func (e Evaluator) Permissions() []Permission {
	return append([]Permission(nil), e.perms...)
}

// HasPermission performs an exact match.
func (e Evaluator) HasPermission(p Permission) bool {
	if !e.present {
		return false
	}
	_, ok := e.permSet[p]
	return ok
}

// HasAnyPermission reports whether at least one permission is held.
func (e Evaluator) HasAnyPermission(perms ...Permission) bool {
	if !e.present {
		return false
	}
	for _, p := range perms {
		if _, ok := e.permSet[p]; ok {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every permission is held.
func (e Evaluator) HasAllPermissions(perms ...Permission) bool {
	if !e.present {
		return false
	}
	for _, p := range perms {
		if _, ok := e.permSet[p]; !ok {
			return false
		}
	}
	return true
}

// HasRole performs an exact match.
func (e Evaluator) HasRole(r Role) bool {
	if !e.present {
		return false
	}
	_, ok := e.roleSet[r]
	return ok
}

// HasAnyRole reports whether at least one role is held.
func (e Evaluator) HasAnyRole(roles ...Role) bool {
	if !e.present {
		return false
	}
	for _, r := range roles {
		if _, ok := e.roleSet[r]; ok {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether every role is held.
func (e Evaluator) HasAllRoles(roles ...Role) bool {
	if !e.present {
		return false
	}
	for _, r := range roles {
		if _, ok := e.roleSet[r]; !ok {
			return false
		}
	}
	return true
}

// CanAccessModule applies the fixed module table. Unlisted modules are denied.
func (e Evaluator) CanAccessModule(module string) bool {
	if !e.present {
		return false
	}
	switch fold(module) {
	case ModuleDashboard:
		return true
	case ModuleStudents:
		return e.HasPermission(PermStudentsRead)
	case ModuleTeachers:
		return e.HasPermission(PermTeachersRead)
	case ModuleAcademic:
		return e.HasPermission(PermAcademicRead)
	case ModuleFinance:
		return e.HasPermission(PermFinanceRead)
	case ModuleCommunications:
		return e.HasPermission(PermCommunicationsRead)
	case ModuleLibrary:
		return e.HasPermission(PermLibraryRead)
	case ModuleSettings:
		return e.HasPermission(PermSettingsManage)
	case ModuleReports:
		return e.HasAnyPermission(PermReportsView, PermReportsGenerate)
	case ModuleParentPortal:
		return e.HasRole(RoleParent)
	default:
		return false
	}
}

// CanPerformAction checks the single permission "<module>.<action>".
// Action synonyms collapse to one canonical verb before the lookup.
func (e Evaluator) CanPerformAction(module, action string) bool {
	if !e.present {
		return false
	}
	return e.HasPermission(ActionPermission(module, action))
}

// ActionPermission derives the permission string checked for an action.
func ActionPermission(module, action string) Permission {
	return Permission(fold(module) + "." + canonicalAction(fold(action)))
}

func canonicalAction(action string) string {
	switch action {
	case "read", "view":
		return "read"
	case "create", "add":
		return "create"
	case "update", "edit":
		return "update"
	case "delete", "remove":
		return "delete"
	case "manage":
		return "manage"
	default:
		return action
	}
}

// RoleLevel returns the maximum rank across the identity roles, floor 0.
func (e Evaluator) RoleLevel() int {
	level := 0
	for _, r := range e.roles {
		if l := r.Level(); l > level {
			level = l
		}
	}
	return level
}

// HasMinimumRoleLevel reports RoleLevel() >= level.
func (e Evaluator) HasMinimumRoleLevel(level int) bool {
	return e.RoleLevel() >= level
}

// Requirement describes a combined role and permission gate.
// Empty lists impose no constraint; RequireAll switches from any-of to all-of.
type Requirement struct {
	Roles       []Role
	Permissions []Permission
	RequireAll  bool
}

// Allows evaluates the requirement, roles first then permissions.
func (e Evaluator) Allows(req Requirement) bool {
	if len(req.Roles) > 0 {
		ok := e.HasAnyRole(req.Roles...)
		if req.RequireAll {
			ok = e.HasAllRoles(req.Roles...)
		}
		if !ok {
			return false
		}
	}
	if len(req.Permissions) > 0 {
		if req.RequireAll {
			return e.HasAllPermissions(req.Permissions...)
		}
		return e.HasAnyPermission(req.Permissions...)
	}
	return true
}

// NormalizePermissions trims and deduplicates permission names, keeping
// first-seen order. Case is preserved: permissions match exactly.
func NormalizePermissions(perms []string) []Permission {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, Permission(p))
	}
	return normalized
}

// fold lower-cases with Unicode rules. A Caser is stateful, so one is made per call.
func fold(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}
