package guard

import (
	"fmt"
	"strings"

	"github.com/synod-schools/portal/internal/rbac"
)

const deniedTitle = "Access Denied"

// PermissionRule passes when any of perms is held. An empty list passes.
func PermissionRule(perms ...rbac.Permission) Rule {
	required := append([]rbac.Permission(nil), perms...)
	return func(ev rbac.Evaluator) (bool, Denial) {
		if len(required) == 0 || ev.HasAnyPermission(required...) {
			return true, Denial{}
		}
		return false, Denial{
			Title:    deniedTitle,
			Message:  "You don't have permission to access this page.",
			Required: permissionStrings(required),
			Held:     permissionStrings(ev.Permissions()),
		}
	}
}

// RoleRule passes when any of roles is held.
func RoleRule(roles ...rbac.Role) Rule {
	required := append([]rbac.Role(nil), roles...)
	return func(ev rbac.Evaluator) (bool, Denial) {
		if len(required) == 0 || ev.HasAnyRole(required...) {
			return true, Denial{}
		}
		names := roleStrings(required)
		return false, Denial{
			Title:    deniedTitle,
			Message:  fmt.Sprintf("This page is only available to: %s.", strings.Join(names, ", ")),
			Required: names,
			Held:     roleStrings(ev.Roles()),
		}
	}
}

// ModuleRule passes when CanAccessModule allows module.
func ModuleRule(module string) Rule {
	return func(ev rbac.Evaluator) (bool, Denial) {
		if ev.CanAccessModule(module) {
			return true, Denial{}
		}
		return false, Denial{
			Title:    deniedTitle,
			Message:  fmt.Sprintf("You don't have access to the %s module.", module),
			Required: moduleRequirement(module),
			Held:     permissionStrings(ev.Permissions()),
		}
	}
}

// RequirementRule evaluates a combined role and permission requirement.
func RequirementRule(req rbac.Requirement) Rule {
	return func(ev rbac.Evaluator) (bool, Denial) {
		if ev.Allows(req) {
			return true, Denial{}
		}
		required := append(roleStrings(req.Roles), permissionStrings(req.Permissions)...)
		held := append(roleStrings(ev.Roles()), permissionStrings(ev.Permissions())...)
		return false, Denial{
			Title:    deniedTitle,
			Message:  "You don't have permission to access this page.",
			Required: required,
			Held:     held,
		}
	}
}

func moduleRequirement(module string) []string {
	switch strings.ToLower(module) {
	case rbac.ModuleDashboard:
		return nil
	case rbac.ModuleSettings:
		return []string{rbac.PermSettingsManage.String()}
	case rbac.ModuleReports:
		return []string{rbac.PermReportsView.String(), rbac.PermReportsGenerate.String()}
	case rbac.ModuleParentPortal:
		return []string{rbac.RoleParent.String()}
	case rbac.ModuleStudents, rbac.ModuleTeachers, rbac.ModuleAcademic, rbac.ModuleFinance,
		rbac.ModuleCommunications, rbac.ModuleLibrary:
		return []string{rbac.ActionPermission(module, "read").String()}
	default:
		return []string{module}
	}
}

func permissionStrings(perms []rbac.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.String())
	}
	return out
}

func roleStrings(roles []rbac.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.String())
	}
	return out
}
