package rbac

// MenuItem describes one navigation entry. Exactly one of AlwaysShow,
// Permission or Role gates the entry; an entry with none is never shown.
type MenuItem struct {
	Key        string
	Label      string
	Path       string
	Icon       string
	AlwaysShow bool
	Permission Permission
	Role       Role
}

// DefaultMenu returns the portal navigation in display order.
func DefaultMenu() []MenuItem {
	return []MenuItem{
		{Key: ModuleDashboard, Label: "Dashboard", Path: "/app", Icon: "star", AlwaysShow: true},
		{Key: ModuleStudents, Label: "Students", Path: "/app/students", Icon: "edit", Permission: PermStudentsRead},
		{Key: ModuleAcademic, Label: "Academic", Path: "/app/academic", Icon: "calendar", Permission: PermAcademicRead},
		{Key: ModuleTeachers, Label: "Teachers", Path: "/app/teachers", Icon: "at-sign", Permission: PermTeachersRead},
		{Key: ModuleFinance, Label: "Finance", Path: "/app/finance", Icon: "calendar", Permission: PermFinanceRead},
		{Key: ModuleCommunications, Label: "Communications", Path: "/app/communications", Icon: "chat", Permission: PermCommunicationsRead},
		{Key: ModuleLibrary, Label: "Library", Path: "/app/library", Icon: "info", Permission: PermLibraryRead},
		{Key: ModuleSettings, Label: "Settings", Path: "/app/settings", Icon: "settings", Permission: PermSettingsManage},
		{Key: ModuleParentPortal, Label: "My Children", Path: "/app/parent-portal", Icon: "info", Role: RoleParent},
	}
}

// AccessibleMenuItems filters DefaultMenu for the identity.
func (e Evaluator) AccessibleMenuItems() []MenuItem {
	return e.FilterMenu(DefaultMenu())
}

// FilterMenu keeps the visible items in input order.
func (e Evaluator) FilterMenu(items []MenuItem) []MenuItem {
	out := make([]MenuItem, 0, len(items))
	for _, item := range items {
		if e.menuVisible(item) {
			out = append(out, item)
		}
	}
	return out
}

func (e Evaluator) menuVisible(item MenuItem) bool {
	switch {
	case item.AlwaysShow:
		return true
	case item.Permission != "":
		return e.HasPermission(item.Permission)
	case item.Role != "":
		return e.HasRole(item.Role)
	default:
		return false
	}
}
