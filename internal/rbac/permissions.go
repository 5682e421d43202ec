package rbac

// Student records permissions.
const (
	PermStudentsRead   Permission = "students.read"
	PermStudentsCreate Permission = "students.create"
	PermStudentsUpdate Permission = "students.update"
	PermStudentsDelete Permission = "students.delete"
)

// Teacher records permissions.
const (
	PermTeachersRead   Permission = "teachers.read"
	PermTeachersCreate Permission = "teachers.create"
	PermTeachersUpdate Permission = "teachers.update"
	PermTeachersDelete Permission = "teachers.delete"
)

// Academic records permissions.
const (
	PermAcademicRead   Permission = "academic.read"
	PermAcademicCreate Permission = "academic.create"
	PermAcademicUpdate Permission = "academic.update"
	PermAcademicDelete Permission = "academic.delete"
	PermAcademicManage Permission = "academic.manage"
)

// Attendance permissions.
const (
	PermAttendanceRead   Permission = "attendance.read"
	PermAttendanceCreate Permission = "attendance.create"
	PermAttendanceUpdate Permission = "attendance.update"
)

// Finance permissions.
const (
	PermFinanceRead   Permission = "finance.read"
	PermFinanceCreate Permission = "finance.create"
	PermFinanceUpdate Permission = "finance.update"
	PermFinanceDelete Permission = "finance.delete"
	PermFinanceWrite  Permission = "finance.write"
)

// Communications, library, reports and platform permissions.
const (
	PermCommunicationsRead   Permission = "communications.read"
	PermCommunicationsManage Permission = "communications.manage"

	PermLibraryRead   Permission = "library.read"
	PermLibraryManage Permission = "library.manage"

	PermReportsView     Permission = "reports.view"
	PermReportsGenerate Permission = "reports.generate"

	PermDashboardView  Permission = "dashboard.view"
	PermSettingsManage Permission = "settings.manage"
	PermTenantsManage  Permission = "tenants.manage"
)

// StudentScopes lists permissions of the students module.
func StudentScopes() []Permission {
	return []Permission{PermStudentsRead, PermStudentsCreate, PermStudentsUpdate, PermStudentsDelete}
}

// TeacherScopes lists permissions of the teachers module.
func TeacherScopes() []Permission {
	return []Permission{PermTeachersRead, PermTeachersCreate, PermTeachersUpdate, PermTeachersDelete}
}

// AcademicScopes lists permissions of the academic and attendance modules.
func AcademicScopes() []Permission {
	return []Permission{
		PermAcademicRead,
		PermAcademicCreate,
		PermAcademicUpdate,
		PermAcademicDelete,
		PermAcademicManage,
		PermAttendanceRead,
		PermAttendanceCreate,
		PermAttendanceUpdate,
	}
}

// FinanceScopes lists permissions of the finance module.
func FinanceScopes() []Permission {
	return []Permission{PermFinanceRead, PermFinanceCreate, PermFinanceUpdate, PermFinanceDelete, PermFinanceWrite}
}

// PortalScopes lists the remaining portal permissions.
func PortalScopes() []Permission {
	return []Permission{
		PermCommunicationsRead,
		PermCommunicationsManage,
		PermLibraryRead,
		PermLibraryManage,
		PermReportsView,
		PermReportsGenerate,
		PermDashboardView,
		PermSettingsManage,
		PermTenantsManage,
	}
}

var catalogue = buildCatalogue(StudentScopes(), TeacherScopes(), AcademicScopes(), FinanceScopes(), PortalScopes())

func buildCatalogue(groups ...[]Permission) map[Permission]struct{} {
	out := make(map[Permission]struct{})
	for _, group := range groups {
		for _, p := range group {
			out[p] = struct{}{}
		}
	}
	return out
}
