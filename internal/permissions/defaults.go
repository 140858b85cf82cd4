package permissions

// Permissions checked by the admin routes.
const (
	ImportsManage      = "imports:manage"
	ImportLogsRead     = "import_logs:read"
	PermissionsManage  = "permissions:manage"
	NotificationsWrite = "notifications:write"
)

// RoleDefinition is a role name and the permissions it is seeded with.
type RoleDefinition struct {
	Name        string
	Permissions []string
}

// DefaultRoles are the roles written by the seed-roles migration command.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{Name: "admin", Permissions: []string{ImportsManage, ImportLogsRead, PermissionsManage, NotificationsWrite}},
		{Name: "catalog_manager", Permissions: []string{ImportsManage, ImportLogsRead}},
		{Name: "customer"},
	}
}
