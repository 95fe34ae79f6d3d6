package api

import "mediavault/internal/models"

// Operation names a gated API action checked against the authorization policy.
type Operation string

const (
	OperationViewMainPage  Operation = "mainpage.view"
	OperationViewContent   Operation = "content.view"
	OperationCreateContent Operation = "content.create"
	OperationUpdateContent Operation = "content.update"
	OperationLogout        Operation = "session.logout"
)

// policyTable is the full authorization matrix. Mutating operations are
// admin-only; reads and logout are open to any authenticated role. Unknown
// operations and unknown roles are denied.
var policyTable = map[Operation]map[string]bool{
	OperationViewMainPage:  {models.RoleAdmin: true, models.RoleNonAdmin: true},
	OperationViewContent:   {models.RoleAdmin: true, models.RoleNonAdmin: true},
	OperationCreateContent: {models.RoleAdmin: true},
	OperationUpdateContent: {models.RoleAdmin: true},
	OperationLogout:        {models.RoleAdmin: true, models.RoleNonAdmin: true},
}

// Allowed reports whether the provided role may perform the operation. It is a
// pure lookup with no I/O so callers can evaluate it anywhere in the request
// path.
func Allowed(role string, op Operation) bool {
	roles, ok := policyTable[op]
	if !ok {
		return false
	}
	return roles[role]
}
