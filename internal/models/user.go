package models

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleDispatcher Role = "dispatcher"
	RoleViewer     Role = "viewer"
)

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleDispatcher, RoleViewer:
		return true
	default:
		return false
	}
}

// CanDispatch reports whether trips created by this role allocate resources immediately.
func (r Role) CanDispatch() bool {
	return r == RoleDispatcher || r == RoleAdmin
}

// CanPlan reports whether the role may create draft trips.
func (r Role) CanPlan() bool {
	return r == RoleManager
}

// HasPermission checks if a role has permission for a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == "view_trips" || action == "create_trip" || action == "cancel_trip" ||
			action == "delete_trip" || action == "manage_maintenance" || action == "manage_drivers"
	case RoleDispatcher:
		return action == "view_trips" || action == "create_trip" || action == "dispatch_trip" ||
			action == "complete_trip" || action == "cancel_trip" || action == "manage_drivers"
	case RoleViewer:
		return action == "view_trips"
	default:
		return false
	}
}

// Actor identifies who invokes a lifecycle operation.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
