// Package rbac provides role-based access control checks.
package rbac

import "github.com/WoushouW/woushBOT/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermManageRooms:    true,
		model.PermModerate:       true,
		model.PermViewModeration: true,
	},
	model.RoleRoomManager: {
		model.PermManageRooms: true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + PermName(perm) + " requires " + minRole(perm).String()
}

// PermName returns the wire name of a permission.
func PermName(p model.Permission) string {
	switch p {
	case model.PermManageRooms:
		return "manage_rooms"
	case model.PermModerate:
		return "moderate"
	case model.PermViewModeration:
		return "view_moderation"
	default:
		return "unknown"
	}
}

func minRole(p model.Permission) model.Role {
	if HasPermission(model.RoleRoomManager, p) {
		return model.RoleRoomManager
	}
	return model.RoleAdmin
}
