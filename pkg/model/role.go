package model

// Role is the operator role a control-plane caller authenticated as.
type Role int

const (
	RoleNone        Role = iota // Unauthenticated
	RoleRoomManager             // Can create, list and terminate ephemeral rooms
	RoleAdmin                   // Rooms plus punishments and warnings
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleRoomManager:
		return "room_manager"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "room_manager":
		return RoleRoomManager
	default:
		return RoleNone
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleNone && r <= RoleAdmin
}

// Permission is a control-plane action checked against a role.
type Permission int

const (
	PermManageRooms Permission = iota
	PermModerate
	PermViewModeration
)
