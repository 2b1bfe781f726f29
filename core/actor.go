package core

import "strings"

// Roles
const (
	RoleAdmin   = "admin:"
	RoleTeacher = "teacher:"
	RoleStudent = "student:"
	RoleService = "service:"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID       string
	Username string
	Email    string
	Roles    []string
}

func (a Actor) RoleStartsWith(prefix string) bool {
	for _, role := range a.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool   { return a.RoleStartsWith(RoleAdmin) }
func (a Actor) IsTeacher() bool { return a.RoleStartsWith(RoleTeacher) }
func (a Actor) IsStudent() bool { return a.RoleStartsWith(RoleStudent) }
func (a Actor) IsService() bool { return a.RoleStartsWith(RoleService) }

// IsStaff reports whether the actor may manage academic records.
func (a Actor) IsStaff() bool {
	return a.IsAdmin() || a.IsTeacher() || a.IsService()
}

// CanModify reports whether the actor owns a record created by ownerID, or is an admin.
func (a Actor) CanModify(ownerID string) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == ownerID)
}
