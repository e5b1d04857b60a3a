package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin    UserRole = "SUPERADMIN"
	RoleAdmin         UserRole = "ADMIN"
	RoleVicePrincipal UserRole = "VICE_PRINCIPAL"
	RoleHeadTeacher   UserRole = "HEAD_TEACHER"
	RoleTeacher       UserRole = "TEACHER"
	RoleBoardingStaff UserRole = "BOARDING_STAFF"
	RoleOfficeStaff   UserRole = "OFFICE_STAFF"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleVicePrincipal, RoleHeadTeacher, RoleTeacher, RoleBoardingStaff, RoleOfficeStaff:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
// HomeClassID binds head teachers to the class they lead.
type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	FullName    string    `db:"full_name" json:"full_name"`
	Role        UserRole  `db:"role" json:"role"`
	HomeClassID *string   `db:"home_class_id" json:"home_class_id,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Class is an owning unit for review documents.
type Class struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Grade string `db:"grade" json:"grade"`
}

// ClassFilter narrows class listings.
type ClassFilter struct {
	IDs   []string
	Grade string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
