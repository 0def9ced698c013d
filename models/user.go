package models

import (
	"gorm.io/gorm"
)

// User roles within a school
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStaff   = "staff"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name     string `gorm:"not null" json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	Language string `gorm:"default:'en'" json:"language"`

	// School membership. Nullable: platform operators have no school.
	SchoolID *uint  `gorm:"index" json:"school_id,omitempty"`
	Role     string `gorm:"default:'teacher'" json:"role"` // admin, teacher, staff

	// Account status. No column default on is_active: gorm would omit an
	// explicit false from the INSERT. Create paths set it.
	IsActive     bool `json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	School *School `json:"school,omitempty"`
}

// IsSchoolAdmin reports whether the user can manage templates and sequences
// for their school.
func (u *User) IsSchoolAdmin() bool {
	return u.SchoolID != nil && u.Role == RoleAdmin
}
