package models

import (
	"time"

	"gorm.io/gorm"
)

// TeacherInvitation invites a teacher by email to join a school. The
// invitation token is embedded in sequence emails; acceptance is
// consulted by the if_not_accepted send condition.
type TeacherInvitation struct {
	gorm.Model

	SchoolID uint   `gorm:"not null;index" json:"school_id"`
	Email    string `gorm:"not null;index" json:"email"`
	Token    string `gorm:"uniqueIndex;not null" json:"token"`

	InvitedByID   uint   `gorm:"not null" json:"invited_by_id"`
	CustomMessage string `gorm:"type:text" json:"custom_message"`

	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	IsAccepted bool       `gorm:"default:false" json:"is_accepted"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`

	// Relations
	School    School `json:"-"`
	InvitedBy User   `gorm:"foreignKey:InvitedByID" json:"-"`
}

// IsExpired reports whether the invitation can no longer be accepted.
func (i *TeacherInvitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}
