package models

import (
	"gorm.io/gorm"
)

// School is the tenant root. Every other record in the system belongs to
// exactly one school and is cascade-deleted with it.
type School struct {
	gorm.Model

	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	// Contact information
	ContactEmail string `gorm:"not null" json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Website      string `json:"website"`

	// Branding used by the email renderer
	PrimaryColor   string `gorm:"default:'#2563eb'" json:"primary_color"`
	SecondaryColor string `gorm:"default:'#1e40af'" json:"secondary_color"`
	LogoURL        string `json:"logo_url"`

	IsActive bool `json:"is_active"`

	// Credit-based sending
	EmailCredits        int `gorm:"default:500" json:"email_credits"`
	LowBalanceThreshold int `gorm:"default:50" json:"low_balance_threshold"`

	// Relations
	Users          []User               `gorm:"foreignKey:SchoolID" json:"users,omitempty"`
	Templates      []SchoolEmailTemplate `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"templates,omitempty"`
	Sequences      []EmailSequence      `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"sequences,omitempty"`
	Communications []EmailCommunication `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"communications,omitempty"`
	Invitations    []TeacherInvitation  `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"invitations,omitempty"`
	Senders        []SchoolSender       `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"senders,omitempty"`
	Transactions   []CreditTransaction  `gorm:"foreignKey:SchoolID;constraint:OnDelete:CASCADE" json:"transactions,omitempty"`
}

// HasLowBalance reports whether the school dropped below its alert threshold.
func (s *School) HasLowBalance() bool {
	return s.EmailCredits <= s.LowBalanceThreshold
}
