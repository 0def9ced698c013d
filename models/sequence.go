package models

import "gorm.io/gorm"

// Trigger events a sequence can subscribe to
const (
	TriggerInvitationSent    = "invitation_sent"
	TriggerTeacherJoined     = "teacher_joined"
	TriggerProfileIncomplete = "profile_incomplete"
	TriggerLowBalance        = "low_balance"
	TriggerPackageExpiring   = "package_expiring"
)

// TriggerEvents lists every supported trigger event.
var TriggerEvents = []string{
	TriggerInvitationSent,
	TriggerTeacherJoined,
	TriggerProfileIncomplete,
	TriggerLowBalance,
	TriggerPackageExpiring,
}

// Send conditions evaluated when a scheduled step comes due
const (
	ConditionAlways              = "always"
	ConditionIfNoResponse        = "if_no_response"
	ConditionIfNotAccepted       = "if_not_accepted"
	ConditionIfProfileIncomplete = "if_profile_incomplete"
)

// IsValidTriggerEvent reports whether e is a known trigger event.
func IsValidTriggerEvent(e string) bool {
	for _, t := range TriggerEvents {
		if t == e {
			return true
		}
	}
	return false
}

// EmailSequence is a named, ordered email campaign bound to one trigger
// event for one school.
type EmailSequence struct {
	gorm.Model
	SchoolID uint `gorm:"not null;index" json:"school_id"`

	Name         string `gorm:"not null" json:"name"`
	Description  string `json:"description"`
	TriggerEvent string `gorm:"not null;index" json:"trigger_event"`

	// No column default: a gorm default tag would drop an explicit false
	// from the INSERT, silently activating sequences created paused.
	// Every create path sets this field.
	IsActive bool `json:"is_active"`

	// Cap on how many steps get scheduled per trigger. Zero means no cap.
	MaxEmails int `gorm:"default:0" json:"max_emails"`

	// Relations
	School School              `json:"-"`
	Steps  []EmailSequenceStep `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// EmailSequenceStep is one timed email within a sequence. Steps are
// soft-deleted via IsActive once communications reference them, never
// hard-deleted, to preserve the audit trail.
type EmailSequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index;uniqueIndex:idx_sequence_step" json:"sequence_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepNumber int `gorm:"not null;uniqueIndex:idx_sequence_step" json:"step_number"`

	// Hours after the trigger before this step becomes due
	DelayHours int `gorm:"not null" json:"delay_hours"`

	// always, if_no_response, if_not_accepted, if_profile_incomplete
	SendCondition string `gorm:"not null;default:'always'" json:"send_condition"`

	IsActive bool `json:"is_active"`

	// Relations
	Sequence EmailSequence       `json:"-"`
	Template SchoolEmailTemplate `json:"-"`
}
