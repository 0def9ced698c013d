package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery statuses for an EmailCommunication. The happy path moves
// monotonically queued -> sending -> sent -> delivered -> opened ->
// clicked; failed/bounced/spam divert at any point. Skipped is the
// terminal state for business-rule skips (condition not met, cancel),
// kept separate from failed so analytics don't conflate the two.
const (
	StatusQueued    = "queued"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusOpened    = "opened"
	StatusClicked   = "clicked"
	StatusFailed    = "failed"
	StatusBounced   = "bounced"
	StatusSpam      = "spam"
	StatusSkipped   = "skipped"
)

// Communication kinds
const (
	CommunicationManual    = "manual"
	CommunicationAutomated = "automated"
	CommunicationSequence  = "sequence"
)

// EmailCommunication is one concrete attempt to deliver a single email,
// whether it came from a manual send, an automated trigger or a
// sequence step.
type EmailCommunication struct {
	gorm.Model

	SchoolID uint `gorm:"not null;index" json:"school_id"`

	// Recipient. The linked account is best-effort: the address may not
	// belong to a registered user yet.
	RecipientEmail string `gorm:"not null;index" json:"recipient_email"`
	RecipientID    *uint  `gorm:"index" json:"recipient_id,omitempty"`

	// Template used for rendering
	TemplateID   *uint  `gorm:"index" json:"template_id,omitempty"`
	TemplateType string `gorm:"not null" json:"template_type"`
	Subject      string `json:"subject"`

	CommunicationType string `gorm:"not null;default:'manual'" json:"communication_type"` // manual, automated, sequence

	// Sequence origin, set only for sequence sends
	SequenceID     *uint `gorm:"index" json:"sequence_id,omitempty"`
	SequenceStepID *uint `gorm:"index" json:"sequence_step_id,omitempty"`

	// Invitation consulted by the if_not_accepted send condition
	InvitationID *uint `gorm:"index" json:"invitation_id,omitempty"`

	// Delivery state
	Status        string     `gorm:"not null;default:'queued';index" json:"status"`
	QueuedAt      time.Time  `gorm:"not null;index" json:"queued_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	// Retry bookkeeping. retry_count never exceeds max_retries.
	RetryCount int `gorm:"default:0" json:"retry_count"`
	MaxRetries int `gorm:"default:3" json:"max_retries"`

	// Open/click tracking token embedded in rendered links
	TrackingToken string `gorm:"uniqueIndex" json:"-"`

	// Relations
	School     School               `json:"-"`
	Recipient  *User                `json:"-"`
	Template   *SchoolEmailTemplate `json:"-"`
	Sequence   *EmailSequence       `json:"-"`
	Step       *EmailSequenceStep   `gorm:"foreignKey:SequenceStepID" json:"-"`
	Invitation *TeacherInvitation   `json:"-"`
}

// CanRetry reports whether an explicit retry is still allowed.
func (c *EmailCommunication) CanRetry() bool {
	return c.Status == StatusFailed && c.RetryCount < c.MaxRetries
}

// IsPending reports whether the communication still counts against
// duplicate prevention for its sequence.
func (c *EmailCommunication) IsPending() bool {
	switch c.Status {
	case StatusQueued, StatusSending, StatusSent:
		return true
	}
	return false
}

// PendingStatuses are the statuses that block re-triggering a sequence
// for the same recipient.
var PendingStatuses = []string{StatusQueued, StatusSending, StatusSent}
