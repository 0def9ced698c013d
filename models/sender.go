package models

import (
	"time"

	"gorm.io/gorm"
)

// SchoolSender holds a school's own SMTP credentials. When a school has
// no active sender, sends fall back to the platform SMTP configuration.
type SchoolSender struct {
	gorm.Model
	SchoolID uint `gorm:"not null;index" json:"school_id"`

	// Identification
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// SMTP configuration
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null;default:587" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"` // Encrypted in application layer
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"`

	// Bounce mailbox polled by the bounce worker
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // Encrypted in application layer
	IMAPMailbox  string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// Status. is_active carries no column default so deactivation on
	// create is persisted; callers set it explicitly.
	IsActive     bool       `json:"is_active"`
	LastTestedAt *time.Time `json:"last_tested_at"`
	LastError    *string    `json:"last_error"`

	// Usage metrics
	DailyLimit int `gorm:"default:500" json:"daily_limit"`
	SentToday  int `gorm:"default:0" json:"sent_today"`
	TotalSent  int `gorm:"default:0" json:"total_sent"`

	// Relations
	School School `json:"-"`
}

// HasCapacity reports whether the sender can still send today.
func (s *SchoolSender) HasCapacity() bool {
	return s.SentToday < s.DailyLimit
}
