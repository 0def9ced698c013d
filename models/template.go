package models

import (
	"errors"

	"gorm.io/gorm"
)

// Template types an email can be rendered from
const (
	TemplateInvitation            = "invitation"
	TemplateReminder              = "reminder"
	TemplateWelcome               = "welcome"
	TemplateProfileReminder       = "profile_reminder"
	TemplateCompletionCelebration = "completion_celebration"
	TemplateOngoingSupport        = "ongoing_support"
	TemplateLowBalanceAlert       = "low_balance_alert"
	TemplatePackageExpiringAlert  = "package_expiring_alert"
)

// TemplateTypes lists every supported template type.
var TemplateTypes = []string{
	TemplateInvitation,
	TemplateReminder,
	TemplateWelcome,
	TemplateProfileReminder,
	TemplateCompletionCelebration,
	TemplateOngoingSupport,
	TemplateLowBalanceAlert,
	TemplatePackageExpiringAlert,
}

var ErrDuplicateDefaultTemplate = errors.New("a default template already exists for this school and template type")

// IsValidTemplateType reports whether t is a known template type.
func IsValidTemplateType(t string) bool {
	for _, tt := range TemplateTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// SchoolEmailTemplate stores per-school (or platform default, when
// SchoolID is nil) content for one template type. Bodies use the
// restricted template syntax enforced by the secure template engine;
// content security validation runs before every save in the service
// layer, the model hook enforces structural invariants only.
type SchoolEmailTemplate struct {
	gorm.Model

	// Nil school means a platform-wide default template.
	SchoolID     *uint  `gorm:"index" json:"school_id,omitempty"`
	TemplateType string `gorm:"not null;index" json:"template_type"`

	Name            string `gorm:"not null" json:"name"`
	SubjectTemplate string `gorm:"not null" json:"subject_template"`
	HTMLContent     string `gorm:"type:text;not null" json:"html_content"`
	TextContent     string `gorm:"type:text" json:"text_content"`

	// Branding. These booleans carry no column default so that an
	// explicit false survives Create; gorm omits zero values for
	// defaulted columns from the INSERT.
	UseSchoolBranding bool   `json:"use_school_branding"`
	CustomCSS         string `gorm:"type:text" json:"custom_css"`

	IsActive  bool `json:"is_active"`
	IsDefault bool `json:"is_default"`

	// Relations
	School *School `json:"-"`
}

// BeforeSave enforces at most one default template per (school,
// template_type) pair. A partial unique index would cover this on
// Postgres; the hook keeps the invariant portable across the sqlite
// test database.
func (t *SchoolEmailTemplate) BeforeSave(tx *gorm.DB) error {
	if !IsValidTemplateType(t.TemplateType) {
		return errors.New("unknown template type: " + t.TemplateType)
	}
	if !t.IsDefault {
		return nil
	}

	q := tx.Model(&SchoolEmailTemplate{}).
		Where("template_type = ? AND is_default = ?", t.TemplateType, true)
	if t.SchoolID == nil {
		q = q.Where("school_id IS NULL")
	} else {
		q = q.Where("school_id = ?", *t.SchoolID)
	}
	if t.ID != 0 {
		q = q.Where("id <> ?", t.ID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateDefaultTemplate
	}
	return nil
}
