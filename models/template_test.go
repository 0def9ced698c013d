package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&School{}, &SchoolEmailTemplate{}))
	return db
}

func testTemplate(schoolID *uint, templateType string, isDefault bool) *SchoolEmailTemplate {
	return &SchoolEmailTemplate{
		SchoolID:        schoolID,
		TemplateType:    templateType,
		Name:            "Test template",
		SubjectTemplate: "Hello {{ teacher_name }}",
		HTMLContent:     "<p>Hello {{ teacher_name }}</p>",
		IsActive:        true,
		IsDefault:       isDefault,
	}
}

func TestTemplateRejectsUnknownType(t *testing.T) {
	db := openTestDB(t)

	err := db.Create(testTemplate(nil, "newsletter", false)).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template type")
}

func TestOneDefaultPerSchoolAndType(t *testing.T) {
	db := openTestDB(t)
	school := &School{Name: "Riverside Academy", Slug: "riverside", ContactEmail: "office@riverside.test"}
	require.NoError(t, db.Create(school).Error)

	require.NoError(t, db.Create(testTemplate(&school.ID, TemplateWelcome, true)).Error)

	err := db.Create(testTemplate(&school.ID, TemplateWelcome, true)).Error
	assert.ErrorIs(t, err, ErrDuplicateDefaultTemplate)

	// A non-default second template for the same type is fine.
	require.NoError(t, db.Create(testTemplate(&school.ID, TemplateWelcome, false)).Error)

	// So is a default for a different type, or for a different school.
	require.NoError(t, db.Create(testTemplate(&school.ID, TemplateReminder, true)).Error)
	other := &School{Name: "Hillcrest", Slug: "hillcrest", ContactEmail: "office@hillcrest.test"}
	require.NoError(t, db.Create(other).Error)
	require.NoError(t, db.Create(testTemplate(&other.ID, TemplateWelcome, true)).Error)
}

func TestPlatformDefaultsAreScopedSeparately(t *testing.T) {
	db := openTestDB(t)
	school := &School{Name: "Riverside Academy", Slug: "riverside", ContactEmail: "office@riverside.test"}
	require.NoError(t, db.Create(school).Error)

	// A platform default (nil school) and a school default for the same
	// type coexist.
	require.NoError(t, db.Create(testTemplate(nil, TemplateWelcome, true)).Error)
	require.NoError(t, db.Create(testTemplate(&school.ID, TemplateWelcome, true)).Error)

	err := db.Create(testTemplate(nil, TemplateWelcome, true)).Error
	assert.ErrorIs(t, err, ErrDuplicateDefaultTemplate)
}

func TestUpdatingDefaultDoesNotConflictWithItself(t *testing.T) {
	db := openTestDB(t)
	school := &School{Name: "Riverside Academy", Slug: "riverside", ContactEmail: "office@riverside.test"}
	require.NoError(t, db.Create(school).Error)

	tmpl := testTemplate(&school.ID, TemplateWelcome, true)
	require.NoError(t, db.Create(tmpl).Error)

	tmpl.Name = "Renamed welcome"
	require.NoError(t, db.Save(tmpl).Error)
}

func TestCreateDefaultTemplatesSeedsEveryTypeOnce(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, CreateDefaultTemplates(db))
	require.NoError(t, CreateDefaultTemplates(db))

	var count int64
	db.Model(&SchoolEmailTemplate{}).Where("school_id IS NULL AND is_default = ?", true).Count(&count)
	assert.EqualValues(t, len(TemplateTypes), count)

	for _, templateType := range TemplateTypes {
		var tmpl SchoolEmailTemplate
		err := db.Where("school_id IS NULL AND template_type = ?", templateType).First(&tmpl).Error
		require.NoError(t, err, templateType)
		assert.True(t, tmpl.IsActive)
	}
}

func TestCommunicationRetryAndPendingRules(t *testing.T) {
	comm := &EmailCommunication{Status: StatusFailed, RetryCount: 1, MaxRetries: 3}
	assert.True(t, comm.CanRetry())

	comm.RetryCount = 3
	assert.False(t, comm.CanRetry())

	comm.Status = StatusSent
	comm.RetryCount = 0
	assert.False(t, comm.CanRetry())

	for _, status := range []string{StatusQueued, StatusSending, StatusSent} {
		assert.True(t, (&EmailCommunication{Status: status}).IsPending(), status)
	}
	for _, status := range []string{StatusFailed, StatusSkipped, StatusBounced, StatusDelivered} {
		assert.False(t, (&EmailCommunication{Status: status}).IsPending(), status)
	}
}

func TestInvitationExpiry(t *testing.T) {
	open := &TeacherInvitation{ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, open.IsExpired())

	expired := &TeacherInvitation{ExpiresAt: time.Now().Add(-time.Hour)}
	assert.True(t, expired.IsExpired())
}

func TestDeactivatedRowsPersistOnCreate(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&User{}, &EmailSequence{}, &EmailSequenceStep{}, &SchoolSender{}))

	school := &School{Name: "Riverside Academy", Slug: "riverside", ContactEmail: "office@riverside.test"}
	require.NoError(t, db.Create(school).Error)

	// A sequence created paused must stay paused; a stored-active row
	// would schedule and send emails the admin explicitly held back.
	seq := &EmailSequence{SchoolID: school.ID, Name: "Paused onboarding", TriggerEvent: TriggerTeacherJoined, IsActive: false}
	require.NoError(t, db.Create(seq).Error)

	tmpl := testTemplate(&school.ID, TemplateWelcome, false)
	tmpl.IsActive = false
	require.NoError(t, db.Create(tmpl).Error)

	step := &EmailSequenceStep{SequenceID: seq.ID, TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: false}
	require.NoError(t, db.Create(step).Error)

	sender := &SchoolSender{SchoolID: school.ID, FromEmail: "office@riverside.test", FromName: "Riverside",
		SMTPHost: "smtp.riverside.test", SMTPUsername: "office", SMTPPassword: "x", IsActive: false}
	require.NoError(t, db.Create(sender).Error)

	user := &User{SchoolID: &school.ID, Name: "Suspended", Email: "gone@riverside.test", PasswordHash: "x", IsActive: false}
	require.NoError(t, db.Create(user).Error)

	var freshSeq EmailSequence
	require.NoError(t, db.First(&freshSeq, seq.ID).Error)
	assert.False(t, freshSeq.IsActive)

	var freshStep EmailSequenceStep
	require.NoError(t, db.First(&freshStep, step.ID).Error)
	assert.False(t, freshStep.IsActive)

	var freshTmpl SchoolEmailTemplate
	require.NoError(t, db.First(&freshTmpl, tmpl.ID).Error)
	assert.False(t, freshTmpl.IsActive)
	assert.False(t, freshTmpl.UseSchoolBranding)

	var freshSender SchoolSender
	require.NoError(t, db.First(&freshSender, sender.ID).Error)
	assert.False(t, freshSender.IsActive)

	var freshUser User
	require.NoError(t, db.First(&freshUser, user.ID).Error)
	assert.False(t, freshUser.IsActive)
}

func TestTriggerAndTypeValidation(t *testing.T) {
	assert.True(t, IsValidTriggerEvent(TriggerTeacherJoined))
	assert.False(t, IsValidTriggerEvent("teacher_left"))

	assert.True(t, IsValidTemplateType(TemplateLowBalanceAlert))
	assert.False(t, IsValidTemplateType(""))
}
