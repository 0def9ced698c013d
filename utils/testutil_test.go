package utils

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"schoolmail/config"
	"schoolmail/models"
)

func init() {
	config.AppConfig.PlatformName = "SchoolMail"
	config.AppConfig.PlatformURL = "https://schoolmail.test"
	config.AppConfig.SupportEmail = "support@schoolmail.test"
	config.AppConfig.RetryAfterHours = 1
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.School{},
		&models.User{},
		&models.TeacherInvitation{},
		&models.SchoolEmailTemplate{},
		&models.EmailSequence{},
		&models.EmailSequenceStep{},
		&models.EmailCommunication{},
		&models.SchoolSender{},
		&models.CreditTransaction{},
	))
	return db
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func createSchool(t *testing.T, db *gorm.DB) *models.School {
	t.Helper()
	school := &models.School{
		Name:         "Riverside Academy",
		Slug:         "riverside",
		ContactEmail: "office@riverside.test",
		IsActive:     true,
		EmailCredits: 500,
	}
	require.NoError(t, db.Create(school).Error)
	return school
}

func createTemplate(t *testing.T, db *gorm.DB, schoolID *uint, templateType string) *models.SchoolEmailTemplate {
	t.Helper()
	tmpl := &models.SchoolEmailTemplate{
		SchoolID:        schoolID,
		TemplateType:    templateType,
		Name:            "Test " + templateType,
		SubjectTemplate: "{{ school_name }}: hello {{ teacher_name|default:\"there\" }}",
		HTMLContent:     "<p>Hello {{ teacher_name|default:\"there\" }}, welcome to {{ school_name }}.</p>",
		TextContent:     "Hello {{ teacher_name|default:\"there\" }}, welcome to {{ school_name }}.",
		IsActive:        true,
	}
	require.NoError(t, db.Create(tmpl).Error)
	return tmpl
}
