package utils

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
)

// ErrNoTemplate is returned when neither the school nor the platform
// has an active template for the requested type.
var ErrNoTemplate = errors.New("no active template found for template type")

// SendResult reports the outcome of one send attempt.
type SendResult struct {
	Success         bool   `json:"success"`
	CommunicationID uint   `json:"communication_id,omitempty"`
	RecipientEmail  string `json:"recipient_email"`
	Subject         string `json:"subject,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BulkSendResult aggregates per-recipient outcomes of a bulk send.
type BulkSendResult struct {
	TotalRecipients int          `json:"total_recipients"`
	SentCount       int          `json:"sent_count"`
	FailedCount     int          `json:"failed_count"`
	Results         []SendResult `json:"results"`
}

// EmailService is the single choke point that dispatches an email and
// records its outcome on an EmailCommunication row.
type EmailService struct {
	DB     *gorm.DB
	Logger *log.Logger
	Mailer MailSender
}

func NewEmailService(db *gorm.DB, logger *log.Logger, mailer MailSender) *EmailService {
	return &EmailService{DB: db, Logger: logger, Mailer: mailer}
}

// ResolveTemplate finds the school's active template for a type,
// preferring the school default, falling back to the platform default.
func (es *EmailService) ResolveTemplate(schoolID uint, templateType string) (*models.SchoolEmailTemplate, error) {
	var tmpl models.SchoolEmailTemplate

	err := es.DB.Where("school_id = ? AND template_type = ? AND is_active = ?", schoolID, templateType, true).
		Order("is_default DESC, updated_at DESC").
		First(&tmpl).Error
	if err == nil {
		return &tmpl, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = es.DB.Where("school_id IS NULL AND template_type = ? AND is_active = ?", templateType, true).
		Order("is_default DESC, updated_at DESC").
		First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoTemplate
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// SendTemplateEmail resolves the template, creates a tracking row,
// renders and transmits. Every failure path marks the row failed with a
// specific reason; nothing is silently swallowed.
func (es *EmailService) SendTemplateEmail(school *models.School, templateType, recipientEmail string, ctx map[string]interface{}, communicationType string) (*SendResult, error) {
	if err := checkmail.ValidateFormat(recipientEmail); err != nil {
		return &SendResult{
			Success:        false,
			RecipientEmail: recipientEmail,
			Error:          "invalid recipient address",
		}, fmt.Errorf("invalid recipient address %q: %w", recipientEmail, err)
	}

	comm := es.newCommunication(school.ID, recipientEmail, templateType, communicationType)

	tmpl, err := es.ResolveTemplate(school.ID, templateType)
	if err != nil {
		if createErr := es.DB.Create(comm).Error; createErr != nil {
			return nil, createErr
		}
		es.markFailed(comm, "template not found: "+templateType)
		return failResult(comm, "template not found"), err
	}
	comm.TemplateID = &tmpl.ID

	if err := es.DB.Create(comm).Error; err != nil {
		return nil, err
	}

	return es.deliver(comm, tmpl, school, ctx)
}

// DeliverQueued renders and transmits an already-persisted queued or
// claimed communication. Used by the sequence processor after the
// atomic claim step.
func (es *EmailService) DeliverQueued(comm *models.EmailCommunication, school *models.School, ctx map[string]interface{}) (*SendResult, error) {
	if comm.TemplateID == nil {
		es.markFailed(comm, "communication has no template reference")
		return failResult(comm, "no template reference"), ErrNoTemplate
	}

	var tmpl models.SchoolEmailTemplate
	if err := es.DB.First(&tmpl, *comm.TemplateID).Error; err != nil {
		es.markFailed(comm, "template not found")
		return failResult(comm, "template not found"), err
	}

	return es.deliver(comm, &tmpl, school, ctx)
}

func (es *EmailService) deliver(comm *models.EmailCommunication, tmpl *models.SchoolEmailTemplate, school *models.School, ctx map[string]interface{}) (*SendResult, error) {
	if comm.Status == models.StatusQueued {
		if err := es.DB.Model(comm).Update("status", models.StatusSending).Error; err != nil {
			return nil, err
		}
		comm.Status = models.StatusSending
	}

	rendered, err := RenderEmailTemplate(tmpl, school, ctx)
	if err != nil {
		es.markFailed(comm, "rendering failed: "+err.Error())
		return failResult(comm, "rendering failed"), err
	}

	htmlBody := rendered.HTML
	if comm.TrackingToken != "" {
		htmlBody = InjectTracking(htmlBody, config.AppConfig.PlatformURL, comm.TrackingToken)
	}

	fromEmail, fromName := es.fromAddress(school)
	sendErr := es.Mailer.Send(OutgoingEmail{
		SchoolID:  comm.SchoolID,
		To:        comm.RecipientEmail,
		FromEmail: fromEmail,
		FromName:  fromName,
		Subject:   rendered.Subject,
		HTML:      htmlBody,
		Text:      rendered.Text,
	})
	if sendErr != nil {
		es.markFailed(comm, "transmission failed: "+sendErr.Error())
		LogError("email_transmission_failed", sendErr, map[string]interface{}{
			"communication_id": comm.ID,
			"school_id":        comm.SchoolID,
		})
		return failResult(comm, "transmission failed"), sendErr
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":  models.StatusSent,
		"sent_at": now,
		"subject": rendered.Subject,
	}
	if err := es.DB.Model(comm).Updates(updates).Error; err != nil {
		return nil, err
	}
	comm.Status = models.StatusSent
	comm.SentAt = &now
	comm.Subject = rendered.Subject

	es.debitCredit(school, comm)

	return &SendResult{
		Success:         true,
		CommunicationID: comm.ID,
		RecipientEmail:  comm.RecipientEmail,
		Subject:         rendered.Subject,
	}, nil
}

// SendBulkTemplateEmails sends to each recipient in turn. One
// recipient's failure never aborts the batch.
func (es *EmailService) SendBulkTemplateEmails(school *models.School, templateType string, recipients []string, ctx map[string]interface{}, communicationType string) *BulkSendResult {
	result := &BulkSendResult{TotalRecipients: len(recipients)}

	for _, recipient := range recipients {
		sendResult, err := es.SendTemplateEmail(school, templateType, recipient, ctx, communicationType)
		if err != nil {
			es.Logger.Printf("bulk send to %s failed: %v", recipient, err)
		}
		if sendResult == nil {
			sendResult = &SendResult{RecipientEmail: recipient, Error: err.Error()}
		}
		if sendResult.Success {
			result.SentCount++
		} else {
			result.FailedCount++
		}
		result.Results = append(result.Results, *sendResult)
	}
	return result
}

// RetryFailedEmail re-attempts a failed communication. The original
// trigger context is not persisted, so the retry renders with a minimal
// reconstructed context; missing variables degrade to template
// defaults.
func (es *EmailService) RetryFailedEmail(communicationID uint) (*SendResult, error) {
	var comm models.EmailCommunication
	if err := es.DB.First(&comm, communicationID).Error; err != nil {
		return nil, err
	}

	if !comm.CanRetry() {
		return &SendResult{
			Success:         false,
			CommunicationID: comm.ID,
			RecipientEmail:  comm.RecipientEmail,
			Error:           "communication is not retryable",
		}, nil
	}

	var school models.School
	if err := es.DB.First(&school, comm.SchoolID).Error; err != nil {
		return nil, err
	}

	if err := es.DB.Model(&comm).Updates(map[string]interface{}{
		"status":      models.StatusSending,
		"retry_count": gorm.Expr("retry_count + ?", 1),
	}).Error; err != nil {
		return nil, err
	}
	comm.Status = models.StatusSending
	comm.RetryCount++

	ctx := map[string]interface{}{
		"recipient_email": comm.RecipientEmail,
		"subject":         comm.Subject,
	}
	return es.DeliverQueued(&comm, &school, ctx)
}

// GetFailedEmailsForRetry returns failed rows older than the threshold
// that still have retries left, oldest failures first. This is the
// candidate set the retry scheduler consumes.
func (es *EmailService) GetFailedEmailsForRetry(hoursSinceFailure int) ([]models.EmailCommunication, error) {
	cutoff := time.Now().Add(-time.Duration(hoursSinceFailure) * time.Hour)

	var comms []models.EmailCommunication
	err := es.DB.Where("status = ? AND failed_at <= ? AND retry_count < max_retries", models.StatusFailed, cutoff).
		Order("failed_at ASC").
		Find(&comms).Error
	return comms, err
}

// newCommunication builds a queued row, linking an existing account by
// email best-effort.
func (es *EmailService) newCommunication(schoolID uint, recipientEmail, templateType, communicationType string) *models.EmailCommunication {
	comm := &models.EmailCommunication{
		SchoolID:          schoolID,
		RecipientEmail:    recipientEmail,
		TemplateType:      templateType,
		CommunicationType: communicationType,
		Status:            models.StatusQueued,
		QueuedAt:          time.Now(),
		MaxRetries:        3,
		TrackingToken:     uuid.NewString(),
	}

	var user models.User
	if err := es.DB.Where("email = ?", recipientEmail).First(&user).Error; err == nil {
		comm.RecipientID = &user.ID
	}
	return comm
}

func (es *EmailService) markFailed(comm *models.EmailCommunication, reason string) {
	now := time.Now()
	if err := es.DB.Model(comm).Updates(map[string]interface{}{
		"status":         models.StatusFailed,
		"failed_at":      now,
		"failure_reason": reason,
	}).Error; err != nil {
		es.Logger.Printf("failed to mark communication %d failed: %v", comm.ID, err)
		return
	}
	comm.Status = models.StatusFailed
	comm.FailedAt = &now
	comm.FailureReason = reason
}

func (es *EmailService) debitCredit(school *models.School, comm *models.EmailCommunication) {
	err := es.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.School{}).Where("id = ?", school.ID).
			Update("email_credits", gorm.Expr("email_credits - ?", 1)).Error; err != nil {
			return err
		}
		var fresh models.School
		if err := tx.First(&fresh, school.ID).Error; err != nil {
			return err
		}
		school.EmailCredits = fresh.EmailCredits
		return tx.Create(&models.CreditTransaction{
			SchoolID:     school.ID,
			Credits:      -1,
			BalanceAfter: fresh.EmailCredits,
			Type:         models.TransactionSendDebit,
			Description:  fmt.Sprintf("email to %s", comm.RecipientEmail),
		}).Error
	})
	if err != nil {
		es.Logger.Printf("credit debit failed for school %d: %v", school.ID, err)
	}
}

func (es *EmailService) fromAddress(school *models.School) (string, string) {
	var sender models.SchoolSender
	err := es.DB.Where("school_id = ? AND is_active = ?", school.ID, true).
		First(&sender).Error
	if err == nil {
		return sender.FromEmail, sender.FromName
	}
	return school.ContactEmail, school.Name
}

func failResult(comm *models.EmailCommunication, msg string) *SendResult {
	return &SendResult{
		Success:         false,
		CommunicationID: comm.ID,
		RecipientEmail:  comm.RecipientEmail,
		Error:           msg,
	}
}
