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

// ErrMissingRecipient is returned when a trigger context lacks the
// mandatory recipient_email variable.
var ErrMissingRecipient = errors.New("trigger context must contain recipient_email")

// noResponseWindow is how far back if_no_response looks for recipient
// engagement.
const noResponseWindow = 7 * 24 * time.Hour

// ScheduledSequence describes one sequence fanned out by a trigger.
type ScheduledSequence struct {
	SequenceID     uint   `json:"sequence_id"`
	SequenceName   string `json:"sequence_name"`
	ScheduledSteps int    `json:"scheduled_steps"`
}

// TriggerResult reports the outcome of a trigger event.
type TriggerResult struct {
	Success            bool                `json:"success"`
	TriggeredSequences int                 `json:"triggered_sequences"`
	Sequences          []ScheduledSequence `json:"sequences"`
}

// ProcessError records a per-item failure in a processing pass.
type ProcessError struct {
	EmailCommunicationID uint   `json:"email_communication_id"`
	Error                string `json:"error"`
}

// ProcessResult reports one processing pass over due sequence emails.
type ProcessResult struct {
	Success          bool           `json:"success"`
	ProcessedEmails  int            `json:"processed_emails"`
	SuccessfulEmails int            `json:"successful_emails"`
	FailedEmails     int            `json:"failed_emails"`
	SkippedEmails    int            `json:"skipped_emails"`
	Errors           []ProcessError `json:"errors,omitempty"`
}

// StepStatus is the per-step slice of a sequence status report.
type StepStatus struct {
	StepNumber int   `json:"step_number"`
	Total      int64 `json:"total"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// SequenceStatus aggregates delivery counts for one sequence.
type SequenceStatus struct {
	SequenceID uint             `json:"sequence_id"`
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	Steps      []StepStatus     `json:"steps"`
}

// SequenceService fans a business event out into scheduled multi-step
// email campaigns and decides at send time whether each scheduled step
// should actually fire.
type SequenceService struct {
	DB     *gorm.DB
	Logger *log.Logger
	Email  *EmailService
}

func NewSequenceService(db *gorm.DB, logger *log.Logger, email *EmailService) *SequenceService {
	return &SequenceService{DB: db, Logger: logger, Email: email}
}

// TriggerSequence schedules every active step of every active sequence
// bound to triggerEvent for the school. ctx must contain
// recipient_email; its absence is a hard failure with no partial
// schedule. A recipient with a pending communication for a sequence is
// not re-entered into that sequence.
func (ss *SequenceService) TriggerSequence(school *models.School, triggerEvent string, ctx map[string]interface{}, invitation *models.TeacherInvitation, user *models.User) (*TriggerResult, error) {
	recipientEmail, _ := ctx["recipient_email"].(string)
	if recipientEmail == "" {
		return nil, ErrMissingRecipient
	}
	if err := checkmail.ValidateFormat(recipientEmail); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", recipientEmail, err)
	}

	var sequences []models.EmailSequence
	err := ss.DB.Where("school_id = ? AND trigger_event = ? AND is_active = ?", school.ID, triggerEvent, true).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true).Order("step_number ASC")
		}).
		Find(&sequences).Error
	if err != nil {
		return nil, err
	}

	result := &TriggerResult{Success: true}
	now := time.Now()

	for i := range sequences {
		seq := &sequences[i]

		scheduled, err := ss.scheduleSequence(seq, recipientEmail, invitation, user, now)
		if err != nil {
			LogError("sequence_schedule_failed", err, map[string]interface{}{
				"sequence_id": seq.ID,
				"school_id":   school.ID,
			})
			continue
		}

		result.TriggeredSequences++
		result.Sequences = append(result.Sequences, ScheduledSequence{
			SequenceID:     seq.ID,
			SequenceName:   seq.Name,
			ScheduledSteps: scheduled,
		})
	}
	return result, nil
}

// scheduleSequence creates one future-dated queued communication per
// active step, subject to duplicate prevention and the max_emails cap.
func (ss *SequenceService) scheduleSequence(seq *models.EmailSequence, recipientEmail string, invitation *models.TeacherInvitation, user *models.User, now time.Time) (int, error) {
	var pending int64
	err := ss.DB.Model(&models.EmailCommunication{}).
		Where("sequence_id = ? AND recipient_email = ? AND status IN ?", seq.ID, recipientEmail, models.PendingStatuses).
		Count(&pending).Error
	if err != nil {
		return 0, err
	}
	if pending > 0 {
		// Sequence already in flight for this recipient; do not restart.
		return 0, nil
	}

	scheduled := 0
	for i := range seq.Steps {
		step := &seq.Steps[i]
		if !step.IsActive {
			continue
		}
		if seq.MaxEmails > 0 && scheduled >= seq.MaxEmails {
			break
		}

		comm := &models.EmailCommunication{
			SchoolID:          seq.SchoolID,
			RecipientEmail:    recipientEmail,
			TemplateID:        &step.TemplateID,
			CommunicationType: models.CommunicationSequence,
			SequenceID:        &seq.ID,
			SequenceStepID:    &step.ID,
			Status:            models.StatusQueued,
			QueuedAt:          now.Add(time.Duration(step.DelayHours) * time.Hour),
			MaxRetries:        3,
			TrackingToken:     uuid.NewString(),
		}
		if invitation != nil {
			comm.InvitationID = &invitation.ID
		}
		if user != nil {
			comm.RecipientID = &user.ID
		}
		var tmpl models.SchoolEmailTemplate
		if err := ss.DB.Select("template_type").First(&tmpl, step.TemplateID).Error; err == nil {
			comm.TemplateType = tmpl.TemplateType
		}

		if err := ss.DB.Create(comm).Error; err != nil {
			return scheduled, err
		}
		scheduled++
	}
	return scheduled, nil
}

// ProcessDueSequenceEmails is the periodic pass over due queued
// sequence emails. Each row is claimed with a single conditional update
// before any rendering or sending, so overlapping passes cannot
// double-send. Per-item failures are isolated; the pass continues.
func (ss *SequenceService) ProcessDueSequenceEmails() *ProcessResult {
	result := &ProcessResult{Success: true}

	var due []models.EmailCommunication
	err := ss.DB.Where("communication_type = ? AND status = ? AND queued_at <= ?",
		models.CommunicationSequence, models.StatusQueued, time.Now()).
		Order("queued_at ASC").
		Find(&due).Error
	if err != nil {
		ss.Logger.Printf("failed to fetch due sequence emails: %v", err)
		result.Success = false
		return result
	}

	for i := range due {
		comm := &due[i]

		claimed, err := ss.claim(comm)
		if err != nil {
			result.FailedEmails++
			result.Errors = append(result.Errors, ProcessError{comm.ID, err.Error()})
			continue
		}
		if !claimed {
			// Another pass picked this row up first.
			continue
		}
		result.ProcessedEmails++

		if err := ss.processDueEmail(comm, result); err != nil {
			result.FailedEmails++
			result.Errors = append(result.Errors, ProcessError{comm.ID, err.Error()})
			LogError("sequence_email_failed", err, map[string]interface{}{
				"communication_id": comm.ID,
				"school_id":        comm.SchoolID,
			})
		}
	}
	return result
}

// claim transitions queued -> sending in one conditional statement.
// Returns false when the row was already claimed elsewhere.
func (ss *SequenceService) claim(comm *models.EmailCommunication) (bool, error) {
	res := ss.DB.Model(&models.EmailCommunication{}).
		Where("id = ? AND status = ?", comm.ID, models.StatusQueued).
		Update("status", models.StatusSending)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	comm.Status = models.StatusSending
	return true, nil
}

func (ss *SequenceService) processDueEmail(comm *models.EmailCommunication, result *ProcessResult) error {
	var school models.School
	if err := ss.DB.First(&school, comm.SchoolID).Error; err != nil {
		ss.Email.markFailed(comm, "school not found")
		return err
	}

	var step models.EmailSequenceStep
	if comm.SequenceStepID != nil {
		if err := ss.DB.First(&step, *comm.SequenceStepID).Error; err != nil {
			ss.Email.markFailed(comm, "sequence step not found")
			return err
		}
	}

	var invitation *models.TeacherInvitation
	if comm.InvitationID != nil {
		var inv models.TeacherInvitation
		if err := ss.DB.Preload("InvitedBy").First(&inv, *comm.InvitationID).Error; err == nil {
			invitation = &inv
		}
	}

	proceed, reason := ss.evaluateSendCondition(comm, &step, invitation)
	if !proceed {
		ss.markSkipped(comm, reason)
		result.SkippedEmails++
		return nil
	}

	ctx := ss.buildSequenceContext(comm, &school, invitation)
	sendResult, err := ss.Email.DeliverQueued(comm, &school, ctx)
	if err != nil {
		return err
	}
	if sendResult.Success {
		result.SuccessfulEmails++
	}
	return nil
}

// evaluateSendCondition applies the step's gate on due rows only.
// Condition-not-met is a business-rule skip, not a technical failure.
func (ss *SequenceService) evaluateSendCondition(comm *models.EmailCommunication, step *models.EmailSequenceStep, invitation *models.TeacherInvitation) (bool, string) {
	switch step.SendCondition {
	case models.ConditionAlways, "":
		return true, ""

	case models.ConditionIfNoResponse:
		cutoff := time.Now().Add(-noResponseWindow)
		var responded int64
		err := ss.DB.Model(&models.EmailCommunication{}).
			Where("school_id = ? AND recipient_email = ?", comm.SchoolID, comm.RecipientEmail).
			Where("(opened_at IS NOT NULL AND opened_at >= ?) OR (clicked_at IS NOT NULL AND clicked_at >= ?)", cutoff, cutoff).
			Count(&responded).Error
		if err != nil {
			ss.Logger.Printf("if_no_response check failed for communication %d: %v", comm.ID, err)
			return false, "response check failed"
		}
		if responded > 0 {
			return false, "recipient has responded"
		}
		return true, ""

	case models.ConditionIfNotAccepted:
		if invitation == nil {
			return false, "no invitation linked"
		}
		if invitation.IsAccepted {
			return false, "invitation already accepted"
		}
		return true, ""

	case models.ConditionIfProfileIncomplete:
		// Profile-completion checking is not implemented yet; this
		// condition currently always sends.
		return true, ""

	default:
		return false, "unknown send condition: " + step.SendCondition
	}
}

func (ss *SequenceService) buildSequenceContext(comm *models.EmailCommunication, school *models.School, invitation *models.TeacherInvitation) map[string]interface{} {
	base := config.AppConfig.PlatformURL
	ctx := map[string]interface{}{
		"recipient_email": comm.RecipientEmail,
		"dashboard_link":  base + "/dashboard",
		"profile_link":    base + "/profile",
		"billing_link":    base + "/billing",
	}

	if comm.RecipientID != nil {
		var user models.User
		if err := ss.DB.First(&user, *comm.RecipientID).Error; err == nil {
			ctx["teacher_name"] = user.Name
			ctx["recipient_id"] = user.ID
		}
	}

	if invitation != nil {
		ctx["invitation_link"] = base + "/invitations/accept?token=" + invitation.Token
		ctx["invitation_expires"] = invitation.ExpiresAt.Format("January 2, 2006")
		ctx["inviter_name"] = invitation.InvitedBy.Name
		if invitation.CustomMessage != "" {
			ctx["custom_message"] = invitation.CustomMessage
		}
	}

	if comm.SequenceID != nil {
		var seq models.EmailSequence
		if err := ss.DB.First(&seq, *comm.SequenceID).Error; err == nil {
			ctx["sequence_name"] = seq.Name
		}
	}

	ctx["credit_balance"] = school.EmailCredits
	return ctx
}

// CancelSequenceForRecipient marks every still-queued step for the
// recipient skipped with the supplied reason. Rows are never deleted;
// the audit trail stays intact.
func (ss *SequenceService) CancelSequenceForRecipient(sequenceID uint, recipientEmail, reason string) (int64, error) {
	res := ss.DB.Model(&models.EmailCommunication{}).
		Where("sequence_id = ? AND recipient_email = ? AND status = ?", sequenceID, recipientEmail, models.StatusQueued).
		Updates(map[string]interface{}{
			"status":         models.StatusSkipped,
			"failure_reason": reason,
			"failed_at":      time.Now(),
		})
	return res.RowsAffected, res.Error
}

// GetSequenceStatus aggregates delivery counts for dashboard use.
func (ss *SequenceService) GetSequenceStatus(sequenceID uint) (*SequenceStatus, error) {
	status := &SequenceStatus{
		SequenceID: sequenceID,
		ByStatus:   make(map[string]int64),
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := ss.DB.Model(&models.EmailCommunication{}).
		Select("status, count(*) as count").
		Where("sequence_id = ?", sequenceID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		status.ByStatus[c.Status] = c.Count
		status.Total += c.Count
	}

	var steps []models.EmailSequenceStep
	if err := ss.DB.Where("sequence_id = ?", sequenceID).Order("step_number ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	for _, step := range steps {
		var total, sent, failed int64
		ss.DB.Model(&models.EmailCommunication{}).Where("sequence_step_id = ?", step.ID).Count(&total)
		ss.DB.Model(&models.EmailCommunication{}).Where("sequence_step_id = ? AND status IN ?", step.ID,
			[]string{models.StatusSent, models.StatusDelivered, models.StatusOpened, models.StatusClicked}).Count(&sent)
		ss.DB.Model(&models.EmailCommunication{}).Where("sequence_step_id = ? AND status = ?", step.ID, models.StatusFailed).Count(&failed)
		status.Steps = append(status.Steps, StepStatus{
			StepNumber: step.StepNumber,
			Total:      total,
			Sent:       sent,
			Failed:     failed,
		})
	}
	return status, nil
}

func (ss *SequenceService) markSkipped(comm *models.EmailCommunication, reason string) {
	now := time.Now()
	if err := ss.DB.Model(comm).Updates(map[string]interface{}{
		"status":         models.StatusSkipped,
		"failure_reason": reason,
		"failed_at":      now,
	}).Error; err != nil {
		ss.Logger.Printf("failed to mark communication %d skipped: %v", comm.ID, err)
		return
	}
	comm.Status = models.StatusSkipped
	comm.FailureReason = reason
	comm.FailedAt = &now
}
