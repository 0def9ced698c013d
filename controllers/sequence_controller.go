package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

type SequenceStepRequest struct {
	StepNumber    int    `json:"step_number" validate:"required,min=1"`
	TemplateID    uint   `json:"template_id" validate:"required"`
	DelayHours    int    `json:"delay_hours" validate:"min=0"`
	SendCondition string `json:"send_condition" validate:"omitempty,oneof=always if_no_response if_not_accepted if_profile_incomplete"`
}

type SequenceRequest struct {
	Name         string                `json:"name" validate:"required,max=200"`
	Description  string                `json:"description"`
	TriggerEvent string                `json:"trigger_event" validate:"required"`
	MaxEmails    int                   `json:"max_emails" validate:"min=0"`
	IsActive     *bool                 `json:"is_active"`
	Steps        []SequenceStepRequest `json:"steps" validate:"required,min=1,dive"`
}

type TriggerRequest struct {
	TriggerEvent string                 `json:"trigger_event" validate:"required"`
	Context      map[string]interface{} `json:"context" validate:"required"`
}

type CancelRequest struct {
	RecipientEmail string `json:"recipient_email" validate:"required,email"`
	Reason         string `json:"reason"`
}

// validateSteps checks that every referenced template belongs to the
// school (or is a platform default) and step numbers do not repeat.
func validateSteps(school *models.School, steps []SequenceStepRequest) error {
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.StepNumber] {
			return errors.New("duplicate step number in sequence")
		}
		seen[step.StepNumber] = true

		var count int64
		err := config.DB.Model(&models.SchoolEmailTemplate{}).
			Where("id = ? AND (school_id = ? OR school_id IS NULL)", step.TemplateID, school.ID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return errors.New("template not found for step")
		}
	}
	return nil
}

func CreateSequence(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req SequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !models.IsValidTriggerEvent(req.TriggerEvent) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown trigger event: " + req.TriggerEvent,
		})
	}
	if err := validateSteps(school, req.Steps); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	seq := models.EmailSequence{
		SchoolID:     school.ID,
		Name:         req.Name,
		Description:  req.Description,
		TriggerEvent: req.TriggerEvent,
		MaxEmails:    req.MaxEmails,
		IsActive:     true,
	}
	if req.IsActive != nil {
		seq.IsActive = *req.IsActive
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&seq).Error; err != nil {
			return err
		}
		for _, step := range req.Steps {
			condition := step.SendCondition
			if condition == "" {
				condition = models.ConditionAlways
			}
			if err := tx.Create(&models.EmailSequenceStep{
				SequenceID:    seq.ID,
				TemplateID:    step.TemplateID,
				StepNumber:    step.StepNumber,
				DelayHours:    step.DelayHours,
				SendCondition: condition,
				IsActive:      true,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	config.DB.Preload("Steps").First(&seq, seq.ID)
	return c.Status(fiber.StatusCreated).JSON(seq)
}

func ListSequences(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	query := config.DB.Where("school_id = ?", school.ID)
	if e := c.Query("trigger_event"); e != "" {
		query = query.Where("trigger_event = ?", e)
	}

	var sequences []models.EmailSequence
	if err := query.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Order("name").Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}
	return c.JSON(utils.SuccessResponse(sequences))
}

func GetSequence(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var seq models.EmailSequence
	err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		}).
		First(&seq).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	return c.JSON(seq)
}

// UpdateSequence replaces the sequence settings and its step list. Old
// steps referenced by communications are deactivated, not deleted.
func UpdateSequence(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var seq models.EmailSequence
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&seq).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var req SequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !models.IsValidTriggerEvent(req.TriggerEvent) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown trigger event: " + req.TriggerEvent,
		})
	}
	if err := validateSteps(school, req.Steps); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		seq.Name = req.Name
		seq.Description = req.Description
		seq.TriggerEvent = req.TriggerEvent
		seq.MaxEmails = req.MaxEmails
		if req.IsActive != nil {
			seq.IsActive = *req.IsActive
		}
		if err := tx.Save(&seq).Error; err != nil {
			return err
		}

		var oldSteps []models.EmailSequenceStep
		if err := tx.Where("sequence_id = ?", seq.ID).Find(&oldSteps).Error; err != nil {
			return err
		}
		for i := range oldSteps {
			old := &oldSteps[i]
			var refs int64
			tx.Model(&models.EmailCommunication{}).Where("sequence_step_id = ?", old.ID).Count(&refs)
			if refs > 0 {
				if err := tx.Model(old).Update("is_active", false).Error; err != nil {
					return err
				}
			} else {
				if err := tx.Delete(old).Error; err != nil {
					return err
				}
			}
		}

		for _, step := range req.Steps {
			condition := step.SendCondition
			if condition == "" {
				condition = models.ConditionAlways
			}
			if err := tx.Create(&models.EmailSequenceStep{
				SequenceID:    seq.ID,
				TemplateID:    step.TemplateID,
				StepNumber:    step.StepNumber,
				DelayHours:    step.DelayHours,
				SendCondition: condition,
				IsActive:      true,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	config.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Where("is_active = ?", true).Order("step_number ASC")
	}).First(&seq, seq.ID)
	return c.JSON(seq)
}

// DeleteSequence deactivates the sequence. Queued communications it
// already scheduled are skipped so nothing half-cancelled goes out.
func DeleteSequence(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var seq models.EmailSequence
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&seq).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&seq).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.EmailCommunication{}).
			Where("sequence_id = ? AND status = ?", seq.ID, models.StatusQueued).
			Updates(map[string]interface{}{
				"status":         models.StatusSkipped,
				"failure_reason": "sequence deactivated",
			}).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate sequence",
		})
	}
	return c.JSON(fiber.Map{"message": "Sequence deactivated"})
}

// TriggerSequences fans one business event out to every matching active
// sequence of the school.
func TriggerSequences(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req TriggerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !models.IsValidTriggerEvent(req.TriggerEvent) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown trigger event: " + req.TriggerEvent,
		})
	}

	result, err := sequenceService(school.ID).TriggerSequence(school, req.TriggerEvent, req.Context, nil, nil)
	if err != nil {
		if errors.Is(err, utils.ErrMissingRecipient) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to trigger sequences",
		})
	}

	utils.LogEvent("sequences_triggered", map[string]interface{}{
		"school_id":     school.ID,
		"trigger_event": req.TriggerEvent,
		"count":         result.TriggeredSequences,
	})
	return c.JSON(result)
}

// GetSequenceStatusReport aggregates delivery counts for one sequence.
func GetSequenceStatusReport(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var seq models.EmailSequence
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&seq).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	status, err := sequenceService(school.ID).GetSequenceStatus(seq.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build status report",
		})
	}
	return c.JSON(status)
}

// CancelSequenceForRecipient skips every still-queued step of a
// sequence for one recipient.
func CancelSequenceForRecipient(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var seq models.EmailSequence
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&seq).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var req CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by school admin"
	}

	cancelled, err := sequenceService(school.ID).CancelSequenceForRecipient(seq.ID, req.RecipientEmail, reason)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel sequence emails",
		})
	}
	return c.JSON(fiber.Map{
		"cancelled_emails": cancelled,
	})
}
