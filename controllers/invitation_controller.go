package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

const invitationValidity = 14 * 24 * time.Hour

type InvitationRequest struct {
	Email         string `json:"email" validate:"required,email"`
	CustomMessage string `json:"custom_message" validate:"max=2000"`
}

type AcceptInvitationRequest struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

// CreateInvitation invites a teacher by email and kicks off every
// sequence bound to the invitation_sent trigger.
func CreateInvitation(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}
	inviter := currentUser(c)

	var req InvitationRequest
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

	var existing models.TeacherInvitation
	err := config.DB.Where("school_id = ? AND email = ? AND is_accepted = ? AND expires_at > ?",
		school.ID, req.Email, false, time.Now()).First(&existing).Error
	if err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "An open invitation already exists for this email",
		})
	}

	invitation := models.TeacherInvitation{
		SchoolID:      school.ID,
		Email:         req.Email,
		Token:         uuid.NewString(),
		InvitedByID:   inviter.ID,
		CustomMessage: req.CustomMessage,
		ExpiresAt:     time.Now().Add(invitationValidity),
	}
	if err := config.DB.Create(&invitation).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create invitation",
		})
	}

	ctx := map[string]interface{}{
		"recipient_email": req.Email,
	}
	result, err := sequenceService(school.ID).TriggerSequence(school, models.TriggerInvitationSent, ctx, &invitation, nil)
	if err != nil {
		utils.LogError("invitation_sequence_failed", err, map[string]interface{}{
			"invitation_id": invitation.ID,
			"school_id":     school.ID,
		})
	}

	response := fiber.Map{"invitation": invitation}
	if result != nil {
		response["triggered_sequences"] = result.TriggeredSequences
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

// AcceptInvitation is the public acceptance endpoint. It creates the
// teacher account, stops any queued reminder emails for the invitation
// and fires the teacher_joined trigger.
func AcceptInvitation(c *fiber.Ctx) error {
	var req AcceptInvitationRequest
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

	var invitation models.TeacherInvitation
	if err := config.DB.Where("token = ?", req.Token).First(&invitation).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Invitation not found",
		})
	}
	if invitation.IsAccepted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Invitation already accepted",
		})
	}
	if invitation.IsExpired() {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "Invitation has expired",
		})
	}

	var existingUser models.User
	if err := config.DB.Where("email = ?", invitation.Email).First(&existingUser).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already registered",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	var user models.User
	err = config.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&invitation).Updates(map[string]interface{}{
			"is_accepted": true,
			"accepted_at": now,
		}).Error; err != nil {
			return err
		}

		user = models.User{
			Email:        invitation.Email,
			PasswordHash: string(hashedPassword),
			Name:         req.Name,
			SchoolID:     &invitation.SchoolID,
			Role:         models.RoleTeacher,
			IsActive:     true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		// Stop reminder emails still queued for this invitation
		return tx.Model(&models.EmailCommunication{}).
			Where("invitation_id = ? AND status = ?", invitation.ID, models.StatusQueued).
			Updates(map[string]interface{}{
				"status":         models.StatusSkipped,
				"failure_reason": "invitation accepted",
				"failed_at":      now,
			}).Error
	})
	if err != nil {
		utils.LogError("invitation_accept_failed", err, map[string]interface{}{
			"invitation_id": invitation.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to accept invitation",
		})
	}

	var school models.School
	if err := config.DB.First(&school, invitation.SchoolID).Error; err == nil {
		ctx := map[string]interface{}{
			"recipient_email": user.Email,
			"teacher_name":    user.Name,
		}
		if _, err := sequenceService(school.ID).TriggerSequence(&school, models.TriggerTeacherJoined, ctx, nil, &user); err != nil {
			utils.LogError("welcome_sequence_failed", err, map[string]interface{}{
				"user_id":   user.ID,
				"school_id": school.ID,
			})
		}
	}

	accessToken, refreshToken, err := utils.GenerateJWTToken(&user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate tokens",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         &user,
	})
}

func ListInvitations(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	query := config.DB.Where("school_id = ?", school.ID)
	switch c.Query("state") {
	case "open":
		query = query.Where("is_accepted = ? AND expires_at > ?", false, time.Now())
	case "accepted":
		query = query.Where("is_accepted = ?", true)
	case "expired":
		query = query.Where("is_accepted = ? AND expires_at <= ?", false, time.Now())
	}

	var invitations []models.TeacherInvitation
	if err := query.Order("created_at DESC").Find(&invitations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch invitations",
		})
	}
	return c.JSON(utils.SuccessResponse(invitations))
}

// RevokeInvitation expires an open invitation immediately and skips any
// queued reminder emails tied to it.
func RevokeInvitation(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var invitation models.TeacherInvitation
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&invitation).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Invitation not found",
		})
	}
	if invitation.IsAccepted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Invitation already accepted",
		})
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&invitation).Update("expires_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&models.EmailCommunication{}).
			Where("invitation_id = ? AND status = ?", invitation.ID, models.StatusQueued).
			Updates(map[string]interface{}{
				"status":         models.StatusSkipped,
				"failure_reason": "invitation revoked",
				"failed_at":      now,
			}).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke invitation",
		})
	}
	return c.JSON(fiber.Map{"message": "Invitation revoked"})
}
