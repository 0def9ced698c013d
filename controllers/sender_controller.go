package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	gomail "gopkg.in/gomail.v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

type SenderRequest struct {
	FromEmail string `json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name" validate:"required,max=100"`

	SMTPHost     string `json:"smtp_host" validate:"required,hostname"`
	SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	Encryption   string `json:"encryption" validate:"omitempty,oneof=STARTTLS SSL none"`

	IMAPHost     string `json:"imap_host" validate:"omitempty,hostname"`
	IMAPPort     int    `json:"imap_port" validate:"omitempty,min=1,max=65535"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`
	IMAPMailbox  string `json:"imap_mailbox"`

	DailyLimit int `json:"daily_limit" validate:"omitempty,min=1,max=10000"`
}

// CreateSender registers a school-owned SMTP identity. Credentials are
// encrypted at rest.
func CreateSender(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req SenderRequest
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

	if ok, err := utils.ValidateMXRecords(req.FromEmail); err != nil || !ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Sender domain has no MX records",
		})
	}

	encryptedSMTP, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	sender := models.SchoolSender{
		SchoolID:     school.ID,
		FromEmail:    req.FromEmail,
		FromName:     req.FromName,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: encryptedSMTP,
		IMAPHost:     req.IMAPHost,
		IMAPUsername: req.IMAPUsername,
		IsActive:     true,
	}
	if req.Encryption != "" {
		sender.Encryption = req.Encryption
	}
	if req.IMAPPort > 0 {
		sender.IMAPPort = req.IMAPPort
	}
	if req.IMAPMailbox != "" {
		sender.IMAPMailbox = req.IMAPMailbox
	}
	if req.DailyLimit > 0 {
		sender.DailyLimit = req.DailyLimit
	}
	if req.IMAPPassword != "" {
		encryptedIMAP, err := utils.Encrypt(req.IMAPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
		sender.IMAPPassword = encryptedIMAP
	}

	if err := config.DB.Create(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(sender)
}

func ListSenders(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var senders []models.SchoolSender
	if err := config.DB.Where("school_id = ?", school.ID).Order("created_at").Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}
	return c.JSON(utils.SuccessResponse(senders))
}

// TestSender opens an SMTP connection with the stored credentials and
// records the outcome on the sender row.
func TestSender(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var sender models.SchoolSender
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	password, err := utils.Decrypt(sender.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decrypt credentials",
		})
	}

	dialer := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	closer, dialErr := dialer.Dial()

	now := time.Now()
	updates := map[string]interface{}{
		"last_tested_at": now,
	}
	if dialErr != nil {
		msg := dialErr.Error()
		updates["last_error"] = msg
		config.DB.Model(&sender).Updates(updates)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "SMTP connection failed: " + msg,
		})
	}
	closer.Close()

	updates["last_error"] = nil
	config.DB.Model(&sender).Updates(updates)
	return c.JSON(fiber.Map{"message": "SMTP connection successful"})
}

func DeleteSender(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	res := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).Delete(&models.SchoolSender{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sender",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Sender deleted"})
}
