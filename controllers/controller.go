package controller

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

var (
	emailLogger    = log.New(os.Stdout, "EMAIL: ", log.LstdFlags)
	sequenceLogger = log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags)
)

// emailService builds the send pipeline for one school per request.
// Services are cheap structs around the shared DB handle, so there is
// nothing worth caching here.
func emailService(schoolID uint) *utils.EmailService {
	return utils.NewEmailService(config.DB, emailLogger, utils.NewSMTPMailer(config.DB, schoolID))
}

func sequenceService(schoolID uint) *utils.SequenceService {
	return utils.NewSequenceService(config.DB, sequenceLogger, emailService(schoolID))
}

// currentUser returns the authenticated user set by the JWT middleware.
func currentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}

// currentSchool returns the authenticated user's school, or responds
// 403 and returns nil when the user has no school.
func currentSchool(c *fiber.Ctx) *models.School {
	school, ok := c.Locals("school").(*models.School)
	if !ok || school == nil {
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "User is not associated with a school",
		})
		return nil
	}
	return school
}
