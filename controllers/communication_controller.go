package controller

import (
	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

type SendEmailRequest struct {
	TemplateType   string                 `json:"template_type" validate:"required"`
	RecipientEmail string                 `json:"recipient_email" validate:"required,email"`
	Context        map[string]interface{} `json:"context"`
}

type BulkSendRequest struct {
	TemplateType string                 `json:"template_type" validate:"required"`
	Recipients   []string               `json:"recipients" validate:"required,min=1,max=500,dive,email"`
	Context      map[string]interface{} `json:"context"`
}

// SendEmail dispatches a single templated email immediately.
func SendEmail(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req SendEmailRequest
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
	if !models.IsValidTemplateType(req.TemplateType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown template type: " + req.TemplateType,
		})
	}

	result, err := emailService(school.ID).SendTemplateEmail(school, req.TemplateType, req.RecipientEmail, req.Context, models.CommunicationManual)
	if err != nil && result == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to send email",
		})
	}
	if !result.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}
	return c.JSON(result)
}

// SendBulkEmails dispatches one templated email per recipient. Failures
// are reported per recipient; the batch never aborts.
func SendBulkEmails(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req BulkSendRequest
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
	if !models.IsValidTemplateType(req.TemplateType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown template type: " + req.TemplateType,
		})
	}

	result := emailService(school.ID).SendBulkTemplateEmails(school, req.TemplateType, req.Recipients, req.Context, models.CommunicationManual)

	utils.LogEvent("bulk_send_completed", map[string]interface{}{
		"school_id": school.ID,
		"total":     result.TotalRecipients,
		"sent":      result.SentCount,
		"failed":    result.FailedCount,
	})
	return c.JSON(result)
}

// ListCommunications pages through the school's delivery history with
// optional status, type and recipient filters.
func ListCommunications(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := config.DB.Model(&models.EmailCommunication{}).Where("school_id = ?", school.ID)
	if s := c.Query("status"); s != "" {
		query = query.Where("status = ?", s)
	}
	if t := c.Query("communication_type"); t != "" {
		query = query.Where("communication_type = ?", t)
	}
	if r := c.Query("recipient_email"); r != "" {
		query = query.Where("recipient_email = ?", r)
	}
	if id := c.Query("sequence_id"); id != "" {
		query = query.Where("sequence_id = ?", utils.ParseUint(id))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count communications",
		})
	}

	var comms []models.EmailCommunication
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&comms).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch communications",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  comms,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func GetCommunication(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var comm models.EmailCommunication
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&comm).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Communication not found",
		})
	}
	return c.JSON(comm)
}

// GetCommunicationStats returns delivery counts grouped by status, plus
// open and click rates.
func GetCommunicationStats(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := config.DB.Model(&models.EmailCommunication{}).
		Select("status, count(*) as count").
		Where("school_id = ?", school.ID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}

	byStatus := make(map[string]int64, len(counts))
	var total int64
	for _, sc := range counts {
		byStatus[sc.Status] = sc.Count
		total += sc.Count
	}

	delivered := byStatus[models.StatusDelivered] + byStatus[models.StatusOpened] + byStatus[models.StatusClicked]
	sentTotal := byStatus[models.StatusSent] + delivered
	opened := byStatus[models.StatusOpened] + byStatus[models.StatusClicked]

	stats := fiber.Map{
		"total":     total,
		"by_status": byStatus,
	}
	if sentTotal > 0 {
		stats["open_rate"] = float64(opened) / float64(sentTotal)
		stats["click_rate"] = float64(byStatus[models.StatusClicked]) / float64(sentTotal)
	}
	return c.JSON(utils.SuccessResponse(stats))
}

// RetryCommunication re-attempts one failed send.
func RetryCommunication(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var comm models.EmailCommunication
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&comm).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Communication not found",
		})
	}
	if !comm.CanRetry() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Communication is not retryable",
		})
	}

	result, err := emailService(school.ID).RetryFailedEmail(comm.ID)
	if err != nil && result == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retry email",
		})
	}
	if !result.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}
	return c.JSON(result)
}

// ListFailedForRetry returns failed communications still eligible for
// retry, oldest first.
func ListFailedForRetry(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	hours := c.QueryInt("hours_since_failure", config.AppConfig.RetryAfterHours)

	comms, err := emailService(school.ID).GetFailedEmailsForRetry(hours)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch retryable emails",
		})
	}

	scoped := make([]models.EmailCommunication, 0, len(comms))
	for _, comm := range comms {
		if comm.SchoolID == school.ID {
			scoped = append(scoped, comm)
		}
	}
	return c.JSON(utils.SuccessResponse(scoped))
}
