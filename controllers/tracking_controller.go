package controller

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

// statusRank orders the happy-path statuses so tracking events only
// ever advance a communication, never roll it back.
var statusRank = map[string]int{
	models.StatusQueued:    0,
	models.StatusSending:   1,
	models.StatusSent:      2,
	models.StatusDelivered: 3,
	models.StatusOpened:    4,
	models.StatusClicked:   5,
}

// advanceStatus moves the communication to the given status when that
// is a forward move, always stamping the event timestamp.
func advanceStatus(comm *models.EmailCommunication, status string, stampColumn string) {
	updates := map[string]interface{}{
		stampColumn: time.Now(),
	}
	current, currentOK := statusRank[comm.Status]
	next, nextOK := statusRank[status]
	if currentOK && nextOK && next > current {
		updates["status"] = status
	}
	if err := config.DB.Model(comm).Updates(updates).Error; err != nil {
		utils.LogError("tracking_update_failed", err, map[string]interface{}{
			"communication_id": comm.ID,
			"status":           status,
		})
	}
}

// TrackOpen serves the tracking pixel and records the open.
func TrackOpen(c *fiber.Ctx) error {
	token := c.Params("token")

	var comm models.EmailCommunication
	if err := config.DB.Where("tracking_token = ?", token).First(&comm).Error; err == nil {
		if comm.OpenedAt == nil {
			advanceStatus(&comm, models.StatusOpened, "opened_at")
		}
	}

	// Always serve the pixel; a broken image in the mail client leaks
	// that the link was a tracker.
	return c.Type("gif").Send(transparentPixel())
}

// TrackClick records the click and redirects to the wrapped URL.
func TrackClick(c *fiber.Ctx) error {
	token := c.Params("token")
	originalURL := c.Query("url")

	target, err := url.Parse(originalURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid redirect URL")
	}

	var comm models.EmailCommunication
	if err := config.DB.Where("tracking_token = ?", token).First(&comm).Error; err == nil {
		if comm.ClickedAt == nil {
			advanceStatus(&comm, models.StatusClicked, "clicked_at")
		}
		// A click implies the mail was opened even if the pixel never loaded
		if comm.OpenedAt == nil {
			config.DB.Model(&comm).Update("opened_at", time.Now())
		}
	}

	return c.Redirect(originalURL, fiber.StatusFound)
}

// HandleDeliveryWebhook ingests provider delivery notifications
// (delivered, bounced, spam complaints) keyed by tracking token.
func HandleDeliveryWebhook(c *fiber.Ctx) error {
	var input struct {
		EventType string `json:"event_type"` // delivered, bounce, spam
		Token     string `json:"token"`
		Reason    string `json:"reason"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var comm models.EmailCommunication
	if err := config.DB.Where("tracking_token = ?", input.Token).First(&comm).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Communication not found",
		})
	}

	eventTime := time.Now()
	if input.Timestamp > 0 {
		eventTime = time.Unix(input.Timestamp, 0)
	}

	switch strings.ToLower(input.EventType) {
	case "delivered":
		advanceStatus(&comm, models.StatusDelivered, "delivered_at")

	case "bounce", "bounced":
		if err := config.DB.Model(&comm).Updates(map[string]interface{}{
			"status":         models.StatusBounced,
			"failed_at":      eventTime,
			"failure_reason": bounceReason(input.Reason),
		}).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record bounce",
			})
		}

	case "spam", "complaint":
		if err := config.DB.Model(&comm).Updates(map[string]interface{}{
			"status":         models.StatusSpam,
			"failed_at":      eventTime,
			"failure_reason": "recipient marked as spam",
		}).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record complaint",
			})
		}

	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown event type: " + input.EventType,
		})
	}

	return c.JSON(fiber.Map{"message": "Webhook processed"})
}

func bounceReason(reason string) string {
	if reason == "" {
		return "bounced"
	}
	return "bounced: " + reason
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
