package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "schoolmail/controllers"
	"schoolmail/middleware"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Get("/me", controller.Me)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Template routes; writes require the school admin role
	template := api.Group("/templates")
	template.Get("/", controller.ListTemplates)
	template.Get("/:id", controller.GetTemplate)
	template.Post("/:id/preview", controller.PreviewTemplate)
	templateAdmin := template.Group("", middleware.RequireSchoolAdmin())
	templateAdmin.Post("/", controller.CreateTemplate)
	templateAdmin.Put("/:id", controller.UpdateTemplate)
	templateAdmin.Delete("/:id", controller.DeleteTemplate)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Get("/", controller.ListSequences)
	sequence.Get("/:id", controller.GetSequence)
	sequence.Get("/:id/status", controller.GetSequenceStatusReport)
	sequenceAdmin := sequence.Group("", middleware.RequireSchoolAdmin())
	sequenceAdmin.Post("/", controller.CreateSequence)
	sequenceAdmin.Put("/:id", controller.UpdateSequence)
	sequenceAdmin.Delete("/:id", controller.DeleteSequence)
	sequenceAdmin.Post("/:id/cancel", controller.CancelSequenceForRecipient)

	// Trigger endpoint, rate limited to protect the credit balance
	api.Post("/sequences/trigger", middleware.SequenceRateLimiter(), controller.TriggerSequences)

	// Email dispatch routes, rate limited like triggers
	emails := api.Group("/emails", middleware.SequenceRateLimiter())
	emails.Post("/send", controller.SendEmail)
	emails.Post("/send-bulk", controller.SendBulkEmails)

	// Delivery history
	communications := api.Group("/communications")
	communications.Get("/", controller.ListCommunications)
	communications.Get("/stats", controller.GetCommunicationStats)
	communications.Get("/failed", controller.ListFailedForRetry)
	communications.Get("/:id", controller.GetCommunication)
	communications.Post("/:id/retry", controller.RetryCommunication)

	// Invitation routes
	invitation := api.Group("/invitations")
	invitation.Get("/", controller.ListInvitations)
	invitationAdmin := invitation.Group("", middleware.RequireSchoolAdmin())
	invitationAdmin.Post("/", controller.CreateInvitation)
	invitationAdmin.Post("/:id/revoke", controller.RevokeInvitation)

	// Sender routes
	sender := api.Group("/senders", middleware.RequireSchoolAdmin())
	sender.Post("/", controller.CreateSender)
	sender.Get("/", controller.ListSenders)
	sender.Post("/:id/test", controller.TestSender)
	sender.Delete("/:id", controller.DeleteSender)

	// Billing routes
	billing := api.Group("/billing")
	billing.Get("/packs", controller.ListCreditPacks)
	billing.Get("/transactions", controller.ListCreditTransactions)
	billing.Post("/purchase", middleware.RequireSchoolAdmin(), controller.CreateCreditPurchase)

	// WebSocket route for live sequence status
	app.Get("/api/v1/sequences/live", middleware.Protected(), websocket.New(func(c *websocket.Conn) {
		controller.HandleSequenceStatusWS(c)
	}))

	// Public endpoints: invitation acceptance, tracking, provider webhooks
	app.Post("/invitations/accept", controller.AcceptInvitation)
	app.Get("/track/open/:token", controller.TrackOpen)
	app.Get("/track/click/:token", controller.TrackClick)
	app.Post("/webhooks/delivery", controller.HandleDeliveryWebhook)
	app.Post("/webhooks/stripe", controller.HandlePaymentWebhook)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	controller.InitStripe()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db)
	SetupAPIRoutes(app, db)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
