package main

import (
	"context"
	"log"
	"os"

	sentry "github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/middleware"
	"schoolmail/routes"
	"schoolmail/utils"
	"schoolmail/worker"
)

func main() {
	logger := log.New(os.Stdout, "SERVER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sequence worker delivers due scheduled emails
	sequenceLogger := log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags)
	emailService := utils.NewEmailService(config.DB, sequenceLogger, utils.NewSMTPMailer(config.DB, 0))
	sequenceService := utils.NewSequenceService(config.DB, sequenceLogger, emailService)
	sequenceWorker := worker.NewSequenceWorker(config.DB, sequenceService, sequenceLogger, config.AppConfig.SequenceWorkerInterval)
	go sequenceWorker.Start(ctx)

	// Bounce worker polls sender mailboxes for delivery failures
	bounceWorker := worker.NewBounceWorker(config.DB, log.New(os.Stdout, "BOUNCE: ", log.LstdFlags))
	go bounceWorker.Start(ctx)

	// Scheduled maintenance: retries, counter resets, balance alerts
	cronManager := worker.NewCronManager(config.DB, log.New(os.Stdout, "CRON: ", log.LstdFlags))
	if err := cronManager.SetupJobs(); err != nil {
		logger.Fatalf("Failed to set up cron jobs: %v", err)
	}
	cronManager.Start()
	defer cronManager.Stop()

	// Setup routes
	routes.SetupRoutes(app, config.DB)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
