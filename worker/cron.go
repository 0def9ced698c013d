package worker

import (
	"log"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

// CronManager runs the periodic maintenance jobs: retrying failed
// sends, resetting daily sender counters and alerting schools with a
// low credit balance.
type CronManager struct {
	cron   *cron.Cron
	db     *gorm.DB
	logger *log.Logger
}

func NewCronManager(db *gorm.DB, logger *log.Logger) *CronManager {
	if logger == nil {
		logger = log.Default()
	}
	return &CronManager{
		cron:   cron.New(),
		db:     db,
		logger: logger,
	}
}

// SetupJobs configures all scheduled jobs.
func (cm *CronManager) SetupJobs() error {
	cm.logger.Println("Setting up cron jobs...")

	// Hourly: retry failed sends past the cool-down window
	if _, err := cm.cron.AddFunc("0 * * * *", cm.retryFailedEmails); err != nil {
		return err
	}

	// Daily at midnight: reset the per-sender daily counters
	if _, err := cm.cron.AddFunc("0 0 * * *", cm.resetDailyCounters); err != nil {
		return err
	}

	// Daily at 8 AM: alert schools with a low credit balance
	if _, err := cm.cron.AddFunc("0 8 * * *", cm.alertLowBalances); err != nil {
		return err
	}

	cm.logger.Println("Cron jobs configured successfully")
	cm.logger.Println("  - Hourly: retry failed emails")
	cm.logger.Println("  - Daily at midnight: reset sender counters")
	cm.logger.Println("  - Daily at 8 AM: low balance alerts")
	return nil
}

func (cm *CronManager) Start() {
	cm.logger.Println("Starting cron scheduler...")
	cm.cron.Start()
}

func (cm *CronManager) Stop() {
	cm.logger.Println("Stopping cron scheduler...")
	cm.cron.Stop()
}

// retryFailedEmails re-attempts failed sends that cooled down long
// enough and still have retries left.
func (cm *CronManager) retryFailedEmails() {
	cm.logger.Println("Running failed email retry job...")

	// Grouped per school so each retry uses that school's sender
	var schoolIDs []uint
	err := cm.db.Model(&models.EmailCommunication{}).
		Where("status = ? AND retry_count < max_retries", models.StatusFailed).
		Distinct("school_id").
		Pluck("school_id", &schoolIDs).Error
	if err != nil {
		cm.logger.Printf("Failed to find schools with retryable emails: %v", err)
		return
	}

	retried := 0
	for _, schoolID := range schoolIDs {
		service := utils.NewEmailService(cm.db, cm.logger, utils.NewSMTPMailer(cm.db, schoolID))

		comms, err := service.GetFailedEmailsForRetry(config.AppConfig.RetryAfterHours)
		if err != nil {
			cm.logger.Printf("Failed to fetch retryable emails for school %d: %v", schoolID, err)
			continue
		}

		for _, comm := range comms {
			if comm.SchoolID != schoolID {
				continue
			}
			if _, err := service.RetryFailedEmail(comm.ID); err != nil {
				cm.logger.Printf("Retry of communication %d failed: %v", comm.ID, err)
				continue
			}
			retried++
		}
	}

	if retried > 0 {
		cm.logger.Printf("Retried %d failed emails", retried)
	}
}

func (cm *CronManager) resetDailyCounters() {
	cm.logger.Println("Resetting daily sender counters...")

	res := cm.db.Model(&models.SchoolSender{}).
		Where("sent_today > ?", 0).
		Update("sent_today", 0)
	if res.Error != nil {
		cm.logger.Printf("Failed to reset sender counters: %v", res.Error)
		return
	}
	cm.logger.Printf("Reset counters for %d senders", res.RowsAffected)
}

// alertLowBalances triggers the low_balance sequences for schools below
// their threshold. Duplicate prevention in the sequence layer keeps a
// school that stays low from being mailed every day.
func (cm *CronManager) alertLowBalances() {
	cm.logger.Println("Scanning for low credit balances...")

	var schools []models.School
	err := cm.db.Where("is_active = ? AND email_credits <= low_balance_threshold", true).
		Find(&schools).Error
	if err != nil {
		cm.logger.Printf("Failed to scan school balances: %v", err)
		return
	}

	for i := range schools {
		school := &schools[i]

		var admin models.User
		err := cm.db.Where("school_id = ? AND role = ? AND is_active = ?", school.ID, models.RoleAdmin, true).
			First(&admin).Error
		if err != nil {
			continue
		}

		emailSvc := utils.NewEmailService(cm.db, cm.logger, utils.NewSMTPMailer(cm.db, school.ID))
		sequenceSvc := utils.NewSequenceService(cm.db, cm.logger, emailSvc)

		ctx := map[string]interface{}{
			"recipient_email": admin.Email,
			"credit_balance":  school.EmailCredits,
		}
		if _, err := sequenceSvc.TriggerSequence(school, models.TriggerLowBalance, ctx, nil, &admin); err != nil {
			cm.logger.Printf("Low balance trigger failed for school %d: %v", school.ID, err)
		}
	}
}
