package utils

import (
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
)

// OutgoingEmail is the transport-level message handed to a MailSender.
// SchoolID selects whose SMTP sender transmits the message; zero falls
// back to the mailer's configured school.
type OutgoingEmail struct {
	SchoolID  uint
	To        string
	FromEmail string
	FromName  string
	Subject   string
	HTML      string
	Text      string
}

// MailSender is the transmission boundary. Any provider returning a
// clear success/failure signal satisfies it.
type MailSender interface {
	Send(email OutgoingEmail) error
}

// SMTPMailer sends through a school's own SMTP sender when one is
// active, falling back to the platform SMTP configuration.
type SMTPMailer struct {
	DB       *gorm.DB
	SchoolID uint
	Timeout  time.Duration
}

func NewSMTPMailer(db *gorm.DB, schoolID uint) *SMTPMailer {
	return &SMTPMailer{
		DB:       db,
		SchoolID: schoolID,
		Timeout:  config.AppConfig.SMTPTimeout,
	}
}

func (m *SMTPMailer) Send(email OutgoingEmail) error {
	schoolID := email.SchoolID
	if schoolID == 0 {
		schoolID = m.SchoolID
	}

	dialer, sender, err := m.resolveDialer(schoolID)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", email.FromName, email.FromEmail))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.Text)
	if email.HTML != "" {
		msg.AddAlternative("text/html", email.HTML)
	}

	if err := sendWithTimeout(dialer, msg, m.Timeout); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	if sender != nil {
		m.DB.Model(&models.SchoolSender{}).Where("id = ?", sender.ID).
			Updates(map[string]interface{}{
				"sent_today": gorm.Expr("sent_today + ?", 1),
				"total_sent": gorm.Expr("total_sent + ?", 1),
			})
	}
	return nil
}

// resolveDialer picks the school sender with the most remaining daily
// capacity, or the platform SMTP config when the school has none.
func (m *SMTPMailer) resolveDialer(schoolID uint) (*gomail.Dialer, *models.SchoolSender, error) {
	var senders []models.SchoolSender
	if err := m.DB.Where("school_id = ? AND is_active = ?", schoolID, true).
		Find(&senders).Error; err != nil {
		return nil, nil, err
	}

	var best *models.SchoolSender
	maxAvailable := 0
	for i := range senders {
		available := senders[i].DailyLimit - senders[i].SentToday
		if available > maxAvailable {
			maxAvailable = available
			best = &senders[i]
		}
	}

	if best == nil {
		cfg := config.AppConfig
		if cfg.SMTPHost == "" {
			return nil, nil, fmt.Errorf("no active sender for school %d and no platform SMTP configured", schoolID)
		}
		return gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), nil, nil
	}

	password, err := Decrypt(best.SMTPPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(best.SMTPHost, best.SMTPPort, best.SMTPUsername, password)
	dialer.TLSConfig = &tls.Config{ServerName: best.SMTPHost}
	return dialer, best, nil
}

// sendWithTimeout bounds DialAndSend, which gomail does not do itself.
// A timed-out send surfaces as a retryable failure.
func sendWithTimeout(dialer *gomail.Dialer, msg *gomail.Message, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("smtp transmission timed out after %s", timeout)
	}
}

// ConsoleMailer writes outgoing mail to the log instead of transmitting
// it. Used in development and tests.
type ConsoleMailer struct {
	Logger *log.Logger
	Sent   []OutgoingEmail
	Fail   bool
}

func (m *ConsoleMailer) Send(email OutgoingEmail) error {
	if m.Fail {
		return fmt.Errorf("console mailer configured to fail")
	}
	m.Sent = append(m.Sent, email)
	if m.Logger != nil {
		m.Logger.Printf("email to=%s subject=%q", email.To, email.Subject)
	}
	return nil
}
