package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"gorm.io/gorm"

	"schoolmail/models"
	"schoolmail/utils"
)

// finalRecipientRe extracts the failed address from a delivery status
// notification per RFC 3464.
var finalRecipientRe = regexp.MustCompile(`(?i)Final-Recipient:\s*rfc822;\s*([^\s;]+@[^\s;]+)`)

// bounceSubjects are subject markers used by MTAs that don't send
// proper DSNs.
var bounceSubjects = []string{
	"undeliverable",
	"undelivered mail",
	"delivery status notification",
	"mail delivery failed",
	"returned mail",
	"failure notice",
}

// BounceWorker polls each school sender's IMAP mailbox for bounce
// notifications and marks the matching communications bounced.
type BounceWorker struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewBounceWorker(db *gorm.DB, logger *log.Logger) *BounceWorker {
	return &BounceWorker{DB: db, Logger: logger}
}

func (bw *BounceWorker) Start(ctx context.Context) {
	bw.Logger.Println("Bounce worker started")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.Logger.Println("Bounce worker shutting down...")
			return
		case <-ticker.C:
			bw.pollAllSenders()
		}
	}
}

func (bw *BounceWorker) pollAllSenders() {
	var senders []models.SchoolSender
	err := bw.DB.Where("is_active = ? AND imap_host IS NOT NULL AND imap_host != ''", true).
		Find(&senders).Error
	if err != nil {
		bw.Logger.Printf("Failed to fetch senders: %v", err)
		return
	}

	for i := range senders {
		if err := bw.pollSender(&senders[i]); err != nil {
			bw.Logger.Printf("Failed to poll sender %d: %v", senders[i].ID, err)
		}
	}
}

func (bw *BounceWorker) pollSender(sender *models.SchoolSender) error {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt IMAP password: %v", err)
	}

	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)
	imapClient, err := client.DialTLS(imapAddr, &tls.Config{
		ServerName: sender.IMAPHost,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := "INBOX"
	if sender.IMAPMailbox != "" {
		mailbox = sender.IMAPMailbox
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := bw.processMessage(msg, sender.SchoolID); err != nil {
			bw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}
	return nil
}

func (bw *BounceWorker) processMessage(msg *imap.Message, schoolID uint) error {
	if msg.Envelope == nil || !looksLikeBounce(msg.Envelope.Subject) {
		return nil
	}

	if msg.Body == nil {
		return nil
	}
	section := imap.BodySectionName{}
	literal, ok := msg.Body[&section]
	if !ok {
		return fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return fmt.Errorf("failed to create message reader: %v", err)
	}

	var body strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("failed to read next part: %v", err)
		}
		if _, ok := p.Header.(*mail.InlineHeader); ok {
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			body.Write(b)
		}
	}

	recipient := extractBouncedRecipient(body.String())
	if recipient == "" {
		return nil
	}

	return bw.markBounced(schoolID, recipient)
}

// markBounced flags the most recent sent communication to the bounced
// address and skips any still-queued sequence emails to it. Sending
// more mail to a bouncing address hurts the sender's reputation.
func (bw *BounceWorker) markBounced(schoolID uint, recipient string) error {
	var comm models.EmailCommunication
	err := bw.DB.Where("school_id = ? AND recipient_email = ? AND status IN ?",
		schoolID, recipient,
		[]string{models.StatusSent, models.StatusDelivered}).
		Order("sent_at DESC").
		First(&comm).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	now := time.Now()
	if err := bw.DB.Model(&comm).Updates(map[string]interface{}{
		"status":         models.StatusBounced,
		"failed_at":      now,
		"failure_reason": "bounced",
	}).Error; err != nil {
		return err
	}

	err = bw.DB.Model(&models.EmailCommunication{}).
		Where("school_id = ? AND recipient_email = ? AND status = ?", schoolID, recipient, models.StatusQueued).
		Updates(map[string]interface{}{
			"status":         models.StatusSkipped,
			"failure_reason": "recipient address bounced",
			"failed_at":      now,
		}).Error
	if err != nil {
		return err
	}

	utils.LogEvent("bounce_recorded", map[string]interface{}{
		"school_id":        schoolID,
		"communication_id": comm.ID,
	})
	return nil
}

func looksLikeBounce(subject string) bool {
	lower := strings.ToLower(subject)
	for _, marker := range bounceSubjects {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func extractBouncedRecipient(body string) string {
	if m := finalRecipientRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
