package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"schoolmail/utils"
)

// SequenceWorker periodically processes due sequence emails. The
// database-level claim already prevents double sends across processes;
// the mutex just keeps a slow pass from stacking up inside this one.
type SequenceWorker struct {
	DB       *gorm.DB
	Service  *utils.SequenceService
	Logger   *log.Logger
	Interval time.Duration

	mu sync.Mutex
}

func NewSequenceWorker(db *gorm.DB, service *utils.SequenceService, logger *log.Logger, interval time.Duration) *SequenceWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SequenceWorker{
		DB:       db,
		Service:  service,
		Logger:   logger,
		Interval: interval,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.ProcessOnce()
		}
	}
}

// ProcessOnce runs a single pass. Exported so the retry scheduler and
// tests can drive the worker deterministically.
func (sw *SequenceWorker) ProcessOnce() {
	if !sw.mu.TryLock() {
		sw.Logger.Println("Previous pass still running, skipping tick")
		return
	}
	defer sw.mu.Unlock()

	result := sw.Service.ProcessDueSequenceEmails()
	if result.ProcessedEmails == 0 && len(result.Errors) == 0 {
		return
	}

	sw.Logger.Printf("Processed %d due sequence emails (%d sent, %d failed, %d skipped)",
		result.ProcessedEmails, result.SuccessfulEmails, result.FailedEmails, result.SkippedEmails)
	for _, procErr := range result.Errors {
		sw.Logger.Printf("  communication %d: %s", procErr.EmailCommunicationID, procErr.Error)
	}
}
