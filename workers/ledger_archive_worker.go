// workers/ledger_archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"reward-ledger-system/models"
	"reward-ledger-system/utils"

	"gorm.io/gorm"
)

// ArchiveStorage is where ledger batches land; satisfied by utils.R2Client.
type ArchiveStorage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// LedgerArchiveWorker periodically exports newly written ledger entries as
// JSON batches to object storage for audit retention. Read-only over the
// ledger; a failed export retries the same window on the next tick.
type LedgerArchiveWorker struct {
	DB      *gorm.DB
	Storage ArchiveStorage
}

func NewLedgerArchiveWorker(db *gorm.DB, storage ArchiveStorage) *LedgerArchiveWorker {
	return &LedgerArchiveWorker{DB: db, Storage: storage}
}

var _ ArchiveStorage = (*utils.R2Client)(nil)

// Run polls for new entries until the context is cancelled.
func (w *LedgerArchiveWorker) Run(ctx context.Context, interval time.Duration) {
	log.Println("Starting ledger archive worker...")
	lastExportedAt := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Ledger archive worker stopped.")
			return
		case <-ticker.C:
			batchEnd := time.Now().UTC()

			var entries []models.LedgerEntry
			if err := w.DB.Where("created_at >= ? AND created_at < ?", lastExportedAt, batchEnd).
				Order("created_at ASC").
				Find(&entries).Error; err != nil {
				log.Printf("❌ Archive scan failed: %v", err)
				continue
			}
			if len(entries) == 0 {
				continue
			}

			body, err := json.Marshal(entries)
			if err != nil {
				log.Printf("❌ Archive encode failed: %v", err)
				continue
			}

			key := fmt.Sprintf("ledger/%s/%s.json",
				batchEnd.Format("2006-01-02"), batchEnd.Format("150405"))
			if err := w.Storage.PutObject(ctx, key, body, "application/json"); err != nil {
				// Do NOT advance the window on failure - retry same batch next tick.
				log.Printf("❌ Archive upload failed (%d entries): %v", len(entries), err)
				continue
			}

			lastExportedAt = batchEnd
			log.Printf("✅ Archived %d ledger entries to %s", len(entries), key)
		}
	}
}
