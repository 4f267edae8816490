// services/tournament_service.go
package services

import (
	"fmt"
	"log"
	"time"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TournamentService handles coin-fee tournaments: joining deducts the entry
// fee through the ledger, settlement pays ranked prizes or refunds fees.
type TournamentService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Prizes *PrizeService
}

func NewTournamentService(db *gorm.DB, ledger *LedgerService, prizes *PrizeService) *TournamentService {
	return &TournamentService{DB: db, Ledger: ledger, Prizes: prizes}
}

// Join subscribes a user, deducting the entry fee. The (tournament, user)
// unique index collapses concurrent joins; the fee deduction's idempotency
// key makes the charge at-most-once even across retries.
func (s *TournamentService) Join(userID, tournamentID string) (*models.TournamentEntry, error) {
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrTournamentNotJoinable
		}
		return nil, err
	}
	now := time.Now()
	if tournament.Status != models.TournamentActive || now.After(tournament.EndTime) {
		return nil, fmt.Errorf("%w: tournament is %s", ErrTournamentNotJoinable, tournament.Status)
	}

	entry := models.TournamentEntry{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		UserID:       userID,
		FeePaid:      tournament.EntryFee,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Fetch into a fresh value: entry carries the losing insert's
			// primary key, which would otherwise leak into the conditions.
			var existing models.TournamentEntry
			if err := tx.Where("tournament_id = ? AND user_id = ?", tournamentID, userID).
				First(&existing).Error; err != nil {
				return err
			}
			entry = existing
			return nil
		}
		inc := tx.Model(&models.Tournament{}).
			Where("id = ? AND (max_participants = 0 OR participant_count < max_participants)", tournamentID).
			Update("participant_count", gorm.Expr("participant_count + 1"))
		if inc.Error != nil {
			return inc.Error
		}
		if inc.RowsAffected == 0 {
			return fmt.Errorf("%w: tournament is full", ErrTournamentNotJoinable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if tournament.EntryFee > 0 && entry.FeeTransactionID == "" {
		deduct, err := s.Ledger.Deduct(DeductRequest{
			UserID:         userID,
			Amount:         tournament.EntryFee,
			Source:         models.SourceTournamentEntry,
			Description:    "Entry fee: " + tournament.Name,
			Metadata:       map[string]interface{}{"tournament_id": tournamentID},
			IdempotencyKey: IdempotencyKey(models.SourceTournamentEntry, tournamentID, userID),
		})
		if err != nil {
			// Could not charge: release the slot. Hard delete, a soft-deleted
			// row would still hold the (tournament, user) unique key and block
			// a retry.
			s.DB.Unscoped().Delete(&models.TournamentEntry{}, "id = ?", entry.ID)
			s.DB.Model(&models.Tournament{}).
				Where("id = ?", tournamentID).
				Update("participant_count", gorm.Expr("participant_count - 1"))
			return nil, err
		}
		entry.FeeTransactionID = deduct.TransactionID
		s.DB.Model(&models.TournamentEntry{}).
			Where("id = ?", entry.ID).
			Update("fee_transaction_id", deduct.TransactionID)
	}
	return &entry, nil
}

type SettlementResult struct {
	Settled  int `json:"settled"`
	Refunded int `json:"refunded"`
}

// SettleEnded completes tournaments past their end time and settles each
// one: prize distribution for valid tournaments, entry-fee refunds for
// those that missed their minimum-participant threshold. Invoked by the
// scheduler; each tournament settles independently.
func (s *TournamentService) SettleEnded() (*SettlementResult, error) {
	now := time.Now()
	result := &SettlementResult{}

	res := s.DB.Model(&models.Tournament{}).
		Where("status = ? AND end_time < ?", models.TournamentActive, now).
		Update("status", models.TournamentCompleted)
	if res.Error != nil {
		return nil, res.Error
	}

	var completed []models.Tournament
	if err := s.DB.Where("status = ?", models.TournamentCompleted).Find(&completed).Error; err != nil {
		return nil, err
	}
	for _, tournament := range completed {
		refunded, err := s.settle(tournament)
		if err != nil {
			log.Printf("[Tournaments] settlement of %s failed: %v", tournament.Slug, err)
			continue
		}
		result.Settled++
		if refunded {
			result.Refunded++
		}
	}
	return result, nil
}

func (s *TournamentService) settle(tournament models.Tournament) (bool, error) {
	if tournament.MinParticipants > 0 && tournament.ParticipantCount < int64(tournament.MinParticipants) {
		if err := s.refundEntries(tournament); err != nil {
			return false, err
		}
		return true, s.markSettled(tournament.ID)
	}

	distribution, err := s.Prizes.claimCycle(tournament.ID, "tournament", tournament.StartTime, tournament.EndTime)
	if err != nil {
		return false, err
	}
	if distribution.Status != models.DistributionCompleted {
		if err := s.Prizes.ensureEntries(distribution, tournament.ID, "score", tournament.PrizeSlots); err != nil {
			return false, err
		}
		if _, err := s.Prizes.processEntries(distribution, models.SourceTournamentPrize,
			func(userID string) string {
				return IdempotencyKey(models.SourceTournamentPrize, tournament.ID, userID)
			}); err != nil {
			return false, err
		}
	}
	return false, s.markSettled(tournament.ID)
}

// refundEntries returns every paid entry fee. Refund entries carry their own
// idempotency keys so a crashed settlement pass resumes cleanly.
func (s *TournamentService) refundEntries(tournament models.Tournament) error {
	var entries []models.TournamentEntry
	if err := s.DB.Where("tournament_id = ? AND refunded = ?", tournament.ID, false).
		Find(&entries).Error; err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.FeePaid > 0 {
			_, err := s.Ledger.Award(AwardRequest{
				UserID:         entry.UserID,
				Amount:         entry.FeePaid,
				Source:         models.SourceTournamentRefund,
				Direction:      models.DirectionRefunded,
				Description:    "Entry fee refund: " + tournament.Name,
				Metadata:       map[string]interface{}{"tournament_id": tournament.ID, "fee_transaction_id": entry.FeeTransactionID},
				IdempotencyKey: IdempotencyKey(models.SourceTournamentRefund, tournament.ID, entry.UserID),
			})
			if err != nil {
				log.Printf("[Tournaments] refund failed for %s: %v", entry.UserID, err)
				continue
			}
		}
		s.DB.Model(&models.TournamentEntry{}).
			Where("id = ?", entry.ID).
			Update("refunded", true)
	}
	return nil
}

func (s *TournamentService) markSettled(tournamentID string) error {
	return s.DB.Model(&models.Tournament{}).
		Where("id = ? AND status = ?", tournamentID, models.TournamentCompleted).
		Update("status", models.TournamentSettled).Error
}
