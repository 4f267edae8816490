// services/prize_service.go
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

// RankingsProvider returns the final ranked snapshot for a config and time
// window. The aggregation itself lives outside the core.
type RankingsProvider interface {
	Rankings(configID, metric string, from, to time.Time) ([]RankedEntry, error)
}

// LedgerRankings ranks users by coins earned in the window, straight off the
// ledger. Default provider when no external aggregator is configured. It only
// knows about coin earnings, so the configured metric name is ignored here;
// the parameter exists for external providers that aggregate other metrics.
type LedgerRankings struct {
	DB *gorm.DB
}

func (r LedgerRankings) Rankings(configID, metric string, from, to time.Time) ([]RankedEntry, error) {
	type row struct {
		UserID string
		Total  int64
	}
	var rows []row
	err := r.DB.Model(&models.LedgerEntry{}).
		Select("user_id, SUM(amount) AS total").
		Where("direction IN ? AND created_at >= ? AND created_at < ?",
			[]models.LedgerDirection{models.DirectionEarned, models.DirectionBonus}, from, to).
		Group("user_id").
		Order("total DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]RankedEntry, len(rows))
	for i, r := range rows {
		entries[i] = RankedEntry{UserID: r.UserID, Rank: i + 1, Value: r.Total}
	}
	return entries, nil
}

// PrizeService settles leaderboard cycles and tournaments: exactly one
// distribution per (config, cycle window), exactly one payout per entry.
type PrizeService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Rankings RankingsProvider
	Screener FraudScreener
	Notifier Notifier
}

func NewPrizeService(db *gorm.DB, ledger *LedgerService, rankings RankingsProvider, screener FraudScreener, notifier Notifier) *PrizeService {
	if rankings == nil {
		rankings = LedgerRankings{DB: db}
	}
	if screener == nil {
		screener = NoopScreener{}
	}
	return &PrizeService{DB: db, Ledger: ledger, Rankings: rankings, Screener: screener, Notifier: notifier}
}

type DistributionResult struct {
	DistributionID string `json:"distribution_id,omitempty"`
	Distributed    int64  `json:"distributed"`
	Flagged        int64  `json:"flagged"`
	Skipped        bool   `json:"skipped,omitempty"` // cycle already settled or not yet due
}

// DistributeCycle settles the most recent fully-elapsed cycle of one
// leaderboard config. Safe to re-run: a completed cycle performs zero
// additional payouts; a partial one retries only pending/failed entries.
func (s *PrizeService) DistributeCycle(configID string) (*DistributionResult, error) {
	var config models.LeaderboardConfig
	if err := s.DB.First(&config, "id = ?", configID).Error; err != nil {
		return nil, err
	}
	if !config.IsActive {
		return &DistributionResult{Skipped: true}, nil
	}

	cycleStart, cycleEnd := PreviousCycle(config.Period, time.Now())

	distribution, err := s.claimCycle(configID, "leaderboard", cycleStart, cycleEnd)
	if err != nil {
		return nil, err
	}
	if distribution.Status == models.DistributionCompleted {
		return &DistributionResult{DistributionID: distribution.ID, Skipped: true}, nil
	}

	if err := s.ensureEntries(distribution, config.ID, config.Metric, config.PrizeSlots); err != nil {
		return nil, err
	}

	result, err := s.processEntries(distribution, models.SourceLeaderboardPrize,
		func(userID string) string {
			return IdempotencyKey(models.SourceLeaderboardPrize,
				fmt.Sprintf("%s:%s", config.ID, cycleStart.Format("2006-01-02")), userID)
		})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.DB.Model(&models.LeaderboardConfig{}).
		Where("id = ?", config.ID).
		Update("last_checked_at", now)
	return result, nil
}

// claimCycle creates (or finds) the distribution row for the exact cycle
// window. The unique index on (config_id, cycle_start) resolves the
// duplicate-create race: zero rows affected means another runner owns it.
func (s *PrizeService) claimCycle(configID, kind string, cycleStart, cycleEnd time.Time) (*models.PrizeDistribution, error) {
	distribution := models.PrizeDistribution{
		ID:         uuid.NewString(),
		ConfigID:   configID,
		Kind:       kind,
		CycleStart: cycleStart,
		CycleEnd:   cycleEnd,
		Status:     models.DistributionPending,
	}
	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_id"}, {Name: "cycle_start"}},
		DoNothing: true,
	}).Create(&distribution)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return &distribution, nil
	}
	var existing models.PrizeDistribution
	if err := s.DB.Where("config_id = ? AND cycle_start = ?", configID, cycleStart).
		First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// ensureEntries builds the entry set if the distribution has none yet. An
// earlier pass may have claimed the cycle and then died before materializing
// entries (screener outage, crash); the count check lets a retry finish the
// job instead of settling an empty cycle.
func (s *PrizeService) ensureEntries(distribution *models.PrizeDistribution, configID, metric string, slots []models.PrizeSlot) error {
	var count int64
	if err := s.DB.Model(&models.PrizeEntry{}).
		Where("distribution_id = ?", distribution.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.buildEntries(distribution, configID, metric, slots)
}

// buildEntries snapshots the final ranking, screens it, and materializes one
// entry per prize-slot rank. Idempotent per (distribution, user).
func (s *PrizeService) buildEntries(distribution *models.PrizeDistribution, configID, metric string, slots []models.PrizeSlot) error {
	ranked, err := s.Rankings.Rankings(configID, metric, distribution.CycleStart, distribution.CycleEnd)
	if err != nil {
		return fmt.Errorf("rankings: %w", err)
	}
	flagged, err := s.Screener.Screen(ranked)
	if err != nil {
		// Screener down: hold the cycle rather than paying unscreened users.
		return fmt.Errorf("fraud screen: %w", err)
	}

	byRank := map[int]RankedEntry{}
	for _, entry := range ranked {
		byRank[entry.Rank] = entry
	}

	for _, slot := range slots {
		for rank := slot.FromRank; rank <= slot.ToRank; rank++ {
			ranked, ok := byRank[rank]
			if !ok {
				continue
			}
			status := models.EntryPending
			if flagged[ranked.UserID] {
				status = models.EntryFlagged
			}
			entry := models.PrizeEntry{
				ID:             uuid.NewString(),
				DistributionID: distribution.ID,
				UserID:         ranked.UserID,
				Rank:           rank,
				PrizeAmount:    slot.Amount,
				Status:         status,
			}
			if err := s.DB.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "distribution_id"}, {Name: "user_id"}},
				DoNothing: true,
			}).Create(&entry).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// processEntries pays pending/failed entries one by one. An award failure
// marks that entry failed and moves on; already distributed and flagged
// entries are skipped, which is what makes a re-run cheap.
func (s *PrizeService) processEntries(distribution *models.PrizeDistribution, source models.LedgerSource, keyFor func(userID string) string) (*DistributionResult, error) {
	s.DB.Model(&models.PrizeDistribution{}).
		Where("id = ? AND status IN ?", distribution.ID,
			[]models.DistributionStatus{models.DistributionPending, models.DistributionPartial}).
		Update("status", models.DistributionProcessing)

	var entries []models.PrizeEntry
	if err := s.DB.Where("distribution_id = ?", distribution.ID).Find(&entries).Error; err != nil {
		return nil, err
	}

	clean := true
	for _, entry := range entries {
		switch entry.Status {
		case models.EntryDistributed:
			continue
		case models.EntryFlagged:
			clean = false
			continue
		}

		award, err := s.Ledger.Award(AwardRequest{
			UserID:         entry.UserID,
			Amount:         entry.PrizeAmount,
			Source:         source,
			Description:    fmt.Sprintf("Rank %d prize", entry.Rank),
			Metadata:       map[string]interface{}{"distribution_id": distribution.ID, "rank": entry.Rank},
			IdempotencyKey: keyFor(entry.UserID),
		})
		if err != nil {
			clean = false
			log.Printf("[Prizes] payout failed for %s (rank %d): %v", entry.UserID, entry.Rank, err)
			s.DB.Model(&models.PrizeEntry{}).
				Where("id = ?", entry.ID).
				Updates(map[string]interface{}{"status": models.EntryFailed, "fail_reason": err.Error()})
			continue
		}
		s.DB.Model(&models.PrizeEntry{}).
			Where("id = ?", entry.ID).
			Updates(map[string]interface{}{"status": models.EntryDistributed, "transaction_id": award.TransactionID})
		if s.Notifier != nil {
			s.Notifier.Notify(entry.UserID, "prize_won",
				fmt.Sprintf("You ranked #%d and won %d coins!", entry.Rank, entry.PrizeAmount))
		}
	}

	var distributed, flaggedCount int64
	s.DB.Model(&models.PrizeEntry{}).
		Where("distribution_id = ? AND status = ?", distribution.ID, models.EntryDistributed).
		Count(&distributed)
	s.DB.Model(&models.PrizeEntry{}).
		Where("distribution_id = ? AND status = ?", distribution.ID, models.EntryFlagged).
		Count(&flaggedCount)

	status := models.DistributionPartial
	if clean {
		status = models.DistributionCompleted
	}
	if err := s.DB.Model(&models.PrizeDistribution{}).
		Where("id = ?", distribution.ID).
		Updates(map[string]interface{}{
			"status":            status,
			"total_distributed": distributed,
			"total_flagged":     flaggedCount,
		}).Error; err != nil {
		return nil, err
	}

	return &DistributionResult{
		DistributionID: distribution.ID,
		Distributed:    distributed,
		Flagged:        flaggedCount,
	}, nil
}

// DistributeAllDue runs DistributeCycle over every active config. Invoked by
// the scheduler; per-config failures are logged and do not stop the pass.
func (s *PrizeService) DistributeAllDue() {
	var configs []models.LeaderboardConfig
	if err := s.DB.Where("is_active = ?", true).Find(&configs).Error; err != nil {
		log.Printf("[Prizes] config scan failed: %v", err)
		return
	}
	for _, config := range configs {
		if _, err := s.DistributeCycle(config.ID); err != nil {
			log.Printf("[Prizes] cycle distribution failed for %s: %v", config.Name, err)
		}
	}
}

// PreviousCycle returns the most recent fully-elapsed [start, end) window
// for a period, anchored at now.
func PreviousCycle(period models.LeaderboardPeriod, now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case models.PeriodWeekly:
		weekday := (int(day.Weekday()) + 6) % 7 // Monday = 0
		thisWeek := day.AddDate(0, 0, -weekday)
		return thisWeek.AddDate(0, 0, -7), thisWeek
	case models.PeriodMonthly:
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return thisMonth.AddDate(0, -1, 0), thisMonth
	default:
		return day.AddDate(0, 0, -1), day
	}
}
