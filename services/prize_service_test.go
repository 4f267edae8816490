package services

import (
	"errors"
	"testing"
	"time"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedEarning(t *testing.T, db *gorm.DB, userID string, amount int64, at time.Time) {
	t.Helper()
	entry := models.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Direction:      models.DirectionEarned,
		Amount:         amount,
		Source:         models.SourceManual,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      at,
	}
	require.NoError(t, db.Create(&entry).Error)
}

func newLeaderboardConfig(t *testing.T, db *gorm.DB, slots []models.PrizeSlot) models.LeaderboardConfig {
	t.Helper()
	config := models.LeaderboardConfig{
		ID:         uuid.NewString(),
		Name:       "Daily Top Earners",
		Period:     models.PeriodDaily,
		Metric:     "coins_earned",
		PrizeSlots: slots,
		IsActive:   true,
	}
	require.NoError(t, db.Create(&config).Error)
	return config
}

func TestPreviousCycle(t *testing.T) {
	// Wednesday, August 26th 2026.
	now := time.Date(2026, time.August, 26, 15, 30, 0, 0, time.UTC)

	start, end := PreviousCycle(models.PeriodDaily, now)
	assert.Equal(t, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.August, 26, 0, 0, 0, 0, time.UTC), end)

	start, end = PreviousCycle(models.PeriodWeekly, now)
	assert.Equal(t, time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), end)

	start, end = PreviousCycle(models.PeriodMonthly, now)
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestLedgerRankings_RanksEarningsInWindow(t *testing.T) {
	db := newTestDB(t)
	from := time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	mid := from.Add(12 * time.Hour)

	seedEarning(t, db, "u1", 100, mid)
	seedEarning(t, db, "u2", 120, mid)
	bonus := models.LedgerEntry{
		ID: uuid.NewString(), UserID: "u1", Direction: models.DirectionBonus,
		Amount: 50, Source: models.SourceMultiplierBonus,
		IdempotencyKey: uuid.NewString(), CreatedAt: mid,
	}
	require.NoError(t, db.Create(&bonus).Error)
	spent := models.LedgerEntry{
		ID: uuid.NewString(), UserID: "u3", Direction: models.DirectionSpent,
		Amount: 500, Source: models.SourceManual,
		IdempotencyKey: uuid.NewString(), CreatedAt: mid,
	}
	require.NoError(t, db.Create(&spent).Error)
	seedEarning(t, db, "u4", 999, to.Add(time.Hour)) // outside the window

	ranked, err := LedgerRankings{DB: db}.Rankings("cfg", "coins_earned", from, to)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, RankedEntry{UserID: "u1", Rank: 1, Value: 150}, ranked[0])
	assert.Equal(t, RankedEntry{UserID: "u2", Rank: 2, Value: 120}, ranked[1])
}

func TestNewPrizeService_DefaultsNilCollaborators(t *testing.T) {
	// main wires nil for rankings and screener when no external services are
	// configured; the constructor must fall back to the ledger-backed
	// provider rather than leave a nil interface behind.

	db := newTestDB(t)
	ledger := NewLedgerService(db)
	svc := NewPrizeService(db, ledger, nil, nil, NoopNotifier{})
	assert.IsType(t, LedgerRankings{}, svc.Rankings)
	assert.IsType(t, NoopScreener{}, svc.Screener)

	config := newLeaderboardConfig(t, db, []models.PrizeSlot{
		{FromRank: 1, ToRank: 1, Amount: 500},
	})
	cycleStart, _ := PreviousCycle(config.Period, time.Now())
	seedEarning(t, db, "u1", 300, cycleStart.Add(12*time.Hour))

	result, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Distributed)
	assert.Equal(t, int64(500), UserBalance(db, "u1"))
}

func TestPrizeService_DistributeCycle_PaysSlotsOnce(t *testing.T) {
	// GIVEN: yesterday's ranking is u1 > u2 > u3 > u4 with prizes for ranks 1-3
	// WHEN: the cycle is distributed, then distributed again
	// THEN: the three winners are paid exactly once and the re-run is a no-op

	db := newTestDB(t)
	ledger := NewLedgerService(db)
	svc := NewPrizeService(db, ledger, LedgerRankings{DB: db}, nil, NoopNotifier{})

	config := newLeaderboardConfig(t, db, []models.PrizeSlot{
		{FromRank: 1, ToRank: 1, Amount: 500},
		{FromRank: 2, ToRank: 3, Amount: 100},
	})

	cycleStart, _ := PreviousCycle(config.Period, time.Now())
	mid := cycleStart.Add(12 * time.Hour)
	seedEarning(t, db, "u1", 300, mid)
	seedEarning(t, db, "u2", 200, mid)
	seedEarning(t, db, "u3", 150, mid)
	seedEarning(t, db, "u4", 50, mid)

	result, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Distributed)
	assert.Equal(t, int64(0), result.Flagged)
	assert.False(t, result.Skipped)

	assert.Equal(t, int64(500), UserBalance(db, "u1"))
	assert.Equal(t, int64(100), UserBalance(db, "u2"))
	assert.Equal(t, int64(100), UserBalance(db, "u3"))
	assert.Equal(t, int64(0), UserBalance(db, "u4"))

	rerun, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.True(t, rerun.Skipped)
	assert.Equal(t, int64(500), UserBalance(db, "u1"))

	var prizeEntries int64
	db.Model(&models.LedgerEntry{}).
		Where("source = ?", models.SourceLeaderboardPrize).
		Count(&prizeEntries)
	assert.Equal(t, int64(3), prizeEntries)

	var distribution models.PrizeDistribution
	require.NoError(t, db.Where("config_id = ?", config.ID).First(&distribution).Error)
	assert.Equal(t, models.DistributionCompleted, distribution.Status)
	assert.Equal(t, int64(3), distribution.TotalDistributed)
}

func TestPrizeService_DistributeCycle_FlaggedUserHeldBack(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	svc := NewPrizeService(db, ledger, LedgerRankings{DB: db},
		stubScreener{flagged: map[string]bool{"u2": true}}, NoopNotifier{})

	config := newLeaderboardConfig(t, db, []models.PrizeSlot{
		{FromRank: 1, ToRank: 1, Amount: 500},
		{FromRank: 2, ToRank: 3, Amount: 100},
	})

	cycleStart, _ := PreviousCycle(config.Period, time.Now())
	mid := cycleStart.Add(12 * time.Hour)
	seedEarning(t, db, "u1", 300, mid)
	seedEarning(t, db, "u2", 200, mid)
	seedEarning(t, db, "u3", 150, mid)

	result, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Distributed)
	assert.Equal(t, int64(1), result.Flagged)

	assert.Equal(t, int64(500), UserBalance(db, "u1"))
	assert.Equal(t, int64(0), UserBalance(db, "u2"), "flagged user must not be paid")
	assert.Equal(t, int64(100), UserBalance(db, "u3"))

	var flaggedEntries int64
	db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND source = ?", "u2", models.SourceLeaderboardPrize).
		Count(&flaggedEntries)
	assert.Equal(t, int64(0), flaggedEntries, "no prize entry for the flagged user")

	var distribution models.PrizeDistribution
	require.NoError(t, db.Where("config_id = ?", config.ID).First(&distribution).Error)
	assert.Equal(t, models.DistributionPartial, distribution.Status)
	assert.Equal(t, int64(2), distribution.TotalDistributed)
	assert.Equal(t, int64(1), distribution.TotalFlagged)

	// A re-run of a partial cycle still skips the flagged entry.
	rerun, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rerun.Distributed)
	assert.Equal(t, int64(1), rerun.Flagged)
	assert.Equal(t, int64(0), UserBalance(db, "u2"))
}

func TestPrizeService_DistributeCycle_ScreenerOutage_RetrySucceeds(t *testing.T) {
	// GIVEN: the fraud screener is down during the first distribution attempt
	// WHEN: the cycle is retried after the screener recovers
	// THEN: the claimed cycle still builds its entries and pays out

	db := newTestDB(t)
	ledger := NewLedgerService(db)
	svc := NewPrizeService(db, ledger, LedgerRankings{DB: db},
		stubScreener{err: errors.New("screener unreachable")}, NoopNotifier{})

	config := newLeaderboardConfig(t, db, []models.PrizeSlot{
		{FromRank: 1, ToRank: 1, Amount: 500},
	})

	cycleStart, _ := PreviousCycle(config.Period, time.Now())
	seedEarning(t, db, "u1", 300, cycleStart.Add(12*time.Hour))

	_, err := svc.DistributeCycle(config.ID)
	require.Error(t, err)
	assert.Equal(t, int64(0), UserBalance(db, "u1"))

	svc.Screener = NoopScreener{}
	result, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Distributed)
	assert.Equal(t, int64(500), UserBalance(db, "u1"))
}

func TestPrizeService_InactiveConfigSkipped(t *testing.T) {
	db := newTestDB(t)
	svc := NewPrizeService(db, NewLedgerService(db), LedgerRankings{DB: db}, nil, NoopNotifier{})

	config := models.LeaderboardConfig{
		ID:     uuid.NewString(),
		Name:   "Retired Board",
		Period: models.PeriodDaily,
		Metric: "coins_earned",
	}
	require.NoError(t, db.Create(&config).Error)
	require.NoError(t, db.Model(&models.LeaderboardConfig{}).
		Where("id = ?", config.ID).
		Update("is_active", false).Error)

	result, err := svc.DistributeCycle(config.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	var count int64
	db.Model(&models.PrizeDistribution{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
