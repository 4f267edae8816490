package services

import (
	"testing"
	"time"

	"reward-ledger-system/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an in-memory database with the full schema. A single
// connection keeps every session on the same in-memory instance.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.LedgerEntry{},
		&models.Wallet{},
		&models.CategoryBalance{},
		&models.AchievementDefinition{},
		&models.UserAchievement{},
		&models.Challenge{},
		&models.UserChallengeProgress{},
		&models.ChallengeProgressEvent{},
		&models.LeaderboardConfig{},
		&models.PrizeDistribution{},
		&models.PrizeEntry{},
		&models.Tournament{},
		&models.TournamentEntry{},
	))
	return db
}

type stubMetrics struct {
	values map[string]float64
	err    error
}

func (s stubMetrics) Metrics(string) (map[string]float64, error) {
	return s.values, s.err
}

type stubScreener struct {
	flagged map[string]bool
	err     error
}

func (s stubScreener) Screen([]RankedEntry) (map[string]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.flagged == nil {
		return map[string]bool{}, nil
	}
	return s.flagged, nil
}

type stubCapChecker struct {
	remaining int64
	err       error
}

func (s stubCapChecker) RemainingAllowance(string, models.LedgerSource) (int64, error) {
	return s.remaining, s.err
}

type stubRankings struct {
	entries []RankedEntry
	err     error
}

func (s stubRankings) Rankings(string, string, time.Time, time.Time) ([]RankedEntry, error) {
	return s.entries, s.err
}
