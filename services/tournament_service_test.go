package services

import (
	"testing"
	"time"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTournamentService(t *testing.T, rankings RankingsProvider) (*TournamentService, *LedgerService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	prizes := NewPrizeService(db, ledger, rankings, nil, NoopNotifier{})
	return NewTournamentService(db, ledger, prizes), ledger, db
}

func activeTournament(fee int64, minParticipants int, slots []models.PrizeSlot) models.Tournament {
	now := time.Now()
	return models.Tournament{
		ID:              uuid.NewString(),
		Name:            "Weekend Cup",
		Slug:            "weekend-cup-" + uuid.NewString()[:8],
		EntryFee:        fee,
		MinParticipants: minParticipants,
		PrizeSlots:      slots,
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
		Status:          models.TournamentActive,
	}
}

func seedBalance(t *testing.T, ledger *LedgerService, userID string, amount int64) {
	t.Helper()
	_, err := ledger.Award(AwardRequest{
		UserID: userID, Amount: amount, Source: models.SourceManual,
		IdempotencyKey: "manual:seed:" + userID,
	})
	require.NoError(t, err)
}

func endTournament(t *testing.T, db *gorm.DB, tournamentID string) {
	t.Helper()
	require.NoError(t, db.Model(&models.Tournament{}).
		Where("id = ?", tournamentID).
		Update("end_time", time.Now().Add(-time.Minute)).Error)
}

func TestTournamentService_Join_DeductsEntryFee(t *testing.T) {
	svc, ledger, db := newTournamentService(t, stubRankings{})
	tournament := activeTournament(100, 0, nil)
	require.NoError(t, db.Create(&tournament).Error)
	seedBalance(t, ledger, "user-1", 500)

	entry, err := svc.Join("user-1", tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), entry.FeePaid)
	assert.NotEmpty(t, entry.FeeTransactionID)
	assert.Equal(t, int64(400), UserBalance(db, "user-1"))

	var updated models.Tournament
	require.NoError(t, db.First(&updated, "id = ?", tournament.ID).Error)
	assert.Equal(t, int64(1), updated.ParticipantCount)

	// Joining again neither charges nor double-counts.
	again, err := svc.Join("user-1", tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)
	assert.Equal(t, int64(400), UserBalance(db, "user-1"))
	require.NoError(t, db.First(&updated, "id = ?", tournament.ID).Error)
	assert.Equal(t, int64(1), updated.ParticipantCount)
}

func TestTournamentService_Join_InsufficientBalance_ReleasesSlot(t *testing.T) {
	svc, ledger, db := newTournamentService(t, stubRankings{})
	tournament := activeTournament(100, 0, nil)
	require.NoError(t, db.Create(&tournament).Error)

	_, err := svc.Join("broke-user", tournament.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	var entries int64
	db.Model(&models.TournamentEntry{}).Count(&entries)
	assert.Equal(t, int64(0), entries)

	var updated models.Tournament
	require.NoError(t, db.First(&updated, "id = ?", tournament.ID).Error)
	assert.Equal(t, int64(0), updated.ParticipantCount)

	// After topping up, the same user can join cleanly.
	seedBalance(t, ledger, "broke-user", 100)
	entry, err := svc.Join("broke-user", tournament.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.FeeTransactionID)
	assert.Equal(t, int64(0), UserBalance(db, "broke-user"))
}

func TestTournamentService_Join_EndedOrInactiveRejected(t *testing.T) {
	svc, ledger, db := newTournamentService(t, stubRankings{})
	seedBalance(t, ledger, "user-1", 500)

	draft := activeTournament(100, 0, nil)
	draft.Status = models.TournamentDraft
	require.NoError(t, db.Create(&draft).Error)
	_, err := svc.Join("user-1", draft.ID)
	assert.ErrorIs(t, err, ErrTournamentNotJoinable)

	ended := activeTournament(100, 0, nil)
	ended.EndTime = time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&ended).Error)
	_, err = svc.Join("user-1", ended.ID)
	assert.ErrorIs(t, err, ErrTournamentNotJoinable)
}

func TestTournamentService_Join_FullTournament(t *testing.T) {
	svc, ledger, db := newTournamentService(t, stubRankings{})
	tournament := activeTournament(0, 0, nil)
	tournament.MaxParticipants = 1
	require.NoError(t, db.Create(&tournament).Error)
	seedBalance(t, ledger, "user-1", 100)
	seedBalance(t, ledger, "user-2", 100)

	_, err := svc.Join("user-1", tournament.ID)
	require.NoError(t, err)
	_, err = svc.Join("user-2", tournament.ID)
	assert.ErrorIs(t, err, ErrTournamentNotJoinable)
}

func TestTournamentService_Settle_RefundsBelowMinimum(t *testing.T) {
	// GIVEN: a 100-coin tournament requiring 3 players has only 2 entrants
	// WHEN: it ends and the settlement pass runs
	// THEN: both entry fees come back as refunds and the tournament settles

	svc, ledger, db := newTournamentService(t, stubRankings{})
	tournament := activeTournament(100, 3, nil)
	require.NoError(t, db.Create(&tournament).Error)
	seedBalance(t, ledger, "user-1", 100)
	seedBalance(t, ledger, "user-2", 100)

	_, err := svc.Join("user-1", tournament.ID)
	require.NoError(t, err)
	_, err = svc.Join("user-2", tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), UserBalance(db, "user-1"))

	endTournament(t, db, tournament.ID)
	result, err := svc.SettleEnded()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Settled)
	assert.Equal(t, 1, result.Refunded)

	assert.Equal(t, int64(100), UserBalance(db, "user-1"))
	assert.Equal(t, int64(100), UserBalance(db, "user-2"))

	var refunds []models.LedgerEntry
	require.NoError(t, db.Where("source = ?", models.SourceTournamentRefund).Find(&refunds).Error)
	assert.Len(t, refunds, 2)
	for _, refund := range refunds {
		assert.Equal(t, models.DirectionRefunded, refund.Direction)
	}

	var settled models.Tournament
	require.NoError(t, db.First(&settled, "id = ?", tournament.ID).Error)
	assert.Equal(t, models.TournamentSettled, settled.Status)

	// A second pass finds nothing to settle and refunds nothing twice.
	result, err = svc.SettleEnded()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Settled)
	assert.Equal(t, int64(100), UserBalance(db, "user-1"))
}

func TestTournamentService_Settle_PaysRankedPrizes(t *testing.T) {
	rankings := stubRankings{entries: []RankedEntry{
		{UserID: "user-1", Rank: 1, Value: 900},
		{UserID: "user-2", Rank: 2, Value: 700},
		{UserID: "user-3", Rank: 3, Value: 400},
	}}
	svc, ledger, db := newTournamentService(t, rankings)
	tournament := activeTournament(100, 2, []models.PrizeSlot{
		{FromRank: 1, ToRank: 1, Amount: 300},
		{FromRank: 2, ToRank: 2, Amount: 150},
	})
	require.NoError(t, db.Create(&tournament).Error)

	for _, user := range []string{"user-1", "user-2", "user-3"} {
		seedBalance(t, ledger, user, 100)
		_, err := svc.Join(user, tournament.ID)
		require.NoError(t, err)
	}

	endTournament(t, db, tournament.ID)
	result, err := svc.SettleEnded()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Settled)
	assert.Equal(t, 0, result.Refunded)

	assert.Equal(t, int64(300), UserBalance(db, "user-1"))
	assert.Equal(t, int64(150), UserBalance(db, "user-2"))
	assert.Equal(t, int64(0), UserBalance(db, "user-3"))

	var settled models.Tournament
	require.NoError(t, db.First(&settled, "id = ?", tournament.ID).Error)
	assert.Equal(t, models.TournamentSettled, settled.Status)

	var distribution models.PrizeDistribution
	require.NoError(t, db.Where("config_id = ?", tournament.ID).First(&distribution).Error)
	assert.Equal(t, "tournament", distribution.Kind)
	assert.Equal(t, models.DistributionCompleted, distribution.Status)

	// Settling again pays nothing extra.
	_, err = svc.SettleEnded()
	require.NoError(t, err)
	assert.Equal(t, int64(300), UserBalance(db, "user-1"))
}
