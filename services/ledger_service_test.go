package services

import (
	"errors"
	"sync"
	"testing"

	"reward-ledger-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_Award_CreditsWallet(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	result, err := ledger.Award(AwardRequest{
		UserID:         "user-1",
		Amount:         100,
		Source:         models.SourceManual,
		Description:    "welcome bonus",
		IdempotencyKey: "manual:welcome:user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Amount)
	assert.Equal(t, int64(100), result.NewBalance)
	assert.False(t, result.Duplicate)
	assert.NotEmpty(t, result.TransactionID)

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&wallet).Error)
	assert.Equal(t, int64(100), wallet.Available)
	assert.Equal(t, int64(100), wallet.Total)
	assert.Equal(t, int64(100), wallet.TotalEarned)
	assert.Equal(t, int64(0), wallet.TotalSpent)

	var entry models.LedgerEntry
	require.NoError(t, db.First(&entry, "id = ?", result.TransactionID).Error)
	assert.Equal(t, models.DirectionEarned, entry.Direction)
	assert.Equal(t, models.SourceManual, entry.Source)
}

func TestLedgerService_Award_RejectsNonPositiveAmount(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(AwardRequest{UserID: "user-1", Amount: 0, Source: models.SourceManual})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ledger.Award(AwardRequest{UserID: "user-1", Amount: -5, Source: models.SourceManual})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedgerService_Award_DuplicateKey_PaysOnce(t *testing.T) {
	// GIVEN: an award was already written under a key
	// WHEN: the same key is awarded again (retried delivery)
	// THEN: the duplicate is reported as success and the wallet is untouched

	db := newTestDB(t)
	ledger := NewLedgerService(db)

	req := AwardRequest{
		UserID:         "user-1",
		Amount:         50,
		Source:         models.SourceAchievement,
		IdempotencyKey: IdempotencyKey(models.SourceAchievement, "FIRST_ORDER", "user-1"),
	}
	first, err := ledger.Award(req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := ledger.Award(req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(50), second.NewBalance)

	var count int64
	db.Model(&models.LedgerEntry{}).Where("user_id = ?", "user-1").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestLedgerService_Award_ConcurrentSameKey_PaysOnce(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	req := AwardRequest{
		UserID:         "user-1",
		Amount:         75,
		Source:         models.SourceChallengeReward,
		IdempotencyKey: IdempotencyKey(models.SourceChallengeReward, "challenge-1", "user-1"),
	}

	var wg sync.WaitGroup
	duplicates := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := ledger.Award(req)
			if err == nil {
				duplicates <- result.Duplicate
			}
		}()
	}
	wg.Wait()
	close(duplicates)

	paid := 0
	for dup := range duplicates {
		if !dup {
			paid++
		}
	}
	assert.Equal(t, 1, paid, "exactly one caller should have paid")
	assert.Equal(t, int64(75), UserBalance(db, "user-1"))
}

func TestLedgerService_Award_MultiplierBonus(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	result, err := ledger.Award(AwardRequest{
		UserID:         "user-1",
		Amount:         100,
		Source:         models.SourceChallengeReward,
		Description:    "weekend challenge",
		IdempotencyKey: "challenge_reward:ch-1:user-1",
		Multiplier:     1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Amount)
	assert.Equal(t, int64(50), result.BonusAmount)
	assert.Equal(t, int64(150), result.NewBalance)

	var bonus models.LedgerEntry
	require.NoError(t, db.Where("idempotency_key = ?", "challenge_reward:ch-1:user-1:bonus").First(&bonus).Error)
	assert.Equal(t, models.DirectionBonus, bonus.Direction)
	assert.Equal(t, models.SourceMultiplierBonus, bonus.Source)
	assert.Equal(t, int64(50), bonus.Amount)
}

func TestLedgerService_Award_CapClampsAmount(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	ledger.CapChecker = stubCapChecker{remaining: 30}

	result, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:capped:user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), result.Amount)
	assert.Equal(t, int64(30), result.NewBalance)
}

func TestLedgerService_Award_CapExhausted_NothingWritten(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	ledger.CapChecker = stubCapChecker{remaining: 0}

	result, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:exhausted:user-1",
	})
	require.NoError(t, err)
	assert.True(t, result.CapExceeded)
	assert.Equal(t, int64(0), result.Amount)

	var count int64
	db.Model(&models.LedgerEntry{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestLedgerService_Award_CapCheckerDown_FailsOpen(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	ledger.CapChecker = stubCapChecker{err: errors.New("cap service unreachable")}

	result, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:failopen:user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Amount)
	assert.False(t, result.CapExceeded)
}

func TestLedgerService_Deduct_InsufficientBalance_LeavesNoEntry(t *testing.T) {
	// GIVEN: a wallet holding 40 coins
	// WHEN: 100 coins are deducted
	// THEN: the deduction fails and no ledger entry survives the rollback

	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 40, Source: models.SourceManual,
		IdempotencyKey: "manual:seed:user-1",
	})
	require.NoError(t, err)

	_, err = ledger.Deduct(DeductRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceTournamentEntry,
		IdempotencyKey: "tournament_entry:t-1:user-1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(40), UserBalance(db, "user-1"))

	var count int64
	db.Model(&models.LedgerEntry{}).Where("direction = ?", models.DirectionSpent).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestLedgerService_Deduct_Concurrent_NeverNegative(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:seed:user-1",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Deduct(DeductRequest{
				UserID: "user-1", Amount: 30, Source: models.SourceManual,
				IdempotencyKey: IdempotencyKey(models.SourceManual, string(rune('a'+i)), "user-1"),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(10), UserBalance(db, "user-1"))
}

func TestLedgerService_Deduct_CategoryFirstThenGlobal(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 50, Source: models.SourceManual, Category: "video",
		IdempotencyKey: "manual:video-seed:user-1",
	})
	require.NoError(t, err)
	_, err = ledger.Award(AwardRequest{
		UserID: "user-1", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:global-seed:user-1",
	})
	require.NoError(t, err)

	// Covered by the category sub-wallet.
	first, err := ledger.Deduct(DeductRequest{
		UserID: "user-1", Amount: 30, Source: models.SourceManual, Category: "video",
		IdempotencyKey: "manual:spend-1:user-1",
	})
	require.NoError(t, err)
	assert.True(t, first.FromCategory)

	// Category has only 20 left; falls through to the global wallet.
	second, err := ledger.Deduct(DeductRequest{
		UserID: "user-1", Amount: 40, Source: models.SourceManual, Category: "video",
		IdempotencyKey: "manual:spend-2:user-1",
	})
	require.NoError(t, err)
	assert.False(t, second.FromCategory)
	assert.Equal(t, int64(60), UserBalance(db, "user-1"))

	var cat models.CategoryBalance
	require.NoError(t, db.Where("user_id = ? AND category = ?", "user-1", "video").First(&cat).Error)
	assert.Equal(t, int64(20), cat.Available)
}

func TestLedgerService_Transfer(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(AwardRequest{
		UserID: "alice", Amount: 100, Source: models.SourceManual,
		IdempotencyKey: "manual:seed:alice",
	})
	require.NoError(t, err)

	result, err := ledger.Transfer("alice", "bob", 40, "gift")
	require.NoError(t, err)
	assert.Equal(t, int64(60), result.FromBalance)
	assert.Equal(t, int64(40), result.ToBalance)

	var out, in models.LedgerEntry
	require.NoError(t, db.First(&out, "id = ?", result.OutTransactionID).Error)
	require.NoError(t, db.First(&in, "id = ?", result.InTransactionID).Error)
	assert.Equal(t, models.SourceTransferOut, out.Source)
	assert.Equal(t, models.SourceTransferIn, in.Source)
}

func TestLedgerService_Transfer_InsufficientBalance_NoHalfTransfer(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Transfer("alice", "bob", 40, "gift")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(0), UserBalance(db, "bob"))

	var count int64
	db.Model(&models.LedgerEntry{}).Count(&count)
	assert.Equal(t, int64(0), count, "both legs must roll back together")
}
