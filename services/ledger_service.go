// services/ledger_service.go
package services

import (
	"fmt"
	"log"
	"math"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EarningCapChecker limits how many coins a user may still earn from a
// program. Implementations live outside the core; the ledger treats a
// checker failure as "no cap" (fail-open).
type EarningCapChecker interface {
	// RemainingAllowance returns how many coins the user may still earn
	// from the given source. Negative means unlimited.
	RemainingAllowance(userID string, source models.LedgerSource) (int64, error)
}

// LedgerService owns every coin movement. Wallet rows are only ever touched
// through conditional increments inside this service.
type LedgerService struct {
	DB         *gorm.DB
	CapChecker EarningCapChecker // optional
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// IdempotencyKey builds the deterministic key every reward-producing caller
// must use: (source kind, source reference, user).
func IdempotencyKey(kind models.LedgerSource, reference, userID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, reference, userID)
}

type AwardRequest struct {
	UserID         string
	Amount         int64
	Source         models.LedgerSource
	Description    string
	Metadata       map[string]interface{}
	Category       string  // optional sub-wallet
	IdempotencyKey string  // optional; random when empty (non-retryable awards only)
	Multiplier     float64 // >1 records a separate bonus entry
	Direction      models.LedgerDirection // defaults to earned; refunds use refunded
}

type AwardResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
	Amount        int64  `json:"amount"` // after cap clamping; 0 when the cap was exhausted
	BonusAmount   int64  `json:"bonus_amount,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`    // reward was already granted earlier
	CapExceeded   bool   `json:"cap_exceeded,omitempty"` // clamped to zero, nothing written
}

// Award credits coins. A duplicate idempotency key is success: the reward
// was already granted, the wallet is untouched.
func (s *LedgerService) Award(req AwardRequest) (*AwardResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	amount := s.clampToCap(req.UserID, req.Source, req.Amount)
	if amount == 0 {
		return &AwardResult{NewBalance: UserBalance(s.DB, req.UserID), CapExceeded: true}, nil
	}

	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.Source, uuid.NewString(), req.UserID)
	}

	direction := req.Direction
	if direction == "" {
		direction = models.DirectionEarned
	}

	result := &AwardResult{Amount: amount}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		entry := models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			Direction:      direction,
			Amount:         amount,
			Source:         req.Source,
			Category:       req.Category,
			Description:    req.Description,
			IdempotencyKey: key,
			Metadata:       req.Metadata,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another call with the same key already paid this reward.
			var existing models.LedgerEntry
			if err := tx.Where("idempotency_key = ?", key).First(&existing).Error; err != nil {
				return err
			}
			result.TransactionID = existing.ID
			result.Duplicate = true
			return nil
		}
		result.TransactionID = entry.ID

		if err := s.creditBalance(tx, req.UserID, req.Category, amount); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Multiplier bonus is its own entry so base award and bonus stay
	// independently auditable. A bonus failure never poisons the base award.
	if !result.Duplicate && req.Multiplier > 1 {
		bonus := int64(math.Round(float64(amount) * (req.Multiplier - 1)))
		if bonus > 0 {
			if err := s.awardBonus(req, key, bonus); err != nil {
				log.Printf("[Ledger] multiplier bonus failed for %s: %v", req.UserID, err)
			} else {
				result.BonusAmount = bonus
			}
		}
	}

	result.NewBalance = UserBalance(s.DB, req.UserID)
	return result, nil
}

func (s *LedgerService) awardBonus(req AwardRequest, baseKey string, bonus int64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		entry := models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			Direction:      models.DirectionBonus,
			Amount:         bonus,
			Source:         models.SourceMultiplierBonus,
			Category:       req.Category,
			Description:    fmt.Sprintf("%.2fx bonus: %s", req.Multiplier, req.Description),
			IdempotencyKey: baseKey + ":bonus",
			Metadata:       map[string]interface{}{"base_key": baseKey},
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return s.creditBalance(tx, req.UserID, req.Category, bonus)
	})
}

// creditBalance lazily creates the wallet row then applies atomic increments.
func (s *LedgerService) creditBalance(tx *gorm.DB, userID, category string, amount int64) error {
	wallet := models.Wallet{ID: uuid.NewString(), UserID: userID}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&wallet).Error; err != nil {
		return err
	}

	if category != "" {
		cat := models.CategoryBalance{ID: uuid.NewString(), UserID: userID, Category: category}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
			DoNothing: true,
		}).Create(&cat).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CategoryBalance{}).
			Where("user_id = ? AND category = ?", userID, category).
			Updates(map[string]interface{}{
				"available": gorm.Expr("available + ?", amount),
				"earned":    gorm.Expr("earned + ?", amount),
			}).Error; err != nil {
			return err
		}
		// Category coins still count toward the lifetime totals.
		return tx.Model(&models.Wallet{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"total":        gorm.Expr("total + ?", amount),
				"total_earned": gorm.Expr("total_earned + ?", amount),
			}).Error
	}

	return tx.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"available":    gorm.Expr("available + ?", amount),
			"total":        gorm.Expr("total + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", amount),
		}).Error
}

type DeductRequest struct {
	UserID         string
	Amount         int64
	Source         models.LedgerSource
	Description    string
	Metadata       map[string]interface{}
	Category       string // try this sub-wallet first, fall back to global
	IdempotencyKey string
}

type DeductResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
	FromCategory  bool   `json:"from_category,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// Deduct spends coins. The sufficient-balance check and the decrement are a
// single conditional UPDATE so two concurrent deductions cannot both
// succeed past zero.
func (s *LedgerService) Deduct(req DeductRequest) (*DeductResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.Source, uuid.NewString(), req.UserID)
	}

	result := &DeductResult{}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		entry := models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			Direction:      models.DirectionSpent,
			Amount:         req.Amount,
			Source:         req.Source,
			Category:       req.Category,
			Description:    req.Description,
			IdempotencyKey: key,
			Metadata:       req.Metadata,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.LedgerEntry
			if err := tx.Where("idempotency_key = ?", key).First(&existing).Error; err != nil {
				return err
			}
			result.TransactionID = existing.ID
			result.Duplicate = true
			return nil
		}
		result.TransactionID = entry.ID

		if req.Category != "" {
			res := tx.Model(&models.CategoryBalance{}).
				Where("user_id = ? AND category = ? AND available >= ?", req.UserID, req.Category, req.Amount).
				Updates(map[string]interface{}{
					"available": gorm.Expr("available - ?", req.Amount),
					"spent":     gorm.Expr("spent + ?", req.Amount),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				result.FromCategory = true
				return tx.Model(&models.Wallet{}).
					Where("user_id = ?", req.UserID).
					Updates(map[string]interface{}{
						"total":       gorm.Expr("total - ?", req.Amount),
						"total_spent": gorm.Expr("total_spent + ?", req.Amount),
					}).Error
			}
			// Category could not cover it - fall through to the global wallet.
		}

		res = tx.Model(&models.Wallet{}).
			Where("user_id = ? AND available >= ?", req.UserID, req.Amount).
			Updates(map[string]interface{}{
				"available":   gorm.Expr("available - ?", req.Amount),
				"total":       gorm.Expr("total - ?", req.Amount),
				"total_spent": gorm.Expr("total_spent + ?", req.Amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance // rolls back the ledger entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.NewBalance = UserBalance(s.DB, req.UserID)
	return result, nil
}

type TransferResult struct {
	OutTransactionID string `json:"out_transaction_id"`
	InTransactionID  string `json:"in_transaction_id"`
	FromBalance      int64  `json:"from_balance"`
	ToBalance        int64  `json:"to_balance"`
}

// Transfer moves coins between users. Both legs run in one transaction so a
// transfer is never left half-applied.
func (s *LedgerService) Transfer(fromUser, toUser string, amount int64, description string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ref := uuid.NewString()
	result := &TransferResult{}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		out := models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         fromUser,
			Direction:      models.DirectionSpent,
			Amount:         amount,
			Source:         models.SourceTransferOut,
			Description:    description,
			IdempotencyKey: IdempotencyKey(models.SourceTransferOut, ref, fromUser),
			Metadata:       map[string]interface{}{"to_user": toUser},
		}
		in := models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         toUser,
			Direction:      models.DirectionEarned,
			Amount:         amount,
			Source:         models.SourceTransferIn,
			Description:    description,
			IdempotencyKey: IdempotencyKey(models.SourceTransferIn, ref, toUser),
			Metadata:       map[string]interface{}{"from_user": fromUser},
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		if err := tx.Create(&in).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Wallet{}).
			Where("user_id = ? AND available >= ?", fromUser, amount).
			Updates(map[string]interface{}{
				"available":   gorm.Expr("available - ?", amount),
				"total":       gorm.Expr("total - ?", amount),
				"total_spent": gorm.Expr("total_spent + ?", amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		result.OutTransactionID = out.ID
		result.InTransactionID = in.ID
		return s.creditBalance(tx, toUser, "", amount)
	})
	if err != nil {
		return nil, err
	}

	result.FromBalance = UserBalance(s.DB, fromUser)
	result.ToBalance = UserBalance(s.DB, toUser)
	return result, nil
}

func (s *LedgerService) clampToCap(userID string, source models.LedgerSource, amount int64) int64 {
	if s.CapChecker == nil {
		return amount
	}
	remaining, err := s.CapChecker.RemainingAllowance(userID, source)
	if err != nil {
		// Fail-open: a broken cap check must not block earning.
		log.Printf("[Ledger] cap check failed for %s/%s, proceeding uncapped: %v", userID, source, err)
		return amount
	}
	if remaining < 0 || remaining >= amount {
		return amount
	}
	return remaining
}

// UserBalance reads the global available balance; zero for unknown users.
func UserBalance(db *gorm.DB, userID string) int64 {
	var wallet models.Wallet
	if err := db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return 0
	}
	return wallet.Available
}

// GetWallet returns the wallet with its category sub-balances.
func (s *LedgerService) GetWallet(userID string) (*models.Wallet, []models.CategoryBalance, error) {
	var wallet models.Wallet
	if err := s.DB.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &models.Wallet{UserID: userID}, nil, nil
		}
		return nil, nil, err
	}
	var categories []models.CategoryBalance
	if err := s.DB.Where("user_id = ?", userID).Find(&categories).Error; err != nil {
		return nil, nil, err
	}
	return &wallet, categories, nil
}

// RecentEntries lists a user's latest ledger entries, newest first.
func (s *LedgerService) RecentEntries(userID string, limit int) ([]models.LedgerEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
