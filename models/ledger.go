package models

import "time"

// LedgerDirection classifies how an entry moves coins for the user
type LedgerDirection string

const (
	DirectionEarned   LedgerDirection = "earned"
	DirectionSpent    LedgerDirection = "spent"
	DirectionBonus    LedgerDirection = "bonus"
	DirectionRefunded LedgerDirection = "refunded"
	DirectionExpired  LedgerDirection = "expired"
)

// LedgerSource tags the subsystem that produced an entry
type LedgerSource string

const (
	SourceAchievement      LedgerSource = "achievement"
	SourceChallengeReward  LedgerSource = "challenge_reward"
	SourceTournamentPrize  LedgerSource = "tournament_prize"
	SourceLeaderboardPrize LedgerSource = "leaderboard_prize"
	SourceTournamentEntry  LedgerSource = "tournament_entry"
	SourceTournamentRefund LedgerSource = "tournament_refund"
	SourceMultiplierBonus  LedgerSource = "multiplier_bonus"
	SourceTransferIn       LedgerSource = "transfer_in"
	SourceTransferOut      LedgerSource = "transfer_out"
	SourceManual           LedgerSource = "manual"
)

// LedgerEntry is an immutable coin movement. Append-only: no updates, no
// deletes. Corrections are recorded as new entries with the opposite
// direction. The unique idempotency key is what makes retried awards safe.
type LedgerEntry struct {
	ID             string                 `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string                 `gorm:"index;not null" json:"user_id"` // ExternalUserID from profile service
	Direction      LedgerDirection        `gorm:"type:varchar(16);not null" json:"direction"`
	Amount         int64                  `gorm:"not null" json:"amount"` // always positive; Direction carries the sign
	Source         LedgerSource           `gorm:"type:varchar(32);index;not null" json:"source"`
	Category       string                 `gorm:"type:varchar(32);index" json:"category,omitempty"` // optional sub-wallet tag
	Description    string                 `json:"description"`
	IdempotencyKey string                 `gorm:"uniqueIndex;not null" json:"idempotency_key"`
	Metadata       map[string]interface{} `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time              `gorm:"autoCreateTime" json:"created_at"`
}

// Wallet is the denormalized per-user balance projection of the ledger.
// Mutated only through conditional increments in the ledger service.
type Wallet struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Available   int64     `gorm:"not null;default:0" json:"available"` // invariant: never negative
	Total       int64     `gorm:"not null;default:0" json:"total"`
	TotalEarned int64     `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent  int64     `gorm:"not null;default:0" json:"total_spent"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CategoryBalance is a per-category sub-wallet (e.g. "video", "referral").
// Same increment discipline as Wallet.
type CategoryBalance struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_user_category" json:"user_id"`
	Category  string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_user_category" json:"category"`
	Available int64     `gorm:"not null;default:0" json:"available"`
	Earned    int64     `gorm:"not null;default:0" json:"earned"`
	Spent     int64     `gorm:"not null;default:0" json:"spent"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
