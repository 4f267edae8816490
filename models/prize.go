package models

import "time"

// PrizeSlot maps a contiguous rank range to a coin prize
type PrizeSlot struct {
	FromRank int   `json:"from_rank"`
	ToRank   int   `json:"to_rank"`
	Amount   int64 `json:"amount"`
}

// LeaderboardPeriod is the settlement cadence for a leaderboard
type LeaderboardPeriod string

const (
	PeriodDaily   LeaderboardPeriod = "daily"
	PeriodWeekly  LeaderboardPeriod = "weekly"
	PeriodMonthly LeaderboardPeriod = "monthly"
)

// LeaderboardConfig: admin-authored leaderboard with periodic prize payouts
type LeaderboardConfig struct {
	ID            string            `gorm:"primaryKey;type:uuid" json:"id"`
	Name          string            `gorm:"not null" json:"name"`
	Period        LeaderboardPeriod `gorm:"type:varchar(16);not null" json:"period"`
	Metric        string            `gorm:"not null" json:"metric"` // ranking metric, e.g. "coins_earned"
	PrizeSlots    []PrizeSlot       `gorm:"serializer:json" json:"prize_slots"`
	IsActive      bool              `gorm:"default:true;index" json:"is_active"`
	LastCheckedAt *time.Time        `json:"last_checked_at,omitempty"`
	Timestamps
}

// DistributionStatus is the lifecycle of a PrizeDistribution
type DistributionStatus string

const (
	DistributionPending    DistributionStatus = "pending"
	DistributionProcessing DistributionStatus = "processing"
	DistributionCompleted  DistributionStatus = "completed"
	DistributionPartial    DistributionStatus = "partial"
)

// PrizeDistribution: at most one per (config, cycle window). The unique
// index on (config_id, cycle_start) is the idempotency gate across
// scheduler re-runs; a duplicate-create means another runner owns the cycle.
type PrizeDistribution struct {
	ID               string             `gorm:"primaryKey;type:uuid" json:"id"`
	ConfigID         string             `gorm:"not null;uniqueIndex:idx_config_cycle" json:"config_id"` // leaderboard config or tournament id
	Kind             string             `gorm:"type:varchar(16);not null;default:'leaderboard'" json:"kind"`
	CycleStart       time.Time          `gorm:"not null;uniqueIndex:idx_config_cycle" json:"cycle_start"`
	CycleEnd         time.Time          `gorm:"not null" json:"cycle_end"`
	Status           DistributionStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	TotalDistributed int64              `gorm:"default:0" json:"total_distributed"` // entries paid
	TotalFlagged     int64              `gorm:"default:0" json:"total_flagged"`
	Timestamps

	Entries []PrizeEntry `json:"entries,omitempty" gorm:"foreignKey:DistributionID"`
}

// PrizeEntryStatus is the per-entry payout state
type PrizeEntryStatus string

const (
	EntryPending     PrizeEntryStatus = "pending"
	EntryDistributed PrizeEntryStatus = "distributed"
	EntryFlagged     PrizeEntryStatus = "flagged"
	EntryFailed      PrizeEntryStatus = "failed"
)

// PrizeEntry is one user's prize inside a distribution. Each entry is
// independently idempotent so a killed pass can be re-triggered and will
// only retry pending/failed entries.
type PrizeEntry struct {
	ID             string           `gorm:"primaryKey;type:uuid" json:"id"`
	DistributionID string           `gorm:"not null;uniqueIndex:idx_distribution_user" json:"distribution_id"`
	UserID         string           `gorm:"not null;uniqueIndex:idx_distribution_user" json:"user_id"`
	Rank           int              `gorm:"not null" json:"rank"`
	PrizeAmount    int64            `gorm:"not null" json:"prize_amount"`
	Status         PrizeEntryStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	TransactionID  string           `json:"transaction_id,omitempty"` // ledger entry id once distributed
	FailReason     string           `json:"fail_reason,omitempty"`
	Timestamps
}
