package models

import "time"

// TournamentStatus lifecycle: draft → active → completed → settled,
// or cancelled at any point before settlement.
type TournamentStatus string

const (
	TournamentDraft     TournamentStatus = "draft"
	TournamentActive    TournamentStatus = "active"
	TournamentCompleted TournamentStatus = "completed"
	TournamentSettled   TournamentStatus = "settled"
	TournamentCancelled TournamentStatus = "cancelled"
)

// Tournament is a time-boxed competition with a coin entry fee and ranked
// prizes. Entry fees flow through the ledger; settlement refunds them when
// MinParticipants is not reached.
type Tournament struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	Name             string           `gorm:"not null" json:"name"`
	Slug             string           `gorm:"uniqueIndex;not null" json:"slug"`
	Description      string           `json:"description"`
	EntryFee         int64            `gorm:"default:0" json:"entry_fee"` // coins
	MinParticipants  int              `gorm:"default:0" json:"min_participants"`
	MaxParticipants  int64            `gorm:"default:0" json:"max_participants"` // 0 = unlimited
	PrizeSlots       []PrizeSlot      `gorm:"serializer:json" json:"prize_slots"`
	StartTime        time.Time        `gorm:"not null" json:"start_time"`
	EndTime          time.Time        `gorm:"not null;index" json:"end_time"`
	Status           TournamentStatus `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`
	ParticipantCount int64            `gorm:"default:0" json:"participant_count"`
	Timestamps
}

// TournamentEntry: one per (tournament, user); records the fee deduction so
// refunds reference the original ledger transaction.
type TournamentEntry struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID     string `gorm:"not null;uniqueIndex:idx_tournament_user" json:"tournament_id"`
	UserID           string `gorm:"not null;uniqueIndex:idx_tournament_user" json:"user_id"`
	FeeTransactionID string `json:"fee_transaction_id,omitempty"`
	FeePaid          int64  `gorm:"default:0" json:"fee_paid"`
	Refunded         bool   `gorm:"default:false" json:"refunded"`
	Timestamps
}
