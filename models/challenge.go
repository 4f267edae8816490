package models

import "time"

// ChallengeStatus is the lifecycle state of a challenge
type ChallengeStatus string

const (
	ChallengeDraft     ChallengeStatus = "draft"
	ChallengeScheduled ChallengeStatus = "scheduled"
	ChallengeActive    ChallengeStatus = "active"
	ChallengePaused    ChallengeStatus = "paused"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeDisabled  ChallengeStatus = "disabled"
)

// ChallengeTransitions is the only legal adjacency for status changes.
// Anything outside this table is rejected without mutating state.
var ChallengeTransitions = map[ChallengeStatus][]ChallengeStatus{
	ChallengeDraft:     {ChallengeScheduled, ChallengeActive, ChallengeDisabled},
	ChallengeScheduled: {ChallengeActive, ChallengeDraft, ChallengeDisabled},
	ChallengeActive:    {ChallengePaused, ChallengeDisabled, ChallengeCompleted, ChallengeExpired},
	ChallengePaused:    {ChallengeActive, ChallengeDisabled},
	ChallengeCompleted: {ChallengeDisabled},
	ChallengeExpired:   {ChallengeDisabled},
	ChallengeDisabled:  {ChallengeDraft},
}

// CanTransition reports whether from → to is in the adjacency table
func CanTransition(from, to ChallengeStatus) bool {
	for _, next := range ChallengeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChallengeFilters narrows which progress events count toward a challenge
type ChallengeFilters struct {
	Store     string `json:"store,omitempty"`
	Category  string `json:"category,omitempty"`
	MinAmount int64  `json:"min_amount,omitempty"`
}

// ChallengeRequirements describe what the user must do
type ChallengeRequirements struct {
	Action  string           `json:"action"` // e.g. "visit_stores", "place_order", "watch_video"
	Target  int64            `json:"target"`
	Filters ChallengeFilters `json:"filters,omitempty"`
}

// ChallengeRewards describe the payout on claim
type ChallengeRewards struct {
	Coins      int64   `json:"coins"`
	Multiplier float64 `json:"multiplier,omitempty"` // >1 pays an extra bonus ledger entry
}

// StatusChange records one lifecycle transition
type StatusChange struct {
	From   ChallengeStatus `json:"from"`
	To     ChallengeStatus `json:"to"`
	At     time.Time       `json:"at"`
	Reason string          `json:"reason,omitempty"`
}

// Challenge: admin-authored, time-boxed task with coin rewards.
// Active is a derived cache of Status == active, kept in sync on every save
// so hot-path queries can filter on a boolean index.
type Challenge struct {
	ID                 string                `gorm:"primaryKey;type:uuid" json:"id"`
	Code               string                `gorm:"uniqueIndex;not null" json:"code"` // slug, e.g. "daily-visit-stores-2026-08-31"
	Name               string                `gorm:"not null" json:"name"`
	Description        string                `json:"description"`
	Type               string                `gorm:"type:varchar(16);not null" json:"type"` // daily, weekly, monthly, special
	Requirements       ChallengeRequirements `gorm:"serializer:json" json:"requirements"`
	Rewards            ChallengeRewards      `gorm:"serializer:json" json:"rewards"`
	StartDate          time.Time             `gorm:"not null" json:"start_date"`
	EndDate            time.Time             `gorm:"not null" json:"end_date"`
	ScheduledPublishAt *time.Time            `json:"scheduled_publish_at,omitempty"`
	Status             ChallengeStatus       `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`
	Active             bool                  `gorm:"default:false;index" json:"active"`
	StatusHistory      []StatusChange        `gorm:"serializer:json" json:"status_history,omitempty"`
	MaxParticipants    int64                 `gorm:"default:0" json:"max_participants"` // 0 = unlimited
	ParticipantCount   int64                 `gorm:"default:0" json:"participant_count"`
	CompletionCount    int64                 `gorm:"default:0" json:"completion_count"`
	IsTemplate         bool                  `gorm:"default:false;index" json:"is_template"`
	TemplateCode       string                `gorm:"index" json:"template_code,omitempty"` // set on instances cloned from a template
	Timestamps
}

// UserChallengeProgress: one per (user, challenge). Progress never exceeds
// Target; Completed and RewardsClaimed each flip true exactly once via
// conditional updates. Never deleted - it is the historical record.
type UserChallengeProgress struct {
	ID             string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string     `gorm:"not null;uniqueIndex:idx_user_challenge" json:"user_id"`
	ChallengeID    string     `gorm:"not null;uniqueIndex:idx_user_challenge" json:"challenge_id"`
	Progress       int64      `gorm:"default:0" json:"progress"`
	Target         int64      `gorm:"not null" json:"target"`
	Completed      bool       `gorm:"default:false;index" json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RewardsClaimed bool       `gorm:"default:false" json:"rewards_claimed"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	PendingReward  int64      `gorm:"default:0" json:"pending_reward,omitempty"` // set when the claim flag stuck but the award failed; reconciled offline
	Timestamps

	Challenge Challenge `json:"challenge,omitempty" gorm:"foreignKey:ChallengeID"`
}

// ChallengeProgressEvent is one progress addition. Row-per-event so
// concurrent additions append without clobbering each other.
type ChallengeProgressEvent struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	ProgressID string    `gorm:"index;not null" json:"progress_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	Source     string    `json:"source"` // triggering action, e.g. "order:1234"
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
