package models

import "time"

// ConditionKind discriminates the condition-tree variants
type ConditionKind string

const (
	ConditionSimple      ConditionKind = "simple"
	ConditionCompound    ConditionKind = "compound"
	ConditionStreak      ConditionKind = "streak"
	ConditionTimeBounded ConditionKind = "time_bounded"
)

// Combinator joins rules inside a compound condition
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Operator compares a metric value against a rule target
type Operator string

const (
	OpGte Operator = "gte"
	OpGt  Operator = "gt"
	OpLte Operator = "lte"
	OpLt  Operator = "lt"
	OpEq  Operator = "eq"
)

// ConditionRule is one metric check inside a condition tree
type ConditionRule struct {
	Metric   string   `json:"metric"`
	Operator Operator `json:"operator"`
	Target   float64  `json:"target"`
	Weight   float64  `json:"weight,omitempty"` // defaults to 1 when zero
}

// ConditionTree is a tagged union: Kind selects which fields apply.
// simple uses Rules[0]; compound uses Combinator + Rules; streak uses the
// Streak* fields; time_bounded uses StartsAt/EndsAt and delegates the rest
// to simple/compound semantics over Rules.
type ConditionTree struct {
	Kind         ConditionKind   `json:"kind"`
	Combinator   Combinator      `json:"combinator,omitempty"`
	Rules        []ConditionRule `json:"rules,omitempty"`
	StreakMetric string          `json:"streak_metric,omitempty"`
	StreakTarget int64           `json:"streak_target,omitempty"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
}

// Repeatability controls how often an achievement can unlock
type Repeatability string

const (
	RepeatOneTime Repeatability = "one_time"
	RepeatDaily   Repeatability = "daily"
	RepeatWeekly  Repeatability = "weekly"
	RepeatMonthly Repeatability = "monthly"
)

// AchievementDefinition: admin-authored achievement config (relatively static)
type AchievementDefinition struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	Type           string        `gorm:"uniqueIndex;not null" json:"type"` // e.g. "FIRST_ORDER", "REVIEW_STREAK_7"
	Name           string        `gorm:"not null" json:"name"`
	Description    string        `json:"description"`
	Conditions     ConditionTree `gorm:"serializer:json" json:"conditions"`
	RewardCoins    int64         `gorm:"not null;default:0" json:"reward_coins"`
	Prerequisites  []string      `gorm:"serializer:json" json:"prerequisites,omitempty"` // achievement types that must be unlocked first
	Repeatability  Repeatability `gorm:"type:varchar(16);not null;default:'one_time'" json:"repeatability"`
	IsActive       bool          `gorm:"default:true;index" json:"is_active"`
	TrackedMetrics []string      `gorm:"serializer:json" json:"tracked_metrics"` // metric names that trigger re-evaluation
	Timestamps
}

// RuleProgress is the per-rule breakdown stored on a UserAchievement
type RuleProgress struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Target   float64 `json:"target"`
	Progress int     `json:"progress"` // 0-100
	Met      bool    `json:"met"`
}

// UserAchievement tracks one user's progress against one definition.
// The unlock flip (unlocked false → true, or a new period key for
// repeatables) happens through a single conditional update; only the caller
// whose update matched a row pays the reward.
type UserAchievement struct {
	ID              string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string         `gorm:"not null;uniqueIndex:idx_user_achievement" json:"user_id"`
	AchievementType string         `gorm:"not null;uniqueIndex:idx_user_achievement" json:"achievement_type"`
	Unlocked        bool           `gorm:"default:false;index" json:"unlocked"`
	PeriodKey       string         `gorm:"type:varchar(16);default:''" json:"period_key"` // "" for one_time; e.g. "2026-08-31", "2026-W35", "2026-08"
	Progress        int            `gorm:"default:0" json:"progress"`                     // 0-100
	CurrentValue    float64        `gorm:"default:0" json:"current_value"`
	TargetValue     float64        `gorm:"default:0" json:"target_value"`
	RuleProgress    []RuleProgress `gorm:"serializer:json" json:"rule_progress,omitempty"`
	UnlockedAt      *time.Time     `json:"unlocked_at,omitempty"`
	TimesCompleted  int            `gorm:"default:0" json:"times_completed"`
	Timestamps
}
