// services/achievement_service.go
package services

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementService evaluates condition trees against metric snapshots and
// unlocks achievements exactly once per repeatability period.
type AchievementService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Metrics  MetricsProvider
	Notifier Notifier

	// definition catalog cache; service-owned, refreshed explicitly
	mu          sync.RWMutex
	definitions []models.AchievementDefinition
	loadedAt    time.Time
}

func NewAchievementService(db *gorm.DB, ledger *LedgerService, metrics MetricsProvider, notifier Notifier) *AchievementService {
	return &AchievementService{DB: db, Ledger: ledger, Metrics: metrics, Notifier: notifier}
}

// RefreshDefinitions reloads the active catalog and validates every tracked
// metric against the known vocabulary. Called at startup and after admin
// edits.
func (s *AchievementService) RefreshDefinitions() error {
	var defs []models.AchievementDefinition
	if err := s.DB.Where("is_active = ?", true).Find(&defs).Error; err != nil {
		return err
	}
	for _, def := range defs {
		if err := ValidateTrackedMetrics(def.TrackedMetrics); err != nil {
			return fmt.Errorf("definition %s: %w", def.Type, err)
		}
	}
	s.mu.Lock()
	s.definitions = defs
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *AchievementService) activeDefinitions() []models.AchievementDefinition {
	s.mu.RLock()
	stale := s.definitions == nil || time.Since(s.loadedAt) > 5*time.Minute
	s.mu.RUnlock()

	if stale {
		if err := s.RefreshDefinitions(); err != nil {
			log.Printf("[Achievements] catalog refresh failed: %v", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.definitions
}

type MetricUpdateResult struct {
	UnlockedTypes []string `json:"unlocked_types"`
	Evaluated     int      `json:"evaluated"`
}

// ProcessMetricUpdate re-evaluates only the definitions whose tracked
// metrics intersect the changed names. Cost is O(relevant definitions), not
// O(whole catalog).
func (s *AchievementService) ProcessMetricUpdate(userID string, delta map[string]float64) (*MetricUpdateResult, error) {
	if len(delta) == 0 {
		return &MetricUpdateResult{UnlockedTypes: []string{}}, nil
	}

	snapshot := s.snapshot(userID, delta)
	result := &MetricUpdateResult{UnlockedTypes: []string{}}

	for _, def := range s.activeDefinitions() {
		if !intersects(def.TrackedMetrics, delta) {
			continue
		}
		result.Evaluated++
		unlocked, err := s.evaluateDefinition(userID, def, snapshot)
		if err != nil {
			// One broken definition must not block the rest.
			log.Printf("[Achievements] evaluation of %s failed for %s: %v", def.Type, userID, err)
			continue
		}
		if unlocked {
			result.UnlockedTypes = append(result.UnlockedTypes, def.Type)
		}
	}
	return result, nil
}

// intersects reports whether any tracked metric name appears in the delta.
func intersects(tracked []string, delta map[string]float64) bool {
	for _, name := range tracked {
		if _, ok := delta[name]; ok {
			return true
		}
	}
	return false
}

// FullRecalculate re-evaluates every active definition from a fresh metrics
// snapshot. Backfill/correction tool, never on the request hot path.
func (s *AchievementService) FullRecalculate(userID string) (*MetricUpdateResult, error) {
	snapshot, err := s.Metrics.Metrics(userID)
	if err != nil {
		return nil, fmt.Errorf("metrics snapshot: %w", err)
	}

	result := &MetricUpdateResult{UnlockedTypes: []string{}}
	for _, def := range s.activeDefinitions() {
		result.Evaluated++
		unlocked, err := s.evaluateDefinition(userID, def, snapshot)
		if err != nil {
			log.Printf("[Achievements] recalc of %s failed for %s: %v", def.Type, userID, err)
			continue
		}
		if unlocked {
			result.UnlockedTypes = append(result.UnlockedTypes, def.Type)
		}
	}
	return result, nil
}

// snapshot merges the delta over the provider's current values. If the
// provider is down the delta alone still lets the touched rules progress.
func (s *AchievementService) snapshot(userID string, delta map[string]float64) map[string]float64 {
	merged := map[string]float64{}
	if s.Metrics != nil {
		if current, err := s.Metrics.Metrics(userID); err != nil {
			log.Printf("[Achievements] metrics provider unavailable for %s: %v", userID, err)
		} else {
			for k, v := range current {
				merged[k] = v
			}
		}
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}

func (s *AchievementService) evaluateDefinition(userID string, def models.AchievementDefinition, metrics map[string]float64) (bool, error) {
	ok, err := s.prerequisitesMet(userID, def.Prerequisites)
	if err != nil || !ok {
		return false, err
	}

	eval := evaluateTree(def.Conditions, metrics, time.Now())
	periodKey := PeriodKey(def.Repeatability, time.Now())

	// Lazy init; a concurrent initializer may win the insert race, which is fine.
	record := models.UserAchievement{
		ID:              uuid.NewString(),
		UserID:          userID,
		AchievementType: def.Type,
		PeriodKey:       periodKey,
		TargetValue:     eval.TargetValue,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_type"}},
		DoNothing: true,
	}).Create(&record).Error; err != nil {
		return false, err
	}

	if !eval.Unlocked {
		// Safe to race: progress is recomputed monotonically from the
		// snapshot, last writer wins. Struct update so the rule_progress
		// serializer applies; Select forces the zero values through.
		return false, s.DB.Model(&models.UserAchievement{}).
			Where("user_id = ? AND achievement_type = ?", userID, def.Type).
			Select("progress", "current_value", "target_value", "rule_progress").
			Updates(models.UserAchievement{
				Progress:     eval.Progress,
				CurrentValue: eval.CurrentValue,
				TargetValue:  eval.TargetValue,
				RuleProgress: eval.Rules,
			}).Error
	}

	// Unlock flip. The filter admits the row only if it was never unlocked,
	// or was unlocked in an earlier period of a repeatable achievement.
	// Exactly one concurrent caller matches; the rest lost the race.
	now := time.Now()
	res := s.DB.Model(&models.UserAchievement{}).
		Where("user_id = ? AND achievement_type = ? AND (unlocked = ? OR period_key <> ?)",
			userID, def.Type, false, periodKey).
		Updates(map[string]interface{}{
			"unlocked":        true,
			"period_key":      periodKey,
			"progress":        100,
			"current_value":   eval.CurrentValue,
			"target_value":    eval.TargetValue,
			"unlocked_at":     now,
			"times_completed": gorm.Expr("times_completed + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Someone else already unlocked this period. Not an error.
		return false, nil
	}

	s.payUnlockReward(userID, def, periodKey)
	return true, nil
}

// payUnlockReward pays the unlock exactly once; the idempotency key carries
// the period so repeatable unlocks pay once per period even if the metric
// event is delivered twice.
func (s *AchievementService) payUnlockReward(userID string, def models.AchievementDefinition, periodKey string) {
	if def.RewardCoins <= 0 {
		return
	}
	reference := def.Type
	if periodKey != "" {
		reference = def.Type + "@" + periodKey
	}
	_, err := s.Ledger.Award(AwardRequest{
		UserID:         userID,
		Amount:         def.RewardCoins,
		Source:         models.SourceAchievement,
		Description:    "Achievement unlocked: " + def.Name,
		Metadata:       map[string]interface{}{"achievement_type": def.Type, "period": periodKey},
		IdempotencyKey: IdempotencyKey(models.SourceAchievement, reference, userID),
	})
	if err != nil {
		// Unlock already happened; the reward is reconciled on the next
		// full recalculation pass.
		log.Printf("[Achievements] reward for %s/%s failed: %v", userID, def.Type, err)
		return
	}
	if s.Notifier != nil {
		s.Notifier.Notify(userID, "achievement_unlocked",
			fmt.Sprintf("You unlocked %s and earned %d coins!", def.Name, def.RewardCoins))
	}
}

func (s *AchievementService) prerequisitesMet(userID string, prereqs []string) (bool, error) {
	if len(prereqs) == 0 {
		return true, nil
	}
	var count int64
	err := s.DB.Model(&models.UserAchievement{}).
		Where("user_id = ? AND achievement_type IN ? AND unlocked = ?", userID, prereqs, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == int64(len(prereqs)), nil
}

// UserAchievements lists a user's achievement records.
func (s *AchievementService) UserAchievements(userID string) ([]models.UserAchievement, error) {
	var records []models.UserAchievement
	err := s.DB.Where("user_id = ?", userID).Order("updated_at DESC").Find(&records).Error
	return records, err
}

// PeriodKey returns the repeatability bucket for a point in time.
// one_time has a single empty-key bucket for the record's lifetime.
func PeriodKey(r models.Repeatability, now time.Time) string {
	switch r {
	case models.RepeatDaily:
		return now.Format("2006-01-02")
	case models.RepeatWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.RepeatMonthly:
		return now.Format("2006-01")
	default:
		return ""
	}
}

type treeEval struct {
	Unlocked     bool
	Progress     int // 0-100
	CurrentValue float64
	TargetValue  float64
	Rules        []models.RuleProgress
}

// evaluateTree is the single exhaustive match over the condition variants.
func evaluateTree(tree models.ConditionTree, metrics map[string]float64, now time.Time) treeEval {
	switch tree.Kind {
	case models.ConditionSimple:
		if len(tree.Rules) == 0 {
			return treeEval{}
		}
		rp := evaluateRule(tree.Rules[0], metrics)
		return treeEval{
			Unlocked:     rp.Met,
			Progress:     rp.Progress,
			CurrentValue: rp.Value,
			TargetValue:  rp.Target,
			Rules:        []models.RuleProgress{rp},
		}

	case models.ConditionCompound:
		return evaluateCompound(tree, metrics)

	case models.ConditionStreak:
		value := metrics[tree.StreakMetric]
		target := float64(tree.StreakTarget)
		return treeEval{
			Unlocked:     tree.StreakTarget > 0 && int64(value) >= tree.StreakTarget,
			Progress:     ratioProgress(value, target),
			CurrentValue: value,
			TargetValue:  target,
		}

	case models.ConditionTimeBounded:
		if (tree.StartsAt != nil && now.Before(*tree.StartsAt)) ||
			(tree.EndsAt != nil && now.After(*tree.EndsAt)) {
			return treeEval{}
		}
		inner := tree
		inner.Kind = models.ConditionSimple
		if len(tree.Rules) > 1 {
			inner.Kind = models.ConditionCompound
		}
		return evaluateTree(inner, metrics, now)

	default:
		return treeEval{}
	}
}

func evaluateCompound(tree models.ConditionTree, metrics map[string]float64) treeEval {
	if len(tree.Rules) == 0 {
		return treeEval{}
	}

	rules := make([]models.RuleProgress, 0, len(tree.Rules))
	var weightedSum, weightTotal float64
	best := 0
	allMet, anyMet := true, false

	for _, rule := range tree.Rules {
		rp := evaluateRule(rule, metrics)
		rules = append(rules, rp)

		weight := rule.Weight
		if weight <= 0 {
			weight = 1
		}
		weightedSum += float64(rp.Progress) * weight
		weightTotal += weight
		if rp.Progress > best {
			best = rp.Progress
		}
		allMet = allMet && rp.Met
		anyMet = anyMet || rp.Met
	}

	eval := treeEval{Rules: rules}
	if tree.Combinator == models.CombinatorOr {
		eval.Unlocked = anyMet
		eval.Progress = best
	} else {
		eval.Unlocked = allMet
		eval.Progress = int(math.Round(weightedSum / weightTotal))
	}
	if eval.Unlocked {
		eval.Progress = 100
	}
	return eval
}

func evaluateRule(rule models.ConditionRule, metrics map[string]float64) models.RuleProgress {
	value := metrics[rule.Metric]
	met := compare(rule.Operator, value, rule.Target)
	progress := ratioProgress(value, rule.Target)
	if met {
		progress = 100
	}
	return models.RuleProgress{
		Metric:   rule.Metric,
		Value:    value,
		Target:   rule.Target,
		Progress: progress,
		Met:      met,
	}
}

func compare(op models.Operator, value, target float64) bool {
	switch op {
	case models.OpGte:
		return value >= target
	case models.OpGt:
		return value > target
	case models.OpLte:
		return value <= target
	case models.OpLt:
		return value < target
	case models.OpEq:
		return value == target
	default:
		return false
	}
}

func ratioProgress(value, target float64) int {
	if target <= 0 {
		return 0
	}
	p := int(math.Round(value / target * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
