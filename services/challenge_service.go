// services/challenge_service.go
package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"reward-ledger-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var titleCaser = cases.Title(language.English)

// ChallengeService drives the challenge lifecycle state machine and the
// per-user join/progress/claim operations.
type ChallengeService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Notifier Notifier

	// advisory per-progress claim guard: short-circuits duplicate concurrent
	// claim requests early. The conditional update below is the real
	// correctness mechanism; this only saves wasted work.
	claimMu  sync.Mutex
	claiming map[string]bool
}

func NewChallengeService(db *gorm.DB, ledger *LedgerService, notifier Notifier) *ChallengeService {
	return &ChallengeService{DB: db, Ledger: ledger, Notifier: notifier, claiming: map[string]bool{}}
}

// TransitionStatus applies one status change if the adjacency table allows
// it. The update is guarded by the current status so a concurrent
// transition cannot be overwritten.
func (s *ChallengeService) TransitionStatus(challengeID string, to models.ChallengeStatus, reason string) error {
	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", challengeID).Error; err != nil {
		return err
	}
	return s.transition(&challenge, to, reason)
}

func (s *ChallengeService) transition(challenge *models.Challenge, to models.ChallengeStatus, reason string) error {
	from := challenge.Status
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	history := append(challenge.StatusHistory, models.StatusChange{
		From: from, To: to, At: time.Now(), Reason: reason,
	})
	// Struct update so the status_history serializer applies; Select forces
	// active=false through when deactivating.
	res := s.DB.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", challenge.ID, from).
		Select("status", "active", "status_history").
		Updates(models.Challenge{
			Status:        to,
			Active:        to == models.ChallengeActive,
			StatusHistory: history,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Someone transitioned it first; the requested edge no longer exists.
		return fmt.Errorf("%w: %s → %s (state changed concurrently)", ErrInvalidTransition, from, to)
	}
	challenge.Status = to
	challenge.Active = to == models.ChallengeActive
	challenge.StatusHistory = history
	return nil
}

type TransitionResult struct {
	Activated   int `json:"activated"`
	Expired     int `json:"expired"`
	Regenerated int `json:"regenerated"`
}

// TransitionStatuses is the periodic lifecycle pass: publish scheduled
// challenges whose publish time arrived, expire active ones past their end
// date, then regenerate from templates if nothing is left active.
func (s *ChallengeService) TransitionStatuses() (*TransitionResult, error) {
	now := time.Now()
	result := &TransitionResult{}

	var due []models.Challenge
	if err := s.DB.Where("status = ? AND scheduled_publish_at <= ?", models.ChallengeScheduled, now).
		Find(&due).Error; err != nil {
		return nil, err
	}
	for i := range due {
		if err := s.transition(&due[i], models.ChallengeActive, "scheduled publish time reached"); err != nil {
			log.Printf("[Challenges] failed to activate %s: %v", due[i].Code, err)
			continue
		}
		result.Activated++
	}

	var ended []models.Challenge
	if err := s.DB.Where("status = ? AND end_date < ?", models.ChallengeActive, now).
		Find(&ended).Error; err != nil {
		return nil, err
	}
	for i := range ended {
		if err := s.transition(&ended[i], models.ChallengeExpired, "end date passed"); err != nil {
			log.Printf("[Challenges] failed to expire %s: %v", ended[i].Code, err)
			continue
		}
		result.Expired++
	}

	regenerated, err := s.regenerateFromTemplates(now)
	if err != nil {
		log.Printf("[Challenges] template regeneration failed: %v", err)
	}
	result.Regenerated = regenerated
	return result, nil
}

// regenerateFromTemplates clones a fresh instance of each template whose
// cadence currently has no active (or scheduled) instance, so users are
// never left without a challenge. Expired instances stay untouched as the
// historical record.
func (s *ChallengeService) regenerateFromTemplates(now time.Time) (int, error) {
	var templates []models.Challenge
	if err := s.DB.Where("is_template = ?", true).Find(&templates).Error; err != nil {
		return 0, err
	}

	created := 0
	for _, tpl := range templates {
		var live int64
		if err := s.DB.Model(&models.Challenge{}).
			Where("template_code = ? AND status IN ?", tpl.Code,
				[]models.ChallengeStatus{models.ChallengeScheduled, models.ChallengeActive}).
			Count(&live).Error; err != nil {
			return created, err
		}
		if live > 0 {
			continue
		}

		start, end := cadenceWindow(tpl.Type, now)
		instance := models.Challenge{
			ID:           uuid.NewString(),
			Code:         slug.Make(fmt.Sprintf("%s %s", tpl.Code, start.Format("2006-01-02"))),
			Name:         titleCaser.String(tpl.Name),
			Description:  tpl.Description,
			Type:         tpl.Type,
			Requirements: tpl.Requirements,
			Rewards:      tpl.Rewards,
			StartDate:    start,
			EndDate:      end,
			Status:       models.ChallengeActive,
			Active:       true,
			StatusHistory: []models.StatusChange{
				{From: models.ChallengeDraft, To: models.ChallengeActive, At: now, Reason: "regenerated from template " + tpl.Code},
			},
			MaxParticipants: tpl.MaxParticipants,
			TemplateCode:    tpl.Code,
		}
		// A concurrent pass may have cloned the same window already.
		res := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&instance)
		if res.Error != nil {
			return created, res.Error
		}
		if res.RowsAffected == 1 {
			created++
			log.Printf("✅ Regenerated challenge %s from template %s", instance.Code, tpl.Code)
		}
	}
	return created, nil
}

// cadenceWindow returns the [start, end) window for a cadence anchored at now.
func cadenceWindow(challengeType string, now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch challengeType {
	case "weekly":
		weekday := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start := day.AddDate(0, 0, -weekday)
		return start, start.AddDate(0, 0, 7)
	case "monthly":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	default: // daily and special
		return day, day.AddDate(0, 0, 1)
	}
}

// Join creates the per-user progress record. An atomic upsert keyed on
// (user, challenge) collapses concurrent joins to one record; only the
// winner of the insert increments the participant count.
func (s *ChallengeService) Join(userID, challengeID string) (*models.UserChallengeProgress, error) {
	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", challengeID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrChallengeNotJoinable
		}
		return nil, err
	}
	if challenge.Status != models.ChallengeActive {
		return nil, fmt.Errorf("%w: challenge is %s", ErrChallengeNotJoinable, challenge.Status)
	}

	progress := models.UserChallengeProgress{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChallengeID: challengeID,
		Target:      challenge.Requirements.Target,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "challenge_id"}},
			DoNothing: true,
		}).Create(&progress)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already joined - idempotent success. Fetch into a fresh value:
			// progress carries the losing insert's primary key, which would
			// otherwise leak into the query conditions.
			var existing models.UserChallengeProgress
			if err := tx.Where("user_id = ? AND challenge_id = ?", userID, challengeID).
				First(&existing).Error; err != nil {
				return err
			}
			progress = existing
			return nil
		}

		inc := tx.Model(&models.Challenge{}).
			Where("id = ? AND (max_participants = 0 OR participant_count < max_participants)", challengeID).
			Update("participant_count", gorm.Expr("participant_count + 1"))
		if inc.Error != nil {
			return inc.Error
		}
		if inc.RowsAffected == 0 {
			return fmt.Errorf("%w: challenge is full", ErrChallengeNotJoinable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

type ProgressEventInput struct {
	Action   string
	Amount   int64
	Store    string
	Category string
	Value    int64 // monetary amount of the action, for MinAmount filters
	Source   string
}

// AddProgress fans one action out to every active challenge the user has
// joined whose requirements match. Completed challenges are skipped; the
// completed flag flips exactly once.
func (s *ChallengeService) AddProgress(userID string, event ProgressEventInput) ([]models.UserChallengeProgress, error) {
	if event.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var challenges []models.Challenge
	if err := s.DB.Where("active = ? AND is_template = ?", true, false).Find(&challenges).Error; err != nil {
		return nil, err
	}

	updated := []models.UserChallengeProgress{}
	for _, challenge := range challenges {
		if !matchesRequirements(challenge.Requirements, event) {
			continue
		}
		progress, changed, err := s.applyProgress(userID, challenge, event)
		if err != nil {
			log.Printf("[Challenges] progress on %s failed for %s: %v", challenge.Code, userID, err)
			continue
		}
		if changed {
			updated = append(updated, *progress)
		}
	}
	return updated, nil
}

func matchesRequirements(req models.ChallengeRequirements, event ProgressEventInput) bool {
	if req.Action != event.Action {
		return false
	}
	if req.Filters.Store != "" && req.Filters.Store != event.Store {
		return false
	}
	if req.Filters.Category != "" && req.Filters.Category != event.Category {
		return false
	}
	if req.Filters.MinAmount > 0 && event.Value < req.Filters.MinAmount {
		return false
	}
	return true
}

// applyProgress increments progress capped at target via guarded updates.
// Two conditional statements cover the completing and the non-completing
// case; whichever matches wins, and neither can push progress past target.
func (s *ChallengeService) applyProgress(userID string, challenge models.Challenge, event ProgressEventInput) (*models.UserChallengeProgress, bool, error) {
	var progress models.UserChallengeProgress
	err := s.DB.Where("user_id = ? AND challenge_id = ?", userID, challenge.ID).First(&progress).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil // not joined
	}
	if err != nil {
		return nil, false, err
	}
	if progress.Completed {
		return nil, false, nil
	}

	now := time.Now()

	// Completing case: this addition reaches the target.
	res := s.DB.Model(&models.UserChallengeProgress{}).
		Where("id = ? AND completed = ? AND progress + ? >= target", progress.ID, false, event.Amount).
		Updates(map[string]interface{}{
			"progress":     gorm.Expr("target"),
			"completed":    true,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		if err := s.DB.Model(&models.Challenge{}).
			Where("id = ?", challenge.ID).
			Update("completion_count", gorm.Expr("completion_count + 1")).Error; err != nil {
			log.Printf("[Challenges] completion count bump failed for %s: %v", challenge.Code, err)
		}
		if s.Notifier != nil {
			s.Notifier.Notify(userID, "challenge_completed",
				fmt.Sprintf("Challenge %s completed! Claim your %d coins.", challenge.Name, challenge.Rewards.Coins))
		}
	} else {
		// Non-completing case: plain capped increment.
		res = s.DB.Model(&models.UserChallengeProgress{}).
			Where("id = ? AND completed = ? AND progress + ? < target", progress.ID, false, event.Amount).
			Update("progress", gorm.Expr("progress + ?", event.Amount))
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with a concurrent completer; nothing to do.
			return nil, false, nil
		}
	}

	record := models.ChallengeProgressEvent{
		ID:         uuid.NewString(),
		ProgressID: progress.ID,
		Amount:     event.Amount,
		Source:     event.Source,
	}
	if err := s.DB.Create(&record).Error; err != nil {
		log.Printf("[Challenges] progress event log failed: %v", err)
	}

	if err := s.DB.First(&progress, "id = ?", progress.ID).Error; err != nil {
		return nil, false, err
	}
	return &progress, true, nil
}

type ClaimResult struct {
	Progress      *models.UserChallengeProgress `json:"progress"`
	RewardCoins   int64                         `json:"reward_coins"`
	BonusCoins    int64                         `json:"bonus_coins,omitempty"`
	WalletBalance int64                         `json:"wallet_balance"`
}

// Claim pays out a completed challenge. The rewards_claimed flip is a single
// conditional update, so of N concurrent claims exactly one pays.
func (s *ChallengeService) Claim(userID, progressID string) (*ClaimResult, error) {
	s.claimMu.Lock()
	if s.claiming[progressID] {
		s.claimMu.Unlock()
		return nil, ErrClaimInProgress
	}
	s.claiming[progressID] = true
	s.claimMu.Unlock()
	defer func() {
		s.claimMu.Lock()
		delete(s.claiming, progressID)
		s.claimMu.Unlock()
	}()

	now := time.Now()
	res := s.DB.Model(&models.UserChallengeProgress{}).
		Where("id = ? AND user_id = ? AND completed = ? AND rewards_claimed = ?",
			progressID, userID, true, false).
		Updates(map[string]interface{}{
			"rewards_claimed": true,
			"claimed_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var progress models.UserChallengeProgress
		if err := s.DB.Where("id = ? AND user_id = ?", progressID, userID).First(&progress).Error; err != nil {
			return nil, ErrNothingToClaim
		}
		if !progress.Completed {
			return nil, fmt.Errorf("%w: challenge not completed yet", ErrNothingToClaim)
		}
		return nil, fmt.Errorf("%w: rewards already claimed", ErrNothingToClaim)
	}

	var progress models.UserChallengeProgress
	if err := s.DB.Preload("Challenge").First(&progress, "id = ?", progressID).Error; err != nil {
		return nil, err
	}
	challenge := progress.Challenge

	result := &ClaimResult{Progress: &progress, RewardCoins: challenge.Rewards.Coins}
	award, err := s.Ledger.Award(AwardRequest{
		UserID:         userID,
		Amount:         challenge.Rewards.Coins,
		Source:         models.SourceChallengeReward,
		Description:    "Challenge reward: " + challenge.Name,
		Metadata:       map[string]interface{}{"challenge_id": challenge.ID, "progress_id": progressID},
		IdempotencyKey: IdempotencyKey(models.SourceChallengeReward, challenge.ID, userID),
		Multiplier:     challenge.Rewards.Multiplier,
	})
	if err != nil {
		// The claim flag stays set; note the unpaid amount for the
		// reconciliation pass instead of rolling back.
		log.Printf("[Challenges] award failed after claim of %s by %s: %v", progressID, userID, err)
		s.DB.Model(&models.UserChallengeProgress{}).
			Where("id = ?", progressID).
			Update("pending_reward", challenge.Rewards.Coins)
		result.WalletBalance = UserBalance(s.DB, userID)
		return result, nil
	}

	result.BonusCoins = award.BonusAmount
	result.WalletBalance = award.NewBalance
	return result, nil
}

// ActiveChallenges lists joinable challenges, newest first.
func (s *ChallengeService) ActiveChallenges() ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := s.DB.Where("active = ? AND is_template = ?", true, false).
		Order("created_at DESC").
		Find(&challenges).Error
	return challenges, err
}
