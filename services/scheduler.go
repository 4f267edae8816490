// services/scheduler.go
package services

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler owns the periodic background passes. Each job is self-excluding:
// gocron singleton mode plus a service-owned in-flight flag, so a pass that
// finds itself still running skips its turn instead of overlapping. A
// crashed process simply drops the flag with it; the next tick runs fresh.
type Scheduler struct {
	Challenges  *ChallengeService
	Prizes      *PrizeService
	Tournaments *TournamentService

	sched          gocron.Scheduler
	transitionBusy atomic.Bool
	distributeBusy atomic.Bool
}

func NewScheduler(challenges *ChallengeService, prizes *PrizeService, tournaments *TournamentService) *Scheduler {
	return &Scheduler{Challenges: challenges, Prizes: prizes, Tournaments: tournaments}
}

func (s *Scheduler) Start() {
	sched, _ := gocron.NewScheduler()
	s.sched = sched
	sched.Start()

	// Every minute: challenge lifecycle transitions + template regeneration
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(s.runTransitions),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)

	// Hourly: leaderboard cycle distribution + tournament settlement
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(s.runDistribution),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}

func (s *Scheduler) Stop() {
	if s.sched != nil {
		_ = s.sched.Shutdown()
	}
}

func (s *Scheduler) runTransitions() {
	if !s.transitionBusy.CompareAndSwap(false, true) {
		log.Println("[Scheduler] transition pass still running, skipping tick")
		return
	}
	defer s.transitionBusy.Store(false)

	result, err := s.Challenges.TransitionStatuses()
	if err != nil {
		log.Printf("[Scheduler] transition pass failed: %v", err)
		return
	}
	if result.Activated > 0 || result.Expired > 0 || result.Regenerated > 0 {
		log.Printf("✅ Challenge pass: %d activated, %d expired, %d regenerated",
			result.Activated, result.Expired, result.Regenerated)
	}
}

func (s *Scheduler) runDistribution() {
	if !s.distributeBusy.CompareAndSwap(false, true) {
		log.Println("[Scheduler] distribution pass still running, skipping tick")
		return
	}
	defer s.distributeBusy.Store(false)

	s.Prizes.DistributeAllDue()

	if result, err := s.Tournaments.SettleEnded(); err != nil {
		log.Printf("[Scheduler] tournament settlement failed: %v", err)
	} else if result.Settled > 0 {
		log.Printf("✅ Settled %d tournament(s), %d refunded", result.Settled, result.Refunded)
	}
}
