package services

import "errors"

// Gamification-layer errors. Callers at the boundary (handlers, scheduler)
// log these with the triggering action; a failure here must never block the
// primary user action that triggered it.
var (
	ErrInvalidAmount         = errors.New("amount must be a positive integer")
	ErrInsufficientBalance   = errors.New("insufficient coins")
	ErrInvalidTransition     = errors.New("invalid challenge status transition")
	ErrChallengeNotJoinable  = errors.New("challenge is not joinable")
	ErrNothingToClaim        = errors.New("nothing to claim")
	ErrClaimInProgress       = errors.New("claim already in progress")
	ErrTournamentNotJoinable = errors.New("tournament is not joinable")
	ErrUnknownMetric         = errors.New("unknown metric name")
)
