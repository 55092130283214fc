package domain

import "time"

// OutcomeOdds is one book's quoted price for a single outcome. Exactly one
// of Decimal or American is expected to be set.
type OutcomeOdds struct {
	Name     string
	Decimal  float64
	American float64
}

// BookOdds groups the outcomes quoted by a single bookmaker.
type BookOdds struct {
	Book     string
	Outcomes []OutcomeOdds
}

// OddsEvent is an external event with the odds of every book that quotes it.
type OddsEvent struct {
	ExternalID string
	HomeTeam   string
	AwayTeam   string
	Commence   time.Time
	Books      []BookOdds
}
