package models

import (
	"time"
)

type MatchStatus string

const (
	MatchScheduled MatchStatus = "scheduled"
	MatchLive      MatchStatus = "live"
	MatchFinished  MatchStatus = "finished"
	MatchPostponed MatchStatus = "postponed"
)

type Match struct {
	ID          string      `json:"id"`
	Opponent    string      `json:"opponent"`
	Kickoff     time.Time   `json:"kickoff"`
	Venue       string      `json:"venue"`
	Competition string      `json:"competition,omitempty"`
	Status      MatchStatus `json:"status"`
}

// Sellable reports whether tickets can still be sold for this match.
func (s MatchStatus) Sellable() bool {
	return s != MatchFinished && s != MatchPostponed
}
