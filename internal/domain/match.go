package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the recorded result of a match from side A's point of view.
type Outcome string

const (
	OutcomeA    Outcome = "A"
	OutcomeB    Outcome = "B"
	OutcomeDraw Outcome = "Draw"
)

// Side identifies which seat a player occupied in a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

const (
	MinIntensity = 0
	MaxIntensity = 5
)

// ParseOutcome accepts the A/B/Draw tokens in any case. A winner column holding
// the literal name of one of the players is also understood.
func ParseOutcome(raw, playerA, playerB string) (Outcome, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "a":
		return OutcomeA, nil
	case "b":
		return OutcomeB, nil
	case "draw", "tie", "d":
		return OutcomeDraw, nil
	}
	if v != "" {
		if v == strings.TrimSpace(playerA) {
			return OutcomeA, nil
		}
		if v == strings.TrimSpace(playerB) {
			return OutcomeB, nil
		}
	}
	return "", fmt.Errorf("unknown outcome %q", raw)
}

// Winner returns the winning side and false on a draw.
func (o Outcome) Winner() (Side, bool) {
	switch o {
	case OutcomeA:
		return SideA, true
	case OutcomeB:
		return SideB, true
	default:
		return "", false
	}
}

// MatchRecord is one row of the Matches table. Records are append-only.
type MatchRecord struct {
	Timestamp time.Time
	PlayerA   string
	PlayerB   string
	Outcome   Outcome
	Notes     string
	Venue     string
	Intensity int
	Submitter string
	SessionID string
}

// SideOf reports which side the named player occupied, if any.
func (m *MatchRecord) SideOf(player string) (Side, bool) {
	switch player {
	case m.PlayerA:
		return SideA, true
	case m.PlayerB:
		return SideB, true
	default:
		return "", false
	}
}

// SessionSummary is the derived Sessions row.
type SessionSummary struct {
	SessionID    string
	StartTime    time.Time
	EndTime      time.Time
	MatchCount   int
	AWins        int
	BWins        int
	Draws        int
	AvgIntensity float64
	LastUpdated  time.Time
}

// PlayerSessionStat is the derived SessionPlayers row for one player in one session.
type PlayerSessionStat struct {
	SessionID   string
	Player      string
	Matches     int
	Wins        int
	WinsAsA     int
	WinsAsB     int
	Losses      int
	LossesAsA   int
	LossesAsB   int
	Draws       int
	DrawsAsA    int
	DrawsAsB    int
	Inflicted   int
	Suffered    int
	LastUpdated time.Time
}
