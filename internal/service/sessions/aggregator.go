package sessions

import (
	"time"

	"github.com/texican/chess-tracker/internal/domain"
)

// SessionStats is the aggregate for one session. Players holds an entry for
// every roster name, including those who did not play; Order keeps roster order.
type SessionStats struct {
	Summary domain.SessionSummary
	Players map[string]*domain.PlayerSessionStat
	Order   []string
}

// Played returns the per-player stats with at least one match, in roster order.
func (s *SessionStats) Played() []domain.PlayerSessionStat {
	out := make([]domain.PlayerSessionStat, 0, len(s.Order))
	for _, name := range s.Order {
		if p := s.Players[name]; p != nil && p.Matches > 0 {
			out = append(out, *p)
		}
	}
	return out
}

// ComputeSessionStats scans matches once and aggregates those carrying sessionID.
// It has no side effects; an unknown session yields a zero-valued summary.
func ComputeSessionStats(sessionID string, matches []domain.MatchRecord, roster []string, now time.Time) *SessionStats {
	stats := &SessionStats{
		Summary: domain.SessionSummary{SessionID: sessionID, LastUpdated: now},
		Players: make(map[string]*domain.PlayerSessionStat, len(roster)),
	}
	for _, name := range roster {
		name = domain.NormalizeName(name)
		if name == "" {
			continue
		}
		if _, dup := stats.Players[name]; dup {
			continue
		}
		stats.Players[name] = &domain.PlayerSessionStat{SessionID: sessionID, Player: name, LastUpdated: now}
		stats.Order = append(stats.Order, name)
	}

	sum := &stats.Summary
	intensityTotal := 0
	for i := range matches {
		m := &matches[i]
		if m.SessionID != sessionID {
			continue
		}
		sum.MatchCount++
		switch m.Outcome {
		case domain.OutcomeA:
			sum.AWins++
		case domain.OutcomeB:
			sum.BWins++
		case domain.OutcomeDraw:
			sum.Draws++
		}
		intensityTotal += m.Intensity
		if !m.Timestamp.IsZero() {
			if sum.StartTime.IsZero() || m.Timestamp.Before(sum.StartTime) {
				sum.StartTime = m.Timestamp
			}
			if sum.EndTime.IsZero() || m.Timestamp.After(sum.EndTime) {
				sum.EndTime = m.Timestamp
			}
		}

		for _, name := range stats.Order {
			side, ok := m.SideOf(name)
			if !ok {
				continue
			}
			attribute(stats.Players[name], side, m)
		}
	}
	if sum.MatchCount > 0 {
		sum.AvgIntensity = float64(intensityTotal) / float64(sum.MatchCount)
	}
	return stats
}

// attribute credits one match to a player on the given side. On a draw both
// sides suffer the intensity; on a decisive result the winner inflicts it and
// the loser suffers it.
func attribute(p *domain.PlayerSessionStat, side domain.Side, m *domain.MatchRecord) {
	p.Matches++
	if m.Outcome == domain.OutcomeDraw {
		p.Draws++
		if side == domain.SideA {
			p.DrawsAsA++
		} else {
			p.DrawsAsB++
		}
		p.Suffered += m.Intensity
		return
	}
	winner, decisive := m.Outcome.Winner()
	if !decisive {
		return
	}
	if side == winner {
		p.Wins++
		if side == domain.SideA {
			p.WinsAsA++
		} else {
			p.WinsAsB++
		}
		p.Inflicted += m.Intensity
		return
	}
	p.Losses++
	if side == domain.SideA {
		p.LossesAsA++
	} else {
		p.LossesAsB++
	}
	p.Suffered += m.Intensity
}
