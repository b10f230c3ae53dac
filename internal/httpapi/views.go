package httpapi

import (
	"time"

	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/service/sessions"
)

// MatchView is the JSON shape of a stored match.
type MatchView struct {
	Timestamp time.Time `json:"timestamp"`
	PlayerA   string    `json:"player_a"`
	PlayerB   string    `json:"player_b"`
	Outcome   string    `json:"outcome"`
	Notes     string    `json:"notes,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	Intensity int       `json:"intensity"`
	Submitter string    `json:"submitter,omitempty"`
	SessionID string    `json:"session_id"`
}

// SubmitView answers POST /api/matches.
type SubmitView struct {
	Row            int       `json:"row,omitempty"`
	Match          MatchView `json:"match"`
	Reason         string    `json:"reason"`
	NewSession     bool      `json:"new_session"`
	SummarySaved   bool      `json:"summary_saved"`
	SummaryFailure string    `json:"summary_error,omitempty"`
}

type SessionView struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	MatchCount   int       `json:"match_count"`
	AWins        int       `json:"a_wins"`
	BWins        int       `json:"b_wins"`
	Draws        int       `json:"draws"`
	AvgIntensity float64   `json:"avg_intensity"`
	LastUpdated  time.Time `json:"last_updated"`
}

type PlayerView struct {
	SessionID string `json:"session_id"`
	Player    string `json:"player"`
	Matches   int    `json:"matches"`
	Wins      int    `json:"wins"`
	WinsAsA   int    `json:"wins_as_a"`
	WinsAsB   int    `json:"wins_as_b"`
	Losses    int    `json:"losses"`
	LossesAsA int    `json:"losses_as_a"`
	LossesAsB int    `json:"losses_as_b"`
	Draws     int    `json:"draws"`
	DrawsAsA  int    `json:"draws_as_a"`
	DrawsAsB  int    `json:"draws_as_b"`
	Inflicted int    `json:"inflicted"`
	Suffered  int    `json:"suffered"`
}

// ReconcileView is one session recompute outcome.
type ReconcileView struct {
	SessionID    string `json:"session_id"`
	Action       string `json:"action"`
	StaleRemoved int    `json:"stale_removed"`
	RowsRemoved  int    `json:"rows_removed"`
	Error        string `json:"error,omitempty"`
}

type BulkView struct {
	Recalculated int             `json:"recalculated"`
	Removed      int             `json:"removed"`
	Errors       []ReconcileView `json:"errors,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func matchView(m domain.MatchRecord) MatchView {
	return MatchView{
		Timestamp: m.Timestamp,
		PlayerA:   m.PlayerA,
		PlayerB:   m.PlayerB,
		Outcome:   string(m.Outcome),
		Notes:     m.Notes,
		Venue:     m.Venue,
		Intensity: m.Intensity,
		Submitter: m.Submitter,
		SessionID: m.SessionID,
	}
}

func submitView(r *sessions.SubmitResult) SubmitView {
	v := SubmitView{
		Row:          r.Row,
		Match:        matchView(r.Record),
		Reason:       string(r.Assignment.Reason),
		NewSession:   r.Assignment.NewSession(),
		SummarySaved: r.Summary.Success,
	}
	if r.Summary.Err != nil {
		v.SummaryFailure = r.Summary.Err.Error()
	}
	return v
}

func sessionView(s domain.SessionSummary) SessionView {
	return SessionView(s)
}

func playerView(p domain.PlayerSessionStat) PlayerView {
	return PlayerView{
		SessionID: p.SessionID,
		Player:    p.Player,
		Matches:   p.Matches,
		Wins:      p.Wins,
		WinsAsA:   p.WinsAsA,
		WinsAsB:   p.WinsAsB,
		Losses:    p.Losses,
		LossesAsA: p.LossesAsA,
		LossesAsB: p.LossesAsB,
		Draws:     p.Draws,
		DrawsAsA:  p.DrawsAsA,
		DrawsAsB:  p.DrawsAsB,
		Inflicted: p.Inflicted,
		Suffered:  p.Suffered,
	}
}

func reconcileView(r sessions.ReconcileResult) ReconcileView {
	v := ReconcileView{
		SessionID:    r.SessionID,
		Action:       string(r.Action),
		StaleRemoved: r.StaleRemoved,
		RowsRemoved:  r.RowsRemoved,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func bulkView(b sessions.BulkResult) BulkView {
	v := BulkView{Recalculated: b.Recalculated, Removed: b.Removed}
	for _, e := range b.Errors {
		rv := ReconcileView{SessionID: e.SessionID, Action: string(sessions.ActionError)}
		if e.Err != nil {
			rv.Error = e.Err.Error()
		}
		v.Errors = append(v.Errors, rv)
	}
	return v
}
