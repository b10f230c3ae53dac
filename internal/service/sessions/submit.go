package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/tablestore"
	"go.uber.org/zap"
)

var ErrMatchNotFound = errors.New("match row not found")

// ValidationError is a malformed or missing match field. It is a client bug and
// always reaches the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MatchInput is a match as submitted by a client.
type MatchInput struct {
	Timestamp time.Time `json:"timestamp"`
	PlayerA   string    `json:"player_a"`
	PlayerB   string    `json:"player_b"`
	Outcome   string    `json:"outcome"`
	Notes     string    `json:"notes,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	Intensity int       `json:"intensity"`
	Submitter string    `json:"submitter,omitempty"`
	// SessionID is only honoured by UpdateMatch to move a match between sessions.
	SessionID string `json:"session_id,omitempty"`
}

// SubmitResult is what SubmitMatch hands back. Summary may report a failure
// even though the match itself was stored.
type SubmitResult struct {
	Record     domain.MatchRecord
	Row        int
	Assignment Assignment
	Summary    SaveResult
}

func validate(in MatchInput, t config.Tracker) (domain.MatchRecord, error) {
	rec := domain.MatchRecord{
		Timestamp: in.Timestamp,
		PlayerA:   domain.NormalizeName(in.PlayerA),
		PlayerB:   domain.NormalizeName(in.PlayerB),
		Notes:     strings.TrimSpace(in.Notes),
		Venue:     domain.NormalizeName(in.Venue),
		Intensity: in.Intensity,
		Submitter: strings.TrimSpace(in.Submitter),
	}
	if rec.PlayerA == "" {
		return rec, &ValidationError{Field: "player_a", Reason: "required"}
	}
	if rec.PlayerB == "" {
		return rec, &ValidationError{Field: "player_b", Reason: "required"}
	}
	if rec.PlayerA == rec.PlayerB {
		return rec, &ValidationError{Field: "player_b", Reason: "must differ from player_a"}
	}
	if len(t.Roster) > 0 {
		if !contains(t.Roster, rec.PlayerA) {
			return rec, &ValidationError{Field: "player_a", Reason: fmt.Sprintf("%q is not on the roster", rec.PlayerA)}
		}
		if !contains(t.Roster, rec.PlayerB) {
			return rec, &ValidationError{Field: "player_b", Reason: fmt.Sprintf("%q is not on the roster", rec.PlayerB)}
		}
	}
	if strings.TrimSpace(in.Outcome) == "" {
		return rec, &ValidationError{Field: "outcome", Reason: "required"}
	}
	o, err := domain.ParseOutcome(in.Outcome, rec.PlayerA, rec.PlayerB)
	if err != nil {
		return rec, &ValidationError{Field: "outcome", Reason: err.Error()}
	}
	rec.Outcome = o
	if rec.Intensity < domain.MinIntensity || rec.Intensity > domain.MaxIntensity {
		return rec, &ValidationError{Field: "intensity", Reason: fmt.Sprintf("must be between %d and %d", domain.MinIntensity, domain.MaxIntensity)}
	}
	if rec.Venue != "" && len(t.Venues) > 0 && !contains(t.Venues, rec.Venue) {
		return rec, &ValidationError{Field: "venue", Reason: fmt.Sprintf("%q is not a known venue", rec.Venue)}
	}
	return rec, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if domain.NormalizeName(s) == v {
			return true
		}
	}
	return false
}

// SubmitMatch validates, assigns a session, appends the match and then refreshes
// the session's derived rows. Only validation and the append can fail the call.
func (s *Service) SubmitMatch(ctx context.Context, in MatchInput) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings.Tracker()
	rec, err := validate(in, settings)
	if err != nil {
		return nil, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Second)

	cols, rows, err := s.loadMatches(ctx)
	var assignment Assignment
	if err != nil {
		obslog.L().Warn("session_lookup_failed", zap.Error(err))
		assignment = s.assigner.Fresh()
	} else {
		var last *domain.MatchRecord
		if n := len(rows); n > 0 {
			last = &rows[n-1].Record
		}
		assignment = s.assigner.Assign(last, settings.GapHours, rec.Venue)
		if assignment.Reason == ReasonVenueChange {
			obslog.L().Info("session_venue_change",
				zap.String("from", last.Venue),
				zap.String("to", rec.Venue),
				zap.String("session_id", assignment.SessionID),
			)
		}
	}
	rec.SessionID = assignment.SessionID
	if s.metrics != nil {
		s.metrics.SessionAssignments.WithLabelValues(string(assignment.Reason)).Inc()
	}

	if cols == nil {
		h, herr := tablestore.Headers(tablestore.TableMatches)
		if herr != nil {
			return nil, herr
		}
		cols, _ = newColumns(tablestore.TableMatches, h, matchColumns...)
	}
	if err := s.store.Append(ctx, tablestore.TableMatches, encodeMatch(cols, rec)); err != nil {
		return nil, fmt.Errorf("append match: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MatchesSubmitted.Inc()
	}
	obslog.L().Info("match_submit",
		zap.String("session_id", rec.SessionID),
		zap.String("reason", string(assignment.Reason)),
		zap.String("player_a", rec.PlayerA),
		zap.String("player_b", rec.PlayerB),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("venue", rec.Venue),
	)

	res := &SubmitResult{Record: rec, Assignment: assignment}
	if err == nil {
		res.Row = len(rows) + 1
	}
	res.Summary = s.saveSessionSummary(ctx, rec.SessionID)
	return res, nil
}

func (s *Service) findMatch(ctx context.Context, rowIndex int) (*columns, *matchRow, error) {
	cols, rows, err := s.loadMatches(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range rows {
		if rows[i].Index == rowIndex {
			return cols, &rows[i], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %d", ErrMatchNotFound, rowIndex)
}

// DeleteMatch removes a Matches row and reconciles the session it belonged to.
func (s *Service) DeleteMatch(ctx context.Context, rowIndex int) (*ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, row, err := s.findMatch(ctx, rowIndex)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteRow(ctx, tablestore.TableMatches, rowIndex); err != nil {
		return nil, fmt.Errorf("delete match row %d: %w", rowIndex, err)
	}
	obslog.L().Info("match_delete", zap.Int("row", rowIndex), zap.String("session_id", row.Record.SessionID))
	if row.Record.SessionID == "" {
		return &ReconcileResult{}, nil
	}
	res := s.recomputeSessionStats(ctx, row.Record.SessionID)
	return &res, nil
}

// UpdateMatch rewrites a Matches row in place. The session id is kept unless
// the input names another one; every affected session is reconciled.
func (s *Service) UpdateMatch(ctx context.Context, rowIndex int, in MatchInput) ([]ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, row, err := s.findMatch(ctx, rowIndex)
	if err != nil {
		return nil, err
	}
	rec, err := validate(in, s.settings.Tracker())
	if err != nil {
		return nil, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = row.Record.Timestamp
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Second)
	rec.SessionID = row.Record.SessionID
	if v := strings.TrimSpace(in.SessionID); v != "" {
		rec.SessionID = v
	}
	if err := s.store.UpdateRow(ctx, tablestore.TableMatches, rowIndex, encodeMatch(cols, rec)); err != nil {
		return nil, fmt.Errorf("update match row %d: %w", rowIndex, err)
	}
	obslog.L().Info("match_update",
		zap.Int("row", rowIndex),
		zap.String("old_session_id", row.Record.SessionID),
		zap.String("session_id", rec.SessionID),
	)

	var results []ReconcileResult
	for _, id := range uniqueNonEmpty(row.Record.SessionID, rec.SessionID) {
		results = append(results, s.recomputeSessionStats(ctx, id))
	}
	return results, nil
}

func uniqueNonEmpty(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id == "" || contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
