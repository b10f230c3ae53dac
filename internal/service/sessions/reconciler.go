package sessions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/tablestore"
	"go.uber.org/zap"
)

// Action tags the outcome of a session recompute.
type Action string

const (
	ActionRecalculated Action = "recalculated"
	ActionRemoved      Action = "removed"
	ActionError        Action = "error"
)

// ReconcileResult reports one RecomputeSessionStats call.
type ReconcileResult struct {
	SessionID    string
	Action       Action
	StaleRemoved int
	RowsRemoved  int
	Err          error
}

// SessionError is one failed session within a bulk recompute.
type SessionError struct {
	SessionID string
	Err       error
}

func (e SessionError) Error() string {
	if e.SessionID == "" {
		return e.Err.Error()
	}
	return e.SessionID + ": " + e.Err.Error()
}

// BulkResult aggregates RecomputeAll.
type BulkResult struct {
	Recalculated int
	Removed      int
	Errors       []SessionError
}

// RecomputeSessionStats rebuilds the derived rows for sessionID from Matches.
// A session with no remaining matches is removed instead. Safe to repeat.
func (s *Service) RecomputeSessionStats(ctx context.Context, sessionID string) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeSessionStats(ctx, sessionID)
}

func (s *Service) recomputeSessionStats(ctx context.Context, sessionID string) (res ReconcileResult) {
	sessionID = strings.TrimSpace(sessionID)
	res.SessionID = sessionID
	defer func() {
		if r := recover(); r != nil {
			res.Action = ActionError
			res.Err = fmt.Errorf("recompute panic: %v", r)
		}
		if s.metrics != nil {
			s.metrics.Reconciles.WithLabelValues(string(res.Action)).Inc()
			s.metrics.StaleRowsRemoved.Add(float64(res.StaleRemoved))
		}
		if res.Action == ActionError {
			obslog.L().Error("session_recompute_error", zap.String("session_id", sessionID), zap.Error(res.Err))
			return
		}
		obslog.L().Info("session_recompute",
			zap.String("session_id", sessionID),
			zap.String("action", string(res.Action)),
			zap.Int("stale_removed", res.StaleRemoved),
			zap.Int("rows_removed", res.RowsRemoved),
		)
	}()

	if sessionID == "" {
		res.Action, res.Err = ActionError, fmt.Errorf("empty session id")
		return res
	}
	_, rows, err := s.loadMatches(ctx)
	if err != nil {
		res.Action, res.Err = ActionError, err
		return res
	}
	count := 0
	for _, r := range rows {
		if r.Record.SessionID == sessionID {
			count++
		}
	}
	if count == 0 {
		n, err := s.removeEmptySession(ctx, sessionID)
		res.RowsRemoved = n
		if err != nil {
			res.Action, res.Err = ActionError, err
			return res
		}
		res.Action = ActionRemoved
		return res
	}

	stale, err := s.cleanupStaleSessionPlayers(ctx, sessionID)
	res.StaleRemoved = stale
	if err != nil {
		res.Action, res.Err = ActionError, err
		return res
	}
	saved := s.saveSessionSummary(ctx, sessionID)
	if !saved.Success {
		res.Action, res.Err = ActionError, saved.Err
		return res
	}
	res.Action = ActionRecalculated
	return res
}

// CleanupStaleSessionPlayers deletes SessionPlayers rows of sessionID whose
// player no longer appears on either side of any match in that session.
func (s *Service) CleanupStaleSessionPlayers(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupStaleSessionPlayers(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) cleanupStaleSessionPlayers(ctx context.Context, sessionID string) (int, error) {
	_, matches, err := s.loadMatches(ctx)
	if err != nil {
		return 0, err
	}
	present := make(map[string]struct{})
	for _, m := range matches {
		if m.Record.SessionID != sessionID {
			continue
		}
		present[m.Record.PlayerA] = struct{}{}
		present[m.Record.PlayerB] = struct{}{}
	}

	cols, rows, err := s.loadDerived(ctx, tablestore.TableSessionPlayers, playerColumns)
	if err != nil {
		return 0, err
	}
	var stale []int
	for i := 1; i < len(rows); i++ {
		if cols.get(rows[i], tablestore.ColSessionID) != sessionID {
			continue
		}
		if _, ok := present[decodePlayer(cols, rows[i]).Player]; !ok {
			stale = append(stale, i)
		}
	}
	n, err := tablestore.DeleteRows(ctx, s.store, tablestore.TableSessionPlayers, stale)
	if err != nil {
		return n, fmt.Errorf("delete stale players of %s: %w", sessionID, err)
	}
	return n, nil
}

// RemoveEmptySession deletes the Sessions row and every SessionPlayers row of sessionID.
func (s *Service) RemoveEmptySession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeEmptySession(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) removeEmptySession(ctx context.Context, sessionID string) (int, error) {
	removed := 0
	for _, table := range []string{tablestore.TableSessionPlayers, tablestore.TableSessions} {
		required := sessionColumns
		if table == tablestore.TableSessionPlayers {
			required = playerColumns
		}
		cols, rows, err := s.loadDerived(ctx, table, required)
		if err != nil {
			return removed, err
		}
		var idx []int
		for i := 1; i < len(rows); i++ {
			if cols.get(rows[i], tablestore.ColSessionID) == sessionID {
				idx = append(idx, i)
			}
		}
		n, err := tablestore.DeleteRows(ctx, s.store, table, idx)
		removed += n
		if err != nil {
			return removed, fmt.Errorf("remove %s rows of %s: %w", table, sessionID, err)
		}
	}
	return removed, nil
}

// RecomputeAll recomputes every session known to Matches or Sessions. A failing
// session is recorded and the loop moves on. The lock is taken per session so
// submissions interleave with a long run.
func (s *Service) RecomputeAll(ctx context.Context) BulkResult {
	start := time.Now()
	var out BulkResult
	ids, err := s.knownSessionIDs(ctx)
	if err != nil {
		out.Errors = append(out.Errors, SessionError{Err: err})
		return out
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, SessionError{SessionID: id, Err: err})
			break
		}
		res := s.RecomputeSessionStats(ctx, id)
		switch res.Action {
		case ActionRecalculated:
			out.Recalculated++
		case ActionRemoved:
			out.Removed++
		default:
			out.Errors = append(out.Errors, SessionError{SessionID: id, Err: res.Err})
		}
	}
	if s.metrics != nil {
		s.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}
	obslog.L().Info("sessions_recompute_all",
		zap.Int("sessions", len(ids)),
		zap.Int("recalculated", out.Recalculated),
		zap.Int("removed", out.Removed),
		zap.Int("errors", len(out.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

func (s *Service) knownSessionIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	_, matches, err := s.loadMatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Record.SessionID != "" {
			seen[m.Record.SessionID] = struct{}{}
		}
	}
	for _, t := range []struct {
		name     string
		required []string
	}{
		{tablestore.TableSessions, sessionColumns},
		{tablestore.TableSessionPlayers, playerColumns},
	} {
		cols, rows, err := s.loadDerived(ctx, t.name, t.required)
		if err != nil {
			return nil, err
		}
		for _, r := range rows[1:] {
			if id := cols.get(r, tablestore.ColSessionID); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
