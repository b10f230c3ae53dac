package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/tablestore"
	"go.uber.org/zap"
)

// ErrNoMatches is returned when a summary is requested for a session with no
// Matches rows. Removing such a session is RecomputeSessionStats' job.
var ErrNoMatches = errors.New("session has no matches")

// SaveResult reports a summary upsert. Err is set iff Success is false.
type SaveResult struct {
	SessionID string
	Success   bool
	Err       error
	Stats     *SessionStats
}

// SaveSessionSummary aggregates sessionID from Matches and upserts its Sessions
// row plus one SessionPlayers row per roster player who played. It never panics
// and never returns failures other than through the result. Rows for players
// who no longer appear are left for CleanupStaleSessionPlayers.
func (s *Service) SaveSessionSummary(ctx context.Context, sessionID string) SaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSessionSummary(ctx, sessionID)
}

func (s *Service) saveSessionSummary(ctx context.Context, sessionID string) (res SaveResult) {
	sessionID = strings.TrimSpace(sessionID)
	res.SessionID = sessionID
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("save session summary panic: %v", r)
		}
		s.countPersist(res.Success)
		if !res.Success {
			obslog.L().Warn("summary_persist_failed", zap.String("session_id", sessionID), zap.Error(res.Err))
		}
	}()

	if sessionID == "" {
		res.Err = fmt.Errorf("empty session id")
		return res
	}
	stats, err := s.ComputeSessionStats(ctx, sessionID)
	if err != nil {
		res.Err = err
		return res
	}
	res.Stats = stats
	if stats.Summary.MatchCount == 0 {
		res.Err = fmt.Errorf("%w: %s", ErrNoMatches, sessionID)
		return res
	}
	if err := s.upsertSession(ctx, stats); err != nil {
		res.Err = err
		return res
	}
	if err := s.upsertPlayers(ctx, stats); err != nil {
		res.Err = err
		return res
	}
	res.Success = true
	obslog.L().Debug("summary_persist",
		zap.String("session_id", sessionID),
		zap.Int("match_count", stats.Summary.MatchCount),
		zap.Int("players", len(stats.Played())),
	)
	return res
}

func (s *Service) upsertSession(ctx context.Context, stats *SessionStats) error {
	cols, rows, err := s.loadDerived(ctx, tablestore.TableSessions, sessionColumns)
	if err != nil {
		return err
	}
	row := encodeSummary(cols, stats.Summary)
	var matches []int
	for i := 1; i < len(rows); i++ {
		if cols.get(rows[i], tablestore.ColSessionID) == stats.Summary.SessionID {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		if err := s.store.Append(ctx, tablestore.TableSessions, row); err != nil {
			return fmt.Errorf("append session %s: %w", stats.Summary.SessionID, err)
		}
		return nil
	}
	if err := s.store.UpdateRow(ctx, tablestore.TableSessions, matches[0], row); err != nil {
		return fmt.Errorf("update session %s: %w", stats.Summary.SessionID, err)
	}
	// duplicates left behind by an interleaved writer collapse into the first row
	if _, err := tablestore.DeleteRows(ctx, s.store, tablestore.TableSessions, matches[1:]); err != nil {
		return fmt.Errorf("dedupe session %s: %w", stats.Summary.SessionID, err)
	}
	return nil
}

func (s *Service) upsertPlayers(ctx context.Context, stats *SessionStats) error {
	cols, rows, err := s.loadDerived(ctx, tablestore.TableSessionPlayers, playerColumns)
	if err != nil {
		return err
	}
	sessionID := stats.Summary.SessionID
	existing := make(map[string][]int)
	for i := 1; i < len(rows); i++ {
		if cols.get(rows[i], tablestore.ColSessionID) != sessionID {
			continue
		}
		name := decodePlayer(cols, rows[i]).Player
		existing[name] = append(existing[name], i)
	}

	var duplicates []int
	for _, p := range stats.Played() {
		row := encodePlayer(cols, p)
		idx := existing[p.Player]
		if len(idx) == 0 {
			if err := s.store.Append(ctx, tablestore.TableSessionPlayers, row); err != nil {
				return fmt.Errorf("append player %s/%s: %w", sessionID, p.Player, err)
			}
			continue
		}
		if err := s.store.UpdateRow(ctx, tablestore.TableSessionPlayers, idx[0], row); err != nil {
			return fmt.Errorf("update player %s/%s: %w", sessionID, p.Player, err)
		}
		duplicates = append(duplicates, idx[1:]...)
	}
	// appends land after every index collected above, so these stay valid
	if _, err := tablestore.DeleteRows(ctx, s.store, tablestore.TableSessionPlayers, duplicates); err != nil {
		return fmt.Errorf("dedupe players %s: %w", sessionID, err)
	}
	return nil
}

func (s *Service) countPersist(ok bool) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	s.metrics.SummaryPersists.WithLabelValues(result).Inc()
}
