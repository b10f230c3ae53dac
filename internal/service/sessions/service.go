package sessions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/metrics"
	"github.com/texican/chess-tracker/internal/tablestore"
)

// SettingsProvider supplies the roster and session gap for each call.
type SettingsProvider interface {
	Tracker() config.Tracker
}

// Service runs session assignment and keeps the Sessions and SessionPlayers
// tables consistent with Matches. Mutations are serialized on mu because
// derived rows are addressed by position.
type Service struct {
	mu sync.Mutex

	store    tablestore.Store
	settings SettingsProvider
	assigner Assigner
	now      func() time.Time
	metrics  *metrics.Metrics
}

type Option func(*Service)

// WithClock overrides time.Now for assignment and LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.assigner.Now = now
	}
}

// WithIDGenerator overrides uuid generation for new sessions.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.assigner.NewID = gen }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store tablestore.Store, settings SettingsProvider, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("nil record store")
	}
	if settings == nil {
		return nil, fmt.Errorf("nil settings provider")
	}
	s := &Service{store: store, settings: settings, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// matchRow pairs a decoded record with its row index in Matches.
type matchRow struct {
	Index  int
	Record domain.MatchRecord
}

func (s *Service) loadMatches(ctx context.Context) (*columns, []matchRow, error) {
	rows, err := s.store.GetAllRows(ctx, tablestore.TableMatches)
	if err != nil {
		return nil, nil, fmt.Errorf("read matches: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no header", ErrSchemaMismatch, tablestore.TableMatches)
	}
	cols, err := newColumns(tablestore.TableMatches, rows[0], matchColumns...)
	if err != nil {
		return nil, nil, err
	}
	out := make([]matchRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		out = append(out, matchRow{Index: i, Record: decodeMatch(cols, rows[i])})
	}
	return cols, out, nil
}

func records(rows []matchRow) []domain.MatchRecord {
	out := make([]domain.MatchRecord, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out
}

// loadDerived reads a derived table and resolves its columns.
func (s *Service) loadDerived(ctx context.Context, table string, required []string) (*columns, []tablestore.Row, error) {
	rows, err := s.store.GetAllRows(ctx, table)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no header", ErrSchemaMismatch, table)
	}
	cols, err := newColumns(table, rows[0], required...)
	if err != nil {
		return nil, nil, err
	}
	return cols, rows, nil
}

// Sessions decodes every Sessions row.
func (s *Service) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	cols, rows, err := s.loadDerived(ctx, tablestore.TableSessions, sessionColumns)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionSummary, 0, len(rows)-1)
	for _, r := range rows[1:] {
		out = append(out, decodeSummary(cols, r))
	}
	return out, nil
}

// SessionPlayers decodes the SessionPlayers rows of one session.
func (s *Service) SessionPlayers(ctx context.Context, sessionID string) ([]domain.PlayerSessionStat, error) {
	cols, rows, err := s.loadDerived(ctx, tablestore.TableSessionPlayers, playerColumns)
	if err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	var out []domain.PlayerSessionStat
	for _, r := range rows[1:] {
		if cols.get(r, tablestore.ColSessionID) != sessionID {
			continue
		}
		out = append(out, decodePlayer(cols, r))
	}
	return out, nil
}

// ComputeSessionStats aggregates the current Matches content for sessionID
// using the current roster. Read-only.
func (s *Service) ComputeSessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	_, rows, err := s.loadMatches(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeSessionStats(sessionID, records(rows), s.settings.Tracker().Roster, s.now()), nil
}
