package tablestore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Table names.
const (
	TableMatches        = "Matches"
	TableSessions       = "Sessions"
	TableSessionPlayers = "SessionPlayers"
)

// Column names shared with external reporting tools. Order matters.
const (
	ColTimestamp = "Timestamp"
	ColPlayerA   = "PlayerA"
	ColPlayerB   = "PlayerB"
	ColOutcome   = "Outcome"
	ColNotes     = "Notes"
	ColVenue     = "Venue"
	ColIntensity = "Intensity"
	ColSubmitter = "Submitter"
	ColSessionID = "SessionId"

	ColStartTime    = "StartTime"
	ColEndTime      = "EndTime"
	ColMatchCount   = "MatchCount"
	ColAWins        = "AWins"
	ColBWins        = "BWins"
	ColDraws        = "Draws"
	ColAvgIntensity = "AvgIntensity"
	ColLastUpdated  = "LastUpdated"

	ColPlayer    = "Player"
	ColMatches   = "Matches"
	ColWins      = "Wins"
	ColWinsAsA   = "WinsAsA"
	ColWinsAsB   = "WinsAsB"
	ColLosses    = "Losses"
	ColLossesAsA = "LossesAsA"
	ColLossesAsB = "LossesAsB"
	ColDrawsAsA  = "DrawsAsA"
	ColDrawsAsB  = "DrawsAsB"
	ColInflicted = "Inflicted"
	ColSuffered  = "Suffered"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrHeaderRow     = errors.New("header row is read-only")
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Row is one positional record. Cells are kept as text like a spreadsheet.
type Row []string

// Store is a tabular record store with ordered rows. GetAllRows returns the
// header at index 0; UpdateRow and DeleteRow address rows by that same index.
type Store interface {
	Append(ctx context.Context, table string, row Row) error
	GetAllRows(ctx context.Context, table string) ([]Row, error)
	UpdateRow(ctx context.Context, table string, index int, row Row) error
	DeleteRow(ctx context.Context, table string, index int) error
}

var schemas = map[string]Row{
	TableMatches: {
		ColTimestamp, ColPlayerA, ColPlayerB, ColOutcome, ColNotes,
		ColVenue, ColIntensity, ColSubmitter, ColSessionID,
	},
	TableSessions: {
		ColSessionID, ColStartTime, ColEndTime, ColMatchCount,
		ColAWins, ColBWins, ColDraws, ColAvgIntensity, ColLastUpdated,
	},
	TableSessionPlayers: {
		ColSessionID, ColPlayer, ColMatches,
		ColWins, ColWinsAsA, ColWinsAsB,
		ColLosses, ColLossesAsA, ColLossesAsB,
		ColDraws, ColDrawsAsA, ColDrawsAsB,
		ColInflicted, ColSuffered, ColLastUpdated,
	},
}

// Headers returns a copy of the header row for table.
func Headers(table string) (Row, error) {
	h, ok := schemas[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	return append(Row(nil), h...), nil
}

// Tables lists the known tables in a stable order.
func Tables() []string {
	return []string{TableMatches, TableSessions, TableSessionPlayers}
}

// FindColumnIndex returns the position of name in headers, or -1.
func FindColumnIndex(headers Row, name string) int {
	name = strings.TrimSpace(name)
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Cell returns row[i] or "" when i is out of range.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// DeleteRows removes the given row indexes from table. Indexes are deleted from
// the highest down so earlier deletes never shift later targets.
func DeleteRows(ctx context.Context, s Store, table string, indexes []int) (int, error) {
	if len(indexes) == 0 {
		return 0, nil
	}
	sorted := append([]int(nil), indexes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	deleted := 0
	prev := -1
	for _, idx := range sorted {
		if idx == prev {
			continue
		}
		prev = idx
		if err := s.DeleteRow(ctx, table, idx); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func checkIndex(index, length int) error {
	if index == 0 {
		return ErrHeaderRow
	}
	if index < 0 || index >= length {
		return ErrRowOutOfRange
	}
	return nil
}
