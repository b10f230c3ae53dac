package sessions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/tablestore"
)

var ErrSchemaMismatch = errors.New("table header does not match schema")

// Layouts accepted when reading timestamps back. Writes always use RFC3339.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04:05",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		// spreadsheets sometimes hand back "3.0"
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}

func itoa(n int) string { return strconv.Itoa(n) }

// columns maps column names to positions for one table header.
type columns struct {
	header tablestore.Row
	idx    map[string]int
}

func newColumns(table string, header tablestore.Row, required ...string) (*columns, error) {
	c := &columns{header: header, idx: make(map[string]int, len(required))}
	for _, name := range required {
		i := tablestore.FindColumnIndex(header, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s missing %s", ErrSchemaMismatch, table, name)
		}
		c.idx[name] = i
	}
	return c, nil
}

func (c *columns) get(r tablestore.Row, name string) string {
	i, ok := c.idx[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r.Cell(i))
}

// build lays values out in this header's column order.
func (c *columns) build(values map[string]string) tablestore.Row {
	row := make(tablestore.Row, len(c.header))
	for name, i := range c.idx {
		row[i] = values[name]
	}
	return row
}

var matchColumns = []string{
	tablestore.ColTimestamp, tablestore.ColPlayerA, tablestore.ColPlayerB,
	tablestore.ColOutcome, tablestore.ColNotes, tablestore.ColVenue,
	tablestore.ColIntensity, tablestore.ColSubmitter, tablestore.ColSessionID,
}

var sessionColumns = []string{
	tablestore.ColSessionID, tablestore.ColStartTime, tablestore.ColEndTime,
	tablestore.ColMatchCount, tablestore.ColAWins, tablestore.ColBWins,
	tablestore.ColDraws, tablestore.ColAvgIntensity, tablestore.ColLastUpdated,
}

var playerColumns = []string{
	tablestore.ColSessionID, tablestore.ColPlayer, tablestore.ColMatches,
	tablestore.ColWins, tablestore.ColWinsAsA, tablestore.ColWinsAsB,
	tablestore.ColLosses, tablestore.ColLossesAsA, tablestore.ColLossesAsB,
	tablestore.ColDraws, tablestore.ColDrawsAsA, tablestore.ColDrawsAsB,
	tablestore.ColInflicted, tablestore.ColSuffered, tablestore.ColLastUpdated,
}

// decodeMatch is lenient: a row that carries a session id always yields a record
// so that counts stay equal to the number of rows. Unparseable fields fall back
// to their zero values.
func decodeMatch(c *columns, r tablestore.Row) domain.MatchRecord {
	m := domain.MatchRecord{
		PlayerA:   domain.NormalizeName(c.get(r, tablestore.ColPlayerA)),
		PlayerB:   domain.NormalizeName(c.get(r, tablestore.ColPlayerB)),
		Notes:     c.get(r, tablestore.ColNotes),
		Venue:     domain.NormalizeName(c.get(r, tablestore.ColVenue)),
		Intensity: atoi(c.get(r, tablestore.ColIntensity)),
		Submitter: c.get(r, tablestore.ColSubmitter),
		SessionID: c.get(r, tablestore.ColSessionID),
	}
	m.Timestamp, _ = parseTime(c.get(r, tablestore.ColTimestamp))
	if o, err := domain.ParseOutcome(c.get(r, tablestore.ColOutcome), m.PlayerA, m.PlayerB); err == nil {
		m.Outcome = o
	}
	return m
}

func encodeMatch(c *columns, m domain.MatchRecord) tablestore.Row {
	return c.build(map[string]string{
		tablestore.ColTimestamp: formatTime(m.Timestamp),
		tablestore.ColPlayerA:   m.PlayerA,
		tablestore.ColPlayerB:   m.PlayerB,
		tablestore.ColOutcome:   string(m.Outcome),
		tablestore.ColNotes:     m.Notes,
		tablestore.ColVenue:     m.Venue,
		tablestore.ColIntensity: itoa(m.Intensity),
		tablestore.ColSubmitter: m.Submitter,
		tablestore.ColSessionID: m.SessionID,
	})
}

func encodeSummary(c *columns, s domain.SessionSummary) tablestore.Row {
	return c.build(map[string]string{
		tablestore.ColSessionID:    s.SessionID,
		tablestore.ColStartTime:    formatTime(s.StartTime),
		tablestore.ColEndTime:      formatTime(s.EndTime),
		tablestore.ColMatchCount:   itoa(s.MatchCount),
		tablestore.ColAWins:        itoa(s.AWins),
		tablestore.ColBWins:        itoa(s.BWins),
		tablestore.ColDraws:        itoa(s.Draws),
		tablestore.ColAvgIntensity: strconv.FormatFloat(s.AvgIntensity, 'f', -1, 64),
		tablestore.ColLastUpdated:  formatTime(s.LastUpdated),
	})
}

func decodeSummary(c *columns, r tablestore.Row) domain.SessionSummary {
	s := domain.SessionSummary{
		SessionID:  c.get(r, tablestore.ColSessionID),
		MatchCount: atoi(c.get(r, tablestore.ColMatchCount)),
		AWins:      atoi(c.get(r, tablestore.ColAWins)),
		BWins:      atoi(c.get(r, tablestore.ColBWins)),
		Draws:      atoi(c.get(r, tablestore.ColDraws)),
	}
	s.StartTime, _ = parseTime(c.get(r, tablestore.ColStartTime))
	s.EndTime, _ = parseTime(c.get(r, tablestore.ColEndTime))
	s.LastUpdated, _ = parseTime(c.get(r, tablestore.ColLastUpdated))
	s.AvgIntensity, _ = strconv.ParseFloat(c.get(r, tablestore.ColAvgIntensity), 64)
	return s
}

func encodePlayer(c *columns, p domain.PlayerSessionStat) tablestore.Row {
	return c.build(map[string]string{
		tablestore.ColSessionID:   p.SessionID,
		tablestore.ColPlayer:      p.Player,
		tablestore.ColMatches:     itoa(p.Matches),
		tablestore.ColWins:        itoa(p.Wins),
		tablestore.ColWinsAsA:     itoa(p.WinsAsA),
		tablestore.ColWinsAsB:     itoa(p.WinsAsB),
		tablestore.ColLosses:      itoa(p.Losses),
		tablestore.ColLossesAsA:   itoa(p.LossesAsA),
		tablestore.ColLossesAsB:   itoa(p.LossesAsB),
		tablestore.ColDraws:       itoa(p.Draws),
		tablestore.ColDrawsAsA:    itoa(p.DrawsAsA),
		tablestore.ColDrawsAsB:    itoa(p.DrawsAsB),
		tablestore.ColInflicted:   itoa(p.Inflicted),
		tablestore.ColSuffered:    itoa(p.Suffered),
		tablestore.ColLastUpdated: formatTime(p.LastUpdated),
	})
}

func decodePlayer(c *columns, r tablestore.Row) domain.PlayerSessionStat {
	p := domain.PlayerSessionStat{
		SessionID: c.get(r, tablestore.ColSessionID),
		Player:    domain.NormalizeName(c.get(r, tablestore.ColPlayer)),
		Matches:   atoi(c.get(r, tablestore.ColMatches)),
		Wins:      atoi(c.get(r, tablestore.ColWins)),
		WinsAsA:   atoi(c.get(r, tablestore.ColWinsAsA)),
		WinsAsB:   atoi(c.get(r, tablestore.ColWinsAsB)),
		Losses:    atoi(c.get(r, tablestore.ColLosses)),
		LossesAsA: atoi(c.get(r, tablestore.ColLossesAsA)),
		LossesAsB: atoi(c.get(r, tablestore.ColLossesAsB)),
		Draws:     atoi(c.get(r, tablestore.ColDraws)),
		DrawsAsA:  atoi(c.get(r, tablestore.ColDrawsAsA)),
		DrawsAsB:  atoi(c.get(r, tablestore.ColDrawsAsB)),
		Inflicted: atoi(c.get(r, tablestore.ColInflicted)),
		Suffered:  atoi(c.get(r, tablestore.ColSuffered)),
	}
	p.LastUpdated, _ = parseTime(c.get(r, tablestore.ColLastUpdated))
	return p
}
