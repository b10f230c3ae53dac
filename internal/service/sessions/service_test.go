package sessions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/metrics"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/tablestore"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// flakyStore fails the configured operations on the configured tables.
type flakyStore struct {
	tablestore.Store
	failRead   map[string]bool
	failWrite  map[string]bool
	panicWrite bool
}

var errStoreDown = errors.New("store unavailable")

func (f *flakyStore) GetAllRows(ctx context.Context, table string) ([]tablestore.Row, error) {
	if f.failRead[table] {
		return nil, errStoreDown
	}
	return f.Store.GetAllRows(ctx, table)
}

func (f *flakyStore) Append(ctx context.Context, table string, row tablestore.Row) error {
	if f.panicWrite && table != tablestore.TableMatches {
		panic("boom")
	}
	if f.failWrite[table] {
		return errStoreDown
	}
	return f.Store.Append(ctx, table, row)
}

func (f *flakyStore) UpdateRow(ctx context.Context, table string, index int, row tablestore.Row) error {
	if f.failWrite[table] {
		return errStoreDown
	}
	return f.Store.UpdateRow(ctx, table, index, row)
}

type fixture struct {
	svc   *Service
	store tablestore.Store
	clock *testClock
}

func newFixture(t *testing.T, store tablestore.Store, roster ...string) *fixture {
	t.Helper()
	if store == nil {
		store = tablestore.NewMemoryStore()
	}
	if len(roster) == 0 {
		roster = []string{"A", "B", "C"}
	}
	clock := &testClock{now: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
	seq := 0
	svc, err := NewService(store,
		config.StaticProvider(config.Tracker{Roster: roster, GapHours: 6}),
		WithClock(clock.Now),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("S%d", seq) }),
		WithMetrics(metrics.New()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) submit(t *testing.T, a, b, outcome string, intensity int, venue string) *SubmitResult {
	t.Helper()
	res, err := f.svc.SubmitMatch(context.Background(), MatchInput{
		PlayerA: a, PlayerB: b, Outcome: outcome, Intensity: intensity, Venue: venue,
	})
	if err != nil {
		t.Fatalf("SubmitMatch: %v", err)
	}
	if !res.Summary.Success {
		t.Fatalf("summary not persisted: %v", res.Summary.Err)
	}
	return res
}

func (f *fixture) rows(t *testing.T, table string) []tablestore.Row {
	t.Helper()
	rows, err := f.store.GetAllRows(context.Background(), table)
	if err != nil {
		t.Fatalf("GetAllRows(%s): %v", table, err)
	}
	return rows[1:]
}

func playerNames(t *testing.T, f *fixture, sessionID string) []string {
	t.Helper()
	stats, err := f.svc.SessionPlayers(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("SessionPlayers: %v", err)
	}
	var names []string
	for _, p := range stats {
		names = append(names, p.Player)
	}
	sort.Strings(names)
	return names
}

func TestSubmitMatchExampleSession(t *testing.T) {
	f := newFixture(t, nil)
	r1 := f.submit(t, "A", "B", "A", 2, "Home")
	f.clock.Advance(10 * time.Minute)
	r2 := f.submit(t, "A", "B", "B", 1, "Home")
	f.clock.Advance(10 * time.Minute)
	r3 := f.submit(t, "A", "B", "draw", 3, "Home")

	if r1.Assignment.Reason != ReasonFirstMatch || r2.Assignment.Reason != ReasonContinued || r3.Assignment.SessionID != "S1" {
		t.Fatalf("unexpected assignments: %+v %+v %+v", r1.Assignment, r2.Assignment, r3.Assignment)
	}
	if r3.Row != 3 {
		t.Fatalf("expected third match at row 3, got %d", r3.Row)
	}

	sessions, err := f.svc.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session row, got %d", len(sessions))
	}
	s := sessions[0]
	if s.SessionID != "S1" || s.MatchCount != 3 || s.AWins != 1 || s.BWins != 1 || s.Draws != 1 || s.AvgIntensity != 2 {
		t.Fatalf("unexpected session row: %+v", s)
	}

	players, _ := f.svc.SessionPlayers(context.Background(), "S1")
	if len(players) != 2 {
		t.Fatalf("expected rows for A and B only, got %+v", players)
	}
	for _, p := range players {
		switch p.Player {
		case "A":
			if p.Inflicted != 2 || p.Suffered != 4 || p.Wins != 1 || p.Losses != 1 || p.Draws != 1 {
				t.Fatalf("unexpected A row: %+v", p)
			}
		case "B":
			if p.Inflicted != 1 || p.Suffered != 5 {
				t.Fatalf("unexpected B row: %+v", p)
			}
		default:
			t.Fatalf("unexpected player row %q", p.Player)
		}
	}
}

func TestSubmitMatchSplitsOnVenueAndGap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	obslog.Set(zap.New(core))
	t.Cleanup(func() { obslog.Set(nil) })

	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 1, "Home")
	f.clock.Advance(10 * time.Minute)
	r := f.submit(t, "A", "C", "B", 1, "Park")
	if r.Assignment.Reason != ReasonVenueChange || r.Record.SessionID != "S2" {
		t.Fatalf("expected venue split, got %+v", r.Assignment)
	}
	if logs.FilterMessage("session_venue_change").Len() != 1 {
		t.Fatalf("expected venue change to be logged")
	}
	f.clock.Advance(7 * time.Hour)
	r = f.submit(t, "A", "C", "B", 1, "Park")
	if r.Assignment.Reason != ReasonGapExceeded || r.Record.SessionID != "S3" {
		t.Fatalf("expected gap split, got %+v", r.Assignment)
	}
	if got := len(f.rows(t, tablestore.TableSessions)); got != 3 {
		t.Fatalf("expected 3 session rows, got %d", got)
	}
}

func TestSubmitMatchValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []MatchInput{
		{PlayerB: "B", Outcome: "A"},
		{PlayerA: "A", PlayerB: "A", Outcome: "A"},
		{PlayerA: "A", PlayerB: "Zed", Outcome: "A"},
		{PlayerA: "A", PlayerB: "B", Outcome: "maybe"},
		{PlayerA: "A", PlayerB: "B", Outcome: "A", Intensity: 6},
		{PlayerA: "A", PlayerB: "B", Outcome: ""},
	}
	for i, in := range cases {
		_, err := f.svc.SubmitMatch(context.Background(), in)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	if got := len(f.rows(t, tablestore.TableMatches)); got != 0 {
		t.Fatalf("invalid input must not be stored, got %d rows", got)
	}
}

func TestSubmitMatchOutcomeByName(t *testing.T) {
	f := newFixture(t, nil)
	r := f.submit(t, "A", "B", "B", 0, "")
	if r.Record.Outcome != domain.OutcomeB {
		t.Fatalf("expected outcome B, got %q", r.Record.Outcome)
	}
}

func TestSubmitMatchSurvivesDerivedFailure(t *testing.T) {
	store := &flakyStore{Store: tablestore.NewMemoryStore(), failWrite: map[string]bool{tablestore.TableSessions: true}}
	f := newFixture(t, store)
	res, err := f.svc.SubmitMatch(context.Background(), MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "A", Intensity: 1})
	if err != nil {
		t.Fatalf("derived failure must not fail submission: %v", err)
	}
	if res.Summary.Success || !errors.Is(res.Summary.Err, errStoreDown) {
		t.Fatalf("expected reported persist failure, got %+v", res.Summary)
	}
	if got := len(f.rows(t, tablestore.TableMatches)); got != 1 {
		t.Fatalf("match must be kept, got %d rows", got)
	}

	// the next reconciliation repairs the gap
	store.failWrite = nil
	out := f.svc.RecomputeAll(context.Background())
	if out.Recalculated != 1 || len(out.Errors) != 0 {
		t.Fatalf("unexpected bulk result: %+v", out)
	}
	if got := len(f.rows(t, tablestore.TableSessions)); got != 1 {
		t.Fatalf("expected repaired session row, got %d", got)
	}
}

func TestSaveSessionSummaryRecoversPanic(t *testing.T) {
	store := &flakyStore{Store: tablestore.NewMemoryStore(), panicWrite: true}
	f := newFixture(t, store)
	res, err := f.svc.SubmitMatch(context.Background(), MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "A", Intensity: 1})
	if err != nil {
		t.Fatalf("SubmitMatch: %v", err)
	}
	if res.Summary.Success || res.Summary.Err == nil {
		t.Fatalf("expected panic converted to failure, got %+v", res.Summary)
	}
}

func TestSubmitMatchLookupFailureFallsBack(t *testing.T) {
	store := &flakyStore{Store: tablestore.NewMemoryStore(), failRead: map[string]bool{tablestore.TableMatches: true}}
	f := newFixture(t, store)
	res, err := f.svc.SubmitMatch(context.Background(), MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "A", Intensity: 1})
	if err != nil {
		t.Fatalf("lookup failure must not fail submission: %v", err)
	}
	if res.Assignment.Reason != ReasonLookupFailed || res.Assignment.SessionID == "" {
		t.Fatalf("expected fresh fallback id, got %+v", res.Assignment)
	}
	if res.Summary.Success {
		t.Fatalf("summary cannot succeed while Matches is unreadable")
	}
}

func TestSubmitMatchAppendFailureIsLoud(t *testing.T) {
	store := &flakyStore{Store: tablestore.NewMemoryStore(), failWrite: map[string]bool{tablestore.TableMatches: true}}
	f := newFixture(t, store)
	if _, err := f.svc.SubmitMatch(context.Background(), MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "A"}); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected append failure, got %v", err)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	f.submit(t, "B", "C", "Draw", 4, "Home")
	ctx := context.Background()

	first := f.svc.RecomputeSessionStats(ctx, "S1")
	if first.Action != ActionRecalculated {
		t.Fatalf("unexpected result: %+v", first)
	}
	before := f.rows(t, tablestore.TableSessions)
	beforePlayers := f.rows(t, tablestore.TableSessionPlayers)
	f.clock.Advance(time.Minute)
	second := f.svc.RecomputeSessionStats(ctx, "S1")
	if second.Action != ActionRecalculated {
		t.Fatalf("unexpected result: %+v", second)
	}
	after := f.rows(t, tablestore.TableSessions)
	afterPlayers := f.rows(t, tablestore.TableSessionPlayers)

	if !reflect.DeepEqual(stripLastUpdated(before), stripLastUpdated(after)) {
		t.Fatalf("sessions changed:\n%v\n%v", before, after)
	}
	if !reflect.DeepEqual(stripLastUpdated(beforePlayers), stripLastUpdated(afterPlayers)) {
		t.Fatalf("players changed:\n%v\n%v", beforePlayers, afterPlayers)
	}
	if before[0][len(before[0])-1] == after[0][len(after[0])-1] {
		t.Fatalf("expected LastUpdated to move with the clock")
	}
}

func stripLastUpdated(rows []tablestore.Row) []tablestore.Row {
	out := make([]tablestore.Row, len(rows))
	for i, r := range rows {
		out[i] = append(tablestore.Row(nil), r[:len(r)-1]...)
	}
	return out
}

func TestDeleteMatchPrunesStalePlayers(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	f.submit(t, "A", "C", "B", 3, "Home")
	if got := playerNames(t, f, "S1"); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected players: %v", got)
	}

	res, err := f.svc.DeleteMatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("DeleteMatch: %v", err)
	}
	if res.Action != ActionRecalculated || res.StaleRemoved != 1 {
		t.Fatalf("unexpected reconcile result: %+v", res)
	}
	if got := playerNames(t, f, "S1"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("expected C pruned, got %v", got)
	}
	sessions, _ := f.svc.Sessions(context.Background())
	if sessions[0].MatchCount != 1 {
		t.Fatalf("expected match count 1, got %d", sessions[0].MatchCount)
	}
}

func TestRecomputeRemovesEmptySession(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	f.clock.Advance(8 * time.Hour)
	f.submit(t, "B", "C", "A", 1, "Home")
	f.submit(t, "A", "C", "Draw", 1, "Home")

	ctx := context.Background()
	// delete every S2 match straight from the store, highest row first
	if _, err := tablestore.DeleteRows(ctx, f.store, tablestore.TableMatches, []int{2, 3}); err != nil {
		t.Fatalf("DeleteRows: %v", err)
	}
	res := f.svc.RecomputeSessionStats(ctx, "S2")
	if res.Action != ActionRemoved {
		t.Fatalf("expected removed, got %+v", res)
	}
	if res.RowsRemoved != 4 {
		t.Fatalf("expected session row + 3 player rows removed, got %d", res.RowsRemoved)
	}
	sessions, _ := f.svc.Sessions(ctx)
	if len(sessions) != 1 || sessions[0].SessionID != "S1" {
		t.Fatalf("expected only S1 left, got %+v", sessions)
	}
	if got := playerNames(t, f, "S2"); len(got) != 0 {
		t.Fatalf("expected no S2 players, got %v", got)
	}
	// removing again is a no-op
	if again := f.svc.RecomputeSessionStats(ctx, "S2"); again.Action != ActionRemoved || again.RowsRemoved != 0 {
		t.Fatalf("unexpected second removal: %+v", again)
	}
}

func TestUpdateMatchMovesBetweenSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	f.clock.Advance(8 * time.Hour)
	f.submit(t, "A", "C", "A", 2, "Home")

	results, err := f.svc.UpdateMatch(context.Background(), 2, MatchInput{PlayerA: "A", PlayerB: "C", Outcome: "B", Intensity: 5, SessionID: "S1"})
	if err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	if len(results) != 2 || results[0].Action != ActionRemoved || results[1].Action != ActionRecalculated {
		t.Fatalf("unexpected results: %+v", results)
	}
	if got := playerNames(t, f, "S1"); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected S1 players: %v", got)
	}
}

func TestUpdateMatchRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	_, err := f.svc.UpdateMatch(context.Background(), 1, MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "A", Intensity: -1})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "intensity" {
		t.Fatalf("expected intensity ValidationError, got %v", err)
	}
	if _, err := f.svc.DeleteMatch(context.Background(), 9); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestRecomputeAllCollectsPerSessionErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 2, "Home")
	f.clock.Advance(8 * time.Hour)
	f.submit(t, "A", "C", "A", 2, "Home")
	ctx := context.Background()

	// orphan derived rows for a session that has no matches at all
	_ = f.store.Append(ctx, tablestore.TableSessions, tablestore.Row{"ghost", "", "", "1", "1", "0", "0", "1", ""})
	out := f.svc.RecomputeAll(ctx)
	if out.Recalculated != 2 || out.Removed != 1 || len(out.Errors) != 0 {
		t.Fatalf("unexpected bulk result: %+v", out)
	}

	// break writes to SessionPlayers only; each session fails independently
	broken := &flakyStore{Store: f.store, failWrite: map[string]bool{tablestore.TableSessionPlayers: true}}
	f.svc.store = broken
	out = f.svc.RecomputeAll(ctx)
	if len(out.Errors) != 2 || out.Recalculated != 0 {
		t.Fatalf("expected two per-session errors, got %+v", out)
	}
}

// The set of SessionPlayers names equals the set of names in the session's
// matches after reconciliation, across a scripted mix of edits.
func TestNoOrphanPlayersAfterReconcile(t *testing.T) {
	f := newFixture(t, nil, "A", "B", "C", "D")
	ctx := context.Background()
	f.submit(t, "A", "B", "A", 1, "")
	f.submit(t, "C", "D", "Draw", 2, "")
	f.submit(t, "A", "D", "B", 3, "")
	if _, err := f.svc.UpdateMatch(ctx, 2, MatchInput{PlayerA: "A", PlayerB: "B", Outcome: "Draw", Intensity: 2}); err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	if _, err := f.svc.DeleteMatch(ctx, 3); err != nil {
		t.Fatalf("DeleteMatch: %v", err)
	}
	f.svc.RecomputeAll(ctx)

	_, matches, err := f.svc.loadMatches(ctx)
	if err != nil {
		t.Fatalf("loadMatches: %v", err)
	}
	want := map[string]bool{}
	count := 0
	for _, m := range matches {
		if m.Record.SessionID == "S1" {
			want[m.Record.PlayerA] = true
			want[m.Record.PlayerB] = true
			count++
		}
	}
	got := playerNames(t, f, "S1")
	if len(got) != len(want) {
		t.Fatalf("player rows %v do not match participants %v", got, want)
	}
	for _, n := range got {
		if !want[n] {
			t.Fatalf("orphan player row %q", n)
		}
	}
	sessions, _ := f.svc.Sessions(ctx)
	if sessions[0].MatchCount != count {
		t.Fatalf("match count %d != %d rows", sessions[0].MatchCount, count)
	}
}

func TestSaveSessionSummaryRefusesEmptySession(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 1, "")
	res := f.svc.SaveSessionSummary(context.Background(), "ghost")
	if res.Success || !errors.Is(res.Err, ErrNoMatches) {
		t.Fatalf("expected ErrNoMatches, got %+v", res)
	}
	rows := f.rows(t, tablestore.TableSessions)
	if len(rows) != 1 || rows[0].Cell(0) != "S1" {
		t.Fatalf("no row may be created for a session without matches, got %v", rows)
	}
}

func TestSessionIDIsTrimmed(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, "A", "B", "A", 1, "")
	ctx := context.Background()

	res := f.svc.RecomputeSessionStats(ctx, " S1 ")
	if res.Action != ActionRecalculated || res.SessionID != "S1" {
		t.Fatalf("expected S1 recalculated, got %+v", res)
	}
	if saved := f.svc.SaveSessionSummary(ctx, "S1\t"); !saved.Success {
		t.Fatalf("SaveSessionSummary: %v", saved.Err)
	}
	if n, err := f.svc.CleanupStaleSessionPlayers(ctx, " S1"); err != nil || n != 0 {
		t.Fatalf("cleanup: n=%d err=%v", n, err)
	}
	if got := playerNames(t, f, " S1 "); len(got) != 2 {
		t.Fatalf("expected A and B, got %v", got)
	}
	if got := len(f.rows(t, tablestore.TableSessions)); got != 1 {
		t.Fatalf("expected one session row, got %d", got)
	}
}
