package apiclient

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/httpapi"
	"github.com/texican/chess-tracker/internal/service/sessions"
	"github.com/texican/chess-tracker/internal/tablestore"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func serve(t *testing.T, h fasthttp.RequestHandler) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, h) }()
	t.Cleanup(func() { _ = ln.Close() })
	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func TestClientAgainstServer(t *testing.T) {
	svc, err := sessions.NewService(tablestore.NewMemoryStore(),
		config.StaticProvider(config.Tracker{Roster: []string{"Ann", "Bo"}, GapHours: 6}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	c := New("http://tracker", WithHTTPClient(serve(t, httpapi.New(svc).Handler())))
	ctx := context.Background()

	sub, err := c.Submit(ctx, sessions.MatchInput{PlayerA: "Ann", PlayerB: "Bo", Outcome: "Bo", Intensity: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Match.Outcome != "B" || !sub.SummarySaved {
		t.Fatalf("unexpected submit: %+v", sub)
	}
	list, err := c.Sessions(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("Sessions: %v %+v", err, list)
	}
	players, err := c.SessionPlayers(ctx, sub.Match.SessionID)
	if err != nil || len(players) != 2 {
		t.Fatalf("SessionPlayers: %v %+v", err, players)
	}
	if r, err := c.Recompute(ctx, sub.Match.SessionID); err != nil || r.Action != "recalculated" {
		t.Fatalf("Recompute: %v %+v", err, r)
	}
	if r, err := c.DeleteMatch(ctx, 1); err != nil || r.Action != "removed" {
		t.Fatalf("DeleteMatch: %v %+v", err, r)
	}
	if b, err := c.RecomputeAll(ctx); err != nil || b.Recalculated != 0 {
		t.Fatalf("RecomputeAll: %v %+v", err, b)
	}

	_, err = c.Submit(ctx, sessions.MatchInput{PlayerA: "Ann", PlayerB: "Ann", Outcome: "A"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
}

func TestClientRetriesIdempotentCalls(t *testing.T) {
	var calls atomic.Int32
	hc := serve(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"recalculated":2,"removed":1}`)
	})
	c := New("http://tracker", WithHTTPClient(hc), WithRetry(3), WithTimeout(2*time.Second))
	b, err := c.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if b.Recalculated != 2 || b.Removed != 1 || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", b, calls.Load())
	}
}

func TestClientDoesNotRetrySubmit(t *testing.T) {
	var calls atomic.Int32
	hc := serve(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	c := New("http://tracker", WithHTTPClient(hc), WithRetry(3))
	if _, err := c.Submit(context.Background(), sessions.MatchInput{PlayerA: "Ann", PlayerB: "Bo", Outcome: "A"}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("submit retried %d times", calls.Load())
	}
}

func TestBackoffDuration(t *testing.T) {
	if backoffDuration(1) != 100*time.Millisecond || backoffDuration(3) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff")
	}
	if backoffDuration(10) != backoffDuration(6) {
		t.Fatalf("backoff should cap")
	}
}
