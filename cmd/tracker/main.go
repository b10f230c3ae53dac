// tracker - head-to-head match log with derived session views
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/texican/chess-tracker/internal/apiclient"
	appcfg "github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/httpapi"
	"github.com/texican/chess-tracker/internal/metrics"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/reconcilejob"
	"github.com/texican/chess-tracker/internal/service/sessions"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "submit":
		cmdSubmit(os.Args[2:])
	case "recompute":
		cmdRecompute(os.Args[2:])
	case "recompute-all":
		cmdRecomputeAll(os.Args[2:])
	case "sessions":
		cmdSessions(os.Args[2:])
	case "version":
		fmt.Printf("tracker %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tracker <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                  Start the HTTP API and periodic reconciliation")
	fmt.Println("  submit -a A -b B -o OUTCOME [flags]    Record a match")
	fmt.Println("  recompute <session-id>                 Rebuild one session's derived rows")
	fmt.Println("  recompute-all                          Rebuild every session's derived rows")
	fmt.Println("  sessions [--players <session-id>]      List sessions or one session's players")
	fmt.Println("  version                                Show version")
	fmt.Println("  help                                   Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --server <url>     Talk to a running tracker instead of opening the store directly")
	fmt.Println()
	fmt.Println("Configuration is read from the environment and .env:")
	fmt.Println("  STORE_BACKEND, DATABASE_URL, SQLITE_PATH, REDIS_URL, HTTP_ADDR,")
	fmt.Println("  ROSTER, ROSTER_FILE, SESSION_GAP_HOURS, RECONCILE_INTERVAL, LOG_*")
}

// engine is the locally opened store plus service.
type engine struct {
	cfg      *appcfg.AppConfig
	settings *appcfg.Provider
	svc      *sessions.Service
	closers  []func() error
}

func (e *engine) Close() {
	e.settings.Close()
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			obslog.L().Warn("close_error", zap.Error(err))
		}
	}
	obslog.Sync()
}

func openEngine(ctx context.Context, opts ...sessions.Option) *engine {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	settings, err := appcfg.NewProvider(cfg)
	if err != nil {
		log.Fatalf("roster error: %v", err)
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	svc, err := sessions.NewService(store, settings, opts...)
	if err != nil {
		log.Fatalf("service init error: %v", err)
	}
	return &engine{cfg: cfg, settings: settings, svc: svc, closers: []func() error{closeStore}}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default HTTP_ADDR or :8080)")
	interval := fs.Duration("reconcile-interval", -1, "bulk reconciliation period, 0 disables (default RECONCILE_INTERVAL)")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	eng := openEngine(ctx, sessions.WithMetrics(m))
	defer eng.Close()

	if err := eng.settings.Watch(ctx); err != nil {
		obslog.L().Warn("roster_watch_disabled", zap.Error(err))
	}

	every := eng.cfg.ReconcileInterval
	if *interval >= 0 {
		every = *interval
	}
	if every > 0 {
		job, err := reconcilejob.Start(ctx, eng.svc, every)
		if err != nil {
			log.Fatalf("reconcile job error: %v", err)
		}
		defer func() { _ = job.Stop() }()
	}

	listen := eng.cfg.HTTPAddr
	if *addr != "" {
		listen = *addr
	}
	srv := httpapi.New(eng.svc, httpapi.WithMetrics(m))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(listen) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("http_server_error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("http_shutdown_error", zap.Error(err))
	}
}

func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", "", "base URL of a running tracker")
	var in sessions.MatchInput
	fs.StringVarP(&in.PlayerA, "player-a", "a", "", "player A")
	fs.StringVarP(&in.PlayerB, "player-b", "b", "", "player B")
	fs.StringVarP(&in.Outcome, "outcome", "o", "", "A, B, Draw or a player's name")
	fs.IntVarP(&in.Intensity, "intensity", "i", 0, "intensity 0-5")
	fs.StringVar(&in.Venue, "venue", "", "venue label")
	fs.StringVar(&in.Notes, "notes", "", "free text")
	fs.StringVar(&in.Submitter, "submitter", os.Getenv("USER"), "who recorded the match")
	at := fs.String("at", "", "match time (RFC3339, default now)")
	fs.Parse(args)

	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatalf("invalid --at: %v", err)
		}
		in.Timestamp = ts
	}

	ctx := context.Background()
	if *server != "" {
		res, err := apiclient.New(*server).Submit(ctx, in)
		if err != nil {
			log.Fatalf("submit error: %v", err)
		}
		printSubmit(res.Match.SessionID, res.Reason, res.SummarySaved, res.SummaryFailure)
		return
	}

	eng := openEngine(ctx)
	defer eng.Close()
	res, err := eng.svc.SubmitMatch(ctx, in)
	if err != nil {
		var verr *sessions.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "Invalid match: %v\n", verr)
			os.Exit(2)
		}
		log.Fatalf("submit error: %v", err)
	}
	failure := ""
	if res.Summary.Err != nil {
		failure = res.Summary.Err.Error()
	}
	printSubmit(res.Record.SessionID, string(res.Assignment.Reason), res.Summary.Success, failure)
}

func printSubmit(sessionID, reason string, saved bool, failure string) {
	fmt.Printf("Recorded in session %s (%s)\n", sessionID, reason)
	if !saved {
		fmt.Printf("Warning: session summary not updated: %s\n", failure)
		fmt.Println("Run 'tracker recompute " + sessionID + "' to repair it.")
	}
}

func cmdRecompute(args []string) {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	server := fs.String("server", "", "base URL of a running tracker")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tracker recompute <session-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	ctx := context.Background()

	if *server != "" {
		res, err := apiclient.New(*server).Recompute(ctx, id)
		if err != nil {
			log.Fatalf("recompute error: %v", err)
		}
		printReconcile(res.SessionID, res.Action, res.StaleRemoved, res.RowsRemoved, res.Error)
		return
	}

	eng := openEngine(ctx)
	defer eng.Close()
	res := eng.svc.RecomputeSessionStats(ctx, id)
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	printReconcile(res.SessionID, string(res.Action), res.StaleRemoved, res.RowsRemoved, errText)
	if res.Action == sessions.ActionError {
		os.Exit(1)
	}
}

func printReconcile(id, action string, stale, removed int, errText string) {
	switch action {
	case string(sessions.ActionRemoved):
		fmt.Printf("%s: removed (%d derived rows deleted)\n", id, removed)
	case string(sessions.ActionRecalculated):
		fmt.Printf("%s: recalculated (%d stale player rows pruned)\n", id, stale)
	default:
		fmt.Printf("%s: error: %s\n", id, errText)
	}
}

func cmdRecomputeAll(args []string) {
	fs := flag.NewFlagSet("recompute-all", flag.ExitOnError)
	server := fs.String("server", "", "base URL of a running tracker")
	fs.Parse(args)
	ctx := context.Background()

	if *server != "" {
		res, err := apiclient.New(*server).RecomputeAll(ctx)
		if err != nil {
			log.Fatalf("recompute error: %v", err)
		}
		fmt.Printf("Recalculated: %d  Removed: %d  Errors: %d\n", res.Recalculated, res.Removed, len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  %s: %s\n", e.SessionID, e.Error)
		}
		return
	}

	eng := openEngine(ctx)
	defer eng.Close()
	res := eng.svc.RecomputeAll(ctx)
	fmt.Printf("Recalculated: %d  Removed: %d  Errors: %d\n", res.Recalculated, res.Removed, len(res.Errors))
	for _, e := range res.Errors {
		fmt.Printf("  %s\n", e.Error())
	}
	if len(res.Errors) > 0 {
		os.Exit(1)
	}
}

func cmdSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	server := fs.String("server", "", "base URL of a running tracker")
	players := fs.String("players", "", "show per-player rows for this session")
	fs.Parse(args)
	ctx := context.Background()

	var (
		list []httpapi.SessionView
		rows []httpapi.PlayerView
	)
	if *server != "" {
		c := apiclient.New(*server)
		var err error
		if *players != "" {
			rows, err = c.SessionPlayers(ctx, *players)
		} else {
			list, err = c.Sessions(ctx)
		}
		if err != nil {
			log.Fatalf("sessions error: %v", err)
		}
	} else {
		eng := openEngine(ctx)
		defer eng.Close()
		if *players != "" {
			stats, err := eng.svc.SessionPlayers(ctx, *players)
			if err != nil {
				log.Fatalf("sessions error: %v", err)
			}
			for _, p := range stats {
				rows = append(rows, httpapi.PlayerView{
					Player: p.Player, Matches: p.Matches, Wins: p.Wins, Losses: p.Losses,
					Draws: p.Draws, Inflicted: p.Inflicted, Suffered: p.Suffered,
				})
			}
		} else {
			summaries, err := eng.svc.Sessions(ctx)
			if err != nil {
				log.Fatalf("sessions error: %v", err)
			}
			for _, s := range summaries {
				list = append(list, httpapi.SessionView(s))
			}
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if *players != "" {
		fmt.Fprintln(w, "PLAYER\tMATCHES\tW\tL\tD\tINFLICTED\tSUFFERED")
		for _, p := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", p.Player, p.Matches, p.Wins, p.Losses, p.Draws, p.Inflicted, p.Suffered)
		}
	} else {
		fmt.Fprintln(w, "SESSION\tSTART\tEND\tMATCHES\tA\tB\tDRAW\tAVG")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.2f\n",
				s.SessionID, formatWhen(s.StartTime), formatWhen(s.EndTime),
				s.MatchCount, s.AWins, s.BWins, s.Draws, s.AvgIntensity)
		}
	}
	w.Flush()
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
