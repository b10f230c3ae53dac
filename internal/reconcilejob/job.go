package reconcilejob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/service/sessions"
	"go.uber.org/zap"
)

// Recomputer is the part of the session service the job drives.
type Recomputer interface {
	RecomputeAll(ctx context.Context) sessions.BulkResult
}

// Job periodically rebuilds every session's derived rows so that failed
// summary writes heal without operator action.
type Job struct {
	sched  gocron.Scheduler
	cancel context.CancelFunc
}

// Start schedules RecomputeAll every interval, beginning immediately. Runs never
// overlap; a run still in progress when the next is due pushes it back.
func Start(ctx context.Context, r Recomputer, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		return nil, errors.New("reconcile interval must be positive")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			res := r.RecomputeAll(runCtx)
			if len(res.Errors) > 0 {
				for _, e := range res.Errors {
					obslog.L().Warn("reconcile_job_session_error", zap.String("session_id", e.SessionID), zap.Error(e.Err))
				}
			}
			obslog.L().Info("reconcile_job_run",
				zap.Int("recalculated", res.Recalculated),
				zap.Int("removed", res.Removed),
				zap.Int("errors", len(res.Errors)),
			)
		}),
		gocron.WithName("recompute-all"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule reconcile job: %w", err)
	}
	sched.Start()
	obslog.L().Info("reconcile_job_started", zap.Duration("interval", interval))
	return &Job{sched: sched, cancel: cancel}, nil
}

// Stop cancels a running pass and waits for the scheduler to wind down.
func (j *Job) Stop() error {
	j.cancel()
	return j.sched.Shutdown()
}
