// Package tickloop runs the scheduler's main loop: claim due jobs, dispatch
// each to its backend, record the outcome as a Run, and reschedule the
// job's next fire from the moment the dispatch finished rather than from
// when it was claimed.
package tickloop

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/audit"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/clock"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/dispatcher"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// defaultClaimHorizon is how far ClaimDueJobs pushes a claimed job's
// next_run_at forward while it is presumed in flight: long enough that a
// second scheduler replica polling the same store is unlikely to also
// pick the job up, short enough that a crash mid-dispatch only delays the
// job's next real fire by this much.
const defaultClaimHorizon = 30 * time.Second

var tracer = otel.Tracer("goclaw-scheduler/tickloop")

// Caller dispatches one tool call to one backend. Satisfied by
// *dispatcher.Dispatcher; tests substitute an in-process fake.
type Caller interface {
	Call(ctx context.Context, server, tool string, args map[string]any) (dispatcher.CallOutcome, error)
}

// Config controls the loop's cadence, per-tick work bound, and how far
// claimed jobs are pushed forward while in flight.
type Config struct {
	TickInterval   time.Duration
	MaxJobsPerTick int
	ClaimHorizon   time.Duration
}

// Loop is the scheduler's single background worker. One Loop runs on one
// goroutine; Store is the only state shared with the control RPC's
// request handlers.
type Loop struct {
	clock       clock.Clock
	store       store.Store
	dispatcher  Caller
	interceptor *audit.Interceptor
	cfg         Config

	state *stateBox

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New builds a Loop. Call Start to begin ticking.
func New(c clock.Clock, s store.Store, d Caller, interceptor *audit.Interceptor, cfg Config) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.MaxJobsPerTick <= 0 {
		cfg.MaxJobsPerTick = 20
	}
	if cfg.ClaimHorizon <= 0 {
		cfg.ClaimHorizon = defaultClaimHorizon
	}
	return &Loop{
		clock:       c,
		store:       s,
		dispatcher:  d,
		interceptor: interceptor,
		cfg:         cfg,
		state:       newStateBox(c.Now()),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the background goroutine. It returns immediately.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals the loop to exit after its current tick and waits for it to
// do so. Any dispatch in flight when Stop is called runs to completion (or
// its own timeout); the loop does not start a new job once asked to stop.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
	<-l.done
}

// Health returns the current runtime snapshot for scheduler_health.
func (l *Loop) Health() RuntimeState {
	return l.state.load()
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.state.markStopped()

	for {
		tickStart := l.clock.Now()
		summary := l.tick(context.Background())
		l.state.publishTick(l.clock.Now(), summary)

		elapsed := l.clock.Now().Sub(tickStart)
		sleep := clock.NextSleep(l.cfg.TickInterval, elapsed)

		select {
		case <-l.stop:
			return
		default:
		}
		if interrupted := l.clock.Sleep(sleep, l.stop); interrupted {
			return
		}
	}
}

// tick claims due jobs and runs each sequentially, recording a Run no
// matter how the dispatch went. Errors claiming the due set itself are
// logged and swallowed: nothing about a single tick's failure should stop
// the loop from trying again next tick.
func (l *Loop) tick(ctx context.Context) TickSummary {
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	var summary TickSummary

	due, err := l.store.ClaimDueJobs(ctx, l.cfg.MaxJobsPerTick, l.cfg.ClaimHorizon)
	if err != nil {
		slog.Error("tick: claim due jobs failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary
	}
	summary.JobsDue = len(due)
	span.SetAttributes(attribute.Int("scheduler.jobs_due", len(due)))

	for _, job := range due {
		select {
		case <-l.stop:
			return summary
		default:
		}
		ok := l.runOne(ctx, job)
		summary.Executed++
		if ok {
			summary.OK++
		} else {
			summary.Failed++
		}
	}

	return summary
}

// runOne dispatches one job's tool call, records the Run, and advances
// next_run_at from completion time so a slow tool never causes runs to
// pile up faster than it can finish them.
func (l *Loop) runOne(ctx context.Context, job store.Job) bool {
	ctx, span := tracer.Start(ctx, "scheduler.run_job",
		trace.WithAttributes(
			attribute.String("scheduler.job_id", job.ID.String()),
			attribute.String("scheduler.server", job.Server),
			attribute.String("scheduler.tool", job.Tool),
		))
	defer span.End()

	started := l.clock.Now()
	args := job.Args()

	outcome, callErr := l.dispatcher.Call(ctx, job.Server, job.Tool, args)
	finished := l.clock.Now()

	var ok *bool
	var resultJSON *string
	var errText *string

	if callErr != nil {
		msg := callErr.Error()
		errText = &msg
		failed := false
		ok = &failed
		span.RecordError(callErr)
		span.SetStatus(codes.Error, msg)
	} else {
		okVal := outcome.OK
		ok = &okVal
		if outcome.Result != nil {
			if raw, err := json.Marshal(outcome.Result); err == nil {
				s := string(raw)
				resultJSON = &s
			}
		}
		if outcome.ErrorText != "" {
			errText = &outcome.ErrorText
		}
		if !outcome.OK {
			span.SetStatus(codes.Error, outcome.ErrorText)
		}
	}

	run := store.Run{
		JobID:      job.ID,
		StartedAt:  started,
		FinishedAt: &finished,
		OK:         ok,
		ResultJSON: resultJSON,
		Error:      errText,
	}
	if _, err := l.store.RecordRun(ctx, run); err != nil {
		slog.Error("tick: record run failed", "job_id", job.ID, "error", err)
	}

	if err := l.store.SetNextRun(ctx, job.ID, finished.Add(time.Duration(job.IntervalSeconds)*time.Second)); err != nil {
		slog.Error("tick: set next run failed", "job_id", job.ID, "error", err)
	}

	if l.interceptor != nil {
		l.interceptor.PublishRun(ctx, job.ID.String(), ok)
		auditArgs := args
		if callErr == nil {
			auditArgs = outcome.ArgsForAudit
		}
		l.interceptor.Record(ctx, audit.Call{
			Server: job.Server,
			Tool:   job.Tool,
			Args:   auditArgs,
			Source: "scheduler",
		}, audit.Outcome{
			OK:         ok != nil && *ok,
			Result:     outcome.Result,
			ErrorText:  derefOr(errText, ""),
			StartedAt:  started,
			FinishedAt: finished,
		})
	}

	return ok != nil && *ok
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
