package tickloop

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/clock"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/dispatcher"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store/storetest"
)

// fakeCaller scripts dispatch outcomes per backend name.
type fakeCaller struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]dispatcher.CallOutcome
	errs     map[string]error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		outcomes: make(map[string]dispatcher.CallOutcome),
		errs:     make(map[string]error),
	}
}

func (f *fakeCaller) Call(ctx context.Context, server, tool string, args map[string]any) (dispatcher.CallOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, server+"/"+tool)
	f.mu.Unlock()
	if err, ok := f.errs[server]; ok {
		return dispatcher.CallOutcome{ArgsForAudit: args}, err
	}
	if outcome, ok := f.outcomes[server]; ok {
		return outcome, nil
	}
	return dispatcher.CallOutcome{OK: true, Result: map[string]any{"ok": true}, ArgsForAudit: args}, nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dueJob(t *testing.T, s *storetest.MemStore, server string) store.Job {
	t.Helper()
	job, err := s.UpsertJob(context.Background(), store.Job{
		Label:           server + " check",
		Server:          server,
		Tool:            "health_check",
		IntervalSeconds: 60,
		Enabled:         true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if err := s.SetNextRun(context.Background(), job.ID, past); err != nil {
		t.Fatalf("set next run: %v", err)
	}
	job.NextRunAt = &past
	return *job
}

func newTestLoop(s store.Store, caller Caller, cfg Config) *Loop {
	return New(clock.Real{}, s, caller, nil, cfg)
}

func TestTickRecordsRunForEveryDueJob(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	jobA := dueJob(t, s, "docker")
	jobB := dueJob(t, s, "jenkins")

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	summary := l.tick(context.Background())

	if summary.JobsDue != 2 || summary.Executed != 2 || summary.OK != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, job := range []store.Job{jobA, jobB} {
		runs, err := s.ListRuns(context.Background(), &job.ID, 10)
		if err != nil {
			t.Fatalf("list runs: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("job %s: got %d runs, want 1", job.Server, len(runs))
		}
		if runs[0].OK == nil || !*runs[0].OK {
			t.Errorf("job %s: run OK = %v, want true", job.Server, runs[0].OK)
		}
		if runs[0].FinishedAt == nil {
			t.Errorf("job %s: run has no FinishedAt", job.Server)
		}
	}
}

func TestTickRecordsFailedDispatchAsFailedRun(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	caller.outcomes["docker"] = dispatcher.CallOutcome{
		OK:        false,
		Result:    map[string]any{"ok": false, "error": "connection refused"},
		ErrorText: "connection refused",
	}
	job := dueJob(t, s, "docker")

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	summary := l.tick(context.Background())

	if summary.Failed != 1 || summary.OK != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	runs, _ := s.ListRuns(context.Background(), &job.ID, 10)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].OK == nil || *runs[0].OK {
		t.Errorf("run OK = %v, want false", runs[0].OK)
	}
	if runs[0].Error == nil || !strings.Contains(*runs[0].Error, "connection refused") {
		t.Errorf("run error = %v, want transport failure text", runs[0].Error)
	}
}

func TestTickRecordsDispatcherErrorAsRun(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	caller.errs["ghost"] = dispatcher.ErrUnknownBackend
	job := dueJob(t, s, "ghost")

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	l.tick(context.Background())

	runs, _ := s.ListRuns(context.Background(), &job.ID, 10)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Error == nil || !strings.Contains(*runs[0].Error, "unknown backend") {
		t.Errorf("run error = %v, want unknown backend", runs[0].Error)
	}
}

func TestTickAdvancesNextRunFromCompletion(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	job := dueJob(t, s, "docker")

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	before := time.Now().UTC()
	l.tick(context.Background())

	fresh, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.NextRunAt == nil {
		t.Fatal("next_run_at cleared by tick")
	}
	wantEarliest := before.Add(time.Duration(job.IntervalSeconds) * time.Second)
	if fresh.NextRunAt.Before(wantEarliest.Add(-time.Second)) {
		t.Errorf("next_run_at = %v, want at least completion + interval (~%v)", fresh.NextRunAt, wantEarliest)
	}
}

func TestTickSurvivesClaimFailure(t *testing.T) {
	s := storetest.New()
	s.FailClaims = true
	caller := newFakeCaller()

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	summary := l.tick(context.Background())

	if summary.Executed != 0 {
		t.Fatalf("unexpected summary after claim failure: %+v", summary)
	}
	if caller.callCount() != 0 {
		t.Fatalf("dispatched %d calls despite claim failure", caller.callCount())
	}
}

func TestClaimFairnessAcrossTicks(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	jobs := make([]store.Job, 0, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		jobs = append(jobs, dueJob(t, s, name))
	}

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 2})
	// ceil(5/2) = 3 ticks must reach every job at least once.
	for i := 0; i < 3; i++ {
		l.tick(context.Background())
	}

	for _, job := range jobs {
		runs, _ := s.ListRuns(context.Background(), &job.ID, 10)
		if len(runs) == 0 {
			t.Errorf("job %s never fired within 3 ticks at max 2 per tick", job.Server)
		}
	}
}

func TestStopExitsPromptlyAndMarksThreadDead(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()

	l := newTestLoop(s, caller, Config{TickInterval: 50 * time.Millisecond, MaxJobsPerTick: 5})
	l.Start()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return within the shutdown bound")
	}

	if l.Health().ThreadAlive {
		t.Error("ThreadAlive still true after Stop")
	}
}

func TestHealthSnapshotReflectsLastTick(t *testing.T) {
	s := storetest.New()
	caller := newFakeCaller()
	dueJob(t, s, "docker")

	l := newTestLoop(s, caller, Config{TickInterval: time.Second, MaxJobsPerTick: 10})
	summary := l.tick(context.Background())
	l.state.publishTick(time.Now().UTC(), summary)

	state := l.Health()
	if !state.ThreadAlive {
		t.Error("expected ThreadAlive before Stop")
	}
	if state.LastTickAt.IsZero() {
		t.Error("LastTickAt not published")
	}
	if state.LastTickSummary.Executed != 1 {
		t.Errorf("LastTickSummary = %+v, want Executed 1", state.LastTickSummary)
	}
}
