package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open("sqlite://:memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertJobDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{
		Server:          "docker",
		Tool:            "health_check",
		IntervalSeconds: 1,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if job.Label != "Untitled" {
		t.Errorf("label = %q, want Untitled", job.Label)
	}
	if job.IntervalSeconds != minIntervalSeconds {
		t.Errorf("interval = %d, want floored to %d", job.IntervalSeconds, minIntervalSeconds)
	}
	if job.NextRunAt == nil {
		t.Fatal("expected NextRunAt to be initialized on create")
	}
	wantFirst := nowUTC().Add(time.Duration(minIntervalSeconds) * time.Second)
	if diff := wantFirst.Sub(*job.NextRunAt); diff < -time.Second || diff > time.Second {
		t.Errorf("NextRunAt = %v, want about now + interval (%v)", job.NextRunAt, wantFirst)
	}
}

func TestUpsertJobPreservesPendingSchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{Server: "docker", Tool: "health_check", IntervalSeconds: 60})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	originalNext := *job.NextRunAt

	time.Sleep(2 * time.Millisecond)
	job.Label = "Renamed"
	updated, err := s.UpsertJob(ctx, *job)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.NextRunAt.Equal(originalNext) {
		t.Errorf("update clobbered pending NextRunAt: got %v, want %v", updated.NextRunAt, originalNext)
	}
	if updated.Label != "Renamed" {
		t.Errorf("label not updated: %q", updated.Label)
	}
}

func TestClaimDueJobsPushesHorizonForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{Server: "docker", Tool: "health_check", IntervalSeconds: 60, Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	past := nowUTC().Add(-time.Minute)
	if err := s.SetNextRun(ctx, job.ID, past); err != nil {
		t.Fatalf("set next run: %v", err)
	}

	claimed, err := s.ClaimDueJobs(ctx, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}

	again, err := s.ClaimDueJobs(ctx, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("job claimed twice in a row: %d", len(again))
	}

	fresh, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !fresh.NextRunAt.After(nowUTC()) {
		t.Errorf("next_run_at not pushed into the future: %v", fresh.NextRunAt)
	}
}

func TestDeleteJobReportsWhetherARowWasRemoved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{Server: "docker", Tool: "health_check", IntervalSeconds: 60})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.DeleteJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("delete first time: ok=%v err=%v", ok, err)
	}
	ok, err = s.DeleteJob(ctx, job.ID)
	if err != nil || ok {
		t.Fatalf("delete second time: ok=%v err=%v, want false", ok, err)
	}
}

func TestRecordRunAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{Server: "docker", Tool: "health_check", IntervalSeconds: 60})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ok := true
	result := `{"ok":true}`
	_, err = s.RecordRun(ctx, store.Run{
		JobID:      job.ID,
		StartedAt:  nowUTC(),
		OK:         &ok,
		ResultJSON: &result,
	})
	if err != nil {
		t.Fatalf("record run: %v", err)
	}

	runs, err := s.ListRuns(ctx, &job.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].OK == nil || !*runs[0].OK {
		t.Errorf("run OK = %v, want true", runs[0].OK)
	}
}

func TestDeleteJobPreservesRunHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.UpsertJob(ctx, store.Job{Server: "docker", Tool: "health_check", IntervalSeconds: 60})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok := true
	if _, err := s.RecordRun(ctx, store.Run{JobID: job.ID, StartedAt: nowUTC(), OK: &ok}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	if deleted, err := s.DeleteJob(ctx, job.ID); err != nil || !deleted {
		t.Fatalf("delete: ok=%v err=%v", deleted, err)
	}

	runs, err := s.ListRuns(ctx, &job.ID, 10)
	if err != nil {
		t.Fatalf("list runs after delete: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("run history lost on job delete: got %d runs, want 1", len(runs))
	}
}

func TestAuditEntryLifecycleAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordAuditEntry(ctx, store.AuditEntry{
		Server:        "docker",
		Tool:          "health_check",
		ArgsJSON:      `{}`,
		OK:            true,
		ResultPreview: "ok",
		DurationMS:    12,
	})
	if err != nil {
		t.Fatalf("record audit: %v", err)
	}

	entries, err := s.ListAuditEntries(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	stats, err := s.ToolCallStats(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("tool call stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Calls != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	hourly, err := s.HourlyStats(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("hourly stats: %v", err)
	}
	if len(hourly) != 1 || hourly[0].Calls != 1 || hourly[0].OKCount != 1 {
		t.Fatalf("unexpected hourly stats: %+v", hourly)
	}
	if hourly[0].HourStart.Minute() != 0 || hourly[0].HourStart.Second() != 0 {
		t.Errorf("hour bucket not aligned: %v", hourly[0].HourStart)
	}

	n, err := s.CleanupOldLogs(ctx, nowUTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleanup removed %d rows, want 1", n)
	}
}
