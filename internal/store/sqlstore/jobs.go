package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

const minIntervalSeconds = 5
const defaultLabel = "Untitled"

func (s *SQLStore) ListJobs(ctx context.Context) ([]store.Job, error) {
	var jobs []store.Job
	q := s.db.Rebind(`SELECT id, label, server, tool, args_json, interval_seconds, enabled, next_run_at, created_at, updated_at
		FROM jobs ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &jobs, q); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLStore) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	var job store.Job
	q := s.db.Rebind(`SELECT id, label, server, tool, args_json, interval_seconds, enabled, next_run_at, created_at, updated_at
		FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &job, q, id); err != nil {
		if isNoRows(err) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// UpsertJob creates the job when ID is uuid.Nil, otherwise patches an
// existing row. Intervals are floored at 5s, a blank label becomes
// "Untitled", a job with no schedule gets now + interval_seconds, and an
// update never overwrites a pending NextRunAt.
func (s *SQLStore) UpsertJob(ctx context.Context, job store.Job) (*store.Job, error) {
	if job.IntervalSeconds < minIntervalSeconds {
		job.IntervalSeconds = minIntervalSeconds
	}
	job.Label = strings.TrimSpace(job.Label)
	job.Server = strings.TrimSpace(job.Server)
	job.Tool = strings.TrimSpace(job.Tool)
	if job.Label == "" {
		job.Label = defaultLabel
	}
	job.ArgsJSON = jsonOrEmpty(job.ArgsJSON)

	now := nowUTC()

	if job.ID == uuid.Nil {
		job.ID = store.GenNewID()
		job.CreatedAt = now
		job.UpdatedAt = now
		if job.NextRunAt == nil {
			first := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
			job.NextRunAt = &first
		}

		q := s.db.Rebind(`INSERT INTO jobs
			(id, label, server, tool, args_json, interval_seconds, enabled, next_run_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := s.db.ExecContext(ctx, q,
			job.ID, job.Label, job.Server, job.Tool, job.ArgsJSON, job.IntervalSeconds,
			job.Enabled, job.NextRunAt, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		return &job, nil
	}

	existing, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	nextRunAt := existing.NextRunAt
	if nextRunAt == nil {
		nextRunAt = job.NextRunAt
	}
	if nextRunAt == nil {
		first := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		nextRunAt = &first
	}

	updates := map[string]any{
		"label":            job.Label,
		"server":           job.Server,
		"tool":             job.Tool,
		"args_json":        job.ArgsJSON,
		"interval_seconds": job.IntervalSeconds,
		"enabled":          job.Enabled,
		"next_run_at":      nextRunAt,
		"updated_at":       now,
	}
	if err := execMapUpdate(ctx, s.db, "jobs", "id", job.ID, updates); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return s.GetJob(ctx, job.ID)
}

func (s *SQLStore) DeleteJob(ctx context.Context, id uuid.UUID) (bool, error) {
	q := s.db.Rebind(`DELETE FROM jobs WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ClaimDueJobs selects due jobs and, in the same transaction, pushes each
// claimed row's NextRunAt forward by claimHorizon. This is a best-effort
// claim: it is not a distributed lock, and concurrent scheduler replicas
// may both observe the same row as due before either transaction commits.
func (s *SQLStore) ClaimDueJobs(ctx context.Context, limit int, claimHorizon time.Duration) ([]store.Job, error) {
	if limit <= 0 {
		limit = 20
	}

	var claimed []store.Job
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		now := nowUTC()

		q := tx.Rebind(`SELECT id, label, server, tool, args_json, interval_seconds, enabled, next_run_at, created_at, updated_at
			FROM jobs
			WHERE enabled = ? AND (next_run_at IS NULL OR next_run_at <= ?)
			ORDER BY (next_run_at IS NULL) DESC, next_run_at ASC
			LIMIT ?`)
		if err := tx.SelectContext(ctx, &claimed, q, true, now, limit); err != nil {
			return fmt.Errorf("select due jobs: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		claimUntil := now.Add(claimHorizon)
		updateQ := tx.Rebind(`UPDATE jobs SET next_run_at = ? WHERE id = ?`)
		for i := range claimed {
			if _, err := tx.ExecContext(ctx, updateQ, claimUntil, claimed[i].ID); err != nil {
				return fmt.Errorf("push claim horizon: %w", err)
			}
			claimed[i].NextRunAt = &claimUntil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLStore) SetNextRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := s.db.Rebind(`UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, at, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	return nil
}
