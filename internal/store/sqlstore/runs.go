package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func (s *SQLStore) RecordRun(ctx context.Context, run store.Run) (store.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = store.GenNewID()
	}
	q := s.db.Rebind(`INSERT INTO runs (id, job_id, started_at, finished_at, ok, result_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		run.ID, run.JobID, run.StartedAt, nilTime(run.FinishedAt), run.OK, run.ResultJSON, run.Error)
	if err != nil {
		return store.Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

func (s *SQLStore) ListRuns(ctx context.Context, jobID *uuid.UUID, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []store.Run
	if jobID != nil {
		q := s.db.Rebind(`SELECT id, job_id, started_at, finished_at, ok, result_json, error
			FROM runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`)
		if err := s.db.SelectContext(ctx, &runs, q, *jobID, limit); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		return runs, nil
	}

	q := s.db.Rebind(`SELECT id, job_id, started_at, finished_at, ok, result_json, error
		FROM runs ORDER BY started_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, q, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
