package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore implements Store using Postgres. Dequeue relies on
// FOR UPDATE SKIP LOCKED so concurrent workers never claim the same job.
type PGStore struct {
	DB *sql.DB
}

const jobColumns = `id, queue, payload, priority, status, attempts, max_attempts, stall_count, run_at, last_error, locked_by, created_at, started_at, finished_at, heartbeat_at`

// Enqueue inserts a new waiting job.
func (s *PGStore) Enqueue(ctx context.Context, job Job) error {
	const query = `
INSERT INTO queue_jobs (
    id,
    queue,
    payload,
    priority,
    status,
    attempts,
    max_attempts,
    stall_count,
    run_at,
    created_at
) VALUES ($1, $2, $3, $4, $5, 0, $6, 0, $7, $8)`

	_, err := s.DB.ExecContext(
		ctx,
		query,
		job.ID,
		job.Queue,
		[]byte(job.Payload),
		job.Priority,
		StatusWaiting,
		job.MaxAttempts,
		job.RunAt,
		job.CreatedAt,
	)
	return err
}

// Dequeue claims the highest-priority ready job.
func (s *PGStore) Dequeue(ctx context.Context, queue, workerID string, now time.Time) (Job, error) {
	const query = `
UPDATE queue_jobs
SET status = $1, attempts = attempts + 1, locked_by = $2, started_at = $3, heartbeat_at = $3
WHERE id = (
    SELECT id FROM queue_jobs
    WHERE queue = $4 AND status = $5 AND run_at <= $3
    ORDER BY priority, run_at, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + jobColumns

	row := s.DB.QueryRowContext(ctx, query, StatusActive, workerID, now, queue, StatusWaiting)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNoJob
		}
		return Job{}, err
	}
	return job, nil
}

// Heartbeat refreshes an active job's liveness timestamp.
func (s *PGStore) Heartbeat(ctx context.Context, jobID string, at time.Time) error {
	const query = `UPDATE queue_jobs SET heartbeat_at = $1 WHERE id = $2 AND status = $3`
	_, err := s.DB.ExecContext(ctx, query, at, jobID, StatusActive)
	return err
}

// Complete marks a job completed.
func (s *PGStore) Complete(ctx context.Context, jobID string, at time.Time) error {
	const query = `UPDATE queue_jobs SET status = $1, finished_at = $2, locked_by = '' WHERE id = $3`
	res, err := s.DB.ExecContext(ctx, query, StatusCompleted, at, jobID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Fail marks a job terminally failed.
func (s *PGStore) Fail(ctx context.Context, jobID, lastError string, at time.Time) error {
	const query = `UPDATE queue_jobs SET status = $1, finished_at = $2, last_error = $4, locked_by = '' WHERE id = $3`
	res, err := s.DB.ExecContext(ctx, query, StatusFailed, at, jobID, lastError)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Retry returns a job to waiting with a scheduled run time.
func (s *PGStore) Retry(ctx context.Context, jobID, lastError string, runAt time.Time) error {
	const query = `
UPDATE queue_jobs
SET status = $1, run_at = $2, last_error = $3, locked_by = '', heartbeat_at = NULL
WHERE id = $4`
	res, err := s.DB.ExecContext(ctx, query, StatusWaiting, runAt, lastError, jobID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// RequeueStalled recovers active jobs with stale heartbeats: jobs under
// maxStalls return to waiting, repeat offenders fail.
func (s *PGStore) RequeueStalled(ctx context.Context, queue string, cutoff time.Time, maxStalls int, now time.Time) ([]Job, []Job, error) {
	const requeueQuery = `
UPDATE queue_jobs
SET status = $1, run_at = $2, stall_count = stall_count + 1, locked_by = '', heartbeat_at = NULL, last_error = 'stalled'
WHERE queue = $3 AND status = $4 AND (heartbeat_at IS NULL OR heartbeat_at < $5) AND stall_count < $6
RETURNING ` + jobColumns

	requeued, err := s.queryJobs(ctx, requeueQuery, StatusWaiting, now, queue, StatusActive, cutoff, maxStalls)
	if err != nil {
		return nil, nil, err
	}

	const failQuery = `
UPDATE queue_jobs
SET status = $1, finished_at = $2, locked_by = '', last_error = 'stalled repeatedly'
WHERE queue = $3 AND status = $4 AND (heartbeat_at IS NULL OR heartbeat_at < $5) AND stall_count >= $6
RETURNING ` + jobColumns

	failed, err := s.queryJobs(ctx, failQuery, StatusFailed, now, queue, StatusActive, cutoff, maxStalls)
	if err != nil {
		return nil, nil, err
	}

	return requeued, failed, nil
}

// Counts summarizes the queue's jobs.
func (s *PGStore) Counts(ctx context.Context, queue string, now time.Time) (Counts, error) {
	const query = `
SELECT
    COUNT(*) FILTER (WHERE status = 'waiting' AND run_at <= $2),
    COUNT(*) FILTER (WHERE status = 'active'),
    COUNT(*) FILTER (WHERE status = 'completed'),
    COUNT(*) FILTER (WHERE status = 'failed'),
    COUNT(*) FILTER (WHERE status = 'waiting' AND run_at > $2)
FROM queue_jobs
WHERE queue = $1`

	var counts Counts
	err := s.DB.QueryRowContext(ctx, query, queue, now).Scan(
		&counts.Waiting,
		&counts.Active,
		&counts.Completed,
		&counts.Failed,
		&counts.Delayed,
	)
	if err != nil {
		return Counts{}, err
	}
	counts.Total = counts.Waiting + counts.Active + counts.Completed + counts.Failed + counts.Delayed
	return counts, nil
}

// Cleanup removes old terminal job records.
func (s *PGStore) Cleanup(ctx context.Context, queue string, completedBefore, failedBefore time.Time) (int64, error) {
	const query = `
DELETE FROM queue_jobs
WHERE queue = $1 AND (
    (status = 'completed' AND finished_at < $2)
    OR (status = 'failed' AND finished_at < $3)
)`
	res, err := s.DB.ExecContext(ctx, query, queue, completedBefore, failedBefore)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

func (s *PGStore) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var payload []byte
	var lastError sql.NullString
	var lockedBy sql.NullString
	var startedAt, finishedAt, heartbeatAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.Queue,
		&payload,
		&job.Priority,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.StallCount,
		&job.RunAt,
		&lastError,
		&lockedBy,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&heartbeatAt,
	); err != nil {
		return Job{}, err
	}
	job.Payload = payload
	if lastError.Valid {
		job.LastError = lastError.String
	}
	if lockedBy.Valid {
		job.LockedBy = lockedBy.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if heartbeatAt.Valid {
		job.HeartbeatAt = &heartbeatAt.Time
	}
	return job, nil
}

var _ Store = (*PGStore)(nil)
