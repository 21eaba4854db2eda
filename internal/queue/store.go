package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoJob is returned by Dequeue when no job is ready.
var ErrNoJob = errors.New("no job available")

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// Store persists queue jobs. Implementations must make Dequeue safe under
// concurrent workers: a ready job is handed to exactly one caller.
type Store interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue claims the highest-priority ready job: status waiting and
	// RunAt <= now, ordered by (priority, run_at, created_at). Claiming
	// moves the job to active and increments Attempts.
	Dequeue(ctx context.Context, queue, workerID string, now time.Time) (Job, error)
	Heartbeat(ctx context.Context, jobID string, at time.Time) error
	Complete(ctx context.Context, jobID string, at time.Time) error
	Fail(ctx context.Context, jobID, lastError string, at time.Time) error
	// Retry reschedules a failed attempt: the job returns to waiting with
	// the given RunAt, keeping its attempt count.
	Retry(ctx context.Context, jobID, lastError string, runAt time.Time) error
	// RequeueStalled recovers active jobs whose heartbeat is older than
	// cutoff: jobs under maxStalls go back to waiting, the rest fail.
	RequeueStalled(ctx context.Context, queue string, cutoff time.Time, maxStalls int, now time.Time) (requeued, failed []Job, err error)
	Counts(ctx context.Context, queue string, now time.Time) (Counts, error)
	// Cleanup deletes completed jobs finished before completedBefore and
	// failed jobs finished before failedBefore, returning the number removed.
	Cleanup(ctx context.Context, queue string, completedBefore, failedBefore time.Time) (int64, error)
}
