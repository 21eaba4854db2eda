package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used for dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seq  int64
	jobs map[string]*memoryJob
}

type memoryJob struct {
	Job
	seq int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memoryJob)}
}

// Enqueue stores a new waiting job.
func (s *MemoryStore) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.Status = StatusWaiting
	s.jobs[job.ID] = &memoryJob{Job: job, seq: s.seq}
	return nil
}

// Dequeue claims the highest-priority ready job.
func (s *MemoryStore) Dequeue(ctx context.Context, queue, workerID string, now time.Time) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*memoryJob
	for _, j := range s.jobs {
		if j.Queue == queue && j.Status == StatusWaiting && !j.RunAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return Job{}, ErrNoJob
	}
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.RunAt.Equal(b.RunAt) {
			return a.RunAt.Before(b.RunAt)
		}
		return a.seq < b.seq
	})

	picked := candidates[0]
	picked.Status = StatusActive
	picked.Attempts++
	picked.LockedBy = workerID
	started := now
	picked.StartedAt = &started
	beat := now
	picked.HeartbeatAt = &beat
	return picked.Job, nil
}

// Heartbeat refreshes an active job's liveness timestamp.
func (s *MemoryStore) Heartbeat(ctx context.Context, jobID string, at time.Time) error {
	return s.update(ctx, jobID, func(j *memoryJob) {
		if j.Status == StatusActive {
			beat := at
			j.HeartbeatAt = &beat
		}
	})
}

// Complete marks a job completed.
func (s *MemoryStore) Complete(ctx context.Context, jobID string, at time.Time) error {
	return s.update(ctx, jobID, func(j *memoryJob) {
		j.Status = StatusCompleted
		finished := at
		j.FinishedAt = &finished
		j.LockedBy = ""
	})
}

// Fail marks a job terminally failed.
func (s *MemoryStore) Fail(ctx context.Context, jobID, lastError string, at time.Time) error {
	return s.update(ctx, jobID, func(j *memoryJob) {
		j.Status = StatusFailed
		j.LastError = lastError
		finished := at
		j.FinishedAt = &finished
		j.LockedBy = ""
	})
}

// Retry returns a job to waiting with a scheduled run time.
func (s *MemoryStore) Retry(ctx context.Context, jobID, lastError string, runAt time.Time) error {
	return s.update(ctx, jobID, func(j *memoryJob) {
		j.Status = StatusWaiting
		j.LastError = lastError
		j.RunAt = runAt
		j.LockedBy = ""
		j.HeartbeatAt = nil
	})
}

// RequeueStalled recovers active jobs with stale heartbeats.
func (s *MemoryStore) RequeueStalled(ctx context.Context, queue string, cutoff time.Time, maxStalls int, now time.Time) ([]Job, []Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var requeued, failed []Job
	for _, j := range s.jobs {
		if j.Queue != queue || j.Status != StatusActive {
			continue
		}
		if j.HeartbeatAt != nil && !j.HeartbeatAt.Before(cutoff) {
			continue
		}
		if j.StallCount < maxStalls {
			j.StallCount++
			j.Status = StatusWaiting
			j.RunAt = now
			j.LockedBy = ""
			j.HeartbeatAt = nil
			j.LastError = "stalled"
			requeued = append(requeued, j.Job)
		} else {
			j.Status = StatusFailed
			j.LastError = "stalled repeatedly"
			finished := now
			j.FinishedAt = &finished
			j.LockedBy = ""
			failed = append(failed, j.Job)
		}
	}
	return requeued, failed, nil
}

// Counts summarizes the queue's jobs.
func (s *MemoryStore) Counts(ctx context.Context, queue string, now time.Time) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts Counts
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		counts.Total++
		switch j.Status {
		case StatusWaiting:
			if j.RunAt.After(now) {
				counts.Delayed++
			} else {
				counts.Waiting++
			}
		case StatusActive:
			counts.Active++
		case StatusCompleted:
			counts.Completed++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// Cleanup removes old terminal job records.
func (s *MemoryStore) Cleanup(ctx context.Context, queue string, completedBefore, failedBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, j := range s.jobs {
		if j.Queue != queue || j.FinishedAt == nil {
			continue
		}
		switch j.Status {
		case StatusCompleted:
			if j.FinishedAt.Before(completedBefore) {
				delete(s.jobs, id)
				removed++
			}
		case StatusFailed:
			if j.FinishedAt.Before(failedBefore) {
				delete(s.jobs, id)
				removed++
			}
		}
	}
	return removed, nil
}

func (s *MemoryStore) update(ctx context.Context, jobID string, apply func(*memoryJob)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	apply(j)
	return nil
}

// Get returns a snapshot of a job, for tests and introspection.
func (s *MemoryStore) Get(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return j.Job, true
}

var _ Store = (*MemoryStore)(nil)
