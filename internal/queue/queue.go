package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config controls a queue's retry, timeout and scheduling behavior.
type Config struct {
	// MaxAttempts bounds total attempts per job, first run included.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; each further retry
	// doubles it. Zero disables backoff (immediate retry).
	BackoffBase time.Duration
	// JobTimeout is the hard per-job processing deadline. A timed-out job
	// is failed, not retried.
	JobTimeout time.Duration
	// DefaultPriority applies when an enqueue does not specify one.
	DefaultPriority int
	// StallAfter is how long an active job may go without a heartbeat
	// before it is considered stalled.
	StallAfter time.Duration
	// MaxStalls is how many times a stalled job is requeued before it is
	// treated as failed.
	MaxStalls int
	// PollInterval is the worker sleep between empty dequeues.
	PollInterval time.Duration
}

// DocumentQueueConfig returns the policy for document-processing jobs:
// 3 attempts with 2s exponential backoff under a 10 minute timeout.
func DocumentQueueConfig() Config {
	return Config{
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		JobTimeout:      10 * time.Minute,
		DefaultPriority: 5,
		StallAfter:      2 * time.Minute,
		MaxStalls:       1,
		PollInterval:    time.Second,
	}
}

// ConsolidationQueueConfig returns the policy for batch-consolidation jobs.
// Consolidation is a cheap re-aggregation over persisted data, so it gets a
// short retry allowance and no backoff.
func ConsolidationQueueConfig() Config {
	return Config{
		MaxAttempts:     2,
		BackoffBase:     0,
		JobTimeout:      2 * time.Minute,
		DefaultPriority: 5,
		StallAfter:      2 * time.Minute,
		MaxStalls:       1,
		PollInterval:    time.Second,
	}
}

// Retention windows for the periodic cleanup sweep.
const (
	CompletedRetention = 7 * 24 * time.Hour
	FailedRetention    = 30 * 24 * time.Hour
)

// Result reports the terminal outcome of one enqueued job.
type Result struct {
	JobID string
	Err   error
}

// Ticket is the handle on a job's outcome returned by EnqueueWait. Done
// receives exactly one Result when the job reaches a terminal state,
// provided the process that enqueued it also runs the Pool; jobs drained by
// another process are observed through persisted state instead.
type Ticket struct {
	JobID string
	Done  <-chan Result
}

// Queue is one named, durable job queue. Queues are constructed explicitly
// by the composition root with injected configuration; there is no ambient
// global instance.
type Queue struct {
	name     string
	store    Store
	cfg      Config
	notifier *Notifier

	mu      sync.Mutex
	tickets map[string]chan Result
}

// New constructs a queue over the given store.
func New(name string, store Store, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 2 * time.Minute
	}
	return &Queue{
		name:     name,
		store:    store,
		cfg:      cfg,
		notifier: NewNotifier(),
		tickets:  make(map[string]chan Result),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Config returns the queue's policy.
func (q *Queue) Config() Config { return q.cfg }

// Events returns a subscription to the queue's lifecycle notifications.
func (q *Queue) Events() <-chan Event {
	return q.notifier.Subscribe()
}

// EnqueueOption adjusts a single enqueue.
type EnqueueOption func(*Job)

// WithPriority overrides the queue's default priority (lower runs sooner).
func WithPriority(priority int) EnqueueOption {
	return func(j *Job) { j.Priority = priority }
}

// Enqueue persists a job carrying the JSON encoding of payload and returns
// its ID. This is the fire-and-forget form: the caller observes the outcome
// through persisted state, so nothing is retained in memory per job.
func (q *Queue) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error) {
	job, err := q.buildJob(payload, opts)
	if err != nil {
		return "", err
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// EnqueueWait persists the job and additionally registers a Ticket resolved
// when the job reaches a terminal state. Only the Pool resolves tickets, so
// this form is for processes that also drain the queue; an unresolved
// ticket is held until then.
func (q *Queue) EnqueueWait(ctx context.Context, payload any, opts ...EnqueueOption) (*Ticket, error) {
	job, err := q.buildJob(payload, opts)
	if err != nil {
		return nil, err
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	done := make(chan Result, 1)
	q.mu.Lock()
	q.tickets[job.ID] = done
	q.mu.Unlock()

	return &Ticket{JobID: job.ID, Done: done}, nil
}

func (q *Queue) buildJob(payload any, opts []EnqueueOption) (Job, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode job payload: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     encoded,
		Priority:    q.cfg.DefaultPriority,
		Status:      StatusWaiting,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}
	for _, opt := range opts {
		opt(&job)
	}
	return job, nil
}

// Stats returns the queue's current job counts.
func (q *Queue) Stats(ctx context.Context) (Counts, error) {
	return q.store.Counts(ctx, q.name, time.Now().UTC())
}

// Cleanup removes completed jobs older than CompletedRetention and failed
// jobs older than FailedRetention. Only queue bookkeeping is touched.
func (q *Queue) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	return q.store.Cleanup(ctx, q.name, now.Add(-CompletedRetention), now.Add(-FailedRetention))
}

func (q *Queue) resolve(jobID string, err error) {
	q.mu.Lock()
	done, ok := q.tickets[jobID]
	if ok {
		delete(q.tickets, jobID)
	}
	q.mu.Unlock()
	if ok {
		done <- Result{JobID: jobID, Err: err}
	}
}

func (q *Queue) backoffDelay(attempts int) time.Duration {
	if q.cfg.BackoffBase <= 0 {
		return 0
	}
	delay := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
