// Package queue implements a durable, priority-ordered work queue with
// bounded retry, exponential backoff, per-job timeouts and stalled-job
// recovery. Jobs are persisted through a Store (Postgres or in-memory) and
// consumed by a bounded Pool of workers.
package queue

import (
	"encoding/json"
	"time"
)

// Job statuses. Delayed retries stay in StatusWaiting with a future RunAt.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Queue names used by the system.
const (
	QueueDocuments     = "documents"
	QueueConsolidation = "consolidation"
)

// Job is one persisted unit of work.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Priority    int // lower runs sooner
	Status      string
	Attempts    int // dequeues so far, including the current one
	MaxAttempts int
	StallCount  int
	RunAt       time.Time
	LastError   string
	LockedBy    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	HeartbeatAt *time.Time
}

// Counts summarizes a queue's jobs for operational dashboards.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}
