package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/telemetry"
)

// Handler processes one claimed job. A nil return completes the job; an
// error consumes the attempt and may trigger a retry.
type Handler func(ctx context.Context, job Job) error

// FailureHandler runs when a job reaches terminal failure: attempts
// exhausted, timed out, or stalled past the requeue limit. Unlike the
// fan-out Notifier it is invoked synchronously for every such job, so
// bookkeeping that must not miss a failure belongs here.
type FailureHandler func(ctx context.Context, job Job, jobErr string)

// Pool drains a queue with a bounded number of concurrent workers. Worker
// count bounds system-wide parallelism; workers never block on each other.
type Pool struct {
	queue       *Queue
	handler     Handler
	concurrency int
	onFailure   FailureHandler

	wg sync.WaitGroup
}

// PoolOption adjusts a pool's construction.
type PoolOption func(*Pool)

// WithFailureHandler installs the pool's terminal-failure callback.
func WithFailureHandler(fn FailureHandler) PoolOption {
	return func(p *Pool) { p.onFailure = fn }
}

// NewPool constructs a pool of concurrency workers over the queue.
func NewPool(q *Queue, handler Handler, concurrency int, opts ...PoolOption) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{queue: q, handler: handler, concurrency: concurrency}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers and the stalled-job sweeper. They run until ctx
// is cancelled; use Wait for graceful drain.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("%s-worker-%s", p.queue.name, uuid.NewString()[:8])
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStallSweeper(ctx)
	}()
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.store.Dequeue(ctx, p.queue.name, workerID, time.Now().UTC())
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.queue.cfg.PollInterval):
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			telemetry.Error("queue.dequeue_failed", map[string]any{
				"queue": p.queue.name,
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.queue.cfg.PollInterval):
			}
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job Job) {
	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.queue.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.queue.cfg.JobTimeout)
	}
	defer cancel()

	stopBeat := p.startHeartbeat(jobCtx, job.ID)
	defer stopBeat()

	err := p.invoke(jobCtx, job)

	now := time.Now().UTC()
	switch {
	case err == nil:
		if markErr := p.queue.store.Complete(context.WithoutCancel(ctx), job.ID, now); markErr != nil {
			telemetry.Error("queue.complete_failed", map[string]any{
				"queue":  p.queue.name,
				"job_id": job.ID,
				"error":  markErr.Error(),
			})
		}
		p.queue.notifier.Publish(Event{Type: EventCompleted, Job: job})
		p.queue.resolve(job.ID, nil)

	case jobCtx.Err() != nil && ctx.Err() == nil:
		// Hard per-job timeout: failed outright, never retried past the
		// timeout window.
		timeoutErr := fmt.Errorf("job timed out after %s: %w", p.queue.cfg.JobTimeout, err)
		p.failJob(context.WithoutCancel(ctx), job, timeoutErr, now)

	case job.Attempts < job.MaxAttempts:
		delay := p.queue.backoffDelay(job.Attempts)
		if retryErr := p.queue.store.Retry(context.WithoutCancel(ctx), job.ID, err.Error(), now.Add(delay)); retryErr != nil {
			telemetry.Error("queue.retry_failed", map[string]any{
				"queue":  p.queue.name,
				"job_id": job.ID,
				"error":  retryErr.Error(),
			})
		}
		metrics.IncJobRetried()
		telemetry.Info("queue.job_retry_scheduled", map[string]any{
			"queue":    p.queue.name,
			"job_id":   job.ID,
			"attempt":  job.Attempts,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

	default:
		p.failJob(context.WithoutCancel(ctx), job, err, now)
	}
}

func (p *Pool) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

func (p *Pool) failJob(ctx context.Context, job Job, jobErr error, now time.Time) {
	if markErr := p.queue.store.Fail(ctx, job.ID, jobErr.Error(), now); markErr != nil {
		telemetry.Error("queue.fail_mark_failed", map[string]any{
			"queue":  p.queue.name,
			"job_id": job.ID,
			"error":  markErr.Error(),
		})
	}
	if p.onFailure != nil {
		p.onFailure(ctx, job, jobErr.Error())
	}
	p.queue.notifier.Publish(Event{Type: EventFailed, Job: job, Error: jobErr.Error()})
	p.queue.resolve(job.ID, jobErr)
}

func (p *Pool) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := p.queue.cfg.StallAfter / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.store.Heartbeat(ctx, jobID, time.Now().UTC()); err != nil && ctx.Err() == nil {
					telemetry.Error("queue.heartbeat_failed", map[string]any{
						"queue":  p.queue.name,
						"job_id": jobID,
						"error":  err.Error(),
					})
				}
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

func (p *Pool) runStallSweeper(ctx context.Context) {
	interval := p.queue.cfg.StallAfter
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			cutoff := now.Add(-p.queue.cfg.StallAfter)
			requeued, failed, err := p.queue.store.RequeueStalled(ctx, p.queue.name, cutoff, p.queue.cfg.MaxStalls, now)
			if err != nil {
				if ctx.Err() == nil {
					telemetry.Error("queue.stall_sweep_failed", map[string]any{
						"queue": p.queue.name,
						"error": err.Error(),
					})
				}
				continue
			}
			for _, job := range requeued {
				telemetry.Info("queue.job_stalled_requeued", map[string]any{
					"queue":       p.queue.name,
					"job_id":      job.ID,
					"stall_count": job.StallCount,
				})
				p.queue.notifier.Publish(Event{Type: EventStalled, Job: job})
			}
			for _, job := range failed {
				// The store already marked these failed.
				if p.onFailure != nil {
					p.onFailure(context.WithoutCancel(ctx), job, job.LastError)
				}
				p.queue.notifier.Publish(Event{Type: EventStalled, Job: job})
				p.queue.notifier.Publish(Event{Type: EventFailed, Job: job, Error: job.LastError})
				p.queue.resolve(job.ID, errors.New("stalled repeatedly"))
			}
		}
	}
}
