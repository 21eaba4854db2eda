package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func mustEnqueue(t *testing.T, q *Queue, payload any, opts ...EnqueueOption) *Ticket {
	t.Helper()
	ticket, err := q.EnqueueWait(context.Background(), payload, opts...)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return ticket
}

func TestMemoryStoreDequeueOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New("orders", store, Config{MaxAttempts: 1, DefaultPriority: 5})

	low := mustEnqueue(t, q, map[string]string{"n": "low"}, WithPriority(9))
	first := mustEnqueue(t, q, map[string]string{"n": "first"})
	second := mustEnqueue(t, q, map[string]string{"n": "second"})
	urgent := mustEnqueue(t, q, map[string]string{"n": "urgent"}, WithPriority(1))

	wantOrder := []string{urgent.JobID, first.JobID, second.JobID, low.JobID}
	for i, want := range wantOrder {
		job, err := store.Dequeue(ctx, "orders", "w1", time.Now().UTC())
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if job.ID != want {
			t.Fatalf("dequeue %d: got job %s, want %s", i, job.ID, want)
		}
		if job.Status != StatusActive || job.Attempts != 1 {
			t.Fatalf("dequeue %d: status=%s attempts=%d", i, job.Status, job.Attempts)
		}
	}

	if _, err := store.Dequeue(ctx, "orders", "w1", time.Now().UTC()); !errors.Is(err, ErrNoJob) {
		t.Fatalf("empty dequeue: got %v, want ErrNoJob", err)
	}
}

func TestMemoryStoreDelayedJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	job := Job{
		ID:          "delayed-1",
		Queue:       "orders",
		Payload:     []byte(`{}`),
		Status:      StatusWaiting,
		MaxAttempts: 1,
		RunAt:       now.Add(time.Hour),
		CreatedAt:   now,
	}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := store.Dequeue(ctx, "orders", "w1", now); !errors.Is(err, ErrNoJob) {
		t.Fatalf("dequeue before run_at: got %v, want ErrNoJob", err)
	}

	counts, err := store.Counts(ctx, "orders", now)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Delayed != 1 || counts.Waiting != 0 || counts.Total != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	got, err := store.Dequeue(ctx, "orders", "w1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("dequeue after run_at: %v", err)
	}
	if got.ID != "delayed-1" {
		t.Fatalf("got job %s", got.ID)
	}
}

func TestMemoryStoreRequeueStalled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	job := Job{ID: "stall-1", Queue: "orders", Payload: []byte(`{}`), Status: StatusWaiting, MaxAttempts: 3, RunAt: now, CreatedAt: now}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Dequeue(ctx, "orders", "w1", now); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Heartbeat is fresh: nothing to recover.
	requeued, failed, err := store.RequeueStalled(ctx, "orders", now.Add(-time.Minute), 1, now)
	if err != nil || len(requeued) != 0 || len(failed) != 0 {
		t.Fatalf("fresh sweep: requeued=%d failed=%d err=%v", len(requeued), len(failed), err)
	}

	// Stale heartbeat: requeued once.
	later := now.Add(5 * time.Minute)
	requeued, failed, err = store.RequeueStalled(ctx, "orders", later, 1, later)
	if err != nil || len(requeued) != 1 || len(failed) != 0 {
		t.Fatalf("first sweep: requeued=%d failed=%d err=%v", len(requeued), len(failed), err)
	}
	if requeued[0].StallCount != 1 || requeued[0].Status != StatusWaiting {
		t.Fatalf("requeued job = %+v", requeued[0])
	}

	// Stalls again past MaxStalls: failed.
	if _, err := store.Dequeue(ctx, "orders", "w2", later); err != nil {
		t.Fatalf("re-dequeue: %v", err)
	}
	final := later.Add(5 * time.Minute)
	requeued, failed, err = store.RequeueStalled(ctx, "orders", final, 1, final)
	if err != nil || len(requeued) != 0 || len(failed) != 1 {
		t.Fatalf("second sweep: requeued=%d failed=%d err=%v", len(requeued), len(failed), err)
	}
	got, _ := store.Get("stall-1")
	if got.Status != StatusFailed || got.LastError != "stalled repeatedly" {
		t.Fatalf("final job = %+v", got)
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	seed := func(id string, status string, finishedAt time.Time) {
		job := Job{ID: id, Queue: "orders", Payload: []byte(`{}`), Status: StatusWaiting, MaxAttempts: 1, RunAt: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour)}
		if err := store.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if _, err := store.Dequeue(ctx, "orders", "w1", now); err != nil {
			t.Fatalf("dequeue %s: %v", id, err)
		}
		if status == StatusCompleted {
			if err := store.Complete(ctx, id, finishedAt); err != nil {
				t.Fatalf("complete %s: %v", id, err)
			}
		} else {
			if err := store.Fail(ctx, id, "boom", finishedAt); err != nil {
				t.Fatalf("fail %s: %v", id, err)
			}
		}
	}

	seed("old-completed", StatusCompleted, now.Add(-10*24*time.Hour))
	seed("new-completed", StatusCompleted, now.Add(-time.Hour))
	seed("old-failed", StatusFailed, now.Add(-40*24*time.Hour))
	seed("new-failed", StatusFailed, now.Add(-10*24*time.Hour))

	removed, err := store.Cleanup(ctx, "orders", now.Add(-CompletedRetention), now.Add(-FailedRetention))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	for _, id := range []string{"new-completed", "new-failed"} {
		if _, ok := store.Get(id); !ok {
			t.Errorf("job %s removed too early", id)
		}
	}
	for _, id := range []string{"old-completed", "old-failed"} {
		if _, ok := store.Get(id); ok {
			t.Errorf("job %s survived cleanup", id)
		}
	}
}

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		BackoffBase:  0,
		JobTimeout:   5 * time.Second,
		StallAfter:   time.Minute,
		MaxStalls:    1,
		PollInterval: 10 * time.Millisecond,
	}
}

func waitResult(t *testing.T, ticket *Ticket) Result {
	t.Helper()
	select {
	case res := <-ticket.Done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
		return Result{}
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	q := New("retry", store, testConfig())

	calls := 0
	pool := NewPool(q, func(ctx context.Context, job Job) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 1)
	pool.Start(ctx)

	ticket := mustEnqueue(t, q, map[string]string{"doc": "a"})
	res := waitResult(t, ticket)
	if res.Err != nil {
		t.Fatalf("result err = %v, want nil", res.Err)
	}

	job, ok := store.Get(ticket.JobID)
	if !ok {
		t.Fatal("job missing from store")
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}
}

func TestPoolFailsAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	q := New("fail", store, testConfig())
	events := q.Events()

	pool := NewPool(q, func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, 1)
	pool.Start(ctx)

	ticket := mustEnqueue(t, q, map[string]string{"doc": "b"})
	res := waitResult(t, ticket)
	if res.Err == nil {
		t.Fatal("result err = nil, want failure")
	}

	job, _ := store.Get(ticket.JobID)
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}
	if job.LastError != "permanent" {
		t.Fatalf("last error = %q", job.LastError)
	}

	select {
	case ev := <-events:
		if ev.Type != EventFailed || ev.Job.ID != ticket.JobID {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure event published")
	}
}

func TestPoolTimeoutIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	cfg := testConfig()
	cfg.JobTimeout = 50 * time.Millisecond
	q := New("timeout", store, cfg)

	pool := NewPool(q, func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, 1)
	pool.Start(ctx)

	ticket := mustEnqueue(t, q, map[string]string{"doc": "c"})
	res := waitResult(t, ticket)
	if res.Err == nil {
		t.Fatal("result err = nil, want timeout failure")
	}

	job, _ := store.Get(ticket.JobID)
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	// A timed-out attempt is never retried.
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	q := New("panic", store, cfg)

	pool := NewPool(q, func(ctx context.Context, job Job) error {
		panic("handler exploded")
	}, 1)
	pool.Start(ctx)

	ticket := mustEnqueue(t, q, map[string]string{"doc": "d"})
	res := waitResult(t, ticket)
	if res.Err == nil {
		t.Fatal("result err = nil, want panic failure")
	}

	job, _ := store.Get(ticket.JobID)
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestPoolFailureHandlerSeesEveryTerminalFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	q := New("fanout", store, cfg)

	// Subscribed but never drained; the fan-out buffer overflows long
	// before the jobs run out, and bookkeeping must not care.
	_ = q.Events()

	var failures atomic.Int64
	pool := NewPool(q, func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, 8, WithFailureHandler(func(ctx context.Context, job Job, jobErr string) {
		if jobErr != "permanent" {
			t.Errorf("jobErr = %q, want permanent", jobErr)
		}
		failures.Add(1)
	}))
	pool.Start(ctx)

	const jobs = 150
	tickets := make([]*Ticket, 0, jobs)
	for i := 0; i < jobs; i++ {
		tickets = append(tickets, mustEnqueue(t, q, map[string]int{"n": i}))
	}
	for _, ticket := range tickets {
		if res := waitResult(t, ticket); res.Err == nil {
			t.Fatalf("job %s succeeded, want failure", ticket.JobID)
		}
	}

	// The handler runs before the ticket resolves, so every invocation is
	// visible by now.
	if got := failures.Load(); got != jobs {
		t.Fatalf("failure handler ran %d times, want %d", got, jobs)
	}
}

func TestEnqueueDoesNotRetainTicket(t *testing.T) {
	ctx := context.Background()
	q := New("orders", NewMemoryStore(), Config{MaxAttempts: 1})

	jobID, err := q.Enqueue(ctx, map[string]string{"n": "fire-and-forget"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatal("empty job id")
	}
	if got := pendingTickets(q); got != 0 {
		t.Fatalf("pending tickets after Enqueue = %d, want 0", got)
	}

	ticket, err := q.EnqueueWait(ctx, map[string]string{"n": "waited"})
	if err != nil {
		t.Fatalf("enqueue wait: %v", err)
	}
	if got := pendingTickets(q); got != 1 {
		t.Fatalf("pending tickets after EnqueueWait = %d, want 1", got)
	}

	q.resolve(ticket.JobID, nil)
	if res := waitResult(t, ticket); res.Err != nil {
		t.Fatalf("result err = %v", res.Err)
	}
	if got := pendingTickets(q); got != 0 {
		t.Fatalf("pending tickets after resolve = %d, want 0", got)
	}
}

func pendingTickets(q *Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets)
}

func TestBackoffDelayDoubles(t *testing.T) {
	q := New(QueueDocuments, NewMemoryStore(), DocumentQueueConfig())
	for attempts, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	} {
		if got := q.backoffDelay(attempts); got != want {
			t.Errorf("backoffDelay(%d) = %s, want %s", attempts, got, want)
		}
	}

	flat := New(QueueConsolidation, NewMemoryStore(), ConsolidationQueueConfig())
	if got := flat.backoffDelay(1); got != 0 {
		t.Errorf("backoffDelay(1) with zero base = %s, want 0", got)
	}
}

func TestMemoryStoreRetrySchedulesFuture(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	job := Job{
		ID:          "retry-1",
		Queue:       "orders",
		Status:      StatusWaiting,
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
	}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Dequeue(ctx, "orders", "w1", now); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	if err := store.Retry(ctx, "retry-1", "transient", now.Add(2*time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if _, err := store.Dequeue(ctx, "orders", "w1", now.Add(time.Second)); !errors.Is(err, ErrNoJob) {
		t.Fatalf("dequeue before run_at: err = %v, want ErrNoJob", err)
	}
	counts, err := store.Counts(ctx, "orders", now.Add(time.Second))
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Delayed != 1 {
		t.Fatalf("delayed = %d, want 1", counts.Delayed)
	}

	got, err := store.Dequeue(ctx, "orders", "w1", now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("dequeue after run_at: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	if got.LastError != "transient" {
		t.Fatalf("last error = %q", got.LastError)
	}
}

func TestNotifierNonBlockingPublish(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()

	// Overflow the subscriber buffer; Publish must not block.
	for i := 0; i < 200; i++ {
		n.Publish(Event{Type: EventCompleted, Job: Job{ID: "x"}})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 64 {
		t.Fatalf("received = %d, want 1..64", received)
	}
}
