package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"taxrecovery-backend/internal/bootstrap"
	"taxrecovery-backend/internal/queue"
	"taxrecovery-backend/internal/shared/config"
	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/telemetry"
)

const defaultShutdownTimeoutSec = 30

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg, bootstrap.Options{Worker: true})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTimeout := time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	// Event subscriptions must exist before the pools start draining.
	docEvents := app.DocQueue.Events()
	conEvents := app.ConQueue.Events()
	go observeQueueEvents(ctx, app.DocQueue.Name(), docEvents)
	go observeQueueEvents(ctx, app.ConQueue.Name(), conEvents)

	// Terminal-failure bookkeeping rides the pool's synchronous callback,
	// not the lossy event fan-out.
	docPool := queue.NewPool(app.DocQueue, app.Processor.HandleDocumentJob, cfg.WorkerConcurrency,
		queue.WithFailureHandler(app.Processor.HandleDocumentFailure))
	conPool := queue.NewPool(app.ConQueue, app.Processor.HandleConsolidationJob, 1)
	docPool.Start(ctx)
	conPool.Start(ctx)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("17 3 * * *", func() { sweepRetention(app) }); err != nil {
		log.Fatalf("schedule retention sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Printf("worker started queues=%s,%s concurrency=%d",
		app.DocQueue.Name(), app.ConQueue.Name(), cfg.WorkerConcurrency)

	<-ctx.Done()
	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", shutdownTimeout)

	waitDone := make(chan struct{})
	go func() {
		docPool.Wait()
		conPool.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

// observeQueueEvents keeps worker metrics and telemetry current from the
// queue's fan-out events.
func observeQueueEvents(ctx context.Context, queueName string, events <-chan queue.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case queue.EventCompleted:
				metrics.IncJobCompleted()
			case queue.EventFailed:
				metrics.IncJobFailed()
				telemetry.Error("worker.job_failed", map[string]any{
					"queue":  queueName,
					"job_id": ev.Job.ID,
					"error":  ev.Error,
				})
			case queue.EventStalled:
				metrics.IncJobStalled()
			}
		}
	}
}

func sweepRetention(app *bootstrap.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	for _, q := range []*queue.Queue{app.DocQueue, app.ConQueue} {
		removed, err := q.Cleanup(ctx)
		if err != nil {
			telemetry.Error("worker.retention_sweep_failed", map[string]any{
				"queue": q.Name(),
				"error": err.Error(),
			})
			continue
		}
		telemetry.Info("worker.retention_sweep", map[string]any{
			"queue":   q.Name(),
			"removed": removed,
		})
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
