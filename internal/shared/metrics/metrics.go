package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	documentsProcessedTotal atomic.Uint64
	documentsFailedTotal    atomic.Uint64

	batchesCreatedTotal   atomic.Uint64
	batchesCompletedTotal atomic.Uint64

	jobsEnqueuedTotal  atomic.Uint64
	jobsCompletedTotal atomic.Uint64
	jobsFailedTotal    atomic.Uint64
	jobsRetriedTotal   atomic.Uint64
	jobsStalledTotal   atomic.Uint64

	documentDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000})
)

// IncDocumentProcessed increments the processed-document counter.
func IncDocumentProcessed() {
	documentsProcessedTotal.Add(1)
}

// IncDocumentFailed increments the failed-document counter.
func IncDocumentFailed() {
	documentsFailedTotal.Add(1)
}

// IncBatchCreated increments the created-batch counter.
func IncBatchCreated() {
	batchesCreatedTotal.Add(1)
}

// IncBatchCompleted increments the completed-batch counter.
func IncBatchCompleted() {
	batchesCompletedTotal.Add(1)
}

// IncJobEnqueued increments the enqueued-job counter.
func IncJobEnqueued() {
	jobsEnqueuedTotal.Add(1)
}

// IncJobCompleted increments the completed-job counter.
func IncJobCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobFailed increments the failed-job counter.
func IncJobFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobRetried increments the retried-job counter.
func IncJobRetried() {
	jobsRetriedTotal.Add(1)
}

// IncJobStalled increments the stalled-job counter.
func IncJobStalled() {
	jobsStalledTotal.Add(1)
}

// ObserveDocumentDurationMs records a document processing duration in milliseconds.
func ObserveDocumentDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	documentDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "documents_processed_total", "Total documents processed", documentsProcessedTotal.Load())
	writeCounter(&buf, "documents_failed_total", "Total documents failed", documentsFailedTotal.Load())
	writeCounter(&buf, "batches_created_total", "Total batches created", batchesCreatedTotal.Load())
	writeCounter(&buf, "batches_completed_total", "Total batches completed", batchesCompletedTotal.Load())
	writeCounter(&buf, "queue_jobs_enqueued_total", "Total jobs enqueued", jobsEnqueuedTotal.Load())
	writeCounter(&buf, "queue_jobs_completed_total", "Total jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "queue_jobs_failed_total", "Total jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "queue_jobs_retried_total", "Total jobs retried", jobsRetriedTotal.Load())
	writeCounter(&buf, "queue_jobs_stalled_total", "Total jobs detected as stalled", jobsStalledTotal.Load())
	writeHistogram(&buf, "document_processing_duration_ms", "Document processing duration in milliseconds", documentDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
