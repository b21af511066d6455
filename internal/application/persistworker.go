package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize    = 64
	defaultDrainTimeout = 30 * time.Second
)

// PersistJob is a credential waiting to be synced after the caller has
// already been answered.
type PersistJob struct {
	UserID            string
	DisplayName       string
	RefreshCredential string
	RequestID         string
	SubmittedAt       time.Time
}

// PersistWorker runs deferred syncs one at a time on a single goroutine.
// Every job ends in a log line: failures are never silent.
type PersistWorker struct {
	syncer       CredentialSyncer
	jobs         chan PersistJob
	drainTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	// onComplete runs after each job. Defaults to logging the outcome.
	onComplete func(job PersistJob, result *SyncResult, err error)
}

// NewPersistWorker creates a worker with a bounded queue. Non-positive sizes
// and timeouts select defaults.
func NewPersistWorker(syncer CredentialSyncer, queueSize int, drainTimeout time.Duration) *PersistWorker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}

	w := &PersistWorker{
		syncer:       syncer,
		jobs:         make(chan PersistJob, queueSize),
		drainTimeout: drainTimeout,
	}
	w.onComplete = logCompletion
	return w
}

// Submit queues a job without blocking. It returns false when the queue is
// full or the worker has shut down; the job is then logged as dropped.
func (w *PersistWorker) Submit(job PersistJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		slog.Error("deferred persist dropped: worker stopped", "user_id", job.UserID, "request_id", job.RequestID)
		return false
	}

	select {
	case w.jobs <- job:
		return true
	default:
		slog.Error("deferred persist dropped: queue full",
			"user_id", job.UserID,
			"request_id", job.RequestID,
			"queue_size", cap(w.jobs),
		)
		return false
	}
}

// Pending returns the number of queued jobs.
func (w *PersistWorker) Pending() int {
	return len(w.jobs)
}

// Start processes jobs until ctx is canceled, then stops accepting new jobs
// and drains the queue within the drain timeout. Start blocks until the drain
// finishes.
func (w *PersistWorker) Start(ctx context.Context) {
	slog.Info("persist worker started", "queue_size", cap(w.jobs))

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case job := <-w.jobs:
			w.run(context.WithoutCancel(ctx), job)
		}
	}
}

func (w *PersistWorker) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case job := <-w.jobs:
			if ctx.Err() != nil {
				slog.Error("deferred persist dropped: drain timeout", "user_id", job.UserID, "request_id", job.RequestID)
				continue
			}
			w.run(ctx, job)
			drained++
		default:
			slog.Info("persist worker stopped", "drained", drained)
			return
		}
	}
}

func (w *PersistWorker) run(ctx context.Context, job PersistJob) {
	result, err := w.syncer.Sync(ctx, job.UserID, job.DisplayName, job.RefreshCredential)
	w.onComplete(job, result, err)
}

func logCompletion(job PersistJob, result *SyncResult, err error) {
	if err != nil {
		slog.Error("deferred persist failed",
			"user_id", job.UserID,
			"request_id", job.RequestID,
			"outcome", ClassifyOutcome(err),
			"error", err,
		)
		return
	}

	slog.Info("deferred persist complete",
		"user_id", job.UserID,
		"request_id", job.RequestID,
		"version", result.Version,
		"attempts", result.Attempts,
		"queued_for", time.Since(job.SubmittedAt).Round(time.Millisecond),
	)
}
