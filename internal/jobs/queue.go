package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/providers"
)

var (
	// ErrQueueFull is returned by Enqueue when no capacity is left.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned by Enqueue before Start or after Shutdown.
	ErrQueueClosed = errors.New("queue not accepting work")
)

// WorkItem asks for one pipeline run of a job with the caller's credentials.
type WorkItem struct {
	JobID       string
	Provider    providers.Name
	Credentials providers.Credentials
	// EnqueuedAt is stamped by Enqueue when left zero.
	EnqueuedAt time.Time
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	closed     bool
	mu         sync.Mutex
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		workers: workers,
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			if ctx.Err() != nil {
				// buffered items stay queued on disk for the next request
				log.Debug("dropping item after shutdown", "job_id", item.JobID)
				return
			}
			q.handle(ctx, p, item, log)
		}
	}
}

func (q *Queue) handle(ctx context.Context, p Processor, item WorkItem, log *slog.Logger) {
	jobLog := log.With("job_id", item.JobID, "provider", item.Provider)
	var waited time.Duration
	if !item.EnqueuedAt.IsZero() {
		waited = time.Since(item.EnqueuedAt)
	}
	jobLog.Info("processing job", "queue_wait", waited)
	start := time.Now()
	if err := p.Process(ctx, item); err != nil {
		jobLog.Error("job processing failed", "err", err, "duration", time.Since(start))
		return
	}
	jobLog.Info("job processed", "duration", time.Since(start))
}

// Enqueue adds a WorkItem to the queue without blocking.
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.closed {
		return ErrQueueClosed
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown gracefully stops accepting work and waits for workers to finish current items up to the provided deadline.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		// stop workers
		if q.cancel != nil {
			q.cancel()
		}
		// close channel to unblock workers if they are waiting on receive
		close(q.ch)
		q.mu.Unlock()

		// wait with deadline
		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; workers may still be running")
		}
	})
}
