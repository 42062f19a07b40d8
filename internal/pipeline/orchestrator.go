package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/apiingest/internal/config"
	"github.com/dgallion1/apiingest/internal/metrics"
)

// QueueFullError is returned by Submit when no queue slot is free.
type QueueFullError struct {
	Size int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("job queue is full (%d)", e.Size)
}

// Orchestrator manages the asynchronous ingest pipeline.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	store    SpecStore
	stats    *LatencyStats
	storeSem chan struct{}
	log      *slog.Logger
	cfg      config.Config

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, st SpecStore, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		store:    st,
		stats:    NewLatencyStats(time.Hour),
		storeSem: make(chan struct{}, max(cfg.MaxConcurrentStore, 1)),
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for i, n := 0, max(o.cfg.WorkerCount, 1); i < n; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.store, o.log, o.cfg, o.stats, o.storeSem)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					metrics.SetQueueDepth(len(o.queue))
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if n := o.jobs.Cleanup(); n > 0 {
					o.log.Debug("evicted finished jobs", "count", n)
				}
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline. Queued jobs that were not
// picked up stay queued.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		job.SetStatus(StatusFailed, "shutdown")
		metrics.IncJob(string(StatusFailed))
		return fmt.Errorf("pipeline is stopped")
	}
	select {
	case o.queue <- job:
		metrics.SetQueueDepth(len(o.queue))
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		metrics.IncJob(string(StatusFailed))
		return &QueueFullError{Size: o.cfg.MaxQueueSize}
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Stats returns per-stage latency aggregates over the last hour.
func (o *Orchestrator) Stats() map[string]StatsSnapshot {
	return o.stats.Snapshot()
}
