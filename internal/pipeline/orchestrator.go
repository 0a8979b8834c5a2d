package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/jobstore"
)

// task is one queued review: the job record plus the parsed document and its
// per-job options.
type task struct {
	job      *jobstore.Job
	document doc.Document
	opts     Options
}

// Orchestrator owns the review worker pool. Submitted jobs queue until a
// worker picks them up and runs the coordinator with the job deadline
// applied.
type Orchestrator struct {
	coordinator *Coordinator
	jobs        *jobstore.MemoryStore
	queue       chan task
	cfg         config.Config
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewOrchestrator(cfg config.Config, coordinator *Coordinator, jobs *jobstore.MemoryStore, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		coordinator: coordinator,
		jobs:        jobs,
		queue:       make(chan task, cfg.MaxQueueSize),
		cfg:         cfg,
		log:         log,
	}
}

// Start launches worker goroutines and the job store cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case t, ok := <-o.queue:
					if !ok {
						return
					}
					jobCtx, cancelJob := context.WithTimeout(workerCtx, o.cfg.JobTimeout)
					o.coordinator.Run(jobCtx, t.job, t.document, t.opts)
					cancelJob()
				}
			}
		}()
	}

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
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the worker pool. Safe to call more than once;
// submissions arriving after Stop are rejected rather than racing the queue
// close.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Submit registers the job and queues it for processing.
func (o *Orchestrator) Submit(job *jobstore.Job, document doc.Document, opts Options) error {
	if err := opts.Chunk.Validate(); err != nil {
		return err
	}
	o.jobs.Put(job)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		job.Fail(jobstore.StageInitialize, "service is shutting down")
		return fmt.Errorf("orchestrator is stopped")
	}
	select {
	case o.queue <- task{job: job, document: document, opts: opts}:
		return nil
	default:
		job.Fail(jobstore.StageInitialize, "job queue is full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID, or nil.
func (o *Orchestrator) GetJob(id string) *jobstore.Job {
	return o.jobs.Get(id)
}

// QueueDepth returns the current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
