package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/jobstore"
	"github.com/redlinehq/redline/internal/merge"
	"github.com/redlinehq/redline/internal/notify"
	"github.com/redlinehq/redline/internal/redline"
	"github.com/redlinehq/redline/internal/splitter"
)

// Stage progress weights. Together they cover 0-100; the chunk phase scales
// its share by completed chunks.
const (
	progressSplit   = 5
	progressChunks  = 60
	progressMerge   = 10
	progressRedline = 15
	// persist takes the remaining 10 up to 100
)

// Report is the final conflict report persisted alongside the redlined
// artifact. Unlocated conflicts and chunk failure notes are always included;
// partial results are surfaced, never silently dropped.
type Report struct {
	JobID       string           `json:"job_id"`
	DocID       string           `json:"doc_id"`
	Title       string           `json:"title"`
	GeneratedAt time.Time        `json:"generated_at"`
	TotalChunks int              `json:"total_chunks"`
	Conflicts   []merge.Conflict `json:"conflicts"`
	Unlocated   int              `json:"unlocated"`

	ChunkFailures []string `json:"chunk_failures,omitempty"`

	RetrievalQueriesOK     int `json:"retrieval_queries_ok"`
	RetrievalQueriesFailed int `json:"retrieval_queries_failed"`
}

// Options carries one job's chunking parameters and fan-out overrides.
type Options struct {
	Chunk  splitter.Config
	Limits Limits
}

// Coordinator drives one job through the pipeline state machine:
// initialize → split → analyze (fan-out/fan-in) → merge → redline → persist →
// cleanup, with a catch-all failed path. It is the only writer of the job
// record.
type Coordinator struct {
	scheduler *Scheduler
	blobs     blob.Store
	jobs      jobstore.Store
	notifier  *notify.Notifier
	log       *slog.Logger
}

func NewCoordinator(scheduler *Scheduler, blobs blob.Store, jobs jobstore.Store, notifier *notify.Notifier, log *slog.Logger) *Coordinator {
	return &Coordinator{
		scheduler: scheduler,
		blobs:     blobs,
		jobs:      jobs,
		notifier:  notifier,
		log:       log,
	}
}

// Run executes the full pipeline for one job. ctx carries the overall job
// deadline. Cleanup always runs, whether the job completed or failed.
func (c *Coordinator) Run(ctx context.Context, job *jobstore.Job, document doc.Document, opts Options) {
	log := c.log.With("job_id", job.ID, "doc_id", job.DocID)
	defer c.cleanup(job, log)

	c.transition(job, jobstore.StageInitialize, 0)

	// Split.
	c.transition(job, jobstore.StageSplit, 1)
	chunks, err := splitter.Split(ctx, c.blobs, document.Text, opts.Chunk)
	if err != nil {
		c.fail(job, jobstore.StageSplit, err, log)
		return
	}
	job.SetTotalChunks(len(chunks))
	c.transition(job, jobstore.StageSplit, progressSplit)
	log.Info("document split", "chunks", len(chunks), "length", document.Length())

	// Fan out chunk pipelines; fan in at the single synchronization barrier.
	outcomes, err := c.scheduler.Run(ctx, chunks, opts.Limits, func(done, total int) {
		job.IncrChunksDone()
		c.transition(job, jobstore.StageAnalyze, progressSplit+progressChunks*done/total)
	})
	if err != nil {
		c.fail(job, jobstore.StageAnalyze, fmt.Errorf("chunk analysis: %w", err), log)
		return
	}

	var (
		candidates   []merge.Candidate
		failedChunks int
		queriesOK    int
		queriesBad   int
	)
	for _, o := range outcomes {
		queriesOK += o.RetrievalOK
		queriesBad += o.RetrievalFailed
		if o.Failed() {
			failedChunks++
			job.AddChunkFailure(o.FailureNote)
			continue
		}
		candidates = append(candidates, o.Candidates...)
	}
	if failedChunks == len(outcomes) {
		c.fail(job, jobstore.StageAnalyze,
			fmt.Errorf("all %d chunk pipelines failed", len(outcomes)), log)
		return
	}
	if failedChunks > 0 {
		log.Warn("continuing with partial chunk results", "failed_chunks", failedChunks, "total", len(outcomes))
	}

	// Merge.
	c.transition(job, jobstore.StageMerge, progressSplit+progressChunks)
	merged := merge.Merge(candidates)
	c.transition(job, jobstore.StageMerge, progressSplit+progressChunks+progressMerge)
	log.Info("candidates merged", "candidates", len(candidates), "merged", len(merged))

	// Redline: resolve offsets, number, annotate.
	c.transition(job, jobstore.StageRedline, progressSplit+progressChunks+progressMerge)
	located := redline.Locate(document.Text, merged)
	conflicts := merge.AssignIDs(located)
	annotated := redline.Apply(document.Text, redline.Annotations(conflicts))

	unlocated := 0
	for _, cf := range conflicts {
		if !cf.Located {
			unlocated++
		}
	}
	job.SetCounts(len(conflicts), unlocated)
	c.transition(job, jobstore.StageRedline, progressSplit+progressChunks+progressMerge+progressRedline)
	log.Info("redline complete", "conflicts", len(conflicts), "unlocated", unlocated)

	// Persist the report and the redlined artifact.
	c.transition(job, jobstore.StagePersist, progressSplit+progressChunks+progressMerge+progressRedline)
	snap := job.Snapshot()
	report := Report{
		JobID:                  job.ID,
		DocID:                  job.DocID,
		Title:                  document.Title,
		GeneratedAt:            time.Now().UTC(),
		TotalChunks:            len(chunks),
		Conflicts:              conflicts,
		Unlocated:              unlocated,
		ChunkFailures:          snap.ChunkFailures,
		RetrievalQueriesOK:     queriesOK,
		RetrievalQueriesFailed: queriesBad,
	}
	reportData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		c.fail(job, jobstore.StagePersist, fmt.Errorf("marshal report: %w", err), log)
		return
	}
	reportRef, err := c.blobs.Put(ctx, reportData)
	if err != nil {
		c.fail(job, jobstore.StagePersist, fmt.Errorf("persist report: %w", err), log)
		return
	}
	redlineRef, err := c.blobs.Put(ctx, []byte(annotated))
	if err != nil {
		c.fail(job, jobstore.StagePersist, fmt.Errorf("persist redline: %w", err), log)
		return
	}

	job.Complete(reportRef, redlineRef)
	c.jobs.Put(job)
	log.Info("job completed", "conflicts", len(conflicts), "failed_chunks", failedChunks)
}

// transition records a stage change, persists the job record, and publishes a
// progress event. No-op once the job is terminal, so late chunk results never
// regress a finished job.
func (c *Coordinator) transition(job *jobstore.Job, stage string, progress int) {
	if job.Terminal() {
		return
	}
	job.SetStage(stage, progress)
	c.jobs.Put(job)
	snap := job.Snapshot()
	c.notifier.Publish(notify.Event{
		JobID:    job.ID,
		Status:   snap.Status,
		Stage:    snap.Stage,
		Progress: snap.Progress,
	})
}

func (c *Coordinator) fail(job *jobstore.Job, stage string, err error, log *slog.Logger) {
	log.Error("job failed", "stage", stage, "error", err)
	job.Fail(stage, err.Error())
	c.jobs.Put(job)
}

// cleanup is the universal final step: it runs after success and failure
// alike, persisting the terminal record and emitting the final event.
func (c *Coordinator) cleanup(job *jobstore.Job, log *slog.Logger) {
	c.jobs.Put(job)
	snap := job.Snapshot()
	c.notifier.Publish(notify.Event{
		JobID:    job.ID,
		Status:   snap.Status,
		Stage:    snap.Stage,
		Progress: snap.Progress,
		Message:  snap.Error,
	})
	log.Info("cleanup done", "status", snap.Status)
}
