package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/fault"
	"github.com/redlinehq/redline/internal/merge"
	"github.com/redlinehq/redline/internal/reason"
	"github.com/redlinehq/redline/internal/retrieve"
	"github.com/redlinehq/redline/internal/splitter"
)

// ReasoningService is the reasoning-service surface the per-chunk stages
// call. Implemented by *reason.Client.
type ReasoningService interface {
	AnalyzeStructure(ctx context.Context, req reason.StructureRequest) (*reason.StructureResult, error)
	DetectConflicts(ctx context.Context, req reason.ConflictRequest) (*reason.ConflictResult, error)
}

// ContextRetriever fans a chunk's queries out against the retrieval service.
// maxConcurrent, when positive, bounds the fan-out for that pass. Implemented
// by *retrieve.Retriever.
type ContextRetriever interface {
	Retrieve(ctx context.Context, queries []reason.Query, maxConcurrent int) (*retrieve.Result, error)
}

// Limits are one job's overrides of the fan-out bounds. Zero values fall back
// to the configured defaults.
type Limits struct {
	MaxChunks  int // concurrent chunk pipelines
	MaxQueries int // concurrent retrieval queries per chunk
}

// ChunkOutcome is the terminal state of one chunk pipeline. A chunk either
// produced candidates (possibly zero) or failed at a named stage; either way
// it reached this record, so the fan-in barrier can count it.
type ChunkOutcome struct {
	Chunk      splitter.Chunk
	Candidates []merge.Candidate

	StructureRef blob.Ref
	ContextRef   blob.Ref
	DetectRef    blob.Ref

	RetrievalOK     int
	RetrievalFailed int

	FailedStage string // empty on success
	FailureNote string
}

// Failed reports whether the chunk pipeline failed before producing
// candidates.
func (o ChunkOutcome) Failed() bool { return o.FailedStage != "" }

// Scheduler fans chunk pipelines out with bounded concurrency and fans their
// outcomes back in. Chunk pipelines are independent; a chunk-local failure
// never aborts siblings. Only an unrecoverable error (missing blob) or the
// job deadline stops the run.
type Scheduler struct {
	reasoner  ReasoningService
	retriever ContextRetriever
	blobs     blob.Store
	maxChunks int64
	log       *slog.Logger
}

func NewScheduler(reasoner ReasoningService, retriever ContextRetriever, blobs blob.Store, maxChunks int, log *slog.Logger) *Scheduler {
	if maxChunks <= 0 {
		maxChunks = 10
	}
	return &Scheduler{
		reasoner:  reasoner,
		retriever: retriever,
		blobs:     blobs,
		maxChunks: int64(maxChunks),
		log:       log,
	}
}

// Run drives every chunk through structure → retrieve → detect, bounding
// concurrent chunk pipelines by limits (or the configured default). onDone,
// if non-nil, is called after each chunk reaches a terminal state. The
// returned error is the first unrecoverable error, or the context error if
// the job deadline elapsed before all chunks were scheduled; outcomes for
// already-finished chunks are returned either way.
func (s *Scheduler) Run(ctx context.Context, chunks []splitter.Chunk, limits Limits, onDone func(done, total int)) ([]ChunkOutcome, error) {
	maxChunks := s.maxChunks
	if limits.MaxChunks > 0 {
		maxChunks = int64(limits.MaxChunks)
	}
	outcomes := make([]ChunkOutcome, len(chunks))
	sem := semaphore.NewWeighted(maxChunks)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		done  int
		fatal error
	)

	for i, chunk := range chunks {
		// Once the deadline elapses, stop scheduling new chunk work.
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = ChunkOutcome{
				Chunk:       chunk,
				FailedStage: "schedule",
				FailureNote: fmt.Sprintf("chunk %d not scheduled: %v", chunk.Num, ctx.Err()),
			}
			continue
		}
		wg.Add(1)
		go func(i int, chunk splitter.Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := s.runChunk(ctx, chunk, limits.MaxQueries)
			mu.Lock()
			outcomes[i] = outcome
			if outcome.FailedStage == "fatal" && fatal == nil {
				fatal = &fault.UnrecoverableError{Reason: outcome.FailureNote}
			}
			done++
			d := done
			mu.Unlock()
			if onDone != nil {
				onDone(d, len(chunks))
			}
		}(i, chunk)
	}
	wg.Wait()

	if fatal != nil {
		return outcomes, fatal
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// runChunk is the per-chunk state machine. It never panics the scheduler: a
// stage failure is recorded on the outcome and the goroutine ends.
func (s *Scheduler) runChunk(ctx context.Context, chunk splitter.Chunk, maxQueries int) ChunkOutcome {
	log := s.log.With("chunk", chunk.Num)
	outcome := ChunkOutcome{Chunk: chunk}

	data, err := s.blobs.Get(ctx, chunk.BlobRef)
	if err != nil {
		outcome.FailedStage = "fatal"
		outcome.FailureNote = fmt.Sprintf("chunk %d payload missing: %v", chunk.Num, err)
		return outcome
	}
	text := string(data)

	// Stage 1: structure.
	structure, err := s.analyzeStructure(ctx, chunk, text)
	if err != nil {
		log.Error("structure stage failed", "error", err)
		outcome.FailedStage = "structure"
		outcome.FailureNote = fmt.Sprintf("chunk %d structure: %v", chunk.Num, err)
		return outcome
	}
	if outcome.StructureRef, err = s.putJSON(ctx, structure); err != nil {
		outcome.FailedStage = "fatal"
		outcome.FailureNote = fmt.Sprintf("chunk %d persist structure: %v", chunk.Num, err)
		return outcome
	}

	// Stage 2: retrieve. Partial failure keeps the succeeded subset.
	retrieval, err := s.retriever.Retrieve(ctx, structure.Queries, maxQueries)
	if err != nil {
		log.Error("retrieve stage failed", "error", err)
		outcome.FailedStage = "retrieve"
		outcome.FailureNote = fmt.Sprintf("chunk %d retrieve: %v", chunk.Num, err)
		return outcome
	}
	outcome.RetrievalOK = retrieval.SuccessCount
	outcome.RetrievalFailed = retrieval.FailedCount
	if retrieval.FailedCount > 0 {
		log.Warn("retrieval partially failed", "ok", retrieval.SuccessCount, "failed", retrieval.FailedCount)
	}
	if outcome.ContextRef, err = s.putJSON(ctx, retrieval); err != nil {
		outcome.FailedStage = "fatal"
		outcome.FailureNote = fmt.Sprintf("chunk %d persist context: %v", chunk.Num, err)
		return outcome
	}

	// Stage 3: detect.
	detected, err := s.detectConflicts(ctx, text, retrieval.Hits)
	if err != nil {
		log.Error("detect stage failed", "error", err)
		outcome.FailedStage = "detect"
		outcome.FailureNote = fmt.Sprintf("chunk %d detect: %v", chunk.Num, err)
		return outcome
	}
	if outcome.DetectRef, err = s.putJSON(ctx, detected); err != nil {
		outcome.FailedStage = "fatal"
		outcome.FailureNote = fmt.Sprintf("chunk %d persist conflicts: %v", chunk.Num, err)
		return outcome
	}

	for _, c := range detected.Conflicts {
		outcome.Candidates = append(outcome.Candidates, merge.Candidate{
			ConflictCandidate: c,
			ChunkNum:          chunk.Num,
			ChunkStart:        chunk.StartChar,
			ChunkEnd:          chunk.EndChar,
		})
	}
	log.Info("chunk analyzed", "queries", len(structure.Queries),
		"hits", len(retrieval.Hits), "conflicts", len(detected.Conflicts))
	return outcome
}

func (s *Scheduler) analyzeStructure(ctx context.Context, chunk splitter.Chunk, text string) (*reason.StructureResult, error) {
	req := reason.StructureRequest{
		ChunkNum:    chunk.Num,
		TotalChunks: chunk.Total,
		StartChar:   chunk.StartChar,
		EndChar:     chunk.EndChar,
		Text:        text,
	}
	return callWithPolicy(ctx, s.log, func(strict bool) (*reason.StructureResult, error) {
		r := req
		r.Strict = strict
		return s.reasoner.AnalyzeStructure(ctx, r)
	})
}

func (s *Scheduler) detectConflicts(ctx context.Context, text string, hits []retrieve.Hit) (*reason.ConflictResult, error) {
	req := reason.ConflictRequest{
		Text:    text,
		Context: retrieve.FormatHits(hits),
	}
	return callWithPolicy(ctx, s.log, func(strict bool) (*reason.ConflictResult, error) {
		r := req
		r.Strict = strict
		return s.reasoner.DetectConflicts(ctx, r)
	})
}

// callWithPolicy applies the stage retry policy: transient errors get bounded
// exponential backoff, a validation error gets exactly one retry with the
// stricter prompt, anything else fails the stage.
func callWithPolicy[T any](ctx context.Context, log *slog.Logger, call func(strict bool) (*T, error)) (*T, error) {
	strict := false
	var lastErr error
	for attempt := 0; attempt < fault.MaxAttempts; attempt++ {
		result, err := call(strict)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case fault.IsValidation(err) && !strict:
			// One stricter retry; does not consume a transient attempt.
			log.Warn("schema validation failed, retrying with strict prompt", "error", err)
			strict = true
			attempt--
		case fault.IsValidation(err):
			return nil, err
		case fault.IsTransient(err):
			if attempt+1 == fault.MaxAttempts {
				return nil, lastErr
			}
			log.Warn("transient reasoning error", "attempt", attempt, "error", err)
			select {
			case <-time.After(fault.Backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Scheduler) putJSON(ctx context.Context, v any) (blob.Ref, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stage output: %w", err)
	}
	return s.blobs.Put(ctx, data)
}
