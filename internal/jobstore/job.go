// Package jobstore holds review job records and the store the coordinator
// writes them through. The coordinator is the only writer of a job record, so
// a per-job mutex is all the synchronization required.
package jobstore

import (
	"sync"
	"time"

	"github.com/redlinehq/redline/internal/blob"
)

// Status is the lifecycle state of a review job.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Pipeline stages, in execution order.
const (
	StageInitialize = "initialize"
	StageSplit      = "split"
	StageAnalyze    = "analyze"
	StageMerge      = "merge"
	StageRedline    = "redline"
	StagePersist    = "persist"
	StageCleanup    = "cleanup"
)

// Job tracks the state of a single vendor-document review.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`

	Status   Status `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Result references, set when the job completes.
	ReportRef  blob.Ref `json:"report_ref,omitempty"`
	RedlineRef blob.Ref `json:"redline_ref,omitempty"`

	// Accounting across chunk pipelines.
	TotalChunks    int      `json:"total_chunks"`
	ChunksDone     int      `json:"chunks_done"`
	ChunkFailures  []string `json:"chunk_failures,omitempty"`
	ConflictsFound int      `json:"conflicts_found"`
	Unlocated      int      `json:"unlocated"`
}

// SetStage records a stage transition and progress. It is a no-op once the
// job has reached a terminal status, so a late update can never regress a
// finished job.
func (j *Job) SetStage(stage string, progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusProcessing
	j.Stage = stage
	if progress > j.Progress {
		j.Progress = progress
	}
	if j.Progress > 100 {
		j.Progress = 100
	}
	j.UpdatedAt = time.Now()
}

// Complete marks the job completed. Ignored if already terminal.
func (j *Job) Complete(report, redline blob.Ref) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusCompleted
	j.Stage = StageCleanup
	j.Progress = 100
	j.ReportRef = report
	j.RedlineRef = redline
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed with a cause. Ignored if already terminal.
func (j *Job) Fail(stage, cause string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	j.Stage = stage
	j.Error = cause
	j.UpdatedAt = time.Now()
}

// AddChunkFailure records a chunk-local failure note.
func (j *Job) AddChunkFailure(note string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ChunkFailures = append(j.ChunkFailures, note)
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records how many chunk pipelines will run.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// IncrChunksDone increments the completed-chunk counter and returns the new
// count.
func (j *Job) IncrChunksDone() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ChunksDone++
	j.UpdatedAt = time.Now()
	return j.ChunksDone
}

// SetCounts records the final conflict tallies.
func (j *Job) SetCounts(found, unlocated int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ConflictsFound = found
	j.Unlocated = unlocated
	j.UpdatedAt = time.Now()
}

// Snapshot is a read-only, JSON-safe copy of job state.
type Snapshot struct {
	ID       string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`

	Status   Status `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	ReportRef  blob.Ref `json:"report_ref,omitempty"`
	RedlineRef blob.Ref `json:"redline_ref,omitempty"`

	TotalChunks    int      `json:"total_chunks"`
	ChunksDone     int      `json:"chunks_done"`
	ChunkFailures  []string `json:"chunk_failures"`
	ConflictsFound int      `json:"conflicts_found"`
	Unlocated      int      `json:"unlocated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	failures := j.ChunkFailures
	if failures == nil {
		failures = []string{}
	} else {
		failures = append([]string(nil), failures...)
	}
	return Snapshot{
		ID:             j.ID,
		DocID:          j.DocID,
		Filename:       j.Filename,
		Title:          j.Title,
		Status:         j.Status,
		Stage:          j.Stage,
		Progress:       j.Progress,
		Error:          j.Error,
		ReportRef:      j.ReportRef,
		RedlineRef:     j.RedlineRef,
		TotalChunks:    j.TotalChunks,
		ChunksDone:     j.ChunksDone,
		ChunkFailures:  failures,
		ConflictsFound: j.ConflictsFound,
		Unlocated:      j.Unlocated,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status.Terminal()
}
