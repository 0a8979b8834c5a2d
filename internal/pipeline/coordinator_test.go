package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/fault"
	"github.com/redlinehq/redline/internal/jobstore"
	"github.com/redlinehq/redline/internal/notify"
	"github.com/redlinehq/redline/internal/reason"
	"github.com/redlinehq/redline/internal/splitter"
)

type coordFixture struct {
	coordinator *Coordinator
	blobs       *blob.MemoryStore
	jobs        *jobstore.MemoryStore
	notifier    *notify.Notifier
}

func newCoordFixture(t *testing.T, reasoner ReasoningService) *coordFixture {
	t.Helper()
	blobs := blob.NewMemoryStore()
	jobs := jobstore.NewMemoryStore(time.Hour)
	notifier := notify.New()
	scheduler := NewScheduler(reasoner, okRetriever(), blobs, 4, testLogger())
	return &coordFixture{
		coordinator: NewCoordinator(scheduler, blobs, jobs, notifier, testLogger()),
		blobs:       blobs,
		jobs:        jobs,
		notifier:    notifier,
	}
}

func newTestJob() *jobstore.Job {
	now := time.Now()
	return &jobstore.Job{
		ID:        "job-1",
		DocID:     "doc-1",
		Title:     "Vendor MSA",
		Status:    jobstore.StatusInitialized,
		Stage:     jobstore.StageInitialize,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

const vendorText = `Section 1. Payment.
All invoices are payable within ninety (90) days of receipt.

Section 2. Liability.
The Vendor disclaims all liability for data loss.`

func TestCoordinatorRun_CompletesJob(t *testing.T) {
	reasoner := &fakeReasoner{
		structureFn: okStructure,
		detectFn:    detectOne("All invoices are payable within ninety (90) days of receipt."),
	}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	fx.coordinator.Run(context.Background(), job, doc.Document{Title: "Vendor MSA", Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: 1000, Overlap: 100}})

	snap := job.Snapshot()
	assert.Equal(t, jobstore.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 1, snap.TotalChunks)
	assert.Equal(t, 1, snap.ChunksDone)
	assert.Equal(t, 1, snap.ConflictsFound)
	assert.Zero(t, snap.Unlocated)
	require.NotEmpty(t, snap.ReportRef)
	require.NotEmpty(t, snap.RedlineRef)

	// The persisted report carries a numbered, located conflict.
	reportData, err := fx.blobs.Get(context.Background(), snap.ReportRef)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(reportData, &report))
	assert.Equal(t, "job-1", report.JobID)
	assert.Equal(t, 1, report.TotalChunks)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "C1", report.Conflicts[0].GlobalID)
	assert.True(t, report.Conflicts[0].Located)
	assert.Equal(t, reason.MinQueries, report.RetrievalQueriesOK)

	// The redlined artifact wraps the quoted clause in markers.
	redlineData, err := fx.blobs.Get(context.Background(), snap.RedlineRef)
	require.NoError(t, err)
	annotated := string(redlineData)
	assert.Contains(t, annotated, "[[C1:")
	assert.Contains(t, annotated, "All invoices are payable within ninety (90) days of receipt.[[/C1]]")
	assert.Contains(t, annotated, "Section 2. Liability.")
}

func TestCoordinatorRun_PartialChunkFailureStillCompletes(t *testing.T) {
	// Two chunks; the second one's structure pass keeps emitting unusable
	// output. The job must complete on the first chunk's results.
	reasoner := &fakeReasoner{
		structureFn: func(req reason.StructureRequest) (*reason.StructureResult, error) {
			if req.ChunkNum == 1 {
				return nil, &fault.ValidationError{Stage: "structure", Detail: "garbage out"}
			}
			return okStructure(req)
		},
		detectFn: detectOne("All invoices are payable within ninety (90) days of receipt."),
	}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	docLen := len([]rune(vendorText))
	fx.coordinator.Run(context.Background(), job, doc.Document{Title: "Vendor MSA", Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: docLen - 20, Overlap: 10}})

	snap := job.Snapshot()
	assert.Equal(t, jobstore.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.TotalChunks)
	require.Len(t, snap.ChunkFailures, 1)
	assert.Contains(t, snap.ChunkFailures[0], "chunk 1 structure")
	assert.Equal(t, 1, snap.ConflictsFound)

	// The failure note travels into the report, never silently dropped.
	reportData, err := fx.blobs.Get(context.Background(), snap.ReportRef)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(reportData, &report))
	require.Len(t, report.ChunkFailures, 1)
	assert.Contains(t, report.ChunkFailures[0], "chunk 1")
}

func TestCoordinatorRun_AllChunksFailedFailsJob(t *testing.T) {
	reasoner := &fakeReasoner{
		structureFn: func(req reason.StructureRequest) (*reason.StructureResult, error) {
			return nil, &fault.ValidationError{Stage: "structure", Detail: "garbage out"}
		},
	}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	fx.coordinator.Run(context.Background(), job, doc.Document{Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: 1000, Overlap: 100}})

	snap := job.Snapshot()
	assert.Equal(t, jobstore.StatusFailed, snap.Status)
	assert.Equal(t, jobstore.StageAnalyze, snap.Stage)
	assert.Contains(t, snap.Error, "chunk pipelines failed")
	assert.Empty(t, snap.ReportRef)
}

func TestCoordinatorRun_InvalidChunkConfigFailsAtSplit(t *testing.T) {
	reasoner := &fakeReasoner{structureFn: okStructure, detectFn: detectOne("x")}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	fx.coordinator.Run(context.Background(), job, doc.Document{Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: 100, Overlap: 100}})

	snap := job.Snapshot()
	assert.Equal(t, jobstore.StatusFailed, snap.Status)
	assert.Equal(t, jobstore.StageSplit, snap.Stage)
	assert.Contains(t, snap.Error, "invalid configuration")
}

func TestCoordinatorRun_UnlocatedConflictSurvivesIntoReport(t *testing.T) {
	reasoner := &fakeReasoner{
		structureFn: okStructure,
		detectFn:    detectOne("a clause the vendor document never actually contains"),
	}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	fx.coordinator.Run(context.Background(), job, doc.Document{Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: 1000, Overlap: 100}})

	snap := job.Snapshot()
	assert.Equal(t, jobstore.StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.ConflictsFound)
	assert.Equal(t, 1, snap.Unlocated)

	reportData, err := fx.blobs.Get(context.Background(), snap.ReportRef)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(reportData, &report))
	require.Len(t, report.Conflicts, 1)
	assert.False(t, report.Conflicts[0].Located)
	assert.Equal(t, 1, report.Unlocated)

	// No markers in the artifact: an unlocated conflict is report-only.
	redlineData, err := fx.blobs.Get(context.Background(), snap.RedlineRef)
	require.NoError(t, err)
	assert.Equal(t, vendorText, string(redlineData))
	assert.False(t, strings.Contains(string(redlineData), "[["))
}

func TestCoordinatorRun_PublishesTerminalEvent(t *testing.T) {
	reasoner := &fakeReasoner{structureFn: okStructure, detectFn: detectOne("x")}
	fx := newCoordFixture(t, reasoner)
	job := newTestJob()
	fx.jobs.Put(job)

	events, cancel := fx.notifier.Subscribe(job.ID)
	defer cancel()

	fx.coordinator.Run(context.Background(), job, doc.Document{Text: vendorText},
		Options{Chunk: splitter.Config{ChunkSize: 1000, Overlap: 100}})

	var last notify.Event
	var got bool
	for {
		select {
		case ev := <-events:
			last, got = ev, true
			continue
		default:
		}
		break
	}
	require.True(t, got, "expected at least one progress event")
	assert.Equal(t, jobstore.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}
