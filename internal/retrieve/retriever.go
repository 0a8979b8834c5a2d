package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redlinehq/redline/internal/fault"
	"github.com/redlinehq/redline/internal/reason"
)

// Querier is the single-query surface of the retrieval service.
type Querier interface {
	Query(ctx context.Context, text string, maxResults int) ([]Hit, error)
}

// Result aggregates one chunk's retrieval pass. A partially failed pass still
// carries the hits of the succeeded subset.
type Result struct {
	Hits         []Hit `json:"hits"`
	SuccessCount int   `json:"success_count"`
	FailedCount  int   `json:"failed_count"`
}

// Retriever fans a chunk's queries out against the retrieval service, at most
// maxConcurrent in flight, and fans the hits back in.
type Retriever struct {
	client        Querier
	maxConcurrent int
	log           *slog.Logger
}

func NewRetriever(client Querier, maxConcurrent int, log *slog.Logger) *Retriever {
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	return &Retriever{
		client:        client,
		maxConcurrent: maxConcurrent,
		log:           log,
	}
}

// Retrieve runs every query with per-query retries. Failed queries never
// abort the pass; they are counted and the succeeded subset is returned. The
// hit list is ordered by query, then by descending score. maxConcurrent, when
// positive, overrides the retriever's configured bound for this pass only.
func (r *Retriever) Retrieve(ctx context.Context, queries []reason.Query, maxConcurrent int) (*Result, error) {
	result := &Result{}
	if len(queries) == 0 {
		return result, nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = r.maxConcurrent
	}

	var mu sync.Mutex
	perQuery := make([][]Hit, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			hits, err := r.queryWithRetry(gctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn("retrieval query failed", "query_id", q.QueryID, "error", err)
				result.FailedCount++
				return nil // partial failure never aborts siblings
			}
			perQuery[i] = hits
			result.SuccessCount++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, hits := range perQuery {
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
		for _, h := range hits {
			h.QueryID = queries[i].QueryID
			result.Hits = append(result.Hits, h)
		}
	}
	return result, nil
}

func (r *Retriever) queryWithRetry(ctx context.Context, q reason.Query) ([]Hit, error) {
	var lastErr error
	for attempt := 0; attempt < fault.MaxAttempts; attempt++ {
		hits, err := r.client.Query(ctx, q.Text, q.MaxResults)
		if err == nil {
			return hits, nil
		}
		lastErr = err
		// No point sleeping when the failure is permanent or no attempt
		// remains.
		if !fault.IsTransient(err) || attempt+1 == fault.MaxAttempts {
			break
		}
		select {
		case <-time.After(fault.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// FormatHits renders hits into the reference-context block of the detection
// prompt.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, h := range hits {
		source := "unknown source"
		if h.Metadata != nil {
			if s, ok := h.Metadata["source_doc"].(string); ok && s != "" {
				source = s
			}
		}
		fmt.Fprintf(&sb, "[%d] (from %s, score %.2f)\n%s\n\n", i+1, source, h.Score, strings.TrimSpace(h.Text))
	}
	return strings.TrimSpace(sb.String())
}
