// Package merge collapses per-chunk conflict candidates into a single
// deduplicated, stably numbered conflict set. Duplicates arise naturally from
// chunk overlap: a quote in chunk N's tail is seen again in chunk N+1's head.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/redlinehq/redline/internal/reason"
)

// Candidate is a chunk-scoped conflict candidate plus its chunk provenance.
// The chunk window disambiguates multi-match quotes during redlining.
type Candidate struct {
	reason.ConflictCandidate

	ChunkNum   int `json:"chunk_num"`
	ChunkStart int `json:"chunk_start"`
	ChunkEnd   int `json:"chunk_end"`
}

// Conflict is a merged, document-scoped conflict. GlobalID is assigned by
// AssignIDs and is stable in document order. Offsets are rune positions in
// the original document, valid only when Located is true.
type Conflict struct {
	GlobalID       string `json:"global_id"`
	VendorQuote    string `json:"vendor_quote"`
	Summary        string `json:"summary"`
	SourceDoc      string `json:"source_doc"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`

	Located     bool `json:"located"`
	StartOffset int  `json:"start_offset,omitempty"`
	EndOffset   int  `json:"end_offset,omitempty"`

	// Provenance of the first-encountered candidate, kept for match
	// disambiguation and for ordering unlocated conflicts.
	ChunkNum   int `json:"chunk_num"`
	ChunkStart int `json:"chunk_start"`
	ChunkEnd   int `json:"chunk_end"`
}

const mergeSeparator = " | "

// NormalizeQuote trims, collapses internal whitespace runs to single spaces,
// and case-folds. Two quotes that normalize identically are the same quote.
func NormalizeQuote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			sb.WriteRune(' ')
			inSpace = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

func dedupKey(quote, sourceDoc string) string {
	return NormalizeQuote(quote) + "\x00" + NormalizeQuote(sourceDoc)
}

// Merge deduplicates candidates across chunks. Candidates must be supplied in
// chunk order; within a dedup group the first-encountered candidate wins, and
// differing summaries/recommendations are concatenated rather than dropped.
// Merging an already-merged set again yields the same set.
func Merge(candidates []Candidate) []Conflict {
	var conflicts []Conflict
	index := make(map[string]int)

	for _, cand := range candidates {
		key := dedupKey(cand.VendorQuote, cand.SourceDoc)
		if i, ok := index[key]; ok {
			conflicts[i].Summary = mergeText(conflicts[i].Summary, cand.Summary)
			conflicts[i].Recommendation = mergeText(conflicts[i].Recommendation, cand.Recommendation)
			continue
		}
		index[key] = len(conflicts)
		conflicts = append(conflicts, Conflict{
			VendorQuote:    cand.VendorQuote,
			Summary:        cand.Summary,
			SourceDoc:      cand.SourceDoc,
			Type:           cand.Type,
			Severity:       cand.Severity,
			Recommendation: cand.Recommendation,
			ChunkNum:       cand.ChunkNum,
			ChunkStart:     cand.ChunkStart,
			ChunkEnd:       cand.ChunkEnd,
		})
	}
	return conflicts
}

// mergeText concatenates b onto a when they differ non-trivially. Text that
// is already contained (up to normalization) adds nothing.
func mergeText(a, b string) string {
	na, nb := NormalizeQuote(a), NormalizeQuote(b)
	if nb == "" || strings.Contains(na, nb) {
		return a
	}
	if na == "" {
		return b
	}
	return a + mergeSeparator + b
}

// AssignIDs orders conflicts and assigns global IDs. Located conflicts sort
// by document position; unlocated ones fall back to their chunk window, after
// located ones at the same position. Specific conflicts are numbered C1, C2,
// ... while the unclassified catch-all gets its own A-sequence, so both stay
// dense. IDs remain unique across the two sequences.
func AssignIDs(conflicts []Conflict) []Conflict {
	out := append([]Conflict(nil), conflicts...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := sortPos(out[i]), sortPos(out[j])
		if pi != pj {
			return pi < pj
		}
		// Located before unlocated at the same position.
		return out[i].Located && !out[j].Located
	})

	specific, additional := 0, 0
	for i := range out {
		if out[i].Type == reason.TypeUnclassified {
			additional++
			out[i].GlobalID = fmt.Sprintf("A%d", additional)
		} else {
			specific++
			out[i].GlobalID = fmt.Sprintf("C%d", specific)
		}
	}
	return out
}

func sortPos(c Conflict) int {
	if c.Located {
		return c.StartOffset
	}
	return c.ChunkStart
}
