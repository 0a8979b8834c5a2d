package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlinehq/redline/internal/reason"
)

func candidate(chunk int, quote, source string) Candidate {
	return Candidate{
		ConflictCandidate: reason.ConflictCandidate{
			LocalID:        "c1",
			VendorQuote:    quote,
			Summary:        "summary of " + quote,
			SourceDoc:      source,
			Type:           "liability",
			Severity:       "high",
			Recommendation: "amend " + quote,
		},
		ChunkNum:   chunk,
		ChunkStart: chunk * 100,
		ChunkEnd:   chunk*100 + 120,
	}
}

func TestNormalizeQuote(t *testing.T) {
	assert.Equal(t, "payment due in 90 days", NormalizeQuote("  Payment   due\tin\n90 days  "))
	assert.Equal(t, "", NormalizeQuote("   \n\t "))
	assert.Equal(t, "ünïcödé text", NormalizeQuote("ÜNÏCÖDÉ   TEXT"))
}

func TestMerge_DedupAcrossOverlap(t *testing.T) {
	// Same clause seen in chunk 1's tail and chunk 2's head, with whitespace
	// and casing drift between the two readings.
	a := candidate(1, "Payment due in 90 days.", "policy.md")
	b := candidate(2, "payment  due in\n90 days.", "policy.md")

	merged := Merge([]Candidate{a, b})
	require.Len(t, merged, 1)
	// First-encountered candidate wins.
	assert.Equal(t, "Payment due in 90 days.", merged[0].VendorQuote)
	assert.Equal(t, 1, merged[0].ChunkNum)
}

func TestMerge_DifferentSourceDocsStayDistinct(t *testing.T) {
	a := candidate(1, "Payment due in 90 days.", "policy.md")
	b := candidate(2, "Payment due in 90 days.", "finance-handbook.md")

	merged := Merge([]Candidate{a, b})
	assert.Len(t, merged, 2)
}

func TestMerge_ConcatenatesDifferingText(t *testing.T) {
	a := candidate(1, "net 90", "policy.md")
	a.Recommendation = "change to net 30"
	b := candidate(2, "net 90", "policy.md")
	b.Recommendation = "escalate to finance"

	merged := Merge([]Candidate{a, b})
	require.Len(t, merged, 1)
	assert.Equal(t, "change to net 30 | escalate to finance", merged[0].Recommendation)
}

func TestMerge_DoesNotConcatenateEquivalentText(t *testing.T) {
	a := candidate(1, "net 90", "policy.md")
	a.Recommendation = "Change to net 30"
	b := candidate(2, "net 90", "policy.md")
	b.Recommendation = "change  to net 30" // same up to normalization

	merged := Merge([]Candidate{a, b})
	require.Len(t, merged, 1)
	assert.Equal(t, "Change to net 30", merged[0].Recommendation)
}

func TestMerge_Idempotent(t *testing.T) {
	input := []Candidate{
		candidate(0, "clause one", "a.md"),
		candidate(1, "Clause  One", "a.md"),
		candidate(1, "clause two", "b.md"),
		candidate(2, "clause three", "a.md"),
	}
	once := Merge(input)

	// Feed the merged set back through as candidates.
	var again []Candidate
	for _, c := range once {
		again = append(again, Candidate{
			ConflictCandidate: reason.ConflictCandidate{
				VendorQuote:    c.VendorQuote,
				Summary:        c.Summary,
				SourceDoc:      c.SourceDoc,
				Type:           c.Type,
				Severity:       c.Severity,
				Recommendation: c.Recommendation,
			},
			ChunkNum:   c.ChunkNum,
			ChunkStart: c.ChunkStart,
			ChunkEnd:   c.ChunkEnd,
		})
	}
	twice := Merge(again)
	assert.Equal(t, once, twice)
}

func TestAssignIDs_DocumentOrder(t *testing.T) {
	conflicts := []Conflict{
		{VendorQuote: "late clause", Located: true, StartOffset: 500, EndOffset: 510, Type: "liability"},
		{VendorQuote: "early clause", Located: true, StartOffset: 10, EndOffset: 22, Type: "security"},
		{VendorQuote: "middle clause", Located: true, StartOffset: 200, EndOffset: 213, Type: "liability"},
	}
	out := AssignIDs(conflicts)
	require.Len(t, out, 3)
	assert.Equal(t, "early clause", out[0].VendorQuote)
	assert.Equal(t, "C1", out[0].GlobalID)
	assert.Equal(t, "middle clause", out[1].VendorQuote)
	assert.Equal(t, "C2", out[1].GlobalID)
	assert.Equal(t, "late clause", out[2].VendorQuote)
	assert.Equal(t, "C3", out[2].GlobalID)
}

func TestAssignIDs_UnlocatedFallsBackToChunkOrder(t *testing.T) {
	conflicts := []Conflict{
		{VendorQuote: "located late", Located: true, StartOffset: 900, EndOffset: 910, Type: "x"},
		{VendorQuote: "unlocated early chunk", Located: false, ChunkNum: 0, ChunkStart: 0, ChunkEnd: 100, Type: "x"},
	}
	out := AssignIDs(conflicts)
	require.Len(t, out, 2)
	assert.Equal(t, "unlocated early chunk", out[0].VendorQuote)
	assert.Equal(t, "located late", out[1].VendorQuote)
}

func TestAssignIDs_SeparateSequenceForUnclassified(t *testing.T) {
	conflicts := []Conflict{
		{VendorQuote: "a", Located: true, StartOffset: 10, EndOffset: 11, Type: "liability"},
		{VendorQuote: "b", Located: true, StartOffset: 20, EndOffset: 21, Type: reason.TypeUnclassified},
		{VendorQuote: "c", Located: true, StartOffset: 30, EndOffset: 31, Type: "security"},
		{VendorQuote: "d", Located: true, StartOffset: 40, EndOffset: 41, Type: reason.TypeUnclassified},
	}
	out := AssignIDs(conflicts)
	ids := []string{out[0].GlobalID, out[1].GlobalID, out[2].GlobalID, out[3].GlobalID}
	assert.Equal(t, []string{"C1", "A1", "C2", "A2"}, ids)
}

func TestAssignIDs_DoesNotMutateInput(t *testing.T) {
	conflicts := []Conflict{
		{VendorQuote: "a", Located: true, StartOffset: 10, Type: "x"},
	}
	_ = AssignIDs(conflicts)
	assert.Empty(t, conflicts[0].GlobalID)
}
