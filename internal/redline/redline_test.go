package redline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlinehq/redline/internal/merge"
)

const sampleDoc = `Section 1. Payment Terms

All invoices are payable within ninety (90) days of receipt.
Late payments accrue no interest.

Section 2. Liability

The Vendor's total liability is capped at one month of fees.
All invoices are payable within ninety (90) days of receipt.`

func TestLocate_ExactMatch(t *testing.T) {
	conflicts := []merge.Conflict{
		{VendorQuote: "Late payments accrue no interest.", ChunkStart: 0, ChunkEnd: 200},
	}
	out := Locate(sampleDoc, conflicts)
	require.Len(t, out, 1)
	require.True(t, out[0].Located)

	runes := []rune(sampleDoc)
	got := string(runes[out[0].StartOffset:out[0].EndOffset])
	assert.Equal(t, "Late payments accrue no interest.", got)
}

func TestLocate_NormalizedMatch(t *testing.T) {
	// Quote differs in case and whitespace from the source.
	conflicts := []merge.Conflict{
		{VendorQuote: "late PAYMENTS   accrue no\ninterest.", ChunkStart: 0, ChunkEnd: 200},
	}
	out := Locate(sampleDoc, conflicts)
	require.True(t, out[0].Located)

	runes := []rune(sampleDoc)
	got := string(runes[out[0].StartOffset:out[0].EndOffset])
	assert.Equal(t,
		merge.NormalizeQuote(out[0].VendorQuote),
		merge.NormalizeQuote(got),
		"located span must normalize to the quoted text")
}

func TestLocate_DisambiguatesByChunkWindow(t *testing.T) {
	quote := "All invoices are payable within ninety (90) days of receipt."
	first := strings.Index(sampleDoc, quote)
	second := strings.LastIndex(sampleDoc, quote)
	require.NotEqual(t, first, second)

	// A conflict reported from a chunk near the end of the document must
	// resolve to the second occurrence.
	docLen := len([]rune(sampleDoc))
	conflicts := []merge.Conflict{
		{VendorQuote: quote, ChunkStart: docLen - 80, ChunkEnd: docLen},
		{VendorQuote: quote, ChunkStart: 0, ChunkEnd: 120},
	}
	out := Locate(sampleDoc, conflicts)
	require.True(t, out[0].Located)
	require.True(t, out[1].Located)
	assert.Greater(t, out[0].StartOffset, out[1].StartOffset)
	assert.Equal(t, second, out[0].StartOffset) // ascii doc: byte == rune offsets
	assert.Equal(t, first, out[1].StartOffset)
}

func TestLocate_OverlapDuplicatesResolveToSameSpot(t *testing.T) {
	// The same quote reported from two overlapping chunk windows must land on
	// the single occurrence inside both windows.
	conflicts := []merge.Conflict{
		{VendorQuote: "Late payments accrue no interest.", ChunkStart: 0, ChunkEnd: 120},
		{VendorQuote: "Late payments accrue no interest.", ChunkStart: 80, ChunkEnd: 220},
	}
	out := Locate(sampleDoc, conflicts)
	require.True(t, out[0].Located)
	require.True(t, out[1].Located)
	assert.Equal(t, out[0].StartOffset, out[1].StartOffset)
	assert.Equal(t, out[0].EndOffset, out[1].EndOffset)
}

func TestLocate_UnlocatedKept(t *testing.T) {
	conflicts := []merge.Conflict{
		{VendorQuote: "this sentence does not exist anywhere", ChunkStart: 0, ChunkEnd: 100},
		{VendorQuote: "Late payments accrue no interest.", ChunkStart: 0, ChunkEnd: 200},
	}
	out := Locate(sampleDoc, conflicts)
	require.Len(t, out, 2, "unlocated conflicts are never dropped")
	assert.False(t, out[0].Located)
	assert.True(t, out[1].Located)
}

func TestLocate_UnicodeOffsets(t *testing.T) {
	text := "Präambel: Die Lieferung erfolgt frei Haus. Zahlung in 30 Tagen."
	conflicts := []merge.Conflict{
		{VendorQuote: "Zahlung in 30 Tagen.", ChunkStart: 0, ChunkEnd: 100},
	}
	out := Locate(text, conflicts)
	require.True(t, out[0].Located)

	runes := []rune(text)
	assert.Equal(t, "Zahlung in 30 Tagen.", string(runes[out[0].StartOffset:out[0].EndOffset]))
}

func TestAnnotations_SkipUnlocated(t *testing.T) {
	conflicts := []merge.Conflict{
		{GlobalID: "C1", VendorQuote: "x", Summary: "found", Located: true, StartOffset: 3, EndOffset: 4},
		{GlobalID: "C2", VendorQuote: "y", Summary: "missing", Located: false},
	}
	anns := Annotations(conflicts)
	require.Len(t, anns, 1)
	assert.Equal(t, "C1", anns[0].GlobalID)
	assert.Equal(t, "found", anns[0].Note)
}

func TestApply_DescendingInsertion(t *testing.T) {
	text := "alpha beta gamma"
	anns := []Annotation{
		{StartOffset: 0, EndOffset: 5, GlobalID: "C1", Note: "first"},
		{StartOffset: 11, EndOffset: 16, GlobalID: "C2", Note: "third"},
	}
	got := Apply(text, anns)
	assert.Equal(t, "[[C1: first]]alpha[[/C1]] beta [[C2: third]]gamma[[/C2]]", got)
}

func TestApply_MarkersWrapLocatedSpans(t *testing.T) {
	conflicts := []merge.Conflict{
		{GlobalID: "C1", VendorQuote: "Late payments accrue no interest.", Summary: "interest clause conflicts", ChunkStart: 0, ChunkEnd: 250},
	}
	located := Locate(sampleDoc, conflicts)
	got := Apply(sampleDoc, Annotations(located))

	assert.Contains(t, got, "[[C1: interest clause conflicts]]Late payments accrue no interest.[[/C1]]")
	// The rest of the document is untouched.
	assert.Contains(t, got, "Section 1. Payment Terms")
}

func TestApply_IgnoresOutOfRange(t *testing.T) {
	got := Apply("short", []Annotation{{StartOffset: 2, EndOffset: 99, GlobalID: "C1"}})
	assert.Equal(t, "short", got)
}
