package reason

import (
	"fmt"
	"strings"

	"github.com/redlinehq/redline/internal/fault"
)

// Query is one retrieval query the structure pass derived from a chunk.
type Query struct {
	QueryID    string `json:"query_id"`
	Text       string `json:"text"`
	Section    string `json:"section,omitempty"`
	MaxResults int    `json:"max_results"`
}

// StructureResult is the validated output of the structure pass.
type StructureResult struct {
	Queries     []Query `json:"queries"`
	Explanation string  `json:"explanation,omitempty"`
}

// ConflictCandidate is one conflict the detection pass reported for a chunk.
// LocalID is unique only within the chunk.
type ConflictCandidate struct {
	LocalID        string `json:"id"`
	VendorQuote    string `json:"vendor_quote"`
	Summary        string `json:"summary"`
	SourceDoc      string `json:"source_doc"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// ConflictResult is the validated output of the detection pass. An empty
// Conflicts list is a valid outcome.
type ConflictResult struct {
	Explanation string              `json:"explanation"`
	Conflicts   []ConflictCandidate `json:"conflicts"`
}

const (
	MinQueries = 6
	MaxQueries = 15

	defaultMaxResults = 5
	maxMaxResults     = 20
)

var validSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// TypeUnclassified is the catch-all conflict type. Merged conflicts of this
// type get their own numbering sequence so generic findings don't crowd out
// specific ones.
const TypeUnclassified = "unclassified"

// ValidateStructure checks a structure result against the schema and
// normalizes defaults in place.
func ValidateStructure(r *StructureResult) error {
	if r == nil {
		return &fault.ValidationError{Stage: "structure", Detail: "empty result"}
	}
	if len(r.Queries) < MinQueries || len(r.Queries) > MaxQueries {
		return &fault.ValidationError{
			Stage:  "structure",
			Detail: fmt.Sprintf("expected %d-%d queries, got %d", MinQueries, MaxQueries, len(r.Queries)),
		}
	}
	seen := make(map[string]bool, len(r.Queries))
	for i := range r.Queries {
		q := &r.Queries[i]
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			return &fault.ValidationError{Stage: "structure", Detail: fmt.Sprintf("query %d has empty text", i)}
		}
		if q.QueryID == "" {
			q.QueryID = fmt.Sprintf("q%d", i+1)
		}
		if seen[q.QueryID] {
			return &fault.ValidationError{Stage: "structure", Detail: fmt.Sprintf("duplicate query_id %q", q.QueryID)}
		}
		seen[q.QueryID] = true
		if q.MaxResults <= 0 {
			q.MaxResults = defaultMaxResults
		}
		if q.MaxResults > maxMaxResults {
			q.MaxResults = maxMaxResults
		}
	}
	return nil
}

// ValidateConflicts checks a conflict result against the schema and
// normalizes classification fields in place.
func ValidateConflicts(r *ConflictResult) error {
	if r == nil {
		return &fault.ValidationError{Stage: "detect", Detail: "empty result"}
	}
	for i := range r.Conflicts {
		c := &r.Conflicts[i]
		c.VendorQuote = strings.TrimSpace(c.VendorQuote)
		if c.VendorQuote == "" {
			return &fault.ValidationError{Stage: "detect", Detail: fmt.Sprintf("conflict %d has empty vendor_quote", i)}
		}
		if strings.TrimSpace(c.Summary) == "" {
			return &fault.ValidationError{Stage: "detect", Detail: fmt.Sprintf("conflict %d has empty summary", i)}
		}
		if c.LocalID == "" {
			c.LocalID = fmt.Sprintf("c%d", i+1)
		}
		c.Severity = strings.ToLower(strings.TrimSpace(c.Severity))
		if !validSeverities[c.Severity] {
			c.Severity = "medium"
		}
		c.Type = strings.ToLower(strings.TrimSpace(c.Type))
		if c.Type == "" || c.Type == "additional" || c.Type == "other" {
			c.Type = TypeUnclassified
		}
		if c.SourceDoc == "" {
			c.SourceDoc = "unspecified"
		}
	}
	return nil
}
