package reason

import (
	"fmt"
	"strings"
)

const structurePrompt = `You are analyzing one chunk of a long vendor document so that relevant reference requirements can be retrieved for it. Identify between 6 and 15 non-overlapping retrieval queries that together cover the topics, obligations, and technical claims in this chunk.

Return a single JSON object with this exact shape:

{
  "queries": [
    {"query_id": "q1", "text": "...", "section": "...", "max_results": 5}
  ],
  "explanation": "one short sentence on how you divided the chunk"
}

Rules:
- 6 to 15 queries, each covering a distinct portion of the chunk
- "text" is a retrieval query phrased around the subject matter, not a question to a person
- "section" is a short label for the part of the chunk the query covers
- "max_results" between 1 and 20; use 5 unless a topic clearly needs more
- Respond with ONLY the JSON object, no other text.`

const structurePromptStrict = structurePrompt + `

Your previous answer did not match the schema. Follow it exactly this time: a single JSON object with a "queries" array of 6 to 15 objects, every object carrying non-empty "query_id" and "text" fields and an integer "max_results". Do not wrap the JSON in prose or markdown.`

const conflictPrompt = `You are comparing one chunk of a vendor document against retrieved reference requirements. Report every place where the vendor text conflicts with, contradicts, or fails to satisfy a reference requirement.

Return a single JSON object with this exact shape:

{
  "explanation": "one short paragraph summarizing the comparison",
  "conflicts": [
    {
      "id": "c1",
      "vendor_quote": "verbatim excerpt from the vendor chunk",
      "summary": "what conflicts and why",
      "source_doc": "which reference document the requirement comes from",
      "type": "category of conflict, e.g. payment-terms, liability, security, compliance",
      "severity": "low | medium | high | critical",
      "recommendation": "how to amend the vendor text"
    }
  ]
}

Rules:
- "vendor_quote" MUST be copied verbatim from the vendor chunk below, not paraphrased
- Only report genuine conflicts with the retrieved requirements; an empty "conflicts" array is a valid answer
- One entry per distinct conflict; do not repeat the same conflict with different wording
- Respond with ONLY the JSON object, no other text.`

const conflictPromptStrict = conflictPrompt + `

Your previous answer did not match the schema. Follow it exactly this time: a single JSON object with "explanation" and "conflicts" keys, every conflict carrying non-empty "vendor_quote" and "summary" fields copied or derived from the vendor chunk. Do not wrap the JSON in prose or markdown.`

// StructureRequest carries one chunk into the structure pass.
type StructureRequest struct {
	ChunkNum    int
	TotalChunks int
	StartChar   int
	EndChar     int
	Text        string
	Strict      bool // reiterate the schema after a validation failure
}

// ConflictRequest carries one chunk plus its retrieved context into the
// detection pass.
type ConflictRequest struct {
	Text    string
	Context string // rendered retrieval hits
	Strict  bool
}

// BuildStructurePrompt renders the structure prompt for a chunk.
func BuildStructurePrompt(req StructureRequest) string {
	base := structurePrompt
	if req.Strict {
		base = structurePromptStrict
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "Chunk %d of %d, characters %d-%d of the document.\n",
		req.ChunkNum+1, req.TotalChunks, req.StartChar, req.EndChar)
	sb.WriteString("---\n")
	sb.WriteString(req.Text)
	return sb.String()
}

// BuildConflictPrompt renders the detection prompt for a chunk and its
// retrieved reference context.
func BuildConflictPrompt(req ConflictRequest) string {
	base := conflictPrompt
	if req.Strict {
		base = conflictPromptStrict
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n--- RETRIEVED REFERENCE REQUIREMENTS ---\n")
	if strings.TrimSpace(req.Context) == "" {
		sb.WriteString("(no reference requirements were retrieved for this chunk)\n")
	} else {
		sb.WriteString(req.Context)
		sb.WriteString("\n")
	}
	sb.WriteString("--- VENDOR CHUNK ---\n")
	sb.WriteString(req.Text)
	return sb.String()
}
