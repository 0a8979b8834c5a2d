// Package splitter cuts a document into fixed-size overlapping chunks.
// Offsets are rune positions in the original document text, which is what the
// redliner resolves conflicts back onto. Chunk text is persisted to the blob
// store; only chunk metadata flows through the pipeline.
package splitter

import (
	"context"
	"fmt"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/fault"
)

// Chunk is one slice of the document. Immutable once produced. Chunks ordered
// by Num cover [0, document length) and consecutive chunks overlap by exactly
// the configured overlap, except possibly the last pair.
type Chunk struct {
	Num       int      `json:"chunk_num"`
	Total     int      `json:"total_chunks"`
	StartChar int      `json:"start_char"`
	EndChar   int      `json:"end_char"`
	BlobRef   blob.Ref `json:"blob_ref"`
}

// Config controls chunking.
type Config struct {
	ChunkSize int // chunk width in characters (runes)
	Overlap   int // shared characters between consecutive chunks
}

// Validate rejects unusable parameters.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return &fault.InvalidConfigError{Reason: fmt.Sprintf("chunk_size must be positive, got %d", c.ChunkSize)}
	}
	if c.Overlap < 0 {
		return &fault.InvalidConfigError{Reason: fmt.Sprintf("overlap must not be negative, got %d", c.Overlap)}
	}
	if c.Overlap >= c.ChunkSize {
		return &fault.InvalidConfigError{Reason: fmt.Sprintf("overlap (%d) must be smaller than chunk_size (%d)", c.Overlap, c.ChunkSize)}
	}
	return nil
}

// Split produces the ordered chunk list for text and persists each chunk's
// payload. A document no longer than ChunkSize yields exactly one chunk.
func Split(ctx context.Context, store blob.Store, text string, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	length := len(runes)
	stride := cfg.ChunkSize - cfg.Overlap

	var chunks []Chunk
	for start := 0; ; start += stride {
		end := start + cfg.ChunkSize
		if end > length {
			end = length
		}
		ref, err := store.Put(ctx, []byte(string(runes[start:end])))
		if err != nil {
			return nil, &fault.UnrecoverableError{Reason: fmt.Sprintf("persist chunk %d", len(chunks)), Cause: err}
		}
		chunks = append(chunks, Chunk{
			Num:       len(chunks),
			StartChar: start,
			EndChar:   end,
			BlobRef:   ref,
		})
		if end == length {
			break
		}
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}
