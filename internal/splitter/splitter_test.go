package splitter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/fault"
)

func TestSplit_Coverage(t *testing.T) {
	cases := []struct {
		name    string
		length  int
		size    int
		overlap int
	}{
		{"exact multiple", 300, 100, 0},
		{"with overlap", 1000, 100, 20},
		{"overlap near size", 500, 50, 49},
		{"tail shorter than stride", 1003, 100, 25},
		{"single char", 1, 100, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := blob.NewMemoryStore()
			text := strings.Repeat("a", tc.length)
			chunks, err := Split(context.Background(), store, text, Config{ChunkSize: tc.size, Overlap: tc.overlap})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, 0, chunks[0].StartChar)
			assert.Equal(t, tc.length, chunks[len(chunks)-1].EndChar)

			for i, c := range chunks {
				assert.Equal(t, i, c.Num)
				assert.Equal(t, len(chunks), c.Total)
				assert.Less(t, c.StartChar, c.EndChar, "chunk %d must be non-empty", i)
				if i+1 < len(chunks) {
					// Consecutive chunks overlap by exactly the configured
					// overlap, except possibly the last pair.
					next := chunks[i+1]
					assert.Greater(t, c.EndChar, next.StartChar, "no gap between chunks %d and %d", i, i+1)
					if i+2 < len(chunks) {
						assert.Equal(t, tc.overlap, c.EndChar-next.StartChar)
					}
				}
			}
		})
	}
}

func TestSplit_SingleChunk(t *testing.T) {
	store := blob.NewMemoryStore()
	chunks, err := Split(context.Background(), store, strings.Repeat("x", 500), Config{ChunkSize: 1000, Overlap: 100})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Num)
	assert.Equal(t, 1, chunks[0].Total)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 500, chunks[0].EndChar)
}

func TestSplit_ConcreteRanges(t *testing.T) {
	store := blob.NewMemoryStore()
	text := strings.Repeat("b", 250000)
	chunks, err := Split(context.Background(), store, text, Config{ChunkSize: 100000, Overlap: 5000})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, [2]int{0, 100000}, [2]int{chunks[0].StartChar, chunks[0].EndChar})
	assert.Equal(t, [2]int{95000, 195000}, [2]int{chunks[1].StartChar, chunks[1].EndChar})
	assert.Equal(t, [2]int{190000, 250000}, [2]int{chunks[2].StartChar, chunks[2].EndChar})
}

func TestSplit_PayloadMatchesRange(t *testing.T) {
	store := blob.NewMemoryStore()
	text := "The quick brown fox jumps over the lazy dog. Ünïcödé characters count as one each."
	chunks, err := Split(context.Background(), store, text, Config{ChunkSize: 30, Overlap: 10})
	require.NoError(t, err)

	runes := []rune(text)
	for _, c := range chunks {
		data, err := store.Get(context.Background(), c.BlobRef)
		require.NoError(t, err)
		assert.Equal(t, string(runes[c.StartChar:c.EndChar]), string(data))
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	store := blob.NewMemoryStore()
	chunks, err := Split(context.Background(), store, "", Config{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 0, chunks[0].EndChar)
	assert.Equal(t, 1, chunks[0].Total)
}

func TestSplit_InvalidConfig(t *testing.T) {
	store := blob.NewMemoryStore()
	cases := []Config{
		{ChunkSize: 0, Overlap: 0},
		{ChunkSize: -5, Overlap: 0},
		{ChunkSize: 100, Overlap: 100},
		{ChunkSize: 100, Overlap: 150},
		{ChunkSize: 100, Overlap: -1},
	}
	for _, cfg := range cases {
		_, err := Split(context.Background(), store, "some text", cfg)
		require.Error(t, err, "config %+v", cfg)
		assert.True(t, fault.IsInvalidConfig(err), "config %+v should be rejected as invalid config", cfg)
	}
}
