// Package redline resolves merged conflicts back to rune offsets in the
// original document and produces the marked-up artifact. Quotes are matched
// after normalization (trim, collapse whitespace, casefold); a quote that
// cannot be found is kept with located=false, never dropped.
package redline

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/redlinehq/redline/internal/merge"
)

// Annotation marks one located conflict in the original document.
type Annotation struct {
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	GlobalID    string `json:"global_id"`
	Note        string `json:"note"`
}

// docIndex is the normalized view of a document plus the mapping from every
// byte of the normalized text back to the original rune it came from.
type docIndex struct {
	norm   string
	origAt []int // origAt[b] = original rune index of the norm byte at b
}

func indexDocument(text string) *docIndex {
	var sb strings.Builder
	sb.Grow(len(text))
	origAt := make([]int, 0, len(text))

	inSpace := false
	spaceOrig := -1
	runeIdx := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			if sb.Len() > 0 {
				inSpace = true
				if spaceOrig < 0 {
					spaceOrig = runeIdx
				}
			}
			runeIdx++
			continue
		}
		if inSpace {
			sb.WriteByte(' ')
			origAt = append(origAt, spaceOrig)
			inSpace = false
			spaceOrig = -1
		}
		lr := unicode.ToLower(r)
		sb.WriteRune(lr)
		for i := 0; i < utf8.RuneLen(lr); i++ {
			origAt = append(origAt, runeIdx)
		}
		runeIdx++
	}
	return &docIndex{norm: sb.String(), origAt: origAt}
}

// matches returns the original-document rune ranges of every occurrence of
// the normalized quote.
func (d *docIndex) matches(normQuote string) [][2]int {
	if normQuote == "" {
		return nil
	}
	var out [][2]int
	for from := 0; ; {
		i := strings.Index(d.norm[from:], normQuote)
		if i < 0 {
			break
		}
		b := from + i
		last := b + len(normQuote) - 1
		out = append(out, [2]int{d.origAt[b], d.origAt[last] + 1})
		from = b + 1
	}
	return out
}

// Locate fills in Located/StartOffset/EndOffset for every conflict. When a
// quote occurs more than once, the match inside (or nearest to) the
// conflict's chunk window wins, so overlap-region duplicates resolve to one
// location.
func Locate(docText string, conflicts []merge.Conflict) []merge.Conflict {
	idx := indexDocument(docText)
	out := append([]merge.Conflict(nil), conflicts...)

	for i := range out {
		ms := idx.matches(merge.NormalizeQuote(out[i].VendorQuote))
		if len(ms) == 0 {
			out[i].Located = false
			out[i].StartOffset = 0
			out[i].EndOffset = 0
			continue
		}
		best := pickMatch(ms, out[i].ChunkStart, out[i].ChunkEnd)
		out[i].Located = true
		out[i].StartOffset = best[0]
		out[i].EndOffset = best[1]
	}
	return out
}

// pickMatch prefers a match starting inside [winStart, winEnd), else the one
// nearest to that window; ties go to the earliest match.
func pickMatch(ms [][2]int, winStart, winEnd int) [2]int {
	best := ms[0]
	bestDist := windowDistance(ms[0][0], winStart, winEnd)
	for _, m := range ms[1:] {
		if d := windowDistance(m[0], winStart, winEnd); d < bestDist {
			best, bestDist = m, d
		}
	}
	return best
}

func windowDistance(pos, winStart, winEnd int) int {
	switch {
	case pos < winStart:
		return winStart - pos
	case pos >= winEnd:
		return pos - winEnd + 1
	default:
		return 0
	}
}

const maxNoteLen = 160

// Annotations builds the markup annotations for located conflicts.
func Annotations(conflicts []merge.Conflict) []Annotation {
	var anns []Annotation
	for _, c := range conflicts {
		if !c.Located {
			continue
		}
		anns = append(anns, Annotation{
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			GlobalID:    c.GlobalID,
			Note:        sanitizeNote(c.Summary),
		})
	}
	return anns
}

func sanitizeNote(s string) string {
	s = strings.ReplaceAll(s, "]]", ")")
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxNoteLen {
		s = string(runes[:maxNoteLen]) + "..."
	}
	return s
}

// Apply inserts conflict markers into the document text. Annotations are
// applied in descending offset order so that an insertion never invalidates
// the offsets of annotations not yet applied.
func Apply(docText string, anns []Annotation) string {
	sorted := append([]Annotation(nil), anns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartOffset != sorted[j].StartOffset {
			return sorted[i].StartOffset > sorted[j].StartOffset
		}
		return sorted[i].EndOffset > sorted[j].EndOffset
	})

	runes := []rune(docText)
	for _, a := range sorted {
		if a.StartOffset < 0 || a.EndOffset > len(runes) || a.StartOffset > a.EndOffset {
			continue
		}
		open := []rune("[[" + a.GlobalID + ": " + a.Note + "]]")
		closing := []rune("[[/" + a.GlobalID + "]]")

		tail := append(closing, runes[a.EndOffset:]...)
		mid := append(append([]rune(nil), runes[a.StartOffset:a.EndOffset]...), tail...)
		runes = append(append(runes[:a.StartOffset:a.StartOffset], open...), mid...)
	}
	return string(runes)
}
