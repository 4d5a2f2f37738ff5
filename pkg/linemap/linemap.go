// Package linemap translates between rendered block positions and logical
// source lines. A block is a contiguous rendered region tagged with a stable
// id and covering a range of source lines; a position within a block is a
// fractional progress through it. Line 0 is the sentinel for "top of
// document" and is always representable.
package linemap

import (
	"sort"
	"sync"
)

// BlockPosition is a location within rendered content: a block id plus the
// fraction of the way through that block, in [0,1].
type BlockPosition struct {
	BlockID  string
	Progress float64
}

// Mapper translates between block positions and source lines. Both
// directions are pure functions of current document state; callers re-fetch
// the mapper rather than caching it, since rendered content grows over time.
type Mapper interface {
	// LineFromBlock resolves a block position to a source line. Returns
	// false when the block is unknown.
	LineFromBlock(blockID string, progress float64) (float64, bool)

	// BlockFromLine resolves a source line to a block position. Returns
	// false when the line is not yet represented in rendered content.
	BlockFromLine(line float64) (BlockPosition, bool)
}

// Span records the source-line range a rendered block covers. StartLine and
// EndLine are inclusive; EndLine >= StartLine.
type Span struct {
	BlockID   string
	StartLine float64
	EndLine   float64
}

// Index is a Mapper over an ordered list of block spans. It grows as the
// render pipeline emits blocks, so controller-side callers see a larger
// document on each re-fetch. Safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	spans []Span
	byID  map[string]int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]int)}
}

// Add inserts or replaces a block span, keeping spans ordered by StartLine.
func (ix *Index) Add(span Span) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if i, ok := ix.byID[span.BlockID]; ok {
		ix.spans[i] = span
	} else {
		ix.spans = append(ix.spans, span)
	}
	sort.SliceStable(ix.spans, func(i, j int) bool {
		return ix.spans[i].StartLine < ix.spans[j].StartLine
	})
	for i, s := range ix.spans {
		ix.byID[s.BlockID] = i
	}
}

// Len returns the number of indexed blocks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.spans)
}

// LineFromBlock interpolates a line within the block's span.
func (ix *Index) LineFromBlock(blockID string, progress float64) (float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, ok := ix.byID[blockID]
	if !ok {
		return 0, false
	}
	span := ix.spans[i]
	return span.StartLine + clamp01(progress)*(span.EndLine-span.StartLine), true
}

// BlockFromLine finds the block representing line. Lines at or before the
// first block map to its start; lines in a gap between blocks map to the end
// of the preceding block; lines beyond the last block are not yet rendered.
func (ix *Index) BlockFromLine(line float64) (BlockPosition, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.spans) == 0 {
		return BlockPosition{}, false
	}

	if line <= ix.spans[0].StartLine {
		return BlockPosition{BlockID: ix.spans[0].BlockID, Progress: 0}, true
	}

	for i := len(ix.spans) - 1; i >= 0; i-- {
		span := ix.spans[i]
		if line < span.StartLine {
			continue
		}
		if line > span.EndLine {
			if i == len(ix.spans)-1 {
				// Beyond the rendered tail of the document.
				return BlockPosition{}, false
			}
			// Gap between this block and the next.
			return BlockPosition{BlockID: span.BlockID, Progress: 1}, true
		}
		progress := 0.0
		if span.EndLine > span.StartLine {
			progress = (line - span.StartLine) / (span.EndLine - span.StartLine)
		}
		return BlockPosition{BlockID: span.BlockID, Progress: progress}, true
	}

	return BlockPosition{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
