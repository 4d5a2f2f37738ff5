package scrollsync

import (
	"sort"
	"sync"
)

// BlockRect is a rendered block's geometry in document-absolute pixels.
type BlockRect struct {
	Top    float64
	Height float64
}

// Viewport abstracts the scrollable surface the controller manages. The
// controller only ever reads geometry and writes the scroll offset; it never
// mutates content. Implementations are the embedder's binding to a real
// rendering surface, or MemoryViewport for tests and headless hosting.
type Viewport interface {
	// ScrollTop returns the current scroll offset.
	ScrollTop() float64

	// SetScrollTop moves the scroll offset, clamped to the scrollable range.
	SetScrollTop(offset float64)

	// Height returns the visible viewport height.
	Height() float64

	// ContentHeight returns the total scrollable content height.
	ContentHeight() float64

	// BlockRect returns the geometry of the block with the given id.
	BlockRect(blockID string) (BlockRect, bool)

	// BlockAtOffset returns the last block whose top is at or above offset.
	BlockAtOffset(offset float64) (blockID string, rect BlockRect, ok bool)
}

// MemoryViewport is an in-memory Viewport over explicit block geometry, for
// tests and headless preview hosting. Safe for concurrent use.
type MemoryViewport struct {
	mu            sync.RWMutex
	blocks        []memoryBlock
	scrollTop     float64
	height        float64
	contentHeight float64
}

type memoryBlock struct {
	id   string
	rect BlockRect
}

// NewMemoryViewport creates a viewport with the given visible and content
// heights and no blocks.
func NewMemoryViewport(height, contentHeight float64) *MemoryViewport {
	return &MemoryViewport{height: height, contentHeight: contentHeight}
}

// SetBlock adds or replaces a block's geometry, keeping blocks ordered by
// top offset.
func (v *MemoryViewport) SetBlock(blockID string, top, height float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rect := BlockRect{Top: top, Height: height}
	for i := range v.blocks {
		if v.blocks[i].id == blockID {
			v.blocks[i].rect = rect
			v.sortLocked()
			return
		}
	}
	v.blocks = append(v.blocks, memoryBlock{id: blockID, rect: rect})
	v.sortLocked()
}

// SetContentHeight grows or shrinks the scrollable content.
func (v *MemoryViewport) SetContentHeight(h float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contentHeight = h
}

// SetHeight resizes the visible viewport.
func (v *MemoryViewport) SetHeight(h float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.height = h
}

func (v *MemoryViewport) ScrollTop() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scrollTop
}

func (v *MemoryViewport) SetScrollTop(offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	max := v.contentHeight - v.height
	if max < 0 {
		max = 0
	}
	if offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	v.scrollTop = offset
}

func (v *MemoryViewport) Height() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.height
}

func (v *MemoryViewport) ContentHeight() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.contentHeight
}

func (v *MemoryViewport) BlockRect(blockID string) (BlockRect, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, b := range v.blocks {
		if b.id == blockID {
			return b.rect, true
		}
	}
	return BlockRect{}, false
}

func (v *MemoryViewport) BlockAtOffset(offset float64) (string, BlockRect, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for i := len(v.blocks) - 1; i >= 0; i-- {
		if v.blocks[i].rect.Top <= offset {
			return v.blocks[i].id, v.blocks[i].rect, true
		}
	}
	return "", BlockRect{}, false
}

func (v *MemoryViewport) sortLocked() {
	sort.SliceStable(v.blocks, func(i, j int) bool {
		return v.blocks[i].rect.Top < v.blocks[j].rect.Top
	})
}
