// Package scrollsync keeps a scrollable preview aligned with a logical
// source line while content streams in asynchronously and the user is free
// to scroll at any time.
//
// The controller is a four-state machine:
//
//	INITIAL:   no target set; all signals ignored.
//	RESTORING: the target line is not yet rendered (or not yet laid out);
//	           each content-growth signal retries positioning. Only large
//	           scroll deltas count as user scrolling here, small ones are
//	           reflow noise.
//	TRACKING:  passively follow the user; every scroll recomputes the target
//	           line and reports it out after a debounce, for reverse sync.
//	LOCKED:    entered after any programmatic scroll. Scroll events still
//	           update the target internally but are not reported, which
//	           keeps layout-settling jitter off the reverse-sync path. A
//	           timer demotes LOCKED back to TRACKING.
//
// Signals arrive through explicit methods (HandleScroll,
// HandleContentChange, HandleViewportResize); the embedder wires them to
// whatever scroll/mutation/resize events its rendering surface emits. Each
// transition runs synchronously against viewport geometry read at that
// instant, before a later mutation can invalidate offsets.
package scrollsync

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mdpeek/mdpeek/pkg/linemap"
)

// State identifies the controller's current mode.
type State string

const (
	StateInitial   State = "INITIAL"
	StateRestoring State = "RESTORING"
	StateTracking  State = "TRACKING"
	StateLocked    State = "LOCKED"
)

// Default tuning. The pixel and line thresholds are empirical: they are the
// smallest values that stop reflow jitter from registering as user intent in
// practice.
const (
	DefaultLockDuration          = 100 * time.Millisecond
	DefaultUserScrollDebounce    = 50 * time.Millisecond
	DefaultUserScrollThresholdPx = 10.0
	DefaultResizeDriftLines      = 0.5
)

// Options configures a Controller.
type Options struct {
	// Viewport is the scrollable surface. Required.
	Viewport Viewport

	// LineMapper returns the current mapper. Required. It is invoked on
	// every use, never cached, because its answers change as more content
	// renders.
	LineMapper func() linemap.Mapper

	// OnUserScroll reports the line the user scrolled to, debounced, for
	// reverse sync (e.g. driving a paired editor's cursor). Called from a
	// timer goroutine without internal locks held.
	OnUserScroll func(line float64)

	// LockDuration is how long LOCKED persists without a new
	// lock-triggering event. Zero means DefaultLockDuration.
	LockDuration time.Duration

	// UserScrollDebounce delays OnUserScroll after the last scroll event.
	// Zero means DefaultUserScrollDebounce.
	UserScrollDebounce time.Duration

	// UserScrollThresholdPx is the minimum scroll delta, measured from the
	// position recorded at the last content-height change, that counts as
	// user-initiated while RESTORING. Zero means DefaultUserScrollThresholdPx.
	UserScrollThresholdPx float64

	// ResizeDriftLines is the minimum line drift that triggers a
	// re-scroll on viewport resize. Zero means DefaultResizeDriftLines.
	ResizeDriftLines float64

	Logger *slog.Logger
}

// Controller is the scroll synchronization state machine. One controller is
// bound to one viewport and one mapper getter for the duration of a single
// document's preview session; Dispose it on document switch.
type Controller struct {
	viewport        Viewport
	getMapper       func() linemap.Mapper
	onUserScroll    func(line float64)
	lockDuration    time.Duration
	debounce        time.Duration
	scrollThreshold float64
	driftThreshold  float64
	log             *slog.Logger

	mu                sync.Mutex
	state             State
	targetLine        float64
	lastContentHeight float64
	restoreAnchor     float64
	pendingReport     float64
	lockTimer         *time.Timer
	debounceTimer     *time.Timer
	disposed          bool
}

// New creates a controller in INITIAL state. Call Start before feeding it
// events.
func New(opts Options) (*Controller, error) {
	if opts.Viewport == nil {
		return nil, errors.New("scrollsync: viewport required")
	}
	if opts.LineMapper == nil {
		return nil, errors.New("scrollsync: line mapper getter required")
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = DefaultLockDuration
	}
	if opts.UserScrollDebounce <= 0 {
		opts.UserScrollDebounce = DefaultUserScrollDebounce
	}
	if opts.UserScrollThresholdPx <= 0 {
		opts.UserScrollThresholdPx = DefaultUserScrollThresholdPx
	}
	if opts.ResizeDriftLines <= 0 {
		opts.ResizeDriftLines = DefaultResizeDriftLines
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		viewport:        opts.Viewport,
		getMapper:       opts.LineMapper,
		onUserScroll:    opts.OnUserScroll,
		lockDuration:    opts.LockDuration,
		debounce:        opts.UserScrollDebounce,
		scrollThreshold: opts.UserScrollThresholdPx,
		driftThreshold:  opts.ResizeDriftLines,
		log:             log,
		state:           StateInitial,
	}, nil
}

// Start captures baseline geometry. Idempotent.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.lastContentHeight = c.viewport.ContentHeight()
	c.restoreAnchor = c.viewport.ScrollTop()
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TargetLine returns the line the controller currently intends to keep
// visible.
func (c *Controller) TargetLine() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetLine
}

// CurrentLine derives the line from the raw scroll position. Note the
// deliberate asymmetry with LOCKED: the write path protects targetLine from
// jitter, but the read path always exposes the actual scroll-derived
// position, even while locked. Callers that want the protected value use
// TargetLine.
func (c *Controller) CurrentLine() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return 0, false
	}
	return c.currentLineLocked()
}

// SetTargetLine scrolls the viewport so line is at the top of the view. A
// line at or below 0 always jumps to the absolute top. An unreachable line
// (not yet rendered, or rendered without layout) parks the controller in
// RESTORING until content growth makes it reachable.
func (c *Controller) SetTargetLine(line float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	if line <= 0 {
		c.targetLine = 0
		c.applyScrollLocked(0)
		c.enterLockedLocked(true)
		return
	}

	c.targetLine = line
	if offset, ok := c.resolveOffsetLocked(line); ok {
		c.applyScrollLocked(offset)
		c.enterLockedLocked(true)
		return
	}
	c.enterRestoringLocked()
}

// HandleScroll reacts to a scroll event on the viewport.
func (c *Controller) HandleScroll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	switch c.state {
	case StateInitial:
		// Inert until a target is set.
	case StateRestoring:
		delta := math.Abs(c.viewport.ScrollTop() - c.restoreAnchor)
		if delta > c.scrollThreshold {
			// A real user scroll, not reflow noise.
			c.state = StateTracking
			c.noteUserScrollLocked()
		}
	case StateTracking:
		c.noteUserScrollLocked()
	case StateLocked:
		// Track the user's scroll-through-lock internally, but do not
		// report it: layout settling must not spam the reverse-sync path.
		if line, ok := c.currentLineLocked(); ok {
			c.targetLine = line
		}
	}
}

// HandleContentChange reacts to the rendered content mutating (diagrams
// rendering, images loading). Height-neutral mutations are ignored.
func (c *Controller) HandleContentChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state == StateInitial {
		return
	}

	contentHeight := c.viewport.ContentHeight()
	if contentHeight == c.lastContentHeight {
		return
	}
	c.lastContentHeight = contentHeight

	switch c.state {
	case StateRestoring:
		if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
			c.applyScrollLocked(offset)
			c.enterLockedLocked(true)
			return
		}
		c.restoreAnchor = c.viewport.ScrollTop()
	case StateTracking:
		// Counteract layout shift immediately, then shield the
		// reverse-sync path while layout settles.
		if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
			c.applyScrollLocked(offset)
			c.enterLockedLocked(true)
		} else {
			c.enterRestoringLocked()
		}
	case StateLocked:
		if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
			c.applyScrollLocked(offset)
		}
		c.enterLockedLocked(true)
	}
}

// HandleViewportResize reacts to the visible viewport changing size, which
// invalidates all pixel offsets. Re-scrolls only when the drift exceeds the
// configured line threshold, to avoid visible jitter from sub-pixel
// rounding. While LOCKED the lock timer is deliberately left alone so the
// lock can expire naturally.
func (c *Controller) HandleViewportResize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	switch c.state {
	case StateInitial:
	case StateRestoring:
		if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
			c.applyScrollLocked(offset)
			c.enterLockedLocked(true)
		}
	case StateTracking:
		if c.driftedLocked() {
			if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
				c.applyScrollLocked(offset)
				c.enterLockedLocked(true)
			}
		}
	case StateLocked:
		if c.driftedLocked() {
			if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
				c.applyScrollLocked(offset)
			}
		}
	}
}

// OnStreamingComplete signals that no more content will arrive. If the
// controller is still waiting for an unreachable target, it gives up
// waiting: it jumps to the reachable position if one now exists, otherwise
// to the document bottom, adopting whatever line is there as the target.
func (c *Controller) OnStreamingComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state != StateRestoring {
		return
	}

	if offset, ok := c.resolveOffsetLocked(c.targetLine); ok {
		c.applyScrollLocked(offset)
		c.enterLockedLocked(true)
		return
	}

	bottom := c.viewport.ContentHeight() - c.viewport.Height()
	if bottom < 0 {
		bottom = 0
	}
	c.applyScrollLocked(bottom)
	if line, ok := c.currentLineLocked(); ok {
		c.targetLine = line
	}
	c.enterLockedLocked(true)
}

// Lock enters LOCKED from TRACKING, shielding the reverse-sync path across
// an imminent programmatic layout change (zoom, theme switch). No-op in any
// other state.
func (c *Controller) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state != StateTracking {
		return
	}
	c.enterLockedLocked(true)
}

// Reset returns the controller to INITIAL, clearing target, recorded
// heights, and timers.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.stopTimersLocked()
	c.state = StateInitial
	c.targetLine = 0
	c.lastContentHeight = 0
	c.restoreAnchor = 0
}

// Dispose permanently deactivates the controller. All public methods become
// no-ops, so late-arriving events or timer callbacks cannot resurrect state.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.stopTimersLocked()
}

// resolveOffsetLocked computes the scroll offset that brings line to the top
// of the viewport. A line is reachable only if the mapper resolves it, the
// block has geometry with strictly positive height (zero height means
// rendered but not laid out, and would yield a bogus offset), and the
// offset can actually reach the top of the viewport given current content
// height.
func (c *Controller) resolveOffsetLocked(line float64) (float64, bool) {
	mapper := c.getMapper()
	if mapper == nil {
		return 0, false
	}
	pos, ok := mapper.BlockFromLine(line)
	if !ok {
		return 0, false
	}
	rect, ok := c.viewport.BlockRect(pos.BlockID)
	if !ok {
		return 0, false
	}
	if rect.Height <= 0 {
		return 0, false
	}
	offset := rect.Top + pos.Progress*rect.Height
	if offset < 0 {
		offset = 0
	}
	if offset+c.viewport.Height() > c.viewport.ContentHeight() {
		return 0, false
	}
	return offset, true
}

// currentLineLocked derives the line from the raw scroll position. Offset 0
// is always line 0, independent of block layout.
func (c *Controller) currentLineLocked() (float64, bool) {
	scrollTop := c.viewport.ScrollTop()
	if scrollTop <= 0 {
		return 0, true
	}

	blockID, rect, ok := c.viewport.BlockAtOffset(scrollTop)
	if !ok {
		return 0, false
	}

	progress := 0.0
	if rect.Height > 0 {
		progress = (scrollTop - rect.Top) / rect.Height
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	mapper := c.getMapper()
	if mapper == nil {
		return 0, false
	}
	return mapper.LineFromBlock(blockID, progress)
}

func (c *Controller) applyScrollLocked(offset float64) {
	c.viewport.SetScrollTop(offset)
	metricRescrolls.Inc()
}

func (c *Controller) enterLockedLocked(resetTimer bool) {
	c.state = StateLocked
	if !resetTimer {
		return
	}
	if c.lockTimer != nil {
		c.lockTimer.Stop()
	}
	c.lockTimer = time.AfterFunc(c.lockDuration, c.onLockExpired)
}

func (c *Controller) enterRestoringLocked() {
	if c.lockTimer != nil {
		c.lockTimer.Stop()
		c.lockTimer = nil
	}
	c.state = StateRestoring
	c.restoreAnchor = c.viewport.ScrollTop()
	c.lastContentHeight = c.viewport.ContentHeight()
}

func (c *Controller) onLockExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state != StateLocked {
		return
	}
	c.state = StateTracking
	c.log.Debug("lock expired", "targetLine", c.targetLine)
}

// noteUserScrollLocked recomputes the target from the current position and
// schedules a debounced report.
func (c *Controller) noteUserScrollLocked() {
	line, ok := c.currentLineLocked()
	if !ok {
		return
	}
	c.targetLine = line
	c.pendingReport = line

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounce, c.fireUserScroll)
}

func (c *Controller) fireUserScroll() {
	c.mu.Lock()
	if c.disposed || c.state != StateTracking {
		c.mu.Unlock()
		return
	}
	line := c.pendingReport
	report := c.onUserScroll
	c.mu.Unlock()

	if report != nil {
		metricUserScrollReports.Inc()
		report(line)
	}
}

// driftedLocked reports whether the scroll-derived line has drifted from the
// target by more than the configured threshold. An unreadable position
// counts as drift.
func (c *Controller) driftedLocked() bool {
	line, ok := c.currentLineLocked()
	if !ok {
		return true
	}
	return math.Abs(line-c.targetLine) > c.driftThreshold
}

func (c *Controller) stopTimersLocked() {
	if c.lockTimer != nil {
		c.lockTimer.Stop()
		c.lockTimer = nil
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
}
