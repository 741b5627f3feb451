// Package playback keeps live preview playback off removed spans and serves
// source media to the browser tool.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/heimdex/cutplan/internal/resolve"
)

const (
	DefaultEpsilon    = 0.1
	DefaultLoopLimit  = 3
	DefaultLoopWindow = 40
)

var ErrPlaybackGuard = errors.New("playback guard tripped")

// MediaHandle is the seekable player the controller drives.
type MediaHandle interface {
	CurrentTime() float64
	Duration() float64
	MetadataLoaded() bool
	Paused() bool
	Seek(t float64) error
}

type Options struct {
	// Epsilon is added past a span's end when jumping over it.
	Epsilon float64
	// LoopLimit is the number of jumps over one span allowed within
	// LoopWindow ticks before auto-skip gives up on that span. A jump whose
	// landing held, meaning a later tick reported a position at or past the
	// span's end, no longer counts.
	LoopLimit  int
	LoopWindow int
}

func DefaultOptions() Options {
	return Options{
		Epsilon:    DefaultEpsilon,
		LoopLimit:  DefaultLoopLimit,
		LoopWindow: DefaultLoopWindow,
	}
}

// SkipController jumps the handle over removal spans during continuous
// playback. It is safe for concurrent use.
type SkipController struct {
	mu     sync.Mutex
	opts   Options
	logger *slog.Logger

	spans []resolve.RemovalSpan

	// lastSkipped is the start of the span most recently jumped over, valid
	// while hasLast is set.
	lastSkipped float64
	hasLast     bool

	tick       int64
	jumps      map[float64]*jumpRecord
	disengaged map[float64]bool
}

// jumpRecord holds the unsettled jumps over one span, keyed by span start.
type jumpRecord struct {
	end   float64
	ticks []int64
}

func NewSkipController(opts Options, logger *slog.Logger) *SkipController {
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.LoopLimit <= 0 {
		opts.LoopLimit = DefaultLoopLimit
	}
	if opts.LoopWindow <= 0 {
		opts.LoopWindow = DefaultLoopWindow
	}
	return &SkipController{
		opts:       opts,
		logger:     logger,
		jumps:      make(map[float64]*jumpRecord),
		disengaged: make(map[float64]bool),
	}
}

// SetSpans replaces the skip schedule. Spans disengaged by the loop guard
// stay disengaged if a span with the same start survives.
func (c *SkipController) SetSpans(primary []resolve.RemovalSpan) {
	spans := make([]resolve.RemovalSpan, 0, len(primary))
	for _, s := range primary {
		if s.End > s.Start {
			spans = append(spans, s)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = spans

	ends := make(map[float64]float64, len(spans))
	for _, s := range spans {
		ends[s.Start] = s.End
	}
	if _, ok := ends[c.lastSkipped]; c.hasLast && !ok {
		c.hasLast = false
	}
	for k, rec := range c.jumps {
		end, ok := ends[k]
		if !ok {
			delete(c.jumps, k)
			continue
		}
		rec.end = end
	}
}

// Spans returns the current schedule.
func (c *SkipController) Spans() []resolve.RemovalSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]resolve.RemovalSpan, len(c.spans))
	copy(out, c.spans)
	return out
}

// Disengaged lists the starts of spans auto-skip has given up on, ascending.
func (c *SkipController) Disengaged() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, 0, len(c.disengaged))
	for k := range c.disengaged {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// OnTick runs one membership check against the handle's current position and
// reports whether it issued a seek. Faults never escape: a panic or seek
// error is logged and treated as "do not skip".
func (c *SkipController) OnTick(h MediaHandle) (skipped bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("skip controller panic", "panic", fmt.Sprint(r))
			skipped = false
		}
	}()

	if h == nil || !h.MetadataLoaded() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return false
	}

	pos := h.CurrentTime()
	if math.IsNaN(pos) {
		return false
	}
	c.settle(pos)

	if h.Paused() {
		// A seek made while paused is a fresh entry once playback resumes.
		c.hasLast = false
		return false
	}
	c.tick++

	span, ok := c.containing(pos)
	if !ok {
		c.hasLast = false
		return false
	}
	if c.hasLast && c.lastSkipped == span.Start {
		return false
	}
	if c.disengaged[span.Start] {
		return false
	}

	if !c.allowJump(span) {
		return false
	}

	target := span.End + c.opts.Epsilon
	if d := h.Duration(); d > 0 && !math.IsInf(d, 0) && target > d {
		target = d
	}
	if err := h.Seek(target); err != nil {
		c.logError("seek failed", "span_start", span.Start, "target", target, "error", err)
		return false
	}

	c.lastSkipped = span.Start
	c.hasLast = true
	if c.logger != nil {
		c.logger.Debug("skipped removal span",
			"span_start", span.Start, "span_end", span.End, "target", target, "segment_id", span.OriginSegmentID)
	}
	return true
}

// containing finds the span with start <= t < end.
func (c *SkipController) containing(t float64) (resolve.RemovalSpan, bool) {
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].Start > t })
	if i == 0 {
		return resolve.RemovalSpan{}, false
	}
	if s := c.spans[i-1]; s.Contains(t) {
		return s, true
	}
	return resolve.RemovalSpan{}, false
}

// settle forgets the jumps over every span whose landing held at pos.
func (c *SkipController) settle(pos float64) {
	for start, rec := range c.jumps {
		if pos >= rec.end {
			delete(c.jumps, start)
		}
	}
}

// allowJump records a jump over span and trips the loop guard when the span
// has been jumped more than LoopLimit times within LoopWindow ticks without
// any landing holding in between.
func (c *SkipController) allowJump(span resolve.RemovalSpan) bool {
	rec, ok := c.jumps[span.Start]
	if !ok {
		rec = &jumpRecord{end: span.End}
		c.jumps[span.Start] = rec
	}

	floor := c.tick - int64(c.opts.LoopWindow)
	recent := rec.ticks[:0]
	for _, at := range rec.ticks {
		if at > floor {
			recent = append(recent, at)
		}
	}

	if len(recent) >= c.opts.LoopLimit {
		c.disengaged[span.Start] = true
		delete(c.jumps, span.Start)
		c.logError("auto-skip disengaged for span",
			"span_start", span.Start, "span_end", span.End, "jumps", len(recent)+1,
			"window_ticks", c.opts.LoopWindow, "error", ErrPlaybackGuard)
		return false
	}

	rec.ticks = append(recent, c.tick)
	return true
}

func (c *SkipController) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}
