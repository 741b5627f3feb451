package playback

import (
	"errors"
	"math"
	"testing"

	"github.com/heimdex/cutplan/internal/resolve"
)

type fakeHandle struct {
	pos      float64
	duration float64
	loaded   bool
	paused   bool

	seeks   []float64
	seekErr error
	// landOffset is added to every seek target, modelling a player that
	// rounds to the nearest frame.
	landOffset float64
	panicOnPos bool
}

func newFakeHandle(pos, duration float64) *fakeHandle {
	return &fakeHandle{pos: pos, duration: duration, loaded: true}
}

func (h *fakeHandle) CurrentTime() float64 {
	if h.panicOnPos {
		panic("player torn down")
	}
	return h.pos
}
func (h *fakeHandle) Duration() float64    { return h.duration }
func (h *fakeHandle) MetadataLoaded() bool { return h.loaded }
func (h *fakeHandle) Paused() bool         { return h.paused }

func (h *fakeHandle) Seek(t float64) error {
	if h.seekErr != nil {
		return h.seekErr
	}
	h.seeks = append(h.seeks, t)
	h.pos = t + h.landOffset
	return nil
}

func rs(start, end float64) resolve.RemovalSpan {
	return resolve.RemovalSpan{Start: start, End: end, OriginSegmentID: "seg", Tier: resolve.TierClusterDecision}
}

func newController(spans ...resolve.RemovalSpan) *SkipController {
	c := NewSkipController(DefaultOptions(), nil)
	c.SetSpans(spans)
	return c
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOnTick_SkipsOnceAndClearsMarker(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(31, 120)

	if !c.OnTick(h) {
		t.Fatal("expected a skip at 31s")
	}
	if len(h.seeks) != 1 || !approx(h.seeks[0], 45.1) {
		t.Fatalf("seeks = %v, want [45.1]", h.seeks)
	}

	if c.OnTick(h) {
		t.Fatalf("re-triggered at %v; seeks = %v", h.pos, h.seeks)
	}
	if c.hasLast {
		t.Error("marker should clear once outside every span")
	}

	// Manual seek back into the span is honored again.
	h.pos = 40
	if !c.OnTick(h) {
		t.Fatal("expected a skip after re-entering the span")
	}
	if len(h.seeks) != 2 {
		t.Errorf("seeks = %v, want two", h.seeks)
	}
}

func TestOnTick_NoOps(t *testing.T) {
	tests := []struct {
		name   string
		spans  []resolve.RemovalSpan
		handle *fakeHandle
	}{
		{"metadata not loaded", []resolve.RemovalSpan{rs(0, 10)}, &fakeHandle{pos: 5, duration: 60}},
		{"paused", []resolve.RemovalSpan{rs(0, 10)}, &fakeHandle{pos: 5, duration: 60, loaded: true, paused: true}},
		{"no spans", nil, newFakeHandle(5, 60)},
		{"outside spans", []resolve.RemovalSpan{rs(0, 10)}, newFakeHandle(10, 60)},
		{"before first span", []resolve.RemovalSpan{rs(20, 30)}, newFakeHandle(19.99, 60)},
		{"NaN position", []resolve.RemovalSpan{rs(0, 10)}, newFakeHandle(math.NaN(), 60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(tt.spans...)
			if c.OnTick(tt.handle) {
				t.Errorf("unexpected skip, seeks = %v", tt.handle.seeks)
			}
			if len(tt.handle.seeks) != 0 {
				t.Errorf("seeks = %v, want none", tt.handle.seeks)
			}
		})
	}

	if newController(rs(0, 10)).OnTick(nil) {
		t.Error("nil handle must not skip")
	}
}

func TestOnTick_AdjacentSpansAreDistinct(t *testing.T) {
	c := newController(rs(10, 20), rs(20, 30))
	h := newFakeHandle(15, 100)

	c.OnTick(h)
	c.OnTick(h)

	if len(h.seeks) != 2 || !approx(h.seeks[0], 20.1) || !approx(h.seeks[1], 30.1) {
		t.Fatalf("seeks = %v, want [20.1 30.1]", h.seeks)
	}
}

func TestOnTick_RoundedLandingDoesNotLoop(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(31, 120)
	h.landOffset = -0.2

	for i := 0; i < 10; i++ {
		c.OnTick(h)
	}
	if len(h.seeks) != 1 {
		t.Fatalf("seeks = %v, want exactly one", h.seeks)
	}
}

func TestOnTick_ClampsToDuration(t *testing.T) {
	c := newController(rs(50, 60))
	h := newFakeHandle(55, 60)

	c.OnTick(h)
	if len(h.seeks) != 1 || h.seeks[0] != 60 {
		t.Fatalf("seeks = %v, want [60]", h.seeks)
	}

	// Unknown duration does not clamp.
	c = newController(rs(50, 60))
	h = newFakeHandle(55, math.Inf(1))
	c.OnTick(h)
	if len(h.seeks) != 1 || !approx(h.seeks[0], 60.1) {
		t.Fatalf("seeks = %v, want [60.1]", h.seeks)
	}
}

func TestOnTick_LoopGuardDisengages(t *testing.T) {
	c := newController(rs(30, 45), rs(80, 90))
	h := newFakeHandle(0, 120)

	// The player snaps back before the span after every jump, so no landing
	// is ever observed.
	for i := 0; i < DefaultLoopLimit+1; i++ {
		h.pos = 31
		c.OnTick(h)
		h.pos = 29
		c.OnTick(h)
	}

	if len(h.seeks) != DefaultLoopLimit {
		t.Fatalf("seeks = %v, want %d", h.seeks, DefaultLoopLimit)
	}
	got := c.Disengaged()
	if len(got) != 1 || got[0] != 30 {
		t.Fatalf("Disengaged() = %v, want [30]", got)
	}

	h.pos = 31
	if c.OnTick(h) {
		t.Error("disengaged span must not be skipped")
	}

	// Other spans keep working.
	h.pos = 85
	if !c.OnTick(h) {
		t.Error("expected skip over a span that is still engaged")
	}
}

func TestOnTick_RepeatedRewindsStayEngaged(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(0, 120)

	passes := DefaultLoopLimit + 2
	for pass := 0; pass < passes; pass++ {
		h.pos = 29
		for step := 0; step < 200 && h.pos < 50; step++ {
			c.OnTick(h)
			h.pos += 0.25
		}
	}

	if len(h.seeks) != passes {
		t.Fatalf("seeks = %v, want one jump per pass", h.seeks)
	}
	if got := c.Disengaged(); len(got) != 0 {
		t.Fatalf("Disengaged() = %v, want none after held landings", got)
	}
}

func TestOnTick_SeekWhilePausedIsHonored(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(31, 120)

	if !c.OnTick(h) {
		t.Fatal("expected a skip at 31s")
	}

	h.paused = true
	h.pos = 35
	if c.OnTick(h) {
		t.Fatal("paused tick must not seek")
	}

	h.paused = false
	if !c.OnTick(h) {
		t.Fatalf("expected a skip on resume inside the span; seeks = %v", h.seeks)
	}
	if len(h.seeks) != 2 || !approx(h.seeks[1], 45.1) {
		t.Errorf("seeks = %v, want second jump to 45.1", h.seeks)
	}
}

func TestOnTick_LoopWindowExpires(t *testing.T) {
	c := NewSkipController(Options{Epsilon: 0.1, LoopLimit: 1, LoopWindow: 2}, nil)
	c.SetSpans([]resolve.RemovalSpan{rs(30, 45)})
	h := newFakeHandle(31, 120)

	for i := 0; i < 5; i++ {
		h.pos = 31
		c.OnTick(h)
		h.pos = 29
		c.OnTick(h)
	}
	if len(h.seeks) != 5 {
		t.Fatalf("seeks = %v, want 5 jumps spaced outside the window", h.seeks)
	}
	if len(c.Disengaged()) != 0 {
		t.Errorf("Disengaged() = %v, want none", c.Disengaged())
	}
}

func TestOnTick_SeekErrorDegrades(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(31, 120)
	h.seekErr = errors.New("not seekable")

	if c.OnTick(h) {
		t.Fatal("failed seek must report no skip")
	}

	h.seekErr = nil
	if !c.OnTick(h) {
		t.Fatal("a later tick should retry the skip")
	}
}

func TestOnTick_PanicDegrades(t *testing.T) {
	c := newController(rs(30, 45))
	h := newFakeHandle(31, 120)
	h.panicOnPos = true

	if c.OnTick(h) {
		t.Fatal("panicking handle must report no skip")
	}

	// The controller is still usable afterwards.
	h.panicOnPos = false
	if !c.OnTick(h) {
		t.Fatal("expected skip after recovery")
	}
}

func TestSetSpans(t *testing.T) {
	c := NewSkipController(Options{LoopLimit: 1, LoopWindow: 100}, nil)
	c.SetSpans([]resolve.RemovalSpan{rs(30, 45), rs(5, 5), rs(10, 20)})

	spans := c.Spans()
	if len(spans) != 2 || spans[0].Start != 10 || spans[1].Start != 30 {
		t.Fatalf("Spans() = %+v, want sorted non-empty spans", spans)
	}

	h := newFakeHandle(31, 120)
	c.OnTick(h)
	h.pos = 29
	c.OnTick(h)
	h.pos = 31
	c.OnTick(h)
	if len(c.Disengaged()) != 1 {
		t.Fatalf("Disengaged() = %v, want one", c.Disengaged())
	}

	c.SetSpans([]resolve.RemovalSpan{rs(30, 40)})
	h.pos = 31
	if c.OnTick(h) {
		t.Error("disengaged start should survive SetSpans")
	}
}

func TestReportedHandle(t *testing.T) {
	c := newController(rs(30, 45))

	h := NewReportedHandle(TickReport{Position: 31, Duration: 120, MetadataLoaded: true})
	if !c.OnTick(h) {
		t.Fatal("expected skip")
	}
	if h.SeekTo() == nil || !approx(*h.SeekTo(), 45.1) {
		t.Fatalf("SeekTo() = %v, want 45.1", h.SeekTo())
	}
	if !approx(h.CurrentTime(), 45.1) {
		t.Errorf("CurrentTime() = %v after seek", h.CurrentTime())
	}

	next := NewReportedHandle(TickReport{Position: 45.1, Duration: 120, MetadataLoaded: true})
	if c.OnTick(next) || next.SeekTo() != nil {
		t.Error("landing tick must not seek")
	}
}
