package export

import (
	"strings"
	"testing"

	"github.com/heimdex/cutplan/internal/timeline"
)

func TestGenerateEDL_SingleSpan(t *testing.T) {
	keep := []timeline.Span{{Start: 0, End: 2}}

	edl := GenerateEDL(keep, "Project One", "/media/intro.mp4", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Keep 1 (00:00.00 - 00:02.00)") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/intro.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_RecordTrackIsContiguous(t *testing.T) {
	keep := []timeline.Span{
		{Start: 0, End: 1},
		{Start: 2, End: 3.5},
	}

	edl := GenerateEDL(keep, "Multi", "", 30.0)

	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:01:00 00:00:00:00 00:00:01:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:02:00 00:00:03:15 00:00:01:00 00:00:02:15") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
	if strings.Contains(edl, "MEDIA PATH") {
		t.Fatalf("media path comment without a media path: %q", edl)
	}
}

func TestGenerateEDL_SkipsSubFrameSpans(t *testing.T) {
	keep := []timeline.Span{
		{Start: 5, End: 5.01},
		{Start: 10, End: 11},
	}

	edl := GenerateEDL(keep, "Tiny", "", 30.0)

	if strings.Contains(edl, "002  ") {
		t.Fatalf("sub-frame span produced an event: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:10:00 00:00:11:00 00:00:00:00 00:00:01:00") {
		t.Fatalf("event line mismatch: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	edl := GenerateEDL([]timeline.Span{{Start: 0, End: 1}}, "Drop", "", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestFramesToTimecode(t *testing.T) {
	tests := []struct {
		name string
		sec  float64
		fps  int
		want string
	}{
		{name: "zero", sec: 0, fps: 30, want: "00:00:00:00"},
		{name: "negative clamps", sec: -3, fps: 30, want: "00:00:00:00"},
		{name: "one second", sec: 1, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", sec: 0.5, fps: 30, want: "00:00:00:15"},
		{name: "one minute", sec: 60, fps: 30, want: "00:01:00:00"},
		{name: "one hour", sec: 3600, fps: 30, want: "01:00:00:00"},
		{name: "25 fps", sec: 1.2, fps: 25, want: "00:00:01:05"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := framesToTimecode(secondsToFrames(tc.sec, tc.fps), tc.fps)
			if got != tc.want {
				t.Fatalf("timecode(%v, %d) = %q, want %q", tc.sec, tc.fps, got, tc.want)
			}
		})
	}
}
