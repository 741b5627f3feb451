package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/timeline"
)

// GenerateEDL lays the keep spans end to end on the record track, each
// event cut from the one source reel.
func GenerateEDL(keep []timeline.Span, title, mediaPath string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	// Positions are snapped to frames first so record in/out stay contiguous.
	recordFrames := 0
	event := 0
	for _, span := range keep {
		inFrames := secondsToFrames(span.Start, fps)
		outFrames := secondsToFrames(span.End, fps)
		if outFrames <= inFrames {
			continue
		}
		event++
		length := outFrames - inFrames

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "V",
				framesToTimecode(inFrames, fps), framesToTimecode(outFrames, fps),
				framesToTimecode(recordFrames, fps), framesToTimecode(recordFrames+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  Keep %d (%s - %s)", event,
				segment.FormatClock(span.Start), segment.FormatClock(span.End)),
		)
		if mediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", mediaPath))
		}

		recordFrames += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToFrames(sec float64, fps int) int {
	if sec <= 0 || math.IsNaN(sec) {
		return 0
	}
	return int(math.Round(sec * float64(fps)))
}

func framesToTimecode(totalFrames int, fps int) string {
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
