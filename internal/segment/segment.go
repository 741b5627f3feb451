// Package segment holds the candidate cut spans proposed by the analysis pass.
// Segments are immutable once imported; every other package reads them through
// a Store snapshot.
package segment

import (
	"fmt"
	"strings"
)

// Category is the removal reason attached to a candidate segment.
type Category int

const (
	RedundantTake Category = iota
	Pause
	FalseStart
	FillerWords
	Technical
	Tangent
	LowEnergy
	LongExplanation
	WeakTransition
	Silence

	numCategories
)

// NumCategories is the size of any per-category lookup table.
const NumCategories = int(numCategories)

var categoryNames = [NumCategories]string{
	RedundantTake:   "redundant-take",
	Pause:           "pause",
	FalseStart:      "false-start",
	FillerWords:     "filler-words",
	Technical:       "technical",
	Tangent:         "tangent",
	LowEnergy:       "low-energy",
	LongExplanation: "long-explanation",
	WeakTransition:  "weak-transition",
	Silence:         "silence",
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

func (c Category) Valid() bool {
	return c >= 0 && c < numCategories
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory accepts the kebab-case name, case-insensitively. Underscores
// are treated as hyphens since some analysis prompts emit snake_case.
func ParseCategory(s string) (Category, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(categoryNames[c]), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Severity is the analysis pass's estimate of how much a segment hurts the cut.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return sev, nil
	case "":
		return SeverityMedium, nil
	default:
		return SeverityMedium, fmt.Errorf("unknown severity %q", s)
	}
}

// Origin records which collaborator produced a segment.
type Origin string

const (
	// OriginAnalysis is the AI content/quality pass.
	OriginAnalysis Origin = "analysis"
	// OriginDetector is an independent signal detector such as silence detection.
	OriginDetector Origin = "detector"
)

// Segment is one candidate span of source time proposed for removal.
// Times are seconds from the start of the source recording.
type Segment struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Start      float64  `json:"start_time"`
	End        float64  `json:"end_time"`
	Duration   float64  `json:"duration"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity"`
	Origin     Origin   `json:"origin,omitempty"`
	SourceText string   `json:"source_text,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Valid reports whether the segment covers a non-empty span.
func (s Segment) Valid() bool {
	return s.End > s.Start
}

// Independent reports whether the segment comes from an independent detection
// rather than the content pass. Those are never gated by category toggles.
func (s Segment) Independent() bool {
	return s.Category == Silence || s.Origin == OriginDetector
}

// Overlaps uses half-open intervals: touching spans do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd float64) bool {
	return !(aEnd <= bStart || aStart >= bEnd)
}
