// Package timeline derives edit statistics and the source-to-output time
// mapping from a resolved removal set.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/heimdex/cutplan/internal/resolve"
)

// Epsilon absorbs floating point error when comparing summed durations.
const Epsilon = 1e-6

var ErrDataIntegrity = errors.New("data integrity violation")

// IntegrityError reports an upstream invariant that no longer holds. Export
// must not proceed while one is outstanding.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDataIntegrity, e.Detail)
}

func (e *IntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// Summary is the headline numbers for an edit.
type Summary struct {
	OriginalDuration    float64 `json:"original_duration"`
	TotalRemoved        float64 `json:"total_removed"`
	FinalDuration       float64 `json:"final_duration"`
	ReductionPercentage float64 `json:"reduction_percentage"`
}

// Summarize totals the primary spans, which are disjoint by construction.
// Spans are clamped to [0, originalDuration] before summing so the totals
// agree with KeepSpans and the Mapper. A span reaching outside the source, or
// a negative raw final duration, is returned as an IntegrityError alongside
// the clamped summary so callers can still display something.
func Summarize(primary []resolve.RemovalSpan, originalDuration float64) (Summary, error) {
	total, raw := 0.0, 0.0
	var outside *resolve.RemovalSpan
	for i, s := range primary {
		raw += s.Duration()
		start, end := math.Max(s.Start, 0), math.Min(s.End, originalDuration)
		if end > start {
			total += end - start
		}
		if outside == nil && (s.Start < -Epsilon || s.End > originalDuration+Epsilon) {
			outside = &primary[i]
		}
	}

	sum := Summary{
		OriginalDuration:    originalDuration,
		TotalRemoved:        total,
		FinalDuration:       math.Max(originalDuration-total, 0),
		ReductionPercentage: ReductionPercentage(originalDuration, total),
	}

	if final := originalDuration - raw; final < -Epsilon {
		return sum, &IntegrityError{Detail: fmt.Sprintf(
			"removed %.3fs from a %.3fs source (final %.3fs)", raw, originalDuration, final)}
	}
	if outside != nil {
		return sum, &IntegrityError{Detail: fmt.Sprintf(
			"span %s [%.3f, %.3f] reaches outside the %.3fs source",
			outside.OriginSegmentID, outside.Start, outside.End, originalDuration)}
	}
	return sum, nil
}

// ReductionPercentage is removed/original as a percentage, or 0 when the
// original duration is not positive.
func ReductionPercentage(originalDuration, removed float64) float64 {
	if originalDuration <= 0 || math.IsNaN(originalDuration) || math.IsNaN(removed) {
		return 0
	}
	return removed / originalDuration * 100
}

// Mapper converts between source and output time for a removal set.
type Mapper struct {
	spans []resolve.RemovalSpan
	// removedBefore[i] is the total duration of spans[0:i].
	removedBefore []float64
}

// NewMapper requires spans sorted by start and pairwise disjoint; anything
// else would make the mapping non-monotonic.
func NewMapper(primary []resolve.RemovalSpan) (*Mapper, error) {
	spans := make([]resolve.RemovalSpan, len(primary))
	copy(spans, primary)

	prefix := make([]float64, len(spans)+1)
	for i, s := range spans {
		if s.End < s.Start {
			return nil, &IntegrityError{Detail: fmt.Sprintf("span %s is inverted", s.OriginSegmentID)}
		}
		if i > 0 && s.Start < spans[i-1].End {
			return nil, &IntegrityError{Detail: fmt.Sprintf(
				"spans %s and %s overlap or are unsorted", spans[i-1].OriginSegmentID, s.OriginSegmentID)}
		}
		prefix[i+1] = prefix[i] + s.Duration()
	}
	return &Mapper{spans: spans, removedBefore: prefix}, nil
}

// SourceToOutput maps a source position to its position in the edited cut.
// Positions inside a removed span collapse onto the cut point.
func (m *Mapper) SourceToOutput(t float64) float64 {
	// First span starting after t; every span before it starts at or before t.
	i := sort.Search(len(m.spans), func(i int) bool { return m.spans[i].Start > t })
	removed := m.removedBefore[i]
	if i > 0 {
		if last := m.spans[i-1]; t < last.End {
			removed -= last.End - t
		}
	}
	out := t - removed
	if out < 0 {
		return 0
	}
	return out
}

// OutputToSource maps a position in the edited cut back to source time. The
// result is never inside a removed span.
func (m *Mapper) OutputToSource(out float64) float64 {
	if out <= 0 {
		out = 0
	}
	// Span i starts at output time spans[i].Start - removedBefore[i].
	i := sort.Search(len(m.spans), func(i int) bool {
		return m.spans[i].Start-m.removedBefore[i] > out
	})
	src := out + m.removedBefore[i]
	if i > 0 && src < m.spans[i-1].End {
		src = m.spans[i-1].End
	}
	return src
}

// Spans returns the mapper's removal spans.
func (m *Mapper) Spans() []resolve.RemovalSpan {
	out := make([]resolve.RemovalSpan, len(m.spans))
	copy(out, m.spans)
	return out
}

// Span is a plain source range.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s Span) Duration() float64 {
	return s.End - s.Start
}

// KeepSpans is the complement of the removal set within [0, originalDuration].
func KeepSpans(primary []resolve.RemovalSpan, originalDuration float64) []Span {
	keep := []Span{}
	cursor := 0.0
	for _, s := range primary {
		start := math.Max(s.Start, 0)
		if start > originalDuration {
			break
		}
		if start > cursor {
			keep = append(keep, Span{Start: cursor, End: start})
		}
		if s.End > cursor {
			cursor = s.End
		}
	}
	if cursor < originalDuration {
		keep = append(keep, Span{Start: cursor, End: originalDuration})
	}
	return keep
}

// Verify runs every integrity check needed before export.
func Verify(primary []resolve.RemovalSpan, originalDuration float64) (Summary, error) {
	sum, err := Summarize(primary, originalDuration)
	if err != nil {
		return sum, err
	}
	if _, err := NewMapper(primary); err != nil {
		return sum, err
	}
	return sum, nil
}
