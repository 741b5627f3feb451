package segment

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// RawSegment is the wire shape produced by the analysis collaborator.
type RawSegment struct {
	ID         string   `json:"id"`
	Category   string   `json:"category"`
	StartTime  Timecode `json:"start_time"`
	EndTime    Timecode `json:"end_time"`
	Confidence *float64 `json:"confidence,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Origin     string   `json:"origin,omitempty"`
	SourceText string   `json:"source_text,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Store is a read-only snapshot of the candidate segments for one session,
// ordered by ascending start time.
type Store struct {
	segments []Segment
	byID     map[string]int
}

// NewStore snapshots segs. Duplicate ids keep the first occurrence.
func NewStore(segs []Segment) *Store {
	sorted := make([]Segment, 0, len(segs))
	seen := make(map[string]bool, len(segs))
	for _, s := range segs {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		sorted = append(sorted, s)
	}
	SortByTime(sorted)

	byID := make(map[string]int, len(sorted))
	for i, s := range sorted {
		byID[s.ID] = i
	}
	return &Store{segments: sorted, byID: byID}
}

// All returns a copy of the snapshot.
func (s *Store) All() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Store) Get(id string) (Segment, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Segment{}, false
	}
	return s.segments[i], true
}

func (s *Store) Len() int {
	return len(s.segments)
}

// SortByTime orders by start, then end, then id so that equal inputs always
// sort identically regardless of arrival order.
func SortByTime(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		a, b := segs[i], segs[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
}

// Decode reads a JSON array of RawSegment (or an object with a "segments"
// array) and normalizes it. Records with malformed timecodes become
// zero-duration at zero; records with an unknown category are dropped. Both
// are logged and never fail the import.
func Decode(r io.Reader, logger *slog.Logger) ([]Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}

	var raw []RawSegment
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			Segments []RawSegment `json:"segments"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse segments: %w", err)
		}
		raw = wrapper.Segments
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse segments: %w", err)
	}

	return Normalize(raw, logger), nil
}

// Normalize converts wire records into Segments.
func Normalize(raw []RawSegment, logger *slog.Logger) []Segment {
	out := make([]Segment, 0, len(raw))
	for i, r := range raw {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			id = fmt.Sprintf("seg-%03d", i+1)
		}

		cat, err := ParseCategory(r.Category)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping segment with unknown category", "segment_id", id, "category", r.Category)
			}
			continue
		}

		seg := Segment{
			ID:         id,
			Category:   cat,
			Start:      r.StartTime.Seconds,
			End:        r.EndTime.Seconds,
			Confidence: 1,
			SourceText: r.SourceText,
			Reason:     r.Reason,
			Origin:     OriginAnalysis,
		}

		if err := firstErr(r.StartTime.Err(), r.EndTime.Err()); err != nil {
			if logger != nil {
				logger.Warn("malformed timecode, treating segment as empty",
					"segment_id", id, "start", r.StartTime.Raw, "end", r.EndTime.Raw, "error", err)
			}
			seg.Start, seg.End = 0, 0
		}

		if r.Confidence != nil {
			seg.Confidence = clamp01(*r.Confidence)
		}

		seg.Severity, err = ParseSeverity(r.Severity)
		if err != nil && logger != nil {
			logger.Warn("unknown severity, using medium", "segment_id", id, "severity", r.Severity)
		}

		if strings.EqualFold(strings.TrimSpace(r.Origin), string(OriginDetector)) {
			seg.Origin = OriginDetector
		}

		seg.Duration = seg.End - seg.Start
		if seg.Duration < 0 {
			seg.Duration = 0
		}
		out = append(out, seg)
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
