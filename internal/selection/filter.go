package selection

import (
	"encoding/json"
	"fmt"

	"github.com/heimdex/cutplan/internal/segment"
)

// DefaultMinConfidence is the confidence an un-clustered suggestion needs
// before the category filter acts on it.
const DefaultMinConfidence = 0.5

// CategorySet is a fixed-shape enabled flag per category. Adding a category
// to segment.Category resizes it at compile time.
type CategorySet [segment.NumCategories]bool

// DefaultCategories enables every category except the editorial ones that
// usually need a human read before cutting.
func DefaultCategories() CategorySet {
	var set CategorySet
	for i := range set {
		set[i] = true
	}
	set[segment.Tangent] = false
	set[segment.LongExplanation] = false
	return set
}

func (s CategorySet) Enabled(c segment.Category) bool {
	if !c.Valid() {
		return false
	}
	return s[c]
}

// MarshalJSON encodes the set as {"category-name": bool, ...}.
func (s CategorySet) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, len(s))
	for i, on := range s {
		m[segment.Category(i).String()] = on
	}
	return json.Marshal(m)
}

// UnmarshalJSON applies named flags on top of the current values; categories
// absent from the payload keep their value.
func (s *CategorySet) UnmarshalJSON(b []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for name, on := range m {
		c, err := segment.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("category filter: %w", err)
		}
		s[c] = on
	}
	return nil
}

// FilterState gates which un-clustered suggestions become removals.
type FilterState struct {
	Enabled          CategorySet `json:"enabled"`
	MinConfidence    float64     `json:"min_confidence"`
	HighSeverityOnly bool        `json:"high_severity_only"`
}

func DefaultFilter() FilterState {
	return FilterState{
		Enabled:       DefaultCategories(),
		MinConfidence: DefaultMinConfidence,
	}
}

// Admits reports whether a segment passes the filter. Independent detections
// are not gated here.
func (f FilterState) Admits(s segment.Segment) bool {
	if !f.Enabled.Enabled(s.Category) {
		return false
	}
	if s.Confidence < f.MinConfidence {
		return false
	}
	if f.HighSeverityOnly && s.Severity != segment.SeverityHigh {
		return false
	}
	return true
}
