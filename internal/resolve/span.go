// Package resolve reconciles cluster decisions, category filter suggestions
// and independent detections into one non-overlapping removal set.
package resolve

import (
	"errors"
	"fmt"

	"github.com/heimdex/cutplan/internal/segment"
)

var ErrOverlap = errors.New("primary removal spans overlap")

// Tier is the precedence rank of a removal reason. Lower wins.
type Tier int

const (
	TierClusterDecision Tier = 1
	TierCategoryFilter  Tier = 2
	TierIndependent     Tier = 3
)

func (t Tier) Label() string {
	switch t {
	case TierClusterDecision:
		return "explicit cluster decision"
	case TierCategoryFilter:
		return "active category filter"
	case TierIndependent:
		return "silence detection"
	default:
		return fmt.Sprintf("tier %d", int(t))
	}
}

// RemovalSpan is a resolved range of source time to cut. It is always derived
// and never stored.
type RemovalSpan struct {
	Start           float64          `json:"start"`
	End             float64          `json:"end"`
	OriginSegmentID string           `json:"origin_segment_id"`
	ReasonCategory  segment.Category `json:"reason_category"`
	Tier            Tier             `json:"priority_tier"`
	ClusterID       string           `json:"cluster_id,omitempty"`
}

func (s RemovalSpan) Duration() float64 {
	return s.End - s.Start
}

func (s RemovalSpan) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

func (s RemovalSpan) Overlaps(o RemovalSpan) bool {
	return segment.Overlaps(s.Start, s.End, o.Start, o.End)
}

// Suppressed is a candidate span that lost to a higher priority one, or was
// rejected outright. SuppressedBy names the winning span's segment when there
// is one.
type Suppressed struct {
	Span         RemovalSpan `json:"span"`
	Reason       string      `json:"reason"`
	SuppressedBy string      `json:"suppressed_by,omitempty"`
}

// Result is the authoritative removal set plus its audit trail.
type Result struct {
	Primary    []RemovalSpan `json:"primary"`
	Suppressed []Suppressed  `json:"suppressed"`
}

// Eligible is the number of candidate spans accounted for.
func (r Result) Eligible() int {
	return len(r.Primary) + len(r.Suppressed)
}

// Check verifies the primary spans are sorted and pairwise disjoint.
func Check(r Result) error {
	for i := 1; i < len(r.Primary); i++ {
		prev, cur := r.Primary[i-1], r.Primary[i]
		if cur.Start < prev.Start || prev.Overlaps(cur) {
			return fmt.Errorf("%w: %s [%g,%g) and %s [%g,%g)", ErrOverlap,
				prev.OriginSegmentID, prev.Start, prev.End,
				cur.OriginSegmentID, cur.Start, cur.End)
		}
	}
	return nil
}
