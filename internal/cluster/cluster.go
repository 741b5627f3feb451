// Package cluster groups repeated attempts at the same content into clusters
// of alternate takes and proposes a default winner for each.
package cluster

import (
	"errors"
	"fmt"

	"github.com/heimdex/cutplan/internal/segment"
)

var ErrInvalidCluster = errors.New("invalid cluster")

type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Cluster is a set of alternate takes. Winner is nil for a gap cluster, which
// needs an explicit choice from the editor. Attempts never contain Winner.
type Cluster struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	TimeRange TimeRange         `json:"time_range"`
	Attempts  []segment.Segment `json:"attempts"`
	Winner    *segment.Segment  `json:"winner"`
}

func (c Cluster) IsGap() bool {
	return c.Winner == nil
}

// Members returns attempts and winner in ascending start order. Selection
// indexes refer to positions in this slice.
func (c Cluster) Members() []segment.Segment {
	out := make([]segment.Segment, 0, len(c.Attempts)+1)
	out = append(out, c.Attempts...)
	if c.Winner != nil {
		out = append(out, *c.Winner)
	}
	segment.SortByTime(out)
	return out
}

// WinnerIndex is the default winner's position in Members, or -1 for a gap cluster.
func (c Cluster) WinnerIndex() int {
	if c.Winner == nil {
		return -1
	}
	return c.MemberIndex(c.Winner.ID)
}

func (c Cluster) MemberIndex(segmentID string) int {
	for i, m := range c.Members() {
		if m.ID == segmentID {
			return i
		}
	}
	return -1
}

func (c Cluster) Contains(segmentID string) bool {
	return c.MemberIndex(segmentID) >= 0
}

// Validate checks the structural invariants of a single cluster.
func (c Cluster) Validate() error {
	if len(c.Attempts) == 0 {
		return fmt.Errorf("%w: %s has no attempts", ErrInvalidCluster, c.ID)
	}
	if c.TimeRange.Start > c.TimeRange.End {
		return fmt.Errorf("%w: %s has inverted time range", ErrInvalidCluster, c.ID)
	}

	seen := make(map[string]bool, len(c.Attempts)+1)
	for _, m := range c.Members() {
		if seen[m.ID] {
			return fmt.Errorf("%w: %s lists segment %s twice", ErrInvalidCluster, c.ID, m.ID)
		}
		seen[m.ID] = true
		if m.Start < c.TimeRange.Start || m.End > c.TimeRange.End {
			return fmt.Errorf("%w: %s time range does not cover segment %s", ErrInvalidCluster, c.ID, m.ID)
		}
	}
	return nil
}

// ValidateSet checks every cluster and that no two clusters overlap in time.
// Clusters must be sorted by start time.
func ValidateSet(clusters []Cluster) error {
	for i, c := range clusters {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 {
			prev := clusters[i-1]
			if segment.Overlaps(prev.TimeRange.Start, prev.TimeRange.End, c.TimeRange.Start, c.TimeRange.End) {
				return fmt.Errorf("%w: %s overlaps %s", ErrInvalidCluster, prev.ID, c.ID)
			}
		}
	}
	return nil
}

// Owners maps segment id to owning cluster id.
func Owners(clusters []Cluster) map[string]string {
	idx := make(map[string]string)
	for _, c := range clusters {
		for _, m := range c.Members() {
			idx[m.ID] = c.ID
		}
	}
	return idx
}
