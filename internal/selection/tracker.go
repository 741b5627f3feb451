// Package selection tracks the editor's decisions: which take wins each
// cluster and which categories the filter acts on. It is the only mutable
// state in the engine; consumers read immutable State snapshots.
package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/heimdex/cutplan/internal/cluster"
	"github.com/heimdex/cutplan/internal/segment"
)

var (
	ErrUnknownCluster    = errors.New("unknown cluster")
	ErrUnknownSegment    = errors.New("segment is not a member of the cluster")
	ErrIndexOutOfRange   = errors.New("winner index out of range")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	ErrInvalidCoverage   = errors.New("selection does not cover the cluster members exactly")
)

// Pick is the chosen winner: a member index, PickGap or PickUndecided.
type Pick int

const (
	// PickUndecided keeps every member; the default for gap clusters.
	PickUndecided Pick = -2
	// PickGap removes every member of the cluster.
	PickGap Pick = -1
)

func (p Pick) String() string {
	switch p {
	case PickGap:
		return "gap"
	case PickUndecided:
		return "undecided"
	default:
		return strconv.Itoa(int(p))
	}
}

func (p Pick) MarshalJSON() ([]byte, error) {
	if p < 0 {
		return json.Marshal(p.String())
	}
	return json.Marshal(int(p))
}

func (p *Pick) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "gap":
			*p = PickGap
		case "undecided":
			*p = PickUndecided
		default:
			return fmt.Errorf("invalid winner pick %q", s)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid winner pick: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("invalid winner pick %d", n)
	}
	*p = Pick(n)
	return nil
}

// ClusterSelection is the disposition of one cluster's members. Removed and
// Kept together list every member exactly once, in member order.
type ClusterSelection struct {
	ClusterID      string   `json:"cluster_id"`
	SelectedWinner Pick     `json:"selected_winner"`
	RemovedIDs     []string `json:"removed_segment_ids"`
	KeptIDs        []string `json:"kept_segment_ids"`
}

// State is an immutable snapshot handed to the resolver.
type State struct {
	Selections []ClusterSelection `json:"selections"`
	Filter     FilterState        `json:"filter"`
}

func (s State) Selection(clusterID string) (ClusterSelection, bool) {
	i := sort.Search(len(s.Selections), func(i int) bool {
		return s.Selections[i].ClusterID >= clusterID
	})
	if i < len(s.Selections) && s.Selections[i].ClusterID == clusterID {
		return s.Selections[i], true
	}
	return ClusterSelection{}, false
}

// DefaultSelection keeps the cluster's winner and removes the other attempts.
// A gap cluster starts undecided with every member kept.
func DefaultSelection(c cluster.Cluster) ClusterSelection {
	members := c.Members()
	idx := c.WinnerIndex()
	if idx < 0 {
		return fromKept(c.ID, members, PickUndecided, func(int) bool { return true })
	}
	return fromKept(c.ID, members, Pick(idx), func(i int) bool { return i == idx })
}

func fromKept(clusterID string, members []segment.Segment, pick Pick, kept func(int) bool) ClusterSelection {
	sel := ClusterSelection{ClusterID: clusterID, SelectedWinner: pick, RemovedIDs: []string{}, KeptIDs: []string{}}
	for i, m := range members {
		if kept(i) {
			sel.KeptIDs = append(sel.KeptIDs, m.ID)
		} else {
			sel.RemovedIDs = append(sel.RemovedIDs, m.ID)
		}
	}
	return sel
}

// Tracker owns the selections for one analysis pass.
type Tracker struct {
	clusters   map[string]cluster.Cluster
	selections map[string]ClusterSelection
	filter     FilterState
}

// NewTracker creates default selections for every cluster.
func NewTracker(clusters []cluster.Cluster, filter FilterState) *Tracker {
	t := &Tracker{
		clusters:   make(map[string]cluster.Cluster, len(clusters)),
		selections: make(map[string]ClusterSelection, len(clusters)),
		filter:     filter,
	}
	for _, c := range clusters {
		t.clusters[c.ID] = c
		t.selections[c.ID] = DefaultSelection(c)
	}
	return t
}

// State returns a snapshot sorted by cluster id.
func (t *Tracker) State() State {
	out := State{Filter: t.filter, Selections: make([]ClusterSelection, 0, len(t.selections))}
	for _, sel := range t.selections {
		out.Selections = append(out.Selections, cloneSelection(sel))
	}
	sort.Slice(out.Selections, func(i, j int) bool {
		return out.Selections[i].ClusterID < out.Selections[j].ClusterID
	})
	return out
}

func (t *Tracker) Selection(clusterID string) (ClusterSelection, error) {
	sel, ok := t.selections[clusterID]
	if !ok {
		return ClusterSelection{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	return cloneSelection(sel), nil
}

func (t *Tracker) SelectWinner(clusterID string, index int) (ClusterSelection, error) {
	c, ok := t.clusters[clusterID]
	if !ok {
		return ClusterSelection{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	members := c.Members()
	if index < 0 || index >= len(members) {
		return ClusterSelection{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(members))
	}
	sel := fromKept(clusterID, members, Pick(index), func(i int) bool { return i == index })
	t.selections[clusterID] = sel
	return cloneSelection(sel), nil
}

// SelectGap marks every take in the cluster as unusable.
func (t *Tracker) SelectGap(clusterID string) (ClusterSelection, error) {
	c, ok := t.clusters[clusterID]
	if !ok {
		return ClusterSelection{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	sel := fromKept(clusterID, c.Members(), PickGap, func(int) bool { return false })
	t.selections[clusterID] = sel
	return cloneSelection(sel), nil
}

// ToggleSegment flips one member between kept and removed.
func (t *Tracker) ToggleSegment(clusterID, segmentID string) (ClusterSelection, error) {
	c, ok := t.clusters[clusterID]
	if !ok {
		return ClusterSelection{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	if !c.Contains(segmentID) {
		return ClusterSelection{}, fmt.Errorf("%w: %s in %s", ErrUnknownSegment, segmentID, clusterID)
	}

	kept := make(map[string]bool)
	for _, id := range t.selections[clusterID].KeptIDs {
		kept[id] = true
	}
	kept[segmentID] = !kept[segmentID]

	members := c.Members()
	keptCount, lastKept := 0, -1
	for i, m := range members {
		if kept[m.ID] {
			keptCount++
			lastKept = i
		}
	}

	pick := PickUndecided
	switch keptCount {
	case 0:
		pick = PickGap
	case 1:
		pick = Pick(lastKept)
	}

	sel := fromKept(clusterID, members, pick, func(i int) bool { return kept[members[i].ID] })
	t.selections[clusterID] = sel
	return cloneSelection(sel), nil
}

func (t *Tracker) Reset(clusterID string) (ClusterSelection, error) {
	c, ok := t.clusters[clusterID]
	if !ok {
		return ClusterSelection{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	sel := DefaultSelection(c)
	t.selections[clusterID] = sel
	return cloneSelection(sel), nil
}

func (t *Tracker) Filter() FilterState {
	return t.filter
}

func (t *Tracker) SetFilter(f FilterState) error {
	if err := validateConfidence(f.MinConfidence); err != nil {
		return err
	}
	t.filter = f
	return nil
}

func (t *Tracker) SetCategory(c segment.Category, enabled bool) error {
	if !c.Valid() {
		return fmt.Errorf("invalid category %d", int(c))
	}
	t.filter.Enabled[c] = enabled
	return nil
}

func (t *Tracker) SetMinConfidence(v float64) error {
	if err := validateConfidence(v); err != nil {
		return err
	}
	t.filter.MinConfidence = v
	return nil
}

func (t *Tracker) SetHighSeverityOnly(on bool) {
	t.filter.HighSeverityOnly = on
}

// Restore reapplies persisted selections. Selections for clusters that no
// longer exist are dropped; selections whose ids no longer match the
// cluster's members are reset to the default.
func (t *Tracker) Restore(saved []ClusterSelection, logger *slog.Logger) {
	for _, sel := range saved {
		c, ok := t.clusters[sel.ClusterID]
		if !ok {
			if logger != nil {
				logger.Debug("dropping selection for stale cluster", "cluster_id", sel.ClusterID)
			}
			continue
		}
		if err := ValidateCoverage(c, sel); err != nil {
			if logger != nil {
				logger.Warn("resetting selection that no longer matches its cluster",
					"cluster_id", sel.ClusterID, "error", err)
			}
			t.selections[c.ID] = DefaultSelection(c)
			continue
		}
		t.selections[c.ID] = cloneSelection(sel)
	}
}

// ValidateCoverage checks that removed and kept partition the cluster's members.
func ValidateCoverage(c cluster.Cluster, sel ClusterSelection) error {
	members := c.Members()
	want := make(map[string]bool, len(members))
	for _, m := range members {
		want[m.ID] = true
	}

	seen := make(map[string]bool, len(members))
	for _, id := range append(append([]string{}, sel.RemovedIDs...), sel.KeptIDs...) {
		if !want[id] || seen[id] {
			return fmt.Errorf("%w: %s", ErrInvalidCoverage, id)
		}
		seen[id] = true
	}
	if len(seen) != len(want) {
		return fmt.Errorf("%w: %d of %d members listed", ErrInvalidCoverage, len(seen), len(want))
	}
	if sel.SelectedWinner >= 0 && int(sel.SelectedWinner) >= len(members) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, sel.SelectedWinner)
	}
	return nil
}

func validateConfidence(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, v)
	}
	return nil
}

func cloneSelection(sel ClusterSelection) ClusterSelection {
	sel.RemovedIDs = append([]string{}, sel.RemovedIDs...)
	sel.KeptIDs = append([]string{}, sel.KeptIDs...)
	return sel
}
