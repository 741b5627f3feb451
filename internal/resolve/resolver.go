package resolve

import (
	"log/slog"
	"sort"

	"github.com/heimdex/cutplan/internal/cluster"
	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
)

const reasonEmptyRange = "empty or inverted time range"

// Resolver turns explicit inputs into a Result. It holds no state between
// calls; the logger is optional.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve recomputes the removal set from scratch. Identical inputs always
// produce identical output.
//
// Overlapping candidates are settled with whole-span precedence: the
// higher-priority span keeps its full extent and the loser is suppressed in
// full, including any part that did not overlap.
func (r *Resolver) Resolve(segs []segment.Segment, clusters []cluster.Cluster, state selection.State) Result {
	candidates := r.materialize(segment.NewStore(segs), clusters, state)

	res := Result{Primary: []RemovalSpan{}, Suppressed: []Suppressed{}}

	valid := candidates[:0]
	for _, c := range candidates {
		if c.End <= c.Start {
			r.debug("excluding empty removal span",
				"segment_id", c.OriginSegmentID, "start", c.Start, "end", c.End, "tier", int(c.Tier))
			res.Suppressed = append(res.Suppressed, Suppressed{Span: c, Reason: reasonEmptyRange})
			continue
		}
		valid = append(valid, c)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.OriginSegmentID < b.OriginSegmentID
	})

	for _, group := range overlapGroups(valid) {
		primary, suppressed := settle(group)
		res.Primary = append(res.Primary, primary...)
		res.Suppressed = append(res.Suppressed, suppressed...)
	}

	sort.SliceStable(res.Primary, func(i, j int) bool {
		return res.Primary[i].Start < res.Primary[j].Start
	})
	sort.SliceStable(res.Suppressed, func(i, j int) bool {
		a, b := res.Suppressed[i].Span, res.Suppressed[j].Span
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.OriginSegmentID < b.OriginSegmentID
	})

	if r.logger != nil {
		r.logger.Debug("removal set resolved",
			"candidates", len(candidates), "primary", len(res.Primary), "suppressed", len(res.Suppressed))
	}
	return res
}

func (r *Resolver) materialize(store *segment.Store, clusters []cluster.Cluster, state selection.State) []RemovalSpan {
	type spanKey struct {
		id   string
		tier Tier
	}
	var out []RemovalSpan
	seen := make(map[spanKey]bool)
	add := func(s segment.Segment, tier Tier, clusterID string) {
		key := spanKey{s.ID, tier}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, RemovalSpan{
			Start:           s.Start,
			End:             s.End,
			OriginSegmentID: s.ID,
			ReasonCategory:  s.Category,
			Tier:            tier,
			ClusterID:       clusterID,
		})
	}

	known := make(map[string]bool, len(clusters))
	for _, c := range clusters {
		known[c.ID] = true
	}

	for _, sel := range state.Selections {
		if !known[sel.ClusterID] {
			r.debug("ignoring selection for unknown cluster", "cluster_id", sel.ClusterID)
			continue
		}
		for _, id := range sel.RemovedIDs {
			s, ok := store.Get(id)
			if !ok {
				r.debug("ignoring stale segment reference", "cluster_id", sel.ClusterID, "segment_id", id)
				continue
			}
			add(s, TierClusterDecision, sel.ClusterID)
		}
	}

	owners := cluster.Owners(clusters)
	for _, s := range store.All() {
		// Cluster decisions already covered every member.
		if _, clustered := owners[s.ID]; clustered {
			continue
		}
		if s.Independent() {
			add(s, TierIndependent, "")
			continue
		}
		if state.Filter.Admits(s) {
			add(s, TierCategoryFilter, "")
		}
	}
	return out
}

// overlapGroups splits start-sorted spans into maximal runs connected by
// overlap.
func overlapGroups(sorted []RemovalSpan) [][]RemovalSpan {
	var groups [][]RemovalSpan
	var cur []RemovalSpan
	var curEnd float64

	for _, s := range sorted {
		if len(cur) > 0 && s.Start < curEnd {
			cur = append(cur, s)
			if s.End > curEnd {
				curEnd = s.End
			}
			continue
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
		cur = []RemovalSpan{s}
		curEnd = s.End
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// settle accepts spans in priority order and suppresses any span that
// overlaps one already accepted.
func settle(group []RemovalSpan) ([]RemovalSpan, []Suppressed) {
	if len(group) == 1 {
		return group, nil
	}

	ranked := make([]RemovalSpan, len(group))
	copy(ranked, group)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Duration() != b.Duration() {
			return a.Duration() > b.Duration()
		}
		return a.OriginSegmentID < b.OriginSegmentID
	})

	var accepted []RemovalSpan
	var suppressed []Suppressed
	for _, s := range ranked {
		winner, conflict := firstConflict(accepted, s)
		if !conflict {
			accepted = append(accepted, s)
			continue
		}
		suppressed = append(suppressed, Suppressed{
			Span:         s,
			Reason:       suppressionReason(winner, s),
			SuppressedBy: winner.OriginSegmentID,
		})
	}
	return accepted, suppressed
}

func firstConflict(accepted []RemovalSpan, s RemovalSpan) (RemovalSpan, bool) {
	for _, a := range accepted {
		if a.Overlaps(s) {
			return a, true
		}
	}
	return RemovalSpan{}, false
}

func suppressionReason(winner, loser RemovalSpan) string {
	if winner.Tier < loser.Tier {
		return "lower priority than " + winner.Tier.Label()
	}
	return "overlaps another " + winner.Tier.Label() + " span"
}

func (r *Resolver) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
