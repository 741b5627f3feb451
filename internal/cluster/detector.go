package cluster

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/heimdex/cutplan/internal/segment"
)

const (
	DefaultMaxGap            = 30.0
	DefaultMinTextSimilarity = 0.3

	nameSnippetWords = 6
)

// Options tunes how aggressively takes are grouped.
type Options struct {
	// MaxGap is the largest silence in seconds between the end of a group and
	// the start of the next attempt that still counts as a retake.
	MaxGap float64
	// MinTextSimilarity is the word-set Jaccard similarity two adjacent
	// attempts must reach when both carry transcript text. Zero disables it.
	MinTextSimilarity float64
}

func DefaultOptions() Options {
	return Options{MaxGap: DefaultMaxGap, MinTextSimilarity: DefaultMinTextSimilarity}
}

// Detector groups attempt segments into clusters.
type Detector struct {
	opts   Options
	logger *slog.Logger
}

func NewDetector(opts Options, logger *slog.Logger) *Detector {
	if opts.MaxGap < 0 {
		opts.MaxGap = 0
	}
	return &Detector{opts: opts, logger: logger}
}

// Clusterable reports whether a category describes a delivery attempt.
func Clusterable(c segment.Category) bool {
	return c == segment.RedundantTake || c == segment.FalseStart
}

// Detect returns clusters sorted by start time. Identical input always yields
// identical ids, membership and default winners. Segments that do not join a
// group of two or more are left out and stay reachable through the category
// filter. Independent segments never join a cluster.
func (d *Detector) Detect(segs []segment.Segment) []Cluster {
	candidates := make([]segment.Segment, 0, len(segs))
	for _, s := range segs {
		if !Clusterable(s.Category) || s.Independent() {
			continue
		}
		if !s.Valid() {
			d.warn("dropping attempt with empty or inverted time range",
				"segment_id", s.ID, "start", s.Start, "end", s.End)
			continue
		}
		candidates = append(candidates, s)
	}
	segment.SortByTime(candidates)

	groups := d.mergeOverlapping(d.sweep(candidates))

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		if len(g.members) < 2 {
			continue
		}
		c := buildCluster(len(clusters)+1, g.members)
		if err := c.Validate(); err != nil {
			d.warn("dropping invalid cluster", "cluster_id", c.ID, "error", err)
			continue
		}
		clusters = append(clusters, c)
	}

	if d.logger != nil {
		d.logger.Debug("cluster detection complete",
			"segments", len(segs), "attempts", len(candidates), "clusters", len(clusters))
	}
	return clusters
}

type group struct {
	members []segment.Segment
	start   float64
	end     float64
}

func (g *group) add(s segment.Segment) {
	if len(g.members) == 0 || s.Start < g.start {
		g.start = s.Start
	}
	if len(g.members) == 0 || s.End > g.end {
		g.end = s.End
	}
	g.members = append(g.members, s)
}

func (d *Detector) sweep(sorted []segment.Segment) []*group {
	var groups []*group
	var open *group

	for _, s := range sorted {
		if open != nil && d.joins(open, s) {
			open.add(s)
			continue
		}
		open = &group{}
		open.add(s)
		groups = append(groups, open)
	}
	return groups
}

func (d *Detector) joins(g *group, s segment.Segment) bool {
	if s.Start-g.end > d.opts.MaxGap {
		return false
	}
	if d.opts.MinTextSimilarity <= 0 {
		return true
	}
	last := g.members[len(g.members)-1]
	if strings.TrimSpace(last.SourceText) == "" || strings.TrimSpace(s.SourceText) == "" {
		return true
	}
	return jaccard(last.SourceText, s.SourceText) >= d.opts.MinTextSimilarity
}

// mergeOverlapping folds together groups whose time ranges overlap, which the
// text check can produce when a long attempt straddles a topic change. The
// result has pairwise disjoint ranges.
func (d *Detector) mergeOverlapping(groups []*group) []*group {
	if len(groups) < 2 {
		return groups
	}
	out := []*group{groups[0]}
	for _, g := range groups[1:] {
		cur := out[len(out)-1]
		if segment.Overlaps(cur.start, cur.end, g.start, g.end) {
			d.warn("merging overlapping take groups",
				"first_start", cur.start, "first_end", cur.end,
				"second_start", g.start, "second_end", g.end)
			for _, m := range g.members {
				cur.add(m)
			}
			segment.SortByTime(cur.members)
			continue
		}
		out = append(out, g)
	}
	return out
}

func buildCluster(n int, members []segment.Segment) Cluster {
	c := Cluster{
		ID:        fmt.Sprintf("take-%03d", n),
		Name:      clusterName(n, members),
		TimeRange: TimeRange{Start: members[0].Start, End: members[0].End},
	}
	for _, m := range members {
		if m.Start < c.TimeRange.Start {
			c.TimeRange.Start = m.Start
		}
		if m.End > c.TimeRange.End {
			c.TimeRange.End = m.End
		}
	}

	winner := pickWinner(members)
	for i := range members {
		if i == winner {
			w := members[i]
			c.Winner = &w
			continue
		}
		c.Attempts = append(c.Attempts, members[i])
	}
	return c
}

// pickWinner returns the latest attempt not flagged high severity, or -1 when
// every attempt is high severity. Later takes usually are the cleanest.
func pickWinner(sorted []segment.Segment) int {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Severity != segment.SeverityHigh {
			return i
		}
	}
	return -1
}

func clusterName(n int, members []segment.Segment) string {
	for _, m := range members {
		words := strings.Fields(m.SourceText)
		if len(words) == 0 {
			continue
		}
		if len(words) > nameSnippetWords {
			return fmt.Sprintf("Take %d: %s…", n, strings.Join(words[:nameSnippetWords], " "))
		}
		return fmt.Sprintf("Take %d: %s", n, strings.Join(words, " "))
	}
	return fmt.Sprintf("Take %d", n)
}

func jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		set[w] = true
	}
	return set
}

func (d *Detector) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
