// Package session hosts the engine for one review session at a time per
// recording: it persists the inputs (segments, selections, filter) and
// recomputes every derived view from them on demand.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/cutplan/internal/cluster"
	"github.com/heimdex/cutplan/internal/resolve"
	"github.com/heimdex/cutplan/internal/selection"
	"github.com/heimdex/cutplan/internal/timeline"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidInput = errors.New("invalid session input")
	ErrNoMedia      = errors.New("session has no media")
)

// Session is the stored header of a review session.
type Session struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	MediaPath string                `json:"media_path,omitempty"`
	Duration  float64               `json:"duration"`
	Filter    selection.FilterState `json:"filter"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ClusterView pairs a detected cluster with the editor's current selection.
type ClusterView struct {
	cluster.Cluster
	Selection selection.ClusterSelection `json:"selection"`
}

// Plan is the fully derived edit for a session.
type Plan struct {
	SessionID  string                `json:"session_id"`
	Primary    []resolve.RemovalSpan `json:"primary"`
	Suppressed []resolve.Suppressed  `json:"suppressed"`
	KeepSpans  []timeline.Span       `json:"keep_spans"`
	Summary    timeline.Summary      `json:"summary"`
	Clusters   int                   `json:"cluster_count"`
	// Warnings lists integrity faults. Export is refused while any exist.
	Warnings []string `json:"warnings"`
}

// Exportable reports whether the plan is free of integrity faults.
func (p *Plan) Exportable() bool {
	return len(p.Warnings) == 0
}

// SelectionAction is one editor action on a cluster.
type SelectionAction struct {
	Action    string `json:"action"`
	Index     *int   `json:"index,omitempty"`
	SegmentID string `json:"segment_id,omitempty"`
}

const (
	ActionWinner = "winner"
	ActionGap    = "gap"
	ActionToggle = "toggle"
	ActionReset  = "reset"
)

func NewID() string {
	return uuid.NewString()
}
