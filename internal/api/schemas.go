package api

import (
	"time"

	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
	"github.com/heimdex/cutplan/internal/session"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

// CreateSessionRequest imports one analysis pass. Segment times may be
// seconds or SS, MM:SS, HH:MM:SS strings.
type CreateSessionRequest struct {
	Name      string               `json:"name"`
	MediaPath string               `json:"media_path,omitempty"`
	Duration  float64              `json:"duration"`
	Segments  []segment.RawSegment `json:"segments"`
}

// ReplaceSegmentsRequest installs a new analysis pass. A zero duration keeps
// the stored one.
type ReplaceSegmentsRequest struct {
	Duration float64              `json:"duration,omitempty"`
	Segments []segment.RawSegment `json:"segments"`
}

type SessionResponse struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	MediaPath string                `json:"media_path,omitempty"`
	Duration  float64               `json:"duration"`
	Filter    selection.FilterState `json:"filter"`
	CreatedAt string                `json:"created_at"`
	UpdatedAt string                `json:"updated_at"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type SegmentsResponse struct {
	Segments []segment.Segment `json:"segments"`
}

type ClustersResponse struct {
	Clusters []session.ClusterView `json:"clusters"`
}

type MapResponse struct {
	Source float64 `json:"source"`
	Output float64 `json:"output"`
}

type TickResponse struct {
	SeekTo *float64 `json:"seek_to,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		MediaPath: s.MediaPath,
		Duration:  s.Duration,
		Filter:    s.Filter,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}
