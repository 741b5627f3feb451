// Package export writes an edit plan out for downstream tools: a JSON payload
// of removal and keep spans, or a CMX3600 EDL of the keep spans.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heimdex/cutplan/internal/resolve"
	"github.com/heimdex/cutplan/internal/timeline"
)

const (
	DefaultFrameRate = 30.0
	DefaultTitle     = "cutplan_export"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidOutputDir  = errors.New("invalid output_dir")
	ErrNothingToKeep     = errors.New("edit removes the whole source")
)

type Format string

const (
	FormatJSON Format = "json"
	FormatEDL  Format = "edl"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatEDL, "":
		return FormatEDL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) Ext() string {
	return "." + string(f)
}

type Request struct {
	Format    string  `json:"format"`
	OutputDir string  `json:"output_dir"`
	FrameRate float64 `json:"frame_rate"`
	Title     string  `json:"title,omitempty"`
}

// Payload is the machine-readable export. Removal spans are ordered and
// pairwise disjoint.
type Payload struct {
	Title        string                `json:"title"`
	SessionID    string                `json:"session_id,omitempty"`
	MediaPath    string                `json:"media_path,omitempty"`
	FrameRate    float64               `json:"frame_rate"`
	Summary      timeline.Summary      `json:"summary"`
	RemovalSpans []resolve.RemovalSpan `json:"removal_spans"`
	KeepSpans    []timeline.Span       `json:"keep_spans"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

type Response struct {
	Status       string  `json:"status"`
	Format       Format  `json:"format"`
	OutputPath   string  `json:"output_path"`
	RemovalCount int     `json:"removal_count"`
	KeepCount    int     `json:"keep_count"`
	FinalSeconds float64 `json:"final_duration"`
}
