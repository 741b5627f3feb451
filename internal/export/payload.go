package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heimdex/cutplan/internal/resolve"
	"github.com/heimdex/cutplan/internal/timeline"
)

// PlanInput is everything needed to export one resolved edit.
type PlanInput struct {
	Title            string
	SessionID        string
	MediaPath        string
	FrameRate        float64
	OriginalDuration float64
	Primary          []resolve.RemovalSpan
}

// BuildPayload verifies the removal set and derives its keep spans. It
// refuses with a timeline integrity error rather than emit a bad cut.
func BuildPayload(in PlanInput, now time.Time) (*Payload, error) {
	sum, err := timeline.Verify(in.Primary, in.OriginalDuration)
	if err != nil {
		return nil, err
	}

	keep := timeline.KeepSpans(in.Primary, in.OriginalDuration)
	if len(keep) == 0 && in.OriginalDuration > 0 {
		return nil, ErrNothingToKeep
	}

	frameRate := in.FrameRate
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}

	spans := make([]resolve.RemovalSpan, len(in.Primary))
	copy(spans, in.Primary)

	return &Payload{
		Title:        Title(in.Title),
		SessionID:    in.SessionID,
		MediaPath:    in.MediaPath,
		FrameRate:    frameRate,
		Summary:      sum,
		RemovalSpans: spans,
		KeepSpans:    keep,
		GeneratedAt:  now.UTC(),
	}, nil
}

// Render encodes the payload in the requested format.
func Render(p *Payload, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return append(data, '\n'), nil
	case FormatEDL:
		return []byte(GenerateEDL(p.KeepSpans, p.Title, p.MediaPath, p.FrameRate)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteFile renders the payload into dir under FileName and returns the
// written path.
func WriteFile(p *Payload, format Format, dir string) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	data, err := Render(p, format)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(dir, FileName(p.Title, format))
	tmp := outputPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return outputPath, nil
}
