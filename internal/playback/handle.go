package playback

// TickReport is one time-update from the browser player.
type TickReport struct {
	Position       float64 `json:"position"`
	Duration       float64 `json:"duration"`
	Paused         bool    `json:"paused"`
	MetadataLoaded bool    `json:"metadata_loaded"`
}

// ReportedHandle adapts a TickReport to MediaHandle. Seeks are recorded
// rather than applied so the caller can hand them back to the browser.
type ReportedHandle struct {
	report TickReport
	seekTo *float64
}

func NewReportedHandle(report TickReport) *ReportedHandle {
	return &ReportedHandle{report: report}
}

func (h *ReportedHandle) CurrentTime() float64 { return h.report.Position }
func (h *ReportedHandle) Duration() float64    { return h.report.Duration }
func (h *ReportedHandle) MetadataLoaded() bool { return h.report.MetadataLoaded }
func (h *ReportedHandle) Paused() bool         { return h.report.Paused }

func (h *ReportedHandle) Seek(t float64) error {
	h.seekTo = &t
	h.report.Position = t
	return nil
}

// SeekTo returns the last requested seek, or nil when none was issued.
func (h *ReportedHandle) SeekTo() *float64 {
	return h.seekTo
}
