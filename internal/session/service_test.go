package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/heimdex/cutplan/internal/export"
	"github.com/heimdex/cutplan/internal/logging"
	"github.com/heimdex/cutplan/internal/playback"
	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
	"github.com/heimdex/cutplan/internal/timeline"
)

func seg(id string, cat segment.Category, start, end float64) segment.Segment {
	return segment.Segment{
		ID:         id,
		Category:   cat,
		Start:      start,
		End:        end,
		Duration:   end - start,
		Confidence: 1,
		Severity:   segment.SeverityMedium,
		Origin:     segment.OriginAnalysis,
	}
}

// twoTakes is a retake cluster: the later take wins by default.
func twoTakes() []segment.Segment {
	return []segment.Segment{
		seg("take-a", segment.RedundantTake, 0, 10),
		seg("take-b", segment.RedundantTake, 15, 25),
	}
}

func newTestService(t *testing.T) (*Service, *SQLiteRepository) {
	t.Helper()
	_, repo := setupTestDB(t)
	return NewService(repo, DefaultOptions(), nil), repo
}

func mustCreate(t *testing.T, svc *Service, duration float64, segs []segment.Segment) *Session {
	t.Helper()
	sess, err := svc.Create(context.Background(), CreateInput{
		Name:      "Talk",
		MediaPath: "/media/talk.mp4",
		Duration:  duration,
		Segments:  segs,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func TestService_DefaultWinnerPlan(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())

	plan, err := svc.Plan(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Primary) != 1 || plan.Primary[0].Start != 0 || plan.Primary[0].End != 10 {
		t.Fatalf("Primary = %+v, want [0,10]", plan.Primary)
	}
	if plan.Summary.FinalDuration != 50 {
		t.Errorf("FinalDuration = %v, want 50", plan.Summary.FinalDuration)
	}
	if plan.Clusters != 1 || !plan.Exportable() {
		t.Errorf("plan = %+v", plan)
	}

	clusters, err := svc.Clusters(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Clusters() error = %v", err)
	}
	if len(clusters) != 1 || clusters[0].Winner == nil || clusters[0].Winner.ID != "take-b" {
		t.Fatalf("Clusters() = %+v", clusters)
	}
	if clusters[0].Selection.SelectedWinner != 1 {
		t.Errorf("SelectedWinner = %v, want 1", clusters[0].Selection.SelectedWinner)
	}
}

func TestService_SelectionSurvivesRestart(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())

	clusters, _ := svc.Clusters(ctx, sess.ID)
	idx := 0
	sel, err := svc.ApplySelection(ctx, sess.ID, clusters[0].ID, SelectionAction{Action: ActionWinner, Index: &idx})
	if err != nil {
		t.Fatalf("ApplySelection() error = %v", err)
	}
	if len(sel.RemovedIDs) != 1 || sel.RemovedIDs[0] != "take-b" {
		t.Fatalf("selection = %+v", sel)
	}

	restarted := NewService(repo, DefaultOptions(), nil)
	plan, err := restarted.Plan(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Primary) != 1 || plan.Primary[0].OriginSegmentID != "take-b" {
		t.Fatalf("Primary after restart = %+v, want take-b", plan.Primary)
	}
}

func TestService_ApplySelectionActions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())
	clusters, _ := svc.Clusters(ctx, sess.ID)
	cid := clusters[0].ID

	sel, err := svc.ApplySelection(ctx, sess.ID, cid, SelectionAction{Action: ActionGap})
	if err != nil || sel.SelectedWinner != selection.PickGap {
		t.Fatalf("gap = %+v, %v", sel, err)
	}
	plan, _ := svc.Plan(ctx, sess.ID)
	if len(plan.Primary) != 2 || plan.Summary.TotalRemoved != 20 {
		t.Errorf("gap plan = %+v", plan.Primary)
	}

	sel, err = svc.ApplySelection(ctx, sess.ID, cid, SelectionAction{Action: ActionToggle, SegmentID: "take-a"})
	if err != nil || len(sel.KeptIDs) != 1 || sel.KeptIDs[0] != "take-a" {
		t.Fatalf("toggle = %+v, %v", sel, err)
	}

	sel, err = svc.ApplySelection(ctx, sess.ID, cid, SelectionAction{Action: "RESET"})
	if err != nil || sel.SelectedWinner != 1 {
		t.Fatalf("reset = %+v, %v", sel, err)
	}

	tests := []struct {
		name    string
		cluster string
		action  SelectionAction
		want    error
	}{
		{"winner without index", cid, SelectionAction{Action: ActionWinner}, ErrInvalidInput},
		{"toggle without segment", cid, SelectionAction{Action: ActionToggle}, ErrInvalidInput},
		{"unknown action", cid, SelectionAction{Action: "shuffle"}, ErrInvalidInput},
		{"unknown cluster", "take-999", SelectionAction{Action: ActionGap}, selection.ErrUnknownCluster},
		{"foreign segment", cid, SelectionAction{Action: ActionToggle, SegmentID: "other"}, selection.ErrUnknownSegment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplySelection(ctx, sess.ID, tt.cluster, tt.action)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_SetFilter(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, []segment.Segment{
		seg("filler", segment.FillerWords, 30, 31),
		seg("silence", segment.Silence, 40, 42),
	})

	plan, _ := svc.Plan(ctx, sess.ID)
	if len(plan.Primary) != 2 {
		t.Fatalf("initial primary = %+v", plan.Primary)
	}

	f, _ := svc.Filter(ctx, sess.ID)
	f.Enabled[segment.FillerWords] = false
	f.Enabled[segment.Silence] = false
	if _, err := svc.SetFilter(ctx, sess.ID, f); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}

	plan, _ = svc.Plan(ctx, sess.ID)
	if len(plan.Primary) != 1 || plan.Primary[0].OriginSegmentID != "silence" {
		t.Fatalf("primary = %+v, want only the independent silence span", plan.Primary)
	}

	stored, _ := repo.GetSession(ctx, sess.ID)
	if stored.Filter.Enabled.Enabled(segment.FillerWords) {
		t.Error("filter change was not persisted")
	}

	f.MinConfidence = 2
	if _, err := svc.SetFilter(ctx, sess.ID, f); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SetFilter(bad confidence) error = %v, want ErrInvalidInput", err)
	}
}

func TestService_ReplaceSegments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())
	clusters, _ := svc.Clusters(ctx, sess.ID)
	svc.ApplySelection(ctx, sess.ID, clusters[0].ID, SelectionAction{Action: ActionGap})

	updated, err := svc.ReplaceSegments(ctx, sess.ID, append(twoTakes(), seg("p", segment.Pause, 50, 52)), 90)
	if err != nil {
		t.Fatalf("ReplaceSegments() error = %v", err)
	}
	if updated.Duration != 90 {
		t.Errorf("Duration = %v, want 90", updated.Duration)
	}

	clusters, _ = svc.Clusters(ctx, sess.ID)
	if clusters[0].Selection.SelectedWinner != 1 {
		t.Errorf("selection after new pass = %v, want default", clusters[0].Selection.SelectedWinner)
	}
	segs, _ := svc.Segments(ctx, sess.ID)
	if len(segs) != 3 {
		t.Errorf("Segments() = %d, want 3", len(segs))
	}

	if _, err := svc.ReplaceSegments(ctx, sess.ID, nil, -5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative duration error = %v", err)
	}
}

func TestService_IntegrityBlocksExportAndMapping(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 5, []segment.Segment{seg("long", segment.Technical, 0, 10)})

	plan, err := svc.Plan(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Exportable() || len(plan.Warnings) == 0 {
		t.Fatalf("plan should carry integrity warnings: %+v", plan)
	}
	if plan.Summary.FinalDuration != 0 {
		t.Errorf("FinalDuration = %v, want clamped 0", plan.Summary.FinalDuration)
	}

	_, err = svc.Export(ctx, sess.ID, export.Request{Format: "edl", OutputDir: t.TempDir()})
	if !errors.Is(err, timeline.ErrDataIntegrity) {
		t.Fatalf("Export() error = %v, want ErrDataIntegrity", err)
	}
	if _, err := svc.MapTime(ctx, sess.ID, 3); !errors.Is(err, timeline.ErrDataIntegrity) {
		t.Errorf("MapTime() error = %v, want ErrDataIntegrity", err)
	}
}

func TestService_ExportAndMapTime(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())

	out, err := svc.MapTime(ctx, sess.ID, 20)
	if err != nil {
		t.Fatalf("MapTime() error = %v", err)
	}
	if out != 10 {
		t.Errorf("MapTime(20) = %v, want 10", out)
	}
	if _, err := svc.MapTime(ctx, sess.ID, math.NaN()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("MapTime(NaN) error = %v", err)
	}

	dir := t.TempDir()
	resp, err := svc.Export(ctx, sess.ID, export.Request{Format: "json", OutputDir: dir})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if resp.RemovalCount != 1 || resp.KeepCount != 1 || resp.FinalSeconds != 50 {
		t.Errorf("Export() = %+v", resp)
	}
	if _, err := os.Stat(resp.OutputPath); err != nil {
		t.Errorf("export file missing: %v", err)
	}

	if _, err := svc.Export(ctx, sess.ID, export.Request{Format: "xml", OutputDir: dir}); !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Errorf("Export(xml) error = %v", err)
	}
}

func TestService_Tick(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, 120, []segment.Segment{seg("cut", segment.Technical, 30, 45)})

	seek, err := svc.Tick(ctx, sess.ID, playback.TickReport{Position: 31, Duration: 120, MetadataLoaded: true})
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if seek == nil || math.Abs(*seek-45.1) > 1e-9 {
		t.Fatalf("seek = %v, want 45.1", seek)
	}

	seek, _ = svc.Tick(ctx, sess.ID, playback.TickReport{Position: 45.1, Duration: 120, MetadataLoaded: true})
	if seek != nil {
		t.Errorf("landing tick seek = %v, want none", *seek)
	}

	seek, _ = svc.Tick(ctx, sess.ID, playback.TickReport{Position: 31, Duration: 120, Paused: true, MetadataLoaded: true})
	if seek != nil {
		t.Error("paused tick must not seek")
	}
}

func TestService_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Plan(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Plan() error = %v", err)
	}
	if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := svc.MediaPath(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MediaPath() error = %v", err)
	}
	if _, err := svc.Tick(ctx, "missing", playback.TickReport{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Tick() error = %v", err)
	}
	got, err := svc.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Errorf("Get() = %v, %v; want nil, nil", got, err)
	}
}

func TestService_CreateAndDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Duration: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Create(negative) error = %v", err)
	}

	sess, err := svc.Create(ctx, CreateInput{Duration: 10})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.Name != "Untitled session" || sess.ID == "" {
		t.Errorf("session = %+v", sess)
	}
	if _, err := svc.MediaPath(ctx, sess.ID); !errors.Is(err, ErrNoMedia) {
		t.Errorf("MediaPath() error = %v, want ErrNoMedia", err)
	}

	list, _ := svc.List(ctx)
	if len(list) != 1 {
		t.Fatalf("List() = %d sessions", len(list))
	}

	if err := svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Plan(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Plan() after delete error = %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	segs := append(twoTakes(), seg("take-b", segment.RedundantTake, 15, 25), seg("um", segment.FillerWords, 40, 41))

	plan, clusters, mapper := Evaluate(segs, 60, DefaultOptions(), nil)
	if len(clusters) != 1 || plan.Clusters != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	if len(plan.Primary) != 2 || plan.Summary.FinalDuration != 49 {
		t.Fatalf("plan = %+v", plan)
	}
	if mapper == nil || mapper.SourceToOutput(45) != 34 {
		t.Errorf("mapper missing or wrong")
	}

	plan, _, mapper = Evaluate([]segment.Segment{seg("long", segment.Technical, 0, 10)}, 5, DefaultOptions(), nil)
	if plan.Exportable() || mapper != nil {
		t.Errorf("faulty plan must have warnings and no mapper: %+v", plan)
	}
}

// failingRepo wraps the real repository and fails the writes tests opt into.
type failingRepo struct {
	*SQLiteRepository
	saveSelectionErr error
	updateFilterErr  error
	replaceErr       error
	deleteErr        error
}

func (r *failingRepo) SaveSelection(ctx context.Context, sessionID string, sel selection.ClusterSelection) error {
	if r.saveSelectionErr != nil {
		return r.saveSelectionErr
	}
	return r.SQLiteRepository.SaveSelection(ctx, sessionID, sel)
}

func (r *failingRepo) UpdateSessionFilter(ctx context.Context, id string, f selection.FilterState) error {
	if r.updateFilterErr != nil {
		return r.updateFilterErr
	}
	return r.SQLiteRepository.UpdateSessionFilter(ctx, id, f)
}

func (r *failingRepo) ReplaceSegments(ctx context.Context, sessionID string, segs []segment.Segment) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	return r.SQLiteRepository.ReplaceSegments(ctx, sessionID, segs)
}

func (r *failingRepo) DeleteSession(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.SQLiteRepository.DeleteSession(ctx, id)
}

func TestService_FailedWritesLeaveStateUnchanged(t *testing.T) {
	_, base := setupTestDB(t)
	repo := &failingRepo{SQLiteRepository: base}
	svc := NewService(repo, DefaultOptions(), nil)
	ctx := context.Background()
	sess := mustCreate(t, svc, 60, twoTakes())

	clusters, _ := svc.Clusters(ctx, sess.ID)
	clusterID := clusters[0].ID
	before, _ := svc.Plan(ctx, sess.ID)

	repo.saveSelectionErr = errors.New("disk full")
	if _, err := svc.ApplySelection(ctx, sess.ID, clusterID, SelectionAction{Action: ActionGap}); err == nil {
		t.Fatal("ApplySelection() should fail when the save fails")
	}
	clusters, _ = svc.Clusters(ctx, sess.ID)
	if clusters[0].Selection.SelectedWinner != 1 {
		t.Errorf("SelectedWinner = %v after failed save, want default 1", clusters[0].Selection.SelectedWinner)
	}
	after, _ := svc.Plan(ctx, sess.ID)
	if after.Summary != before.Summary {
		t.Errorf("plan changed after failed save: %+v vs %+v", after.Summary, before.Summary)
	}

	repo.updateFilterErr = errors.New("disk full")
	f, _ := svc.Filter(ctx, sess.ID)
	f.MinConfidence = 0.9
	if _, err := svc.SetFilter(ctx, sess.ID, f); err == nil {
		t.Fatal("SetFilter() should fail when the update fails")
	}
	if got, _ := svc.Filter(ctx, sess.ID); got.MinConfidence != selection.DefaultMinConfidence {
		t.Errorf("MinConfidence = %v after failed update, want %v", got.MinConfidence, selection.DefaultMinConfidence)
	}

	// Once storage recovers the same action goes through.
	repo.saveSelectionErr = nil
	if _, err := svc.ApplySelection(ctx, sess.ID, clusterID, SelectionAction{Action: ActionGap}); err != nil {
		t.Fatalf("ApplySelection() error = %v", err)
	}
}

func TestService_CreateCleanupFailureIsLogged(t *testing.T) {
	_, base := setupTestDB(t)
	repo := &failingRepo{
		SQLiteRepository: base,
		replaceErr:       errors.New("segments table locked"),
		deleteErr:        errors.New("database is closed"),
	}
	var buf bytes.Buffer
	svc := NewService(repo, DefaultOptions(), logging.NewLoggerTo(&buf, "debug"))

	_, err := svc.Create(context.Background(), CreateInput{Name: "Talk", Duration: 60, Segments: twoTakes()})
	if err == nil || !strings.Contains(err.Error(), "segments table locked") {
		t.Fatalf("Create() error = %v, want the segment write error", err)
	}
	if !strings.Contains(buf.String(), "failed to remove partially created session") ||
		!strings.Contains(buf.String(), "database is closed") {
		t.Errorf("cleanup failure not logged: %s", buf.String())
	}
}
