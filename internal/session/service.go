package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/cutplan/internal/cluster"
	"github.com/heimdex/cutplan/internal/export"
	"github.com/heimdex/cutplan/internal/logging"
	"github.com/heimdex/cutplan/internal/playback"
	"github.com/heimdex/cutplan/internal/resolve"
	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
	"github.com/heimdex/cutplan/internal/timeline"
)

type SessionService interface {
	Create(ctx context.Context, in CreateInput) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Segments(ctx context.Context, id string) ([]segment.Segment, error)
	ReplaceSegments(ctx context.Context, id string, segs []segment.Segment, duration float64) (*Session, error)
	Clusters(ctx context.Context, id string) ([]ClusterView, error)
	ApplySelection(ctx context.Context, id, clusterID string, action SelectionAction) (selection.ClusterSelection, error)
	Filter(ctx context.Context, id string) (selection.FilterState, error)
	SetFilter(ctx context.Context, id string, f selection.FilterState) (selection.FilterState, error)
	Plan(ctx context.Context, id string) (*Plan, error)
	MapTime(ctx context.Context, id string, t float64) (float64, error)
	Export(ctx context.Context, id string, req export.Request) (*export.Response, error)
	Tick(ctx context.Context, id string, report playback.TickReport) (*float64, error)
	MediaPath(ctx context.Context, id string) (string, error)
}

type CreateInput struct {
	Name      string
	MediaPath string
	Duration  float64
	Segments  []segment.Segment
}

type Options struct {
	Cluster cluster.Options
	Skip    playback.Options
	Filter  selection.FilterState
}

func DefaultOptions() Options {
	return Options{
		Cluster: cluster.DefaultOptions(),
		Skip:    playback.DefaultOptions(),
		Filter:  selection.DefaultFilter(),
	}
}

// live is a loaded session with everything derived from its inputs.
type live struct {
	session  *Session
	segments []segment.Segment
	clusters []cluster.Cluster
	tracker  *selection.Tracker
	plan     *Plan
	mapper   *timeline.Mapper
	skip     *playback.SkipController
}

// Service serializes all mutations behind one mutex and recomputes the
// derived plan synchronously after each of them.
type Service struct {
	repo     Repository
	opts     Options
	logger   *slog.Logger
	detector *cluster.Detector
	resolver *resolve.Resolver
	now      func() time.Time

	mu   sync.Mutex
	live map[string]*live
}

func NewService(repo Repository, opts Options, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		opts:     opts,
		logger:   logger,
		detector: cluster.NewDetector(opts.Cluster, logger),
		resolver: resolve.NewResolver(logger),
		now:      time.Now,
		live:     make(map[string]*live),
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Session, error) {
	if err := validateDuration(in.Duration); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Untitled session"
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        NewID(),
		Name:      name,
		MediaPath: in.MediaPath,
		Duration:  in.Duration,
		Filter:    s.opts.Filter,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSegments(ctx, sess.ID, segment.NewStore(in.Segments).All()); err != nil {
		if delErr := s.repo.DeleteSession(ctx, sess.ID); delErr != nil && s.logger != nil {
			s.logger.Error("failed to remove partially created session",
				"session_id", sess.ID, "error", delErr)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ls, err := s.load(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("session created",
			"session_id", sess.ID, "segments", len(ls.segments), "clusters", len(ls.clusters))
	}
	return copySession(ls.session), nil
}

func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.ListSessions(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	delete(s.live, id)
	return nil
}

func (s *Service) Segments(ctx context.Context, id string) ([]segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]segment.Segment, len(ls.segments))
	copy(out, ls.segments)
	return out, nil
}

// ReplaceSegments installs a new analysis pass. Every selection belongs to
// the old pass's clusters and is discarded. A positive duration also
// replaces the stored source duration.
func (s *Service) ReplaceSegments(ctx context.Context, id string, segs []segment.Segment, duration float64) (*Session, error) {
	if duration != 0 {
		if err := validateDuration(duration); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSegments(ctx, id, segment.NewStore(segs).All()); err != nil {
		return nil, err
	}
	if duration > 0 {
		if err := s.repo.UpdateSessionDuration(ctx, id, duration); err != nil {
			return nil, err
		}
	}

	// Keep the skip controller so loop-guard state survives the reload.
	var skip *playback.SkipController
	if old := s.live[id]; old != nil {
		skip = old.skip
	}
	delete(s.live, id)

	ls, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if skip != nil {
		ls.skip = skip
		ls.skip.SetSpans(ls.plan.Primary)
	}
	return copySession(ls.session), nil
}

func (s *Service) Clusters(ctx context.Context, id string) ([]ClusterView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	state := ls.tracker.State()
	views := make([]ClusterView, 0, len(ls.clusters))
	for _, c := range ls.clusters {
		sel, _ := state.Selection(c.ID)
		views = append(views, ClusterView{Cluster: c, Selection: sel})
	}
	return views, nil
}

func (s *Service) ApplySelection(ctx context.Context, id, clusterID string, action SelectionAction) (selection.ClusterSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return selection.ClusterSelection{}, err
	}

	prev, prevErr := ls.tracker.Selection(clusterID)

	var sel selection.ClusterSelection
	switch strings.ToLower(action.Action) {
	case ActionWinner:
		if action.Index == nil {
			return selection.ClusterSelection{}, fmt.Errorf("%w: index is required for winner", ErrInvalidInput)
		}
		sel, err = ls.tracker.SelectWinner(clusterID, *action.Index)
	case ActionGap:
		sel, err = ls.tracker.SelectGap(clusterID)
	case ActionToggle:
		if action.SegmentID == "" {
			return selection.ClusterSelection{}, fmt.Errorf("%w: segment_id is required for toggle", ErrInvalidInput)
		}
		sel, err = ls.tracker.ToggleSegment(clusterID, action.SegmentID)
	case ActionReset:
		sel, err = ls.tracker.Reset(clusterID)
	default:
		return selection.ClusterSelection{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action.Action)
	}
	if err != nil {
		return selection.ClusterSelection{}, err
	}

	if err := s.repo.SaveSelection(ctx, id, sel); err != nil {
		if prevErr == nil {
			ls.tracker.Restore([]selection.ClusterSelection{prev}, s.logger)
		}
		return selection.ClusterSelection{}, err
	}
	s.recompute(ls)

	if s.logger != nil {
		s.logger.Debug("selection changed",
			"session_id", id, "cluster_id", clusterID, "action", action.Action, "winner", sel.SelectedWinner.String())
	}
	return sel, nil
}

func (s *Service) Filter(ctx context.Context, id string) (selection.FilterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return selection.FilterState{}, err
	}
	return ls.tracker.Filter(), nil
}

func (s *Service) SetFilter(ctx context.Context, id string, f selection.FilterState) (selection.FilterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return selection.FilterState{}, err
	}
	prev := ls.tracker.Filter()
	if err := ls.tracker.SetFilter(f); err != nil {
		return selection.FilterState{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.UpdateSessionFilter(ctx, id, f); err != nil {
		_ = ls.tracker.SetFilter(prev)
		return selection.FilterState{}, err
	}
	ls.session.Filter = f
	s.recompute(ls)
	return f, nil
}

func (s *Service) Plan(ctx context.Context, id string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyPlan(ls.plan), nil
}

// MapTime converts a source position to output time. It fails while the
// plan has integrity faults, since any mapping would be wrong.
func (s *Service) MapTime(ctx context.Context, id string, t float64) (float64, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: time must be finite", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return 0, err
	}
	if ls.mapper == nil {
		return 0, &timeline.IntegrityError{Detail: strings.Join(ls.plan.Warnings, "; ")}
	}
	return ls.mapper.SourceToOutput(t), nil
}

func (s *Service) Export(ctx context.Context, id string, req export.Request) (*export.Response, error) {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ls.plan.Exportable() {
		return nil, &timeline.IntegrityError{Detail: strings.Join(ls.plan.Warnings, "; ")}
	}

	title := req.Title
	if title == "" {
		title = ls.session.Name
	}
	payload, err := export.BuildPayload(export.PlanInput{
		Title:            title,
		SessionID:        id,
		MediaPath:        ls.session.MediaPath,
		FrameRate:        req.FrameRate,
		OriginalDuration: ls.session.Duration,
		Primary:          ls.plan.Primary,
	}, s.now())
	if err != nil {
		return nil, err
	}

	outputPath, err := export.WriteFile(payload, format, req.OutputDir)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("plan exported",
			"session_id", id, "format", string(format), "removals", len(payload.RemovalSpans), "output", logging.SanitizePath(outputPath))
	}
	return &export.Response{
		Status:       "ok",
		Format:       format,
		OutputPath:   outputPath,
		RemovalCount: len(payload.RemovalSpans),
		KeepCount:    len(payload.KeepSpans),
		FinalSeconds: payload.Summary.FinalDuration,
	}, nil
}

// Tick runs the session's skip controller against one player report and
// returns the position the player must seek to, if any.
func (s *Service) Tick(ctx context.Context, id string, report playback.TickReport) (*float64, error) {
	s.mu.Lock()
	ls, err := s.get(ctx, id)
	var skip *playback.SkipController
	if err == nil {
		skip = ls.skip
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The controller has its own lock; ticks need not wait on edits.
	h := playback.NewReportedHandle(report)
	skip.OnTick(h)
	return h.SeekTo(), nil
}

func (s *Service) MediaPath(ctx context.Context, id string) (string, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.MediaPath == "" {
		return "", ErrNoMedia
	}
	return sess.MediaPath, nil
}

// get returns the loaded session, loading it on first use. Callers hold s.mu.
func (s *Service) get(ctx context.Context, id string) (*live, error) {
	if ls, ok := s.live[id]; ok {
		return ls, nil
	}
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*live, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	segs, err := s.repo.GetSegments(ctx, id)
	if err != nil {
		return nil, err
	}
	saved, err := s.repo.GetSelections(ctx, id)
	if err != nil {
		return nil, err
	}

	clusters := s.detector.Detect(segs)
	tracker := selection.NewTracker(clusters, sess.Filter)
	tracker.Restore(saved, s.logger)

	ls := &live{
		session:  sess,
		segments: segs,
		clusters: clusters,
		tracker:  tracker,
		skip:     playback.NewSkipController(s.opts.Skip, s.logger),
	}
	s.recompute(ls)
	s.live[id] = ls
	return ls, nil
}

// recompute rebuilds every derived view from the session's inputs.
func (s *Service) recompute(ls *live) {
	plan, mapper := derive(ls.session.ID, ls.session.Duration, ls.segments, ls.clusters, ls.tracker.State(), s.resolver)

	if len(plan.Warnings) > 0 && s.logger != nil {
		logging.WithSessionID(s.logger, ls.session.ID).Error("plan has integrity faults",
			"warnings", plan.Warnings, "error", timeline.ErrDataIntegrity)
	}

	ls.plan = plan
	ls.mapper = mapper
	if ls.skip != nil {
		ls.skip.SetSpans(plan.Primary)
	}
}

// Evaluate runs the engine once over an analysis pass with default
// selections and no storage. The mapper is nil when the plan has faults.
func Evaluate(segs []segment.Segment, duration float64, opts Options, logger *slog.Logger) (*Plan, []cluster.Cluster, *timeline.Mapper) {
	segs = segment.NewStore(segs).All()
	clusters := cluster.NewDetector(opts.Cluster, logger).Detect(segs)
	tracker := selection.NewTracker(clusters, opts.Filter)

	plan, mapper := derive("", duration, segs, clusters, tracker.State(), resolve.NewResolver(logger))
	if len(plan.Warnings) > 0 && logger != nil {
		logger.Error("plan has integrity faults", "warnings", plan.Warnings, "error", timeline.ErrDataIntegrity)
	}
	return plan, clusters, mapper
}

func derive(id string, duration float64, segs []segment.Segment, clusters []cluster.Cluster, state selection.State, resolver *resolve.Resolver) (*Plan, *timeline.Mapper) {
	res := resolver.Resolve(segs, clusters, state)

	plan := &Plan{
		SessionID:  id,
		Primary:    res.Primary,
		Suppressed: res.Suppressed,
		Clusters:   len(clusters),
		Warnings:   []string{},
	}
	if err := resolve.Check(res); err != nil {
		plan.Warnings = append(plan.Warnings, err.Error())
	}

	sum, err := timeline.Summarize(res.Primary, duration)
	plan.Summary = sum
	if err != nil {
		plan.Warnings = append(plan.Warnings, err.Error())
	}

	mapper, err := timeline.NewMapper(res.Primary)
	if err != nil {
		plan.Warnings = append(plan.Warnings, err.Error())
		mapper = nil
	}
	plan.KeepSpans = timeline.KeepSpans(res.Primary, duration)

	if !plan.Exportable() {
		mapper = nil
	}
	return plan, mapper
}

func validateDuration(d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return fmt.Errorf("%w: duration must be a non-negative number", ErrInvalidInput)
	}
	return nil
}

func copySession(s *Session) *Session {
	out := *s
	return &out
}

func copyPlan(p *Plan) *Plan {
	out := *p
	out.Primary = append([]resolve.RemovalSpan{}, p.Primary...)
	out.Suppressed = append([]resolve.Suppressed{}, p.Suppressed...)
	out.KeepSpans = append([]timeline.Span{}, p.KeepSpans...)
	out.Warnings = append([]string{}, p.Warnings...)
	return &out
}

// IsClientError reports whether err was caused by the request rather than
// the agent.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, selection.ErrUnknownSegment) ||
		errors.Is(err, selection.ErrIndexOutOfRange) ||
		errors.Is(err, selection.ErrInvalidConfidence) ||
		errors.Is(err, export.ErrUnsupportedFormat) ||
		errors.Is(err, export.ErrInvalidOutputDir) ||
		errors.Is(err, export.ErrNothingToKeep)
}
