// Package sequencer drives a storyboard's scenes through generation in
// display order, resumes interrupted runs, regenerates single scenes and
// hands finished clips to final composition.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"StoryReel-server/continuity"
	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/task"
)

var (
	// ErrSceneNotFound is returned by RegenerateOne for an unknown scene number.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrNotReady is returned by Finalize while some scene has no clip.
	ErrNotReady = errors.New("storyboard is not ready for composition")
	// ErrNoScenes is returned for storyboards without scenes.
	ErrNoScenes = errors.New("storyboard has no scenes")
)

// Deps are the collaborators a Sequencer needs. Progress and Metrics may be
// nil.
type Deps struct {
	Store     Store
	Blobs     BlobStore
	Media     MediaProcessor
	Progress  ProgressPublisher
	Providers ProviderSource
	Logger    *zap.Logger
	Metrics   Metrics
}

// Options tune generation.
type Options struct {
	Policy          task.Policy
	Continuity      continuity.Options
	DefaultDuration int
	// MachineOptions are applied to every task machine, e.g. task.WithSleep
	// in tests.
	MachineOptions []task.Option
}

// Overrides replace scene fields for one regeneration. Empty fields keep
// the stored value.
type Overrides struct {
	Prompt   string `json:"prompt"`
	Camera   string `json:"camera"`
	Mode     string `json:"mode"`
	ImageURL string `json:"imageUrl"`
}

type Sequencer struct {
	store     Store
	blobs     BlobStore
	media     MediaProcessor
	progress  ProgressPublisher
	providers ProviderSource
	planner   *continuity.Planner
	opts      Options
	logger    *zap.Logger
	metrics   Metrics
}

func New(deps Deps, opts Options) *Sequencer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = task.VideoPolicy()
	}
	var frames continuity.FrameExtractor
	if deps.Media != nil {
		frames = deps.Media
	}
	return &Sequencer{
		store:     deps.Store,
		blobs:     deps.Blobs,
		media:     deps.Media,
		progress:  deps.Progress,
		providers: deps.Providers,
		planner:   continuity.NewPlanner(frames, opts.Continuity, deps.Logger, deps.Metrics),
		opts:      opts,
		logger:    deps.Logger.With(zap.String("component", "sequencer")),
		metrics:   deps.Metrics,
	}
}

// Advance generates every scene that is not yet completed, in display
// order, and stops at the first failure. Completed scenes are never sent to
// a provider again; a scene interrupted mid-poll is resumed from its stored
// task handle instead of being submitted twice.
func (s *Sequencer) Advance(ctx context.Context, storyboardID string) error {
	sb, scenes, prov, err := s.load(ctx, storyboardID)
	if err != nil {
		return err
	}
	if sb.Status == models.StoryboardStatusCompleted {
		return nil
	}
	log := s.logger.With(zap.String("storyboard_id", sb.ID), zap.String("provider", prov.Name()))

	if err := s.store.UpdateStoryboard(ctx, sb.ID, map[string]interface{}{
		"status":     models.StoryboardStatusGenerating,
		"error":      "",
		"error_kind": "",
	}); err != nil {
		return fmt.Errorf("mark storyboard generating: %w", err)
	}
	sb.Status = models.StoryboardStatusGenerating

	for i := range scenes {
		sc := &scenes[i]
		if sc.Status == models.SceneStatusCompleted && sc.VideoURL != "" {
			continue
		}
		log.Info("generating scene", zap.Int("position", sc.Position), zap.Int("number", sc.Number))
		if err := s.runScene(ctx, sb, scenes, i, prov); err != nil {
			return s.fail(ctx, sb, sc, err)
		}
		progress := completedCount(scenes) * 100 / len(scenes)
		sb.Progress = progress
		s.updateStoryboard(ctx, sb.ID, map[string]interface{}{"progress": progress})
		s.publish(ctx, Event{StoryboardID: sb.ID, Status: sb.Status, Progress: progress,
			SceneID: sc.ID, SceneNumber: sc.Number, SceneStatus: sc.Status, VideoURL: sc.VideoURL})
	}

	s.updateStoryboard(ctx, sb.ID, map[string]interface{}{
		"status":   models.StoryboardStatusVideosReady,
		"progress": 100,
	})
	s.publish(ctx, Event{StoryboardID: sb.ID, Status: models.StoryboardStatusVideosReady, Progress: 100})
	log.Info("all scenes ready", zap.Int("scenes", len(scenes)))
	return nil
}

// RegenerateOne re-runs one scene with ov applied, using its predecessor's
// clip for continuity. Sibling scenes are left alone.
func (s *Sequencer) RegenerateOne(ctx context.Context, storyboardID string, number int, ov Overrides) error {
	sb, scenes, prov, err := s.load(ctx, storyboardID)
	if err != nil {
		return err
	}
	target, err := s.store.GetSceneByNumber(ctx, storyboardID, number)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrSceneNotFound
		}
		return err
	}
	idx := -1
	for i := range scenes {
		if scenes[i].ID == target.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSceneNotFound
	}
	sc := &scenes[idx]

	fields := map[string]interface{}{
		"status":     models.SceneStatusPending,
		"task_id":    "",
		"error":      "",
		"error_kind": "",
	}
	if ov.Prompt != "" {
		sc.Prompt = ov.Prompt
		fields["prompt"] = ov.Prompt
	}
	if ov.Camera != "" {
		sc.Camera = ov.Camera
		fields["camera"] = ov.Camera
	}
	if ov.Mode != "" {
		sc.Mode = ov.Mode
		fields["mode"] = ov.Mode
	}
	if ov.ImageURL != "" {
		sc.ImageURL = ov.ImageURL
		fields["image_url"] = ov.ImageURL
	}
	if err := s.store.UpdateScene(ctx, sc.ID, fields); err != nil {
		return fmt.Errorf("reset scene: %w", err)
	}
	sc.Status = models.SceneStatusPending
	sc.TaskID = ""

	if err := s.runScene(ctx, sb, scenes, idx, prov); err != nil {
		return s.fail(ctx, sb, sc, err)
	}

	done := completedCount(scenes)
	update := map[string]interface{}{"progress": done * 100 / len(scenes)}
	status := sb.Status
	if done == len(scenes) {
		status = models.StoryboardStatusVideosReady
		update["status"] = status
		update["error"] = ""
		update["error_kind"] = ""
	}
	s.updateStoryboard(ctx, sb.ID, update)
	s.publish(ctx, Event{StoryboardID: sb.ID, Status: status, Progress: done * 100 / len(scenes),
		SceneID: sc.ID, SceneNumber: sc.Number, SceneStatus: sc.Status, VideoURL: sc.VideoURL})
	return nil
}

// Finalize concatenates the scene clips and composes the final video.
func (s *Sequencer) Finalize(ctx context.Context, storyboardID string) (string, error) {
	sb, err := s.store.GetStoryboard(ctx, storyboardID)
	if err != nil {
		return "", err
	}
	scenes, err := s.store.ListScenes(ctx, storyboardID)
	if err != nil {
		return "", err
	}
	if len(scenes) == 0 {
		return "", ErrNoScenes
	}
	switch sb.Status {
	case models.StoryboardStatusVideosReady, models.StoryboardStatusFailed, models.StoryboardStatusCompleted:
	default:
		return "", ErrNotReady
	}
	urls := make([]string, 0, len(scenes))
	for _, sc := range scenes {
		if sc.Status != models.SceneStatusCompleted || sc.VideoURL == "" {
			return "", ErrNotReady
		}
		urls = append(urls, sc.VideoURL)
	}
	if s.media == nil {
		return "", errors.New("no media processor configured")
	}

	if err := s.store.UpdateStoryboard(ctx, sb.ID, map[string]interface{}{
		"status": models.StoryboardStatusConcatenating,
		"error":  "",
	}); err != nil {
		return "", fmt.Errorf("mark storyboard concatenating: %w", err)
	}
	s.publish(ctx, Event{StoryboardID: sb.ID, Status: models.StoryboardStatusConcatenating, Progress: 100})

	raw, err := s.media.Concatenate(ctx, urls)
	if err == nil {
		var final string
		final, err = s.media.ComposeFinal(ctx, ComposeRequest{VideoURL: raw, AudioURL: sb.AudioURL, Title: sb.Title})
		if err == nil {
			s.updateStoryboard(ctx, sb.ID, map[string]interface{}{
				"status":          models.StoryboardStatusCompleted,
				"final_video_url": final,
				"progress":        100,
			})
			s.publish(ctx, Event{StoryboardID: sb.ID, Status: models.StoryboardStatusCompleted, Progress: 100, VideoURL: final})
			s.logger.Info("storyboard composed", zap.String("storyboard_id", sb.ID), zap.String("url", final))
			return final, nil
		}
	}

	s.logger.Warn("composition failed", zap.String("storyboard_id", sb.ID), zap.Error(err))
	s.updateStoryboard(context.WithoutCancel(ctx), sb.ID, map[string]interface{}{
		"status": models.StoryboardStatusFailed,
		"error":  "video composition failed",
	})
	s.publish(ctx, Event{StoryboardID: sb.ID, Status: models.StoryboardStatusFailed, Message: "video composition failed"})
	return "", fmt.Errorf("compose storyboard: %w", err)
}

func (s *Sequencer) load(ctx context.Context, storyboardID string) (*models.Storyboard, []models.Scene, provider.Provider, error) {
	sb, err := s.store.GetStoryboard(ctx, storyboardID)
	if err != nil {
		return nil, nil, nil, err
	}
	scenes, err := s.store.ListScenes(ctx, storyboardID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(scenes) == 0 {
		return nil, nil, nil, ErrNoScenes
	}
	prov, err := s.providers.Get(sb.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	return sb, scenes, prov, nil
}

// fail records err on the scene and the storyboard. A cancelled context
// leaves both as they are so the run can be resumed.
func (s *Sequencer) fail(ctx context.Context, sb *models.Storyboard, sc *models.Scene, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.logger.Info("scene interrupted", zap.String("storyboard_id", sb.ID), zap.String("scene_id", sc.ID), zap.Error(err))
		return err
	}
	kind := string(provider.KindOf(err))
	msg := provider.UserMessage(err)
	s.logger.Warn("scene failed",
		zap.String("storyboard_id", sb.ID),
		zap.String("scene_id", sc.ID),
		zap.String("kind", kind),
		zap.Error(err))

	bg := context.WithoutCancel(ctx)
	sc.Status = models.SceneStatusFailed
	if uerr := s.store.UpdateScene(bg, sc.ID, map[string]interface{}{
		"status":     models.SceneStatusFailed,
		"error":      msg,
		"error_kind": kind,
	}); uerr != nil {
		s.logger.Error("persist scene failure", zap.String("scene_id", sc.ID), zap.Error(uerr))
	}
	s.updateStoryboard(bg, sb.ID, map[string]interface{}{
		"status":     models.StoryboardStatusFailed,
		"error":      msg,
		"error_kind": kind,
	})
	s.publish(bg, Event{StoryboardID: sb.ID, Status: models.StoryboardStatusFailed,
		SceneID: sc.ID, SceneNumber: sc.Number, SceneStatus: models.SceneStatusFailed, Message: msg})
	return err
}

func (s *Sequencer) updateStoryboard(ctx context.Context, id string, fields map[string]interface{}) {
	if err := s.store.UpdateStoryboard(ctx, id, fields); err != nil {
		s.logger.Error("persist storyboard", zap.String("storyboard_id", id), zap.Error(err))
	}
}

func (s *Sequencer) publish(ctx context.Context, ev Event) {
	if s.progress == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := s.progress.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish progress", zap.String("storyboard_id", ev.StoryboardID), zap.Error(err))
	}
}

func completedCount(scenes []models.Scene) int {
	n := 0
	for _, sc := range scenes {
		if sc.Status == models.SceneStatusCompleted && sc.VideoURL != "" {
			n++
		}
	}
	return n
}
