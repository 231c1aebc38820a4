package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"StoryReel-server/continuity"
	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/task"
)

// runScene generates scenes[i] and stores its clip. On success the scene in
// the slice is updated in place.
func (s *Sequencer) runScene(ctx context.Context, sb *models.Storyboard, scenes []models.Scene, i int, prov provider.Provider) error {
	sc := &scenes[i]
	rec := newTaskRecorder(s, sb, sc)
	machine := s.machine(prov, rec.hook)

	t, mode, err := s.resume(ctx, sc, machine, rec)
	if err != nil {
		return err
	}
	if t == nil {
		if err := s.store.UpdateScene(ctx, sc.ID, map[string]interface{}{
			"status": models.SceneStatusGenerating,
			"error":  "",
		}); err != nil {
			return fmt.Errorf("mark scene generating: %w", err)
		}
		sc.Status = models.SceneStatusGenerating

		out, err := s.planner.Execute(ctx, s.input(sb, scenes, i), machine)
		if err != nil {
			s.recordScene(ctx, prov, out, models.SceneStatusFailed)
			return err
		}
		if out.Warning != "" {
			s.publish(ctx, Event{StoryboardID: sb.ID, Status: sb.Status, SceneID: sc.ID, SceneNumber: sc.Number,
				SceneStatus: sc.Status, Message: out.Warning})
		}
		t, mode = out.Task, out.Mode
	}

	url, err := s.persistClip(ctx, sb, sc, prov, t)
	if err != nil {
		s.metrics.RecordScene(prov.Name(), string(mode), models.SceneStatusFailed)
		return err
	}

	sc.Status = models.SceneStatusCompleted
	sc.VideoURL = url
	sc.Error, sc.ErrorKind = "", ""
	if uerr := s.store.UpdateScene(context.WithoutCancel(ctx), sc.ID, map[string]interface{}{
		"status":     models.SceneStatusCompleted,
		"video_url":  url,
		"error":      "",
		"error_kind": "",
	}); uerr != nil {
		s.logger.Error("persist scene", zap.String("scene_id", sc.ID), zap.Error(uerr))
	}
	s.metrics.RecordScene(prov.Name(), string(mode), models.SceneStatusCompleted)
	s.logger.Info("scene completed",
		zap.String("storyboard_id", sb.ID),
		zap.String("scene_id", sc.ID),
		zap.String("mode", string(mode)),
		zap.String("url", url))
	return nil
}

// resume picks up a scene whose task was submitted before an interruption,
// or whose clip was generated but never stored. It returns a nil task when
// the scene has to be generated from scratch.
func (s *Sequencer) resume(ctx context.Context, sc *models.Scene, m *task.Machine, rec *taskRecorder) (*task.Task, provider.Mode, error) {
	if sc.TaskID == "" || (sc.Status != models.SceneStatusGenerating && sc.Status != models.SceneStatusFailed) {
		return nil, "", nil
	}
	g, err := s.store.GetTask(ctx, sc.TaskID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load task: %w", err)
	}
	prev := g.ToTask()
	mode := provider.Mode(g.Mode)
	if prev.Provider != m.Provider().Name() {
		return nil, "", nil
	}
	if prev.State == task.StateCompleted && prev.ResultURL != "" {
		s.logger.Info("storing finished clip", zap.String("scene_id", sc.ID), zap.String("task_id", prev.ID))
		return prev, mode, nil
	}
	if sc.Status == models.SceneStatusFailed || prev.State.Terminal() || prev.ExternalID == "" {
		return nil, "", nil
	}

	s.logger.Info("resuming task",
		zap.String("scene_id", sc.ID),
		zap.String("task_id", prev.ID),
		zap.Int("attempts", prev.Attempts))
	rec.known(prev.ID)
	t, err := m.Resume(ctx, prev)
	if err != nil {
		return nil, mode, err
	}
	return t, mode, nil
}

// persistClip copies the finished artifact into blob storage. Provider links
// expire, so the scene only ever keeps the durable URL.
func (s *Sequencer) persistClip(ctx context.Context, sb *models.Storyboard, sc *models.Scene, prov provider.Provider, t *task.Task) (string, error) {
	data, err := prov.FetchArtifact(ctx, t.ExternalID)
	if err != nil {
		return "", provider.AsError(prov.Name(), err)
	}
	key := fmt.Sprintf("storyboards/%s/scenes/%d-%s.mp4", sb.ID, sc.Position, t.ID)
	url, err := s.blobs.Upload(ctx, data, key)
	if err != nil {
		return "", fmt.Errorf("upload clip: %w", err)
	}
	return url, nil
}

func (s *Sequencer) machine(prov provider.Provider, hook task.Hook) *task.Machine {
	opts := []task.Option{task.WithLogger(s.logger), task.WithMetrics(s.metrics)}
	opts = append(opts, s.opts.MachineOptions...)
	opts = append(opts, task.WithHook(hook))
	return task.New(prov, s.opts.Policy, opts...)
}

// input assembles the continuity input for scenes[i]. The previous clip is
// the one of the nearest preceding scene in display order.
func (s *Sequencer) input(sb *models.Storyboard, scenes []models.Scene, i int) continuity.Input {
	sc := scenes[i]
	in := continuity.Input{
		Prompt:          sc.Prompt,
		NegativePrompt:  sc.NegativePrompt,
		Camera:          sc.Camera,
		DurationSeconds: sc.DurationSeconds,
		AspectRatio:     sb.AspectRatio,
		Override:        continuity.ParseOverride(sc.Mode),
		SceneImageURL:   sc.ImageURL,
		SourceImageURL:  sb.SourceImageURL,
	}
	if in.DurationSeconds == 0 {
		in.DurationSeconds = sb.DurationSeconds
	}
	if in.DurationSeconds == 0 {
		in.DurationSeconds = s.opts.DefaultDuration
	}
	if i > 0 {
		if prev := scenes[i-1]; prev.Status == models.SceneStatusCompleted {
			in.PreviousVideoURL = prev.VideoURL
		}
	}
	if sc.IsSubScene() {
		for _, p := range scenes {
			if p.ID == sc.ParentSceneID && p.Status == models.SceneStatusCompleted {
				in.ParentVideoURL = p.VideoURL
				break
			}
		}
	}
	return in
}

func (s *Sequencer) recordScene(ctx context.Context, prov provider.Provider, out *continuity.Outcome, status string) {
	if ctx.Err() != nil {
		return
	}
	mode := ""
	if out != nil {
		mode = string(out.Mode)
	}
	s.metrics.RecordScene(prov.Name(), mode, status)
}

// taskRecorder persists task snapshots and forwards them as progress
// events. The first snapshot of a task creates its row and points the scene
// at it.
type taskRecorder struct {
	s    *Sequencer
	sb   *models.Storyboard
	sc   *models.Scene
	mu   sync.Mutex
	seen map[string]bool
}

func newTaskRecorder(s *Sequencer, sb *models.Storyboard, sc *models.Scene) *taskRecorder {
	return &taskRecorder{s: s, sb: sb, sc: sc, seen: make(map[string]bool)}
}

func (r *taskRecorder) known(id string) {
	r.mu.Lock()
	r.seen[id] = true
	r.mu.Unlock()
}

func (r *taskRecorder) hook(t task.Task) {
	ctx := context.Background()
	log := r.s.logger.With(zap.String("scene_id", r.sc.ID), zap.String("task_id", t.ID))

	r.mu.Lock()
	first := !r.seen[t.ID]
	r.seen[t.ID] = true
	r.mu.Unlock()

	if first {
		if err := r.s.store.CreateTask(ctx, models.NewGenerationTask(t, r.sb.ID, r.sc.ID)); err != nil {
			log.Error("persist task", zap.Error(err))
		}
		if err := r.s.store.UpdateScene(ctx, r.sc.ID, map[string]interface{}{"task_id": t.ID}); err != nil {
			log.Error("link task to scene", zap.Error(err))
		}
		r.sc.TaskID = t.ID
	} else if err := r.s.store.UpdateTask(ctx, t.ID, models.TaskFields(t)); err != nil {
		log.Error("persist task", zap.Error(err))
	}

	r.s.publish(ctx, Event{
		StoryboardID: r.sb.ID,
		Status:       r.sb.Status,
		Progress:     r.sb.Progress,
		SceneID:      r.sc.ID,
		SceneNumber:  r.sc.Number,
		SceneStatus:  models.SceneStatusGenerating,
		TaskProgress: t.Progress,
	})
}
