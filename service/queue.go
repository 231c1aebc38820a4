package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"StoryReel-server/sequencer"
)

const (
	TypeAdvance    = "storyboard:advance"
	TypeRegenerate = "storyboard:regenerate"
	TypeFinalize   = "storyboard:finalize"
)

// StoryboardPayload addresses a whole storyboard.
type StoryboardPayload struct {
	StoryboardID string `json:"storyboard_id"`
}

// RegeneratePayload addresses one scene of a storyboard.
type RegeneratePayload struct {
	StoryboardID string              `json:"storyboard_id"`
	SceneNumber  int                 `json:"scene_number"`
	Overrides    sequencer.Overrides `json:"overrides"`
}

// Queue enqueues storyboard jobs for the Processor.
type Queue struct {
	client *asynq.Client
	logger *zap.Logger
}

func NewQueue(opt asynq.RedisConnOpt, logger *zap.Logger) *Queue {
	return &Queue{client: asynq.NewClient(opt), logger: logger.With(zap.String("component", "queue"))}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) EnqueueAdvance(ctx context.Context, storyboardID string) (string, error) {
	t, err := newStoryboardTask(TypeAdvance, storyboardID)
	if err != nil {
		return "", err
	}
	return q.enqueue(ctx, t, storyboardID)
}

func (q *Queue) EnqueueFinalize(ctx context.Context, storyboardID string) (string, error) {
	t, err := newStoryboardTask(TypeFinalize, storyboardID)
	if err != nil {
		return "", err
	}
	return q.enqueue(ctx, t, storyboardID)
}

func (q *Queue) EnqueueRegenerate(ctx context.Context, p RegeneratePayload) (string, error) {
	t, err := newRegenerateTask(p)
	if err != nil {
		return "", err
	}
	return q.enqueue(ctx, t, p.StoryboardID)
}

func (q *Queue) enqueue(ctx context.Context, t *asynq.Task, storyboardID string) (string, error) {
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}
	q.logger.Info("job enqueued",
		zap.String("type", t.Type()),
		zap.String("storyboard_id", storyboardID),
		zap.String("job_id", info.ID))
	return info.ID, nil
}

// Generation is slow, so jobs get a long timeout. A whole storyboard can
// take several scene ceilings back to back.
func jobOptions(timeout time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Retention(24 * time.Hour),
	}
}

func newStoryboardTask(typ, storyboardID string) (*asynq.Task, error) {
	if storyboardID == "" {
		return nil, fmt.Errorf("%s: empty storyboard id", typ)
	}
	payload, err := json.Marshal(StoryboardPayload{StoryboardID: storyboardID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	timeout := 6 * time.Hour
	if typ == TypeFinalize {
		timeout = 20 * time.Minute
	}
	return asynq.NewTask(typ, payload, jobOptions(timeout)...), nil
}

func newRegenerateTask(p RegeneratePayload) (*asynq.Task, error) {
	if p.StoryboardID == "" || p.SceneNumber <= 0 {
		return nil, fmt.Errorf("%s: storyboard id and scene number are required", TypeRegenerate)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeRegenerate, payload, jobOptions(time.Hour)...), nil
}
