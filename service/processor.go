package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"StoryReel-server/sequencer"
)

// Runner is the work behind each job type. *sequencer.Sequencer satisfies
// it.
type Runner interface {
	Advance(ctx context.Context, storyboardID string) error
	RegenerateOne(ctx context.Context, storyboardID string, number int, ov sequencer.Overrides) error
	Finalize(ctx context.Context, storyboardID string) (string, error)
}

// QueueMetrics counts handled jobs.
type QueueMetrics interface {
	RecordQueueTask(taskType, outcome string)
}

type nopQueueMetrics struct{}

func (nopQueueMetrics) RecordQueueTask(string, string) {}

// Job outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeShared      = "shared"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Processor consumes storyboard jobs. Duplicate advance jobs for the same
// storyboard are collapsed, and jobs touching one storyboard run one at a
// time.
type Processor struct {
	runner  Runner
	logger  *zap.Logger
	metrics QueueMetrics

	group singleflight.Group
	mu    sync.Mutex
	locks map[string]*storyboardLock
}

// storyboardLock serializes jobs of one storyboard. refs counts holders and
// waiters so the entry can be dropped once idle.
type storyboardLock struct {
	sync.Mutex
	refs int
}

func NewProcessor(runner Runner, logger *zap.Logger, metrics QueueMetrics) *Processor {
	if metrics == nil {
		metrics = nopQueueMetrics{}
	}
	return &Processor{
		runner:  runner,
		logger:  logger.With(zap.String("component", "processor")),
		metrics: metrics,
		locks:   make(map[string]*storyboardLock),
	}
}

// Mux routes every job type to its handler.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAdvance, p.HandleAdvance)
	mux.HandleFunc(TypeRegenerate, p.HandleRegenerate)
	mux.HandleFunc(TypeFinalize, p.HandleFinalize)
	return mux
}

// Start runs the consumer in the background. Call Shutdown on the returned
// server to stop it.
func (p *Processor) Start(opt asynq.RedisConnOpt, concurrency int) (*asynq.Server, error) {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      p.logger.Sugar(),
	})
	if err := srv.Start(p.Mux()); err != nil {
		return nil, fmt.Errorf("start processor: %w", err)
	}
	p.logger.Info("processor started", zap.Int("concurrency", concurrency))
	return srv, nil
}

func (p *Processor) HandleAdvance(ctx context.Context, t *asynq.Task) error {
	var payload StoryboardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	_, err, shared := p.group.Do(TypeAdvance+":"+payload.StoryboardID, func() (interface{}, error) {
		return nil, p.exclusive(payload.StoryboardID, func() error {
			return p.runner.Advance(ctx, payload.StoryboardID)
		})
	})
	if shared && err == nil {
		p.metrics.RecordQueueTask(TypeAdvance, OutcomeShared)
		return nil
	}
	return p.finish(t.Type(), payload.StoryboardID, err)
}

func (p *Processor) HandleRegenerate(ctx context.Context, t *asynq.Task) error {
	var payload RegeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	err := p.exclusive(payload.StoryboardID, func() error {
		return p.runner.RegenerateOne(ctx, payload.StoryboardID, payload.SceneNumber, payload.Overrides)
	})
	return p.finish(t.Type(), payload.StoryboardID, err)
}

func (p *Processor) HandleFinalize(ctx context.Context, t *asynq.Task) error {
	var payload StoryboardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	err := p.exclusive(payload.StoryboardID, func() error {
		url, err := p.runner.Finalize(ctx, payload.StoryboardID)
		if err == nil {
			p.logger.Info("storyboard finalized", zap.String("storyboard_id", payload.StoryboardID), zap.String("url", url))
		}
		return err
	})
	return p.finish(t.Type(), payload.StoryboardID, err)
}

func (p *Processor) exclusive(storyboardID string, fn func() error) error {
	p.mu.Lock()
	l, ok := p.locks[storyboardID]
	if !ok {
		l = &storyboardLock{}
		p.locks[storyboardID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	defer func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, storyboardID)
		}
		p.mu.Unlock()
	}()
	return fn()
}

// finish maps a run result to the queue's retry semantics. An interrupted
// run is retried and resumes from the stored task handles; anything else has
// already been recorded on the storyboard and is not retried, since a retry
// would pay for the same provider work again.
func (p *Processor) finish(typ, storyboardID string, err error) error {
	log := p.logger.With(zap.String("type", typ), zap.String("storyboard_id", storyboardID))
	switch {
	case err == nil:
		p.metrics.RecordQueueTask(typ, OutcomeOK)
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.metrics.RecordQueueTask(typ, OutcomeInterrupted)
		log.Warn("job interrupted, will retry", zap.Error(err))
		return err
	default:
		p.metrics.RecordQueueTask(typ, OutcomeFailed)
		log.Warn("job failed", zap.Error(err))
		return fmt.Errorf("%s %s: %v: %w", typ, storyboardID, err, asynq.SkipRetry)
	}
}
