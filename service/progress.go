package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"StoryReel-server/sequencer"
)

const snapshotTTL = 24 * time.Hour

// RedisProgress fans storyboard events out over pub/sub and keeps the last
// one per storyboard so late subscribers can catch up.
type RedisProgress struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisProgress(rdb redis.UniversalClient, logger *zap.Logger) *RedisProgress {
	return &RedisProgress{rdb: rdb, logger: logger.With(zap.String("component", "progress"))}
}

func progressChannel(storyboardID string) string {
	return "storyboard:" + storyboardID + ":progress"
}

func snapshotKey(storyboardID string) string {
	return "storyboard:" + storyboardID + ":latest"
}

func (p *RedisProgress) Publish(ctx context.Context, ev sequencer.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := snapshotKey(ev.StoryboardID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, "event", data, "status", ev.Status, "progress", ev.Progress)
	pipe.Expire(ctx, key, snapshotTTL)
	pipe.Publish(ctx, progressChannel(ev.StoryboardID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// Latest returns the last event published for the storyboard, or nil when
// there is none.
func (p *RedisProgress) Latest(ctx context.Context, storyboardID string) (*sequencer.Event, error) {
	data, err := p.rdb.HGet(ctx, snapshotKey(storyboardID), "event").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev sequencer.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &ev, nil
}

// Subscribe streams the storyboard's events until ctx is done or close is
// called. The subscription is active when Subscribe returns.
func (p *RedisProgress) Subscribe(ctx context.Context, storyboardID string) (<-chan sequencer.Event, func() error, error) {
	ps := p.rdb.Subscribe(ctx, progressChannel(storyboardID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan sequencer.Event, 16)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev sequencer.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("drop malformed event", zap.String("storyboard_id", storyboardID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, ps.Close, nil
}
