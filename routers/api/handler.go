package api

import (
	"context"

	"go.uber.org/zap"

	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/sequencer"
	"StoryReel-server/service"
	"StoryReel-server/task"
)

// Store is the read/create side of the metadata store the handlers need.
type Store interface {
	CreateStoryboard(ctx context.Context, sb *models.Storyboard, scenes []models.Scene) error
	GetStoryboard(ctx context.Context, id string) (*models.Storyboard, error)
	ListScenes(ctx context.Context, storyboardID string) ([]models.Scene, error)
	GetTask(ctx context.Context, id string) (*models.GenerationTask, error)
}

// Jobs enqueues background work. *service.Queue satisfies it.
type Jobs interface {
	EnqueueAdvance(ctx context.Context, storyboardID string) (string, error)
	EnqueueRegenerate(ctx context.Context, p service.RegeneratePayload) (string, error)
	EnqueueFinalize(ctx context.Context, storyboardID string) (string, error)
}

// Progress is the observer side of the progress stream.
// *service.RedisProgress satisfies it.
type Progress interface {
	Latest(ctx context.Context, storyboardID string) (*sequencer.Event, error)
	Subscribe(ctx context.Context, storyboardID string) (<-chan sequencer.Event, func() error, error)
}

// Providers resolves configured providers. *provider.Registry satisfies it.
type Providers interface {
	Get(name string) (provider.Provider, error)
}

// Handler serves the HTTP API.
type Handler struct {
	store     Store
	jobs      Jobs
	progress  Progress
	providers Providers
	estimate  task.Policy
	logger    *zap.Logger
}

func NewHandler(store Store, jobs Jobs, progress Progress, providers Providers, estimatePolicy task.Policy, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		jobs:      jobs,
		progress:  progress,
		providers: providers,
		estimate:  estimatePolicy,
		logger:    logger.With(zap.String("component", "api")),
	}
}
