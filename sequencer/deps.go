package sequencer

import (
	"context"
	"time"

	"StoryReel-server/models"
	"StoryReel-server/provider"
)

// Store is the metadata collaborator. *models.Store satisfies it.
type Store interface {
	GetStoryboard(ctx context.Context, id string) (*models.Storyboard, error)
	ListScenes(ctx context.Context, storyboardID string) ([]models.Scene, error)
	GetSceneByNumber(ctx context.Context, storyboardID string, number int) (*models.Scene, error)
	UpdateStoryboard(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateScene(ctx context.Context, id string, fields map[string]interface{}) error
	CreateTask(ctx context.Context, t *models.GenerationTask) error
	GetTask(ctx context.Context, id string) (*models.GenerationTask, error)
	UpdateTask(ctx context.Context, id string, fields map[string]interface{}) error
}

// BlobStore persists artifacts and returns a URL that outlives the
// provider's link.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// ComposeRequest is the input to final composition.
type ComposeRequest struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url,omitempty"`
	Title    string `json:"title,omitempty"`
}

// MediaProcessor is the post-processing collaborator.
type MediaProcessor interface {
	ExtractLastFrame(ctx context.Context, videoURL string) (string, error)
	Concatenate(ctx context.Context, videoURLs []string) (string, error)
	ComposeFinal(ctx context.Context, req ComposeRequest) (string, error)
}

// Event is one progress notification for observers.
type Event struct {
	StoryboardID string    `json:"storyboardId"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	SceneID      string    `json:"sceneId,omitempty"`
	SceneNumber  int       `json:"sceneNumber,omitempty"`
	SceneStatus  string    `json:"sceneStatus,omitempty"`
	TaskProgress int       `json:"taskProgress,omitempty"`
	VideoURL     string    `json:"videoUrl,omitempty"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// ProgressPublisher fans events out to observers.
type ProgressPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ProviderSource resolves a storyboard's provider. *provider.Registry
// satisfies it.
type ProviderSource interface {
	Get(name string) (provider.Provider, error)
}

// Metrics is what the sequencer and the machines it starts report.
// *metrics.Collector satisfies it.
type Metrics interface {
	RecordSubmission(provider, outcome string)
	RecordPoll(provider, result string)
	RecordTaskOutcome(provider, state, kind string, d time.Duration)
	RecordFallback(provider string)
	RecordScene(provider, mode, status string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSubmission(string, string)                        {}
func (nopMetrics) RecordPoll(string, string)                              {}
func (nopMetrics) RecordTaskOutcome(string, string, string, time.Duration) {}
func (nopMetrics) RecordFallback(string)                                  {}
func (nopMetrics) RecordScene(string, string, string)                     {}
