// Package provider defines the uniform contract over the third-party video
// generation backends and holds one adapter per backend.
//
// Adapters translate every backend idiosyncrasy (status vocabulary, progress
// reporting, artifact retrieval, error payloads) into the types declared
// here. Nothing outside this package looks at a provider name to decide
// behavior; it asks Capabilities instead.
package provider

import (
	"context"
	"errors"
	"sort"

	"StoryReel-server/normalize"
)

// Provider is one external video generation backend.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// Submit creates exactly one remote job, or none when it fails.
	Submit(ctx context.Context, req *GenerationRequest) (string, error)
	// CheckStatus reports the job state. A running job is a normal result;
	// errors are reserved for transport and protocol failures.
	CheckStatus(ctx context.Context, externalID string) (*Status, error)
	// FetchArtifact downloads the finished media. Provider URLs expire, so
	// callers do this right after completion.
	FetchArtifact(ctx context.Context, externalID string) ([]byte, error)
}

// Canceler is implemented by providers that can abort a remote job.
type Canceler interface {
	Cancel(ctx context.Context, externalID string) error
}

// Mode is how a request is seeded.
type Mode string

const (
	// ModeFresh seeds generation with a still image.
	ModeFresh Mode = "i2v"
	// ModeContinuation seeds generation with a previous clip.
	ModeContinuation Mode = "v2v"
)

// GenerationRequest is the input to one generation attempt. Treat it as
// immutable once built.
type GenerationRequest struct {
	ImageURLs       []string `json:"image_urls,omitempty"`
	VideoURL        string   `json:"video_url,omitempty"`
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Camera          string   `json:"camera,omitempty"`
	Model           string   `json:"model,omitempty"`

	// EndImageURL pins the last frame on providers that support dual keyframes.
	EndImageURL string `json:"end_image_url,omitempty"`
	// ElementImageURLs are extra subject references for multi-image models.
	ElementImageURLs []string `json:"element_image_urls,omitempty"`
	// CameraVector overrides Camera on providers with axis based control.
	CameraVector *normalize.CameraVector `json:"camera_vector,omitempty"`
}

// Mode reports continuation when a seed video is present.
func (r *GenerationRequest) Mode() Mode {
	if r.VideoURL != "" {
		return ModeContinuation
	}
	return ModeFresh
}

// SeedImage returns the first reference image, if any.
func (r *GenerationRequest) SeedImage() string {
	if len(r.ImageURLs) == 0 {
		return ""
	}
	return r.ImageURLs[0]
}

var (
	errNoSeed   = errors.New("request has neither a seed image nor a seed video")
	errNoPrompt = errors.New("request prompt is empty")
)

// Validate checks the fields every provider needs.
func (r *GenerationRequest) Validate() error {
	if r.VideoURL == "" && r.SeedImage() == "" {
		return errNoSeed
	}
	if r.Prompt == "" {
		return errNoPrompt
	}
	return nil
}

// State is the normalized lifecycle of a remote job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further status change is expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ProgressUnknown marks a status without a progress figure.
const ProgressUnknown = -1

// Status is one normalized status observation.
type Status struct {
	State State
	// Progress is 0-100, or ProgressUnknown.
	Progress     int
	ResultURL    string
	ErrorMessage string
	// ErrorKind is set for failed states.
	ErrorKind Kind
	// Cost is the provider's quote in its own credit unit, when reported.
	Cost float64
}

// Capabilities are static per-provider facts.
type Capabilities struct {
	SupportsContinuation bool
	MaxReferenceImages   int
	// Durations lists the supported clip lengths in seconds; empty means any.
	Durations       []int
	MaxPromptLength int
	// AspectRatios lists the supported ratios; empty means any.
	AspectRatios []string
}

// ClampDuration returns the supported duration closest to d, preferring the
// shorter one on ties. Non-positive d picks the shortest supported value.
func (c Capabilities) ClampDuration(d int) int {
	if len(c.Durations) == 0 {
		return d
	}
	ds := append([]int(nil), c.Durations...)
	sort.Ints(ds)
	if d <= 0 {
		return ds[0]
	}
	best := ds[0]
	for _, v := range ds[1:] {
		if abs(v-d) < abs(best-d) {
			best = v
		}
	}
	return best
}

// LimitImages drops reference images beyond MaxReferenceImages.
func (c Capabilities) LimitImages(urls []string) []string {
	if c.MaxReferenceImages <= 0 || len(urls) <= c.MaxReferenceImages {
		return urls
	}
	return urls[:c.MaxReferenceImages]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
