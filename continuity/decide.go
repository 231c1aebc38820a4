// Package continuity decides how each scene is seeded: a continuation of the
// previous clip, or a fresh generation from a still image.
package continuity

import (
	"strings"

	"StoryReel-server/provider"
)

// Override is a caller's explicit mode choice for one scene.
type Override string

const (
	OverrideNone         Override = ""
	OverrideFresh        Override = "i2v"
	OverrideContinuation Override = "v2v"
)

// ParseOverride accepts "i2v"/"fresh"/"image" and "v2v"/"continuation"/"video".
// Anything else means no override.
func ParseOverride(raw string) Override {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "i2v", "fresh", "image":
		return OverrideFresh
	case "v2v", "continuation", "continue", "video":
		return OverrideContinuation
	default:
		return OverrideNone
	}
}

// Input describes the scene about to be generated.
type Input struct {
	Prompt          string
	NegativePrompt  string
	Camera          string
	DurationSeconds int
	AspectRatio     string
	Override        Override

	// PreviousVideoURL is the artifact of the nearest preceding scene in
	// display order, empty when that scene has none.
	PreviousVideoURL string
	// ParentVideoURL is set for sub-scenes whose parent has an artifact.
	ParentVideoURL string
	SceneImageURL  string
	SourceImageURL string

	EndImageURL      string
	ElementImageURLs []string
}

// Decision is the chosen mode and, when a request could not be honored, why.
type Decision struct {
	Mode    provider.Mode
	Warning string
}

// Decide picks the generation mode. It only looks at the override, whether a
// previous clip exists, and whether the provider can continue from video.
func Decide(in Input, caps provider.Capabilities) Decision {
	switch in.Override {
	case OverrideFresh:
		return Decision{Mode: provider.ModeFresh}
	case OverrideContinuation:
		if in.PreviousVideoURL == "" {
			return Decision{Mode: provider.ModeFresh, Warning: "continuation requested but the previous scene has no video"}
		}
		if !caps.SupportsContinuation {
			return Decision{Mode: provider.ModeFresh, Warning: "continuation requested but the provider cannot continue from video"}
		}
		return Decision{Mode: provider.ModeContinuation}
	}
	if in.PreviousVideoURL != "" && caps.SupportsContinuation {
		return Decision{Mode: provider.ModeContinuation}
	}
	return Decision{Mode: provider.ModeFresh}
}
