package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

// Luma drives the Dream Machine generations API. Keyframes carry the start
// and optional end image; Luma reports no progress.
type Luma struct {
	cfg Config
	api *httpClient
}

func NewLuma(cfg Config, logger *zap.Logger) *Luma {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.lumalabs.ai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "ray-2"
	}
	return &Luma{cfg: cfg, api: newHTTPClient("luma", cfg, logger, bearer(cfg.APIKey))}
}

func (l *Luma) Name() string { return "luma" }

func (l *Luma) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: false,
		MaxReferenceImages:   2,
		Durations:            []int{5, 9},
		MaxPromptLength:      5000,
		AspectRatios: []string{
			normalize.Aspect16x9, normalize.Aspect9x16, normalize.Aspect1x1,
			normalize.Aspect4x3, normalize.Aspect3x4, normalize.Aspect21x9,
		},
	}
}

type lumaKeyframe struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type lumaRequest struct {
	Prompt      string                  `json:"prompt"`
	Model       string                  `json:"model"`
	AspectRatio string                  `json:"aspect_ratio,omitempty"`
	Duration    string                  `json:"duration,omitempty"`
	Loop        bool                    `json:"loop"`
	Keyframes   map[string]lumaKeyframe `json:"keyframes,omitempty"`
}

type lumaGeneration struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

func (l *Luma) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(l.Name(), KindInvalidInput, err.Error())
	}
	if req.Mode() == ModeContinuation {
		return "", NewError(l.Name(), KindInvalidInput, "continuation from video is not supported")
	}
	caps := l.Capabilities()
	keyframes := map[string]lumaKeyframe{
		"frame0": {Type: "image", URL: req.SeedImage()},
	}
	if req.EndImageURL != "" {
		keyframes["frame1"] = lumaKeyframe{Type: "image", URL: req.EndImageURL}
	}
	body := lumaRequest{
		Prompt:      normalize.BuildPrompt(req.Prompt, normalize.CameraPhrase(req.Camera), caps.MaxPromptLength),
		Model:       firstNonEmpty(req.Model, l.cfg.Model),
		AspectRatio: normalize.NearestAspect(req.AspectRatio, caps.AspectRatios),
		Duration:    fmt.Sprintf("%ds", caps.ClampDuration(req.DurationSeconds)),
		Keyframes:   keyframes,
	}

	var gen lumaGeneration
	if err := l.api.doJSON(ctx, http.MethodPost, l.cfg.BaseURL+"/dream-machine/v1/generations", body, &gen); err != nil {
		return "", err
	}
	if gen.ID == "" {
		return "", NewError(l.Name(), KindProtocol, "response missing id")
	}
	return gen.ID, nil
}

func (l *Luma) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	var gen lumaGeneration
	if err := l.api.doJSON(ctx, http.MethodGet, l.generationURL(externalID), nil, &gen); err != nil {
		return nil, err
	}
	state, kind, known := ParseState(gen.State)
	if !known {
		l.api.logger.Warn("unknown generation state", zap.String("generation_id", externalID), zap.String("state", gen.State))
	}
	st := &Status{State: state, Progress: ProgressUnknown}
	switch state {
	case StateCompleted:
		st.ResultURL = gen.Assets.Video
	case StateFailed:
		st.ErrorKind = kind
		st.ErrorMessage = gen.FailureReason
		if strings.Contains(strings.ToLower(gen.FailureReason), "moderation") {
			st.ErrorKind = KindModeration
		}
	}
	return st, nil
}

func (l *Luma) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, l, l.api, externalID, nil)
}

func (l *Luma) Cancel(ctx context.Context, externalID string) error {
	return l.api.doJSON(ctx, http.MethodDelete, l.generationURL(externalID), nil, nil)
}

func (l *Luma) generationURL(id string) string {
	return fmt.Sprintf("%s/dream-machine/v1/generations/%s", l.cfg.BaseURL, id)
}
