package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

const runwayAPIVersion = "2024-11-06"

// Runway drives Runway's gen4 image_to_video and the aleph video_to_video
// endpoints. Both produce a task polled at /v1/tasks/{id}.
type Runway struct {
	cfg Config
	api *httpClient
}

func NewRunway(cfg Config, logger *zap.Logger) *Runway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dev.runwayml.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gen4_turbo"
	}
	token := cfg.APIKey
	auth := func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("X-Runway-Version", runwayAPIVersion)
		return nil
	}
	r := &Runway{cfg: cfg, api: newHTTPClient("runway", cfg, logger, auth)}
	r.api.classify = classifyRunway
	return r
}

func (r *Runway) Name() string { return "runway" }

func (r *Runway) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: true,
		MaxReferenceImages:   2,
		Durations:            []int{5, 10},
		MaxPromptLength:      1000,
		AspectRatios: []string{
			normalize.Aspect16x9, normalize.Aspect9x16, normalize.Aspect1x1,
			normalize.Aspect4x3, normalize.Aspect3x4, normalize.Aspect21x9,
		},
	}
}

type runwayPromptImage struct {
	URI      string `json:"uri"`
	Position string `json:"position"`
}

type runwayImageRequest struct {
	Model       string              `json:"model"`
	PromptImage []runwayPromptImage `json:"promptImage"`
	PromptText  string              `json:"promptText,omitempty"`
	Ratio       string              `json:"ratio"`
	Duration    int                 `json:"duration"`
}

type runwayVideoRequest struct {
	Model      string `json:"model"`
	VideoURI   string `json:"videoUri"`
	PromptText string `json:"promptText"`
	Ratio      string `json:"ratio"`
}

type runwayTask struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Progress    *float64 `json:"progress"`
	Output      []string `json:"output"`
	Failure     string   `json:"failure"`
	FailureCode string   `json:"failureCode"`
}

func (r *Runway) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(r.Name(), KindInvalidInput, err.Error())
	}
	caps := r.Capabilities()
	prompt := normalize.BuildPrompt(req.Prompt, normalize.CameraPhrase(req.Camera), caps.MaxPromptLength)
	ratio := normalize.RunwayRatio(normalize.NearestAspect(req.AspectRatio, caps.AspectRatios))

	var (
		path string
		body any
	)
	if req.Mode() == ModeContinuation {
		path = "/v1/video_to_video"
		body = runwayVideoRequest{
			Model:      "gen4_aleph",
			VideoURI:   req.VideoURL,
			PromptText: prompt,
			Ratio:      ratio,
		}
	} else {
		images := []runwayPromptImage{{URI: req.SeedImage(), Position: "first"}}
		if req.EndImageURL != "" {
			images = append(images, runwayPromptImage{URI: req.EndImageURL, Position: "last"})
		}
		path = "/v1/image_to_video"
		body = runwayImageRequest{
			Model:       firstNonEmpty(req.Model, r.cfg.Model),
			PromptImage: images,
			PromptText:  prompt,
			Ratio:       ratio,
			Duration:    caps.ClampDuration(req.DurationSeconds),
		}
	}

	var task runwayTask
	if err := r.api.doJSON(ctx, http.MethodPost, r.cfg.BaseURL+path, body, &task); err != nil {
		return "", err
	}
	if task.ID == "" {
		return "", NewError(r.Name(), KindProtocol, "response missing id")
	}
	return task.ID, nil
}

func (r *Runway) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	var task runwayTask
	if err := r.api.doJSON(ctx, http.MethodGet, r.taskURL(externalID), nil, &task); err != nil {
		return nil, err
	}
	state, kind, known := ParseState(task.Status)
	if !known {
		r.api.logger.Warn("unknown task status", zap.String("task_id", externalID), zap.String("status", task.Status))
	}
	st := &Status{State: state, Progress: ProgressUnknown}
	if task.Progress != nil {
		// runway reports a 0-1 fraction
		st.Progress = int(math.Round(*task.Progress * 100))
	}
	switch state {
	case StateCompleted:
		if len(task.Output) > 0 {
			st.ResultURL = task.Output[0]
		}
	case StateFailed:
		st.ErrorKind = kind
		st.ErrorMessage = firstNonEmpty(task.Failure, task.FailureCode)
		if strings.HasPrefix(strings.ToUpper(task.FailureCode), "SAFETY") {
			st.ErrorKind = KindModeration
		}
	}
	return st, nil
}

func (r *Runway) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, r, r.api, externalID, nil)
}

func (r *Runway) Cancel(ctx context.Context, externalID string) error {
	return r.api.doJSON(ctx, http.MethodDelete, r.taskURL(externalID), nil, nil)
}

func (r *Runway) taskURL(id string) string {
	return fmt.Sprintf("%s/v1/tasks/%s", r.cfg.BaseURL, id)
}

// classifyRunway catches the 400 Runway answers with when credits run out,
// which would otherwise read as invalid input.
func classifyRunway(status int, body []byte) *Error {
	if status != http.StatusBadRequest {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	msg := strings.ToLower(payload.Error)
	switch {
	case strings.Contains(msg, "credits"):
		return &Error{Kind: KindQuota, Detail: payload.Error}
	case strings.Contains(msg, "safety") || strings.Contains(msg, "moderation"):
		return &Error{Kind: KindModeration, Detail: payload.Error}
	}
	return nil
}
