package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

// Worker talks to the self-hosted GPU worker: POST /v1/generate creates a
// job, GET /v1/jobs/{id} reports it, DELETE /v1/jobs/{id} cancels it.
type Worker struct {
	cfg Config
	api *httpClient
}

func NewWorker(cfg Config, logger *zap.Logger) *Worker {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	var auth func(r *http.Request) error
	if cfg.APIKey != "" {
		auth = bearer(cfg.APIKey)
	}
	return &Worker{cfg: cfg, api: newHTTPClient("worker", cfg, logger, auth)}
}

func (w *Worker) Name() string { return "worker" }

func (w *Worker) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: true,
		MaxReferenceImages:   1,
		MaxPromptLength:      2000,
	}
}

type workerParams struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	EndImageURL    string `json:"end_image_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Model          string `json:"model,omitempty"`
}

type workerRequest struct {
	Type       string       `json:"type"`
	Parameters workerParams `json:"parameters"`
}

type workerJob struct {
	ID       string  `json:"id"`
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress *int    `json:"progress"`
	Message  string  `json:"message"`
	Error    string  `json:"error"`
	Cost     float64 `json:"estimated_cost"`
	Result   struct {
		ResourceType string `json:"resource_type"`
		ResourceID   string `json:"resource_id"`
		ResourceURL  string `json:"resource_url"`
	} `json:"result"`
}

func (w *Worker) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(w.Name(), KindInvalidInput, err.Error())
	}
	jobType := "generate_video"
	if req.Mode() == ModeContinuation {
		jobType = "extend_video"
	}
	model := req.Model
	if model == "" {
		model = w.cfg.Model
	}
	// the worker only understands camera movement as prompt text
	caps := w.Capabilities()
	body := workerRequest{
		Type: jobType,
		Parameters: workerParams{
			Prompt:         normalize.BuildPrompt(req.Prompt, normalize.CameraPhrase(req.Camera), caps.MaxPromptLength),
			NegativePrompt: req.NegativePrompt,
			ImageURL:       req.SeedImage(),
			EndImageURL:    req.EndImageURL,
			VideoURL:       req.VideoURL,
			Duration:       req.DurationSeconds,
			AspectRatio:    req.AspectRatio,
			Model:          model,
		},
	}

	var job workerJob
	if err := w.api.doJSON(ctx, http.MethodPost, w.cfg.BaseURL+"/v1/generate", body, &job); err != nil {
		return "", err
	}
	// the root id wins over job_id
	if job.ID != "" {
		return job.ID, nil
	}
	if job.JobID != "" {
		return job.JobID, nil
	}
	return "", NewError(w.Name(), KindProtocol, "response missing id")
}

func (w *Worker) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	var job workerJob
	if err := w.api.doJSON(ctx, http.MethodGet, w.jobURL(externalID), nil, &job); err != nil {
		return nil, err
	}
	state, kind, known := ParseState(job.Status)
	if !known {
		w.api.logger.Warn("unknown job status", zap.String("job_id", externalID), zap.String("status", job.Status))
	}
	st := &Status{State: state, Progress: ProgressUnknown, Cost: job.Cost}
	if job.Progress != nil {
		st.Progress = *job.Progress
	}
	switch state {
	case StateCompleted:
		st.ResultURL = job.Result.ResourceURL
	case StateFailed:
		st.ErrorKind = kind
		st.ErrorMessage = firstNonEmpty(job.Error, job.Message)
	}
	return st, nil
}

func (w *Worker) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, w, w.api, externalID, nil)
}

func (w *Worker) Cancel(ctx context.Context, externalID string) error {
	if externalID == "" {
		return NewError(w.Name(), KindInvalidInput, "empty job id")
	}
	return w.api.doJSON(ctx, http.MethodDelete, w.jobURL(externalID), nil, nil)
}

func (w *Worker) jobURL(id string) string {
	return fmt.Sprintf("%s/v1/jobs/%s", w.cfg.BaseURL, id)
}

// fetchByStatus re-reads the status to get a fresh artifact URL and downloads it.
func fetchByStatus(ctx context.Context, p Provider, c *httpClient, externalID string, headers map[string]string) ([]byte, error) {
	st, err := p.CheckStatus(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if st.State != StateCompleted {
		return nil, NewError(p.Name(), KindProtocol, fmt.Sprintf("artifact requested for %s job", st.State))
	}
	if st.ResultURL == "" {
		return nil, NewError(p.Name(), KindProtocol, "completed job has no artifact")
	}
	return c.download(ctx, st.ResultURL, headers)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
