package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

// MiniMax drives the Hailuo video_generation API. A finished task only
// carries a file id; the download URL comes from a second files/retrieve call.
type MiniMax struct {
	cfg Config
	api *httpClient
}

func NewMiniMax(cfg Config, logger *zap.Logger) *MiniMax {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.minimax.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "MiniMax-Hailuo-02"
	}
	return &MiniMax{cfg: cfg, api: newHTTPClient("minimax", cfg, logger, bearer(cfg.APIKey))}
}

func (m *MiniMax) Name() string { return "minimax" }

func (m *MiniMax) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: false,
		MaxReferenceImages:   1,
		Durations:            []int{6, 10},
		MaxPromptLength:      2000,
	}
}

type minimaxBaseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type minimaxRequest struct {
	Model           string `json:"model"`
	Prompt          string `json:"prompt"`
	FirstFrameImage string `json:"first_frame_image,omitempty"`
	LastFrameImage  string `json:"last_frame_image,omitempty"`
	Duration        int    `json:"duration,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	PromptOptimizer bool   `json:"prompt_optimizer"`
}

type minimaxSubmitResponse struct {
	TaskID   string          `json:"task_id"`
	BaseResp minimaxBaseResp `json:"base_resp"`
}

type minimaxQueryResponse struct {
	TaskID   string          `json:"task_id"`
	Status   string          `json:"status"`
	FileID   string          `json:"file_id"`
	BaseResp minimaxBaseResp `json:"base_resp"`
}

type minimaxFileResponse struct {
	File struct {
		FileID      any    `json:"file_id"`
		DownloadURL string `json:"download_url"`
	} `json:"file"`
	BaseResp minimaxBaseResp `json:"base_resp"`
}

// minimaxPrompt puts the bracket camera command in front of the scene text,
// falling back to a plain phrase when the directive has no command.
func minimaxPrompt(prompt, camera string, max int) string {
	if cmd, ok := normalize.CameraCommand(camera); ok {
		return normalize.BuildPrompt(prompt, cmd, max)
	}
	return normalize.BuildPrompt(prompt, normalize.CameraPhrase(camera), max)
}

func (m *MiniMax) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(m.Name(), KindInvalidInput, err.Error())
	}
	if req.Mode() == ModeContinuation {
		return "", NewError(m.Name(), KindInvalidInput, "continuation from video is not supported")
	}
	caps := m.Capabilities()
	duration := caps.ClampDuration(req.DurationSeconds)
	resolution := "1080P"
	if duration > 6 {
		// 10 second clips are only rendered at 768P
		resolution = "768P"
	}
	body := minimaxRequest{
		Model:           firstNonEmpty(req.Model, m.cfg.Model),
		Prompt:          minimaxPrompt(req.Prompt, req.Camera, caps.MaxPromptLength),
		FirstFrameImage: req.SeedImage(),
		LastFrameImage:  req.EndImageURL,
		Duration:        duration,
		Resolution:      resolution,
		PromptOptimizer: true,
	}

	var resp minimaxSubmitResponse
	if err := m.api.doJSON(ctx, http.MethodPost, m.cfg.BaseURL+"/v1/video_generation", body, &resp); err != nil {
		return "", err
	}
	if err := m.baseRespError(resp.BaseResp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", NewError(m.Name(), KindProtocol, "response missing task_id")
	}
	return resp.TaskID, nil
}

func (m *MiniMax) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	var resp minimaxQueryResponse
	u := m.cfg.BaseURL + "/v1/query/video_generation?task_id=" + url.QueryEscape(externalID)
	if err := m.api.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	if err := m.baseRespError(resp.BaseResp); err != nil {
		return nil, err
	}
	state, kind, known := ParseState(resp.Status)
	if !known {
		m.api.logger.Warn("unknown task status", zap.String("task_id", externalID), zap.String("status", resp.Status))
	}
	st := &Status{State: state, Progress: ProgressUnknown}
	switch state {
	case StateCompleted:
		if resp.FileID == "" {
			return st, nil
		}
		downloadURL, err := m.retrieveFile(ctx, resp.FileID)
		if err != nil {
			return nil, err
		}
		st.ResultURL = downloadURL
	case StateFailed:
		st.ErrorKind = kind
		st.ErrorMessage = firstNonEmpty(resp.BaseResp.StatusMsg, resp.Status)
	}
	return st, nil
}

func (m *MiniMax) retrieveFile(ctx context.Context, fileID string) (string, error) {
	var resp minimaxFileResponse
	u := m.cfg.BaseURL + "/v1/files/retrieve?file_id=" + url.QueryEscape(fileID)
	if err := m.api.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}
	if err := m.baseRespError(resp.BaseResp); err != nil {
		return "", err
	}
	return resp.File.DownloadURL, nil
}

func (m *MiniMax) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, m, m.api, externalID, nil)
}

// baseRespError maps MiniMax base_resp codes onto the taxonomy.
func (m *MiniMax) baseRespError(br minimaxBaseResp) *Error {
	var kind Kind
	switch br.StatusCode {
	case 0:
		return nil
	case 1002, 1039:
		kind = KindRateLimited
	case 1004:
		kind = KindAuth
	case 1008:
		kind = KindQuota
	case 1013, 2013:
		kind = KindInvalidInput
	case 1026, 1027:
		kind = KindModeration
	case 1000, 1001:
		kind = KindTransient
	default:
		kind = KindProtocol
	}
	return NewError(m.Name(), kind, fmt.Sprintf("status_code %d: %s", br.StatusCode, br.StatusMsg))
}
