package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

const (
	klingImage2Video      = "image2video"
	klingMultiImage2Video = "multi-image2video"
)

// Kling drives Kling's image2video and multi-image2video endpoints. Requests
// are signed with a short-lived HS256 token built from the access/secret key
// pair. The external id encodes the endpoint so status checks hit the right
// path: "image2video/<task_id>".
type Kling struct {
	cfg Config
	api *httpClient
	now func() time.Time
}

func NewKling(cfg Config, logger *zap.Logger) *Kling {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.klingai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "kling-v2-1"
	}
	k := &Kling{cfg: cfg, now: time.Now}
	k.api = newHTTPClient("kling", cfg, logger, k.sign)
	k.api.classify = k.classify
	return k
}

func (k *Kling) Name() string { return "kling" }

func (k *Kling) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: false,
		MaxReferenceImages:   4,
		Durations:            []int{5, 10},
		MaxPromptLength:      2500,
		AspectRatios:         []string{normalize.Aspect16x9, normalize.Aspect9x16, normalize.Aspect1x1},
	}
}

// signToken builds the bearer token: iss is the access key, valid for 30
// minutes, with a 5 second nbf skew allowance.
func (k *Kling) signToken() (string, error) {
	now := k.now()
	claims := jwt.MapClaims{
		"iss": k.cfg.AccessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(k.cfg.SecretKey))
}

func (k *Kling) sign(r *http.Request) error {
	if k.cfg.AccessKey == "" || k.cfg.SecretKey == "" {
		return fmt.Errorf("kling access key and secret key are required")
	}
	token, err := k.signToken()
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return nil
}

type klingCameraControl struct {
	Type   string                  `json:"type"`
	Config *normalize.CameraVector `json:"config,omitempty"`
}

type klingImage struct {
	Image string `json:"image"`
}

type klingRequest struct {
	ModelName      string              `json:"model_name"`
	Image          string              `json:"image,omitempty"`
	ImageTail      string              `json:"image_tail,omitempty"`
	ImageList      []klingImage        `json:"image_list,omitempty"`
	Prompt         string              `json:"prompt,omitempty"`
	NegativePrompt string              `json:"negative_prompt,omitempty"`
	Duration       string              `json:"duration,omitempty"`
	AspectRatio    string              `json:"aspect_ratio,omitempty"`
	Mode           string              `json:"mode,omitempty"`
	CameraControl  *klingCameraControl `json:"camera_control,omitempty"`
}

type klingResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				ID       string `json:"id"`
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

func (k *Kling) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(k.Name(), KindInvalidInput, err.Error())
	}
	if req.Mode() == ModeContinuation {
		return "", NewError(k.Name(), KindInvalidInput, "continuation from video is not supported")
	}
	caps := k.Capabilities()
	model := firstNonEmpty(req.Model, k.cfg.Model)
	body := klingRequest{
		ModelName:      model,
		Prompt:         normalize.TruncatePrompt(req.Prompt, caps.MaxPromptLength),
		NegativePrompt: req.NegativePrompt,
		Duration:       strconv.Itoa(caps.ClampDuration(req.DurationSeconds)),
		Mode:           "pro",
	}

	endpoint := klingImage2Video
	if len(req.ElementImageURLs) > 0 {
		// multi-image takes the seed plus element references, no tail frame or camera
		endpoint = klingMultiImage2Video
		images := caps.LimitImages(append([]string{req.SeedImage()}, req.ElementImageURLs...))
		for _, u := range images {
			body.ImageList = append(body.ImageList, klingImage{Image: u})
		}
		body.AspectRatio = normalize.NearestAspect(req.AspectRatio, caps.AspectRatios)
	} else {
		body.Image = req.SeedImage()
		body.ImageTail = req.EndImageURL
		if cc := k.cameraControl(req); cc != nil && body.ImageTail == "" {
			body.CameraControl = cc
		}
	}

	var resp klingResponse
	if err := k.api.doJSON(ctx, http.MethodPost, k.cfg.BaseURL+"/v1/videos/"+endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", k.codeError(resp.Code, resp.Message)
	}
	if resp.Data.TaskID == "" {
		return "", NewError(k.Name(), KindProtocol, "response missing task_id")
	}
	return endpoint + "/" + resp.Data.TaskID, nil
}

func (k *Kling) cameraControl(req *GenerationRequest) *klingCameraControl {
	if req.CameraVector != nil && !req.CameraVector.IsZero() {
		v := *req.CameraVector
		return &klingCameraControl{Type: "simple", Config: &v}
	}
	if v, ok := normalize.CameraVectorFor(req.Camera); ok {
		return &klingCameraControl{Type: "simple", Config: &v}
	}
	return nil
}

func (k *Kling) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	endpoint, taskID := splitKlingID(externalID)
	var resp klingResponse
	url := fmt.Sprintf("%s/v1/videos/%s/%s", k.cfg.BaseURL, endpoint, taskID)
	if err := k.api.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, k.codeError(resp.Code, resp.Message)
	}
	state, kind, known := ParseState(resp.Data.TaskStatus)
	if !known {
		k.api.logger.Warn("unknown task status", zap.String("task_id", taskID), zap.String("status", resp.Data.TaskStatus))
	}
	st := &Status{State: state, Progress: ProgressUnknown}
	switch state {
	case StateCompleted:
		if videos := resp.Data.TaskResult.Videos; len(videos) > 0 {
			st.ResultURL = videos[0].URL
		}
	case StateFailed:
		st.ErrorKind = kind
		st.ErrorMessage = resp.Data.TaskStatusMsg
		if isKlingRiskMessage(resp.Data.TaskStatusMsg) {
			st.ErrorKind = KindModeration
		}
	}
	return st, nil
}

func (k *Kling) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, k, k.api, externalID, nil)
}

func splitKlingID(externalID string) (endpoint, taskID string) {
	if ep, id, ok := strings.Cut(externalID, "/"); ok {
		return ep, id
	}
	return klingImage2Video, externalID
}

func isKlingRiskMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "risk") || strings.Contains(m, "sensitive") || strings.Contains(m, "content security")
}

// codeError maps Kling business codes. 1000-1004 are auth problems, 1100-1102
// account balance, 1200-1203 parameters, 1300-1304 policy and rate limits,
// 5000+ server side.
func (k *Kling) codeError(code int, msg string) *Error {
	var kind Kind
	switch {
	case code >= 1000 && code < 1100:
		kind = KindAuth
	case code >= 1100 && code < 1200:
		kind = KindQuota
	case code >= 1200 && code < 1300:
		kind = KindInvalidInput
	case code == 1301:
		kind = KindModeration
	case code == 1302 || code == 1303:
		kind = KindRateLimited
	case code >= 1300 && code < 1400:
		kind = KindInvalidInput
	case code >= 5000:
		kind = KindTransient
	default:
		kind = KindProtocol
	}
	return NewError(k.Name(), kind, fmt.Sprintf("code %d: %s", code, msg))
}

func (k *Kling) classify(status int, body []byte) *Error {
	var resp klingResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code == 0 {
		return nil
	}
	return k.codeError(resp.Code, resp.Message).WithHTTPStatus(status)
}
