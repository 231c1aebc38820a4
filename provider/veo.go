package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"StoryReel-server/normalize"
)

// Veo drives Google Veo through the Gemini API long running operations. The
// operation name is the external id; artifacts are downloaded with the API key.
type Veo struct {
	cfg Config
	api *httpClient
}

func NewVeo(cfg Config, logger *zap.Logger) *Veo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "veo-3.0-generate-001"
	}
	key := cfg.APIKey
	auth := func(r *http.Request) error {
		r.Header.Set("x-goog-api-key", key)
		return nil
	}
	return &Veo{cfg: cfg, api: newHTTPClient("veo", cfg, logger, auth)}
}

func (v *Veo) Name() string { return "veo" }

func (v *Veo) Capabilities() Capabilities {
	return Capabilities{
		SupportsContinuation: false,
		MaxReferenceImages:   1,
		Durations:            []int{4, 6, 8},
		MaxPromptLength:      1024,
		AspectRatios:         []string{normalize.Aspect16x9, normalize.Aspect9x16},
	}
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RaiMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
			RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (v *Veo) Submit(ctx context.Context, req *GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(v.Name(), KindInvalidInput, err.Error())
	}
	if req.Mode() == ModeContinuation {
		return "", NewError(v.Name(), KindInvalidInput, "continuation from video is not supported")
	}
	caps := v.Capabilities()

	// the Gemini API takes inline image bytes, not URLs
	img, err := v.api.download(ctx, req.SeedImage(), nil)
	if err != nil {
		return "", NewError(v.Name(), KindInvalidInput, "seed image unavailable").WithCause(err)
	}
	body := veoRequest{
		Instances: []veoInstance{{
			Prompt: normalize.BuildPrompt(req.Prompt, normalize.CameraPhrase(req.Camera), caps.MaxPromptLength),
			Image: &veoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(img),
				MimeType:           http.DetectContentType(img),
			},
		}},
		Parameters: veoParameters{
			AspectRatio:      normalize.NearestAspect(req.AspectRatio, caps.AspectRatios),
			NegativePrompt:   req.NegativePrompt,
			DurationSeconds:  caps.ClampDuration(req.DurationSeconds),
			PersonGeneration: "allow_adult",
		},
	}

	model := firstNonEmpty(req.Model, v.cfg.Model)
	var op veoOperation
	url := fmt.Sprintf("%s/models/%s:predictLongRunning", v.cfg.BaseURL, model)
	if err := v.api.doJSON(ctx, http.MethodPost, url, body, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", NewError(v.Name(), KindProtocol, "response missing operation name")
	}
	return op.Name, nil
}

func (v *Veo) CheckStatus(ctx context.Context, externalID string) (*Status, error) {
	var op veoOperation
	if err := v.api.doJSON(ctx, http.MethodGet, v.cfg.BaseURL+"/"+strings.TrimLeft(externalID, "/"), nil, &op); err != nil {
		return nil, err
	}
	if !op.Done {
		return &Status{State: StateProcessing, Progress: ProgressUnknown}, nil
	}
	if op.Error != nil {
		st := &Status{State: StateFailed, Progress: ProgressUnknown, ErrorKind: KindFailed, ErrorMessage: op.Error.Message}
		msg := strings.ToLower(op.Error.Message)
		if strings.Contains(msg, "safety") || strings.Contains(msg, "responsible ai") {
			st.ErrorKind = KindModeration
		}
		return st, nil
	}
	res := op.Response.GenerateVideoResponse
	if res.RaiMediaFilteredCount > 0 {
		return &Status{
			State:        StateFailed,
			Progress:     ProgressUnknown,
			ErrorKind:    KindModeration,
			ErrorMessage: strings.Join(res.RaiMediaFilteredReasons, "; "),
		}, nil
	}
	st := &Status{State: StateCompleted, Progress: 100}
	if len(res.GeneratedSamples) > 0 {
		st.ResultURL = res.GeneratedSamples[0].Video.URI
	}
	return st, nil
}

func (v *Veo) FetchArtifact(ctx context.Context, externalID string) ([]byte, error) {
	return fetchByStatus(ctx, v, v.api, externalID, map[string]string{"x-goog-api-key": v.cfg.APIKey})
}
