package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"StoryReel-server/config"
	"StoryReel-server/sequencer"
)

// MediaClient talks to the post-processing service that owns ffmpeg.
type MediaClient struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

func NewMediaClient(cfg config.MediaConfig, logger *zap.Logger) *MediaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &MediaClient{
		base:   strings.TrimRight(cfg.Addr, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "media")),
	}
}

type mediaResponse struct {
	ImageURL string `json:"image_url"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

// ExtractLastFrame returns the URL of a still taken from the clip's last
// frame.
func (m *MediaClient) ExtractLastFrame(ctx context.Context, videoURL string) (string, error) {
	var out mediaResponse
	if err := m.post(ctx, "/v1/frames/last", map[string]string{"video_url": videoURL}, &out); err != nil {
		return "", err
	}
	if out.ImageURL == "" {
		return "", fmt.Errorf("media: no image_url in response")
	}
	return out.ImageURL, nil
}

// Concatenate joins the clips in the given order.
func (m *MediaClient) Concatenate(ctx context.Context, videoURLs []string) (string, error) {
	if len(videoURLs) == 0 {
		return "", fmt.Errorf("media: nothing to concatenate")
	}
	var out mediaResponse
	if err := m.post(ctx, "/v1/concat", map[string][]string{"video_urls": videoURLs}, &out); err != nil {
		return "", err
	}
	if out.VideoURL == "" {
		return "", fmt.Errorf("media: no video_url in response")
	}
	return out.VideoURL, nil
}

// ComposeFinal mixes narration and titles into the joined video.
func (m *MediaClient) ComposeFinal(ctx context.Context, req sequencer.ComposeRequest) (string, error) {
	var out mediaResponse
	if err := m.post(ctx, "/v1/compose", req, &out); err != nil {
		return "", err
	}
	if out.VideoURL == "" {
		return "", fmt.Errorf("media: no video_url in response")
	}
	return out.VideoURL, nil
}

func (m *MediaClient) post(ctx context.Context, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("media: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("media: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("media %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("media %s: read response: %w", path, err)
	}
	m.logger.Debug("media call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		var e mediaResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("media %s: status %d: %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("media %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("media %s: decode response: %w", path, err)
	}
	return nil
}
