package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"StoryReel-server/continuity"
	"StoryReel-server/models"
)

type sceneRequest struct {
	Prompt          string `json:"prompt"`
	NegativePrompt  string `json:"negative_prompt"`
	Camera          string `json:"camera"`
	ImageURL        string `json:"image_url"`
	Mode            string `json:"mode"`
	DurationSeconds int    `json:"duration_seconds"`
	// ParentNumber makes this a sub-scene of the scene with that number.
	ParentNumber int `json:"parent_number"`
}

type createStoryboardRequest struct {
	Title           string         `json:"title"`
	SourceImageURL  string         `json:"source_image_url"`
	Provider        string         `json:"provider"`
	AspectRatio     string         `json:"aspect_ratio"`
	DurationSeconds int            `json:"duration_seconds"`
	AudioURL        string         `json:"audio_url"`
	Scenes          []sceneRequest `json:"scenes"`
	// AutoStart enqueues generation right away.
	AutoStart bool `json:"auto_start"`
}

// CreateStoryboard: POST /v1/api/storyboards
func (h *Handler) CreateStoryboard(c *gin.Context) {
	var req createStoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Scenes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one scene is required"})
		return
	}
	prov, err := h.providers.Get(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sb := &models.Storyboard{
		ID:              uuid.NewString(),
		Title:           req.Title,
		SourceImageURL:  req.SourceImageURL,
		Provider:        prov.Name(),
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		AudioURL:        req.AudioURL,
	}
	scenes := make([]models.Scene, len(req.Scenes))
	for i, s := range req.Scenes {
		if strings.TrimSpace(s.Prompt) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scene prompt is required"})
			return
		}
		if s.Mode != "" && continuity.ParseOverride(s.Mode) == continuity.OverrideNone {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown scene mode: " + s.Mode})
			return
		}
		scenes[i] = models.Scene{
			ID:              uuid.NewString(),
			Number:          i + 1,
			Prompt:          s.Prompt,
			NegativePrompt:  s.NegativePrompt,
			Camera:          s.Camera,
			ImageURL:        s.ImageURL,
			Mode:            string(continuity.ParseOverride(s.Mode)),
			DurationSeconds: s.DurationSeconds,
		}
	}
	for i, s := range req.Scenes {
		if s.ParentNumber == 0 {
			continue
		}
		if s.ParentNumber < 1 || s.ParentNumber > len(scenes) || s.ParentNumber == i+1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent_number"})
			return
		}
		scenes[i].ParentSceneID = scenes[s.ParentNumber-1].ID
	}

	if err := h.store.CreateStoryboard(c.Request.Context(), sb, scenes); err != nil {
		h.logger.Error("create storyboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create storyboard failed: " + err.Error()})
		return
	}

	resp := gin.H{"storyboard": sb, "scenes": scenes}
	if req.AutoStart {
		jobID, err := h.jobs.EnqueueAdvance(c.Request.Context(), sb.ID)
		if err != nil {
			h.logger.Error("enqueue advance", zap.String("storyboard_id", sb.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
			return
		}
		resp["job_id"] = jobID
	}
	c.JSON(http.StatusCreated, resp)
}

// GetStoryboard: GET /v1/api/storyboards/:id
func (h *Handler) GetStoryboard(c *gin.Context) {
	sb, ok := h.loadStoryboard(c)
	if !ok {
		return
	}
	scenes, err := h.store.ListScenes(c.Request.Context(), sb.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"storyboard": sb, "scenes": scenes})
}

func (h *Handler) loadStoryboard(c *gin.Context) (*models.Storyboard, bool) {
	sb, err := h.store.GetStoryboard(c.Request.Context(), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "storyboard not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return sb, true
}
