package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"StoryReel-server/continuity"
	"StoryReel-server/models"
	"StoryReel-server/sequencer"
	"StoryReel-server/service"
)

// Advance: POST /v1/api/storyboards/:id/advance
func (h *Handler) Advance(c *gin.Context) {
	sb, ok := h.loadStoryboard(c)
	if !ok {
		return
	}
	if sb.Status == models.StoryboardStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "storyboard is already completed"})
		return
	}
	jobID, err := h.jobs.EnqueueAdvance(c.Request.Context(), sb.ID)
	if err != nil {
		h.enqueueFailed(c, sb.ID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "storyboard_id": sb.ID})
}

// Regenerate: POST /v1/api/storyboards/:id/scenes/:number/regenerate
func (h *Handler) Regenerate(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scene number"})
		return
	}
	var ov sequencer.Overrides
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&ov); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if ov.Mode != "" && continuity.ParseOverride(ov.Mode) == continuity.OverrideNone {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown scene mode: " + ov.Mode})
		return
	}
	ov.Mode = string(continuity.ParseOverride(ov.Mode))

	sb, ok := h.loadStoryboard(c)
	if !ok {
		return
	}
	scenes, err := h.store.ListScenes(c.Request.Context(), sb.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	found := false
	for _, sc := range scenes {
		if sc.Number == number {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found"})
		return
	}

	jobID, err := h.jobs.EnqueueRegenerate(c.Request.Context(), service.RegeneratePayload{
		StoryboardID: sb.ID,
		SceneNumber:  number,
		Overrides:    ov,
	})
	if err != nil {
		h.enqueueFailed(c, sb.ID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "storyboard_id": sb.ID, "scene_number": number})
}

// Finalize: POST /v1/api/storyboards/:id/finalize
func (h *Handler) Finalize(c *gin.Context) {
	sb, ok := h.loadStoryboard(c)
	if !ok {
		return
	}
	scenes, err := h.store.ListScenes(c.Request.Context(), sb.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, sc := range scenes {
		if sc.Status != models.SceneStatusCompleted {
			c.JSON(http.StatusConflict, gin.H{"error": sequencer.ErrNotReady.Error()})
			return
		}
	}
	jobID, err := h.jobs.EnqueueFinalize(c.Request.Context(), sb.ID)
	if err != nil {
		h.enqueueFailed(c, sb.ID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "storyboard_id": sb.ID})
}

func (h *Handler) enqueueFailed(c *gin.Context, storyboardID string, err error) {
	h.logger.Error("enqueue job", zap.String("storyboard_id", storyboardID), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
}
