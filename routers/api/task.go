package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/task"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GetTask: GET /v1/api/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

type estimateRequest struct {
	Provider string                     `json:"provider"`
	Request  provider.GenerationRequest `json:"request"`
}

// Estimate: POST /v1/api/estimate
//
// Submits a throwaway job to read the provider's cost quote, then cancels it.
func (h *Handler) Estimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Request.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prov, err := h.providers.Get(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := task.New(prov, h.estimate, task.WithLogger(h.logger))
	q, err := m.Estimate(c.Request.Context(), &req.Request)
	switch {
	case errors.Is(err, task.ErrEstimateUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Warn("estimate failed", zap.String("provider", prov.Name()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": provider.UserMessage(err),
			"kind":  provider.KindOf(err),
			"quote": q,
		})
	default:
		c.JSON(http.StatusOK, gin.H{"quote": q})
	}
}

// ProgressWebSocket: GET /storyboards/:id/wss
//
// Sends the latest known event, then every event published for the
// storyboard until it completes or the client goes away.
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	sb, ok := h.loadStoryboard(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		// A read error means the client closed the socket.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events, closeSub, err := h.progress.Subscribe(ctx, sb.ID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "subscribe failed: " + err.Error()})
		return
	}
	defer closeSub()

	if latest, err := h.progress.Latest(ctx, sb.ID); err == nil && latest != nil {
		if err := conn.WriteJSON(latest); err != nil {
			return
		}
	} else if err := conn.WriteJSON(gin.H{"storyboardId": sb.ID, "status": sb.Status, "progress": sb.Progress}); err != nil {
		return
	}
	if sb.Status == models.StoryboardStatusCompleted {
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status == models.StoryboardStatusCompleted {
				return
			}
		}
	}
}
