package http

import (
	"context"
	"errors"
	"net/http"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/internal/core/services"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports backend availability for the readiness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type SessionHandler struct {
	manager *services.SessionManager
	media   ports.MediaProvider
	health  HealthChecker
}

func NewSessionHandler(manager *services.SessionManager, media ports.MediaProvider, health HealthChecker) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		media:   media,
		health:  health,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.StartSession)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.EndSession)
		api.GET("/sessions/:id/stats", h.GetSessionStats)
		api.GET("/sessions/:id/events", h.StreamEvents)

		api.GET("/media", h.GetMediaState)
		api.PUT("/media", h.SetMediaState)
	}

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// StartSession joins a room, creating one when no room id is supplied.
// A full room maps to 409.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req struct {
		RoomID string `json:"room_id" binding:"max=64"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.manager.StartSession(c.Request.Context(), req.RoomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"room_id":    session.RoomID(),
		"role":       session.Role(),
		"state":      session.State(),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"room_id":    session.RoomID(),
		"role":       session.Role(),
		"peer_id":    session.Peer(),
		"state":      session.State(),
	})
}

func (h *SessionHandler) EndSession(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.manager.EndSession(c.Request.Context(), session.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ended",
	})
}

func (h *SessionHandler) GetSessionStats(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	stats := session.LastStats()
	if stats == nil {
		c.JSON(http.StatusOK, gin.H{
			"state": session.State(),
			"stats": nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":          session.State(),
		"stats":          stats,
		"bytes_sent":     domain.FormatBytes(stats.BytesSent),
		"bytes_received": domain.FormatBytes(stats.BytesReceived),
	})
}

// GetMediaState reports the local capture toggles.
func (h *SessionHandler) GetMediaState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"audio_enabled": h.media.AudioEnabled(),
		"video_enabled": h.media.VideoEnabled(),
	})
}

// SetMediaState mutes or unmutes local audio/video. Omitted fields are
// left untouched.
func (h *SessionHandler) SetMediaState(c *gin.Context) {
	var req struct {
		AudioEnabled *bool `json:"audio_enabled"`
		VideoEnabled *bool `json:"video_enabled"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.AudioEnabled != nil {
		h.media.SetAudioEnabled(*req.AudioEnabled)
	}
	if req.VideoEnabled != nil {
		h.media.SetVideoEnabled(*req.VideoEnabled)
	}

	c.JSON(http.StatusOK, gin.H{
		"audio_enabled": h.media.AudioEnabled(),
		"video_enabled": h.media.VideoEnabled(),
	})
}

func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) Ready(c *gin.Context) {
	if h.health != nil {
		if err := h.health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *SessionHandler) lookup(c *gin.Context) (*services.Session, bool) {
	session, err := h.manager.GetSession(domain.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return session, true
}
