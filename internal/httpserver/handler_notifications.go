package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifysync/internal/lifecycle"
	"notifysync/internal/model"
	"notifysync/internal/push"
	"notifysync/internal/syncer"
)

// NotificationHandler exposes the synchronizer and lifecycle controller
// to the device UI. The agent serves one logged-in user at a time;
// requests authenticated as someone else are rejected.
type NotificationHandler struct {
	sync      *syncer.Syncer
	lifecycle *lifecycle.Controller
	registrar *push.Registrar
	logger    *zap.Logger
}

func NewNotificationHandler(s *syncer.Syncer, lc *lifecycle.Controller, reg *push.Registrar, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		sync:      s,
		lifecycle: lc,
		registrar: reg,
		logger:    logger,
	}
}

// requireSession checks the token's user against the active session.
func (h *NotificationHandler) requireSession(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	current := h.sync.UserID()
	if current == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
		return "", false
	}
	if userID != current {
		c.JSON(http.StatusForbidden, gin.H{"error": "session belongs to another user"})
		return "", false
	}
	return userID, true
}

func (h *NotificationHandler) Login(c *gin.Context) {
	userID := c.GetString("user_id")

	if err := h.lifecycle.OnLogin(c.Request.Context(), userID); err != nil {
		// The session is established even when the initial refresh
		// failed; the client falls back to cached data.
		c.JSON(http.StatusOK, gin.H{
			"user_id": userID,
			"warning": "refresh failed, showing cached notifications",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

func (h *NotificationHandler) Logout(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	h.lifecycle.OnLogout(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) List(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	list := h.sync.List()
	if list == nil {
		list = []*model.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": list,
		"unread_count":  h.sync.UnreadCount(),
	})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": h.sync.UnreadCount()})
}

func (h *NotificationHandler) Refresh(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	if err := h.sync.Refresh(c.Request.Context(), false); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": h.sync.UnreadCount()})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	if err := h.sync.MarkAsRead(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	if err := h.sync.MarkAllAsRead(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	if err := h.sync.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) ClearAll(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	h.sync.ClearAll(c.Request.Context())
	c.Status(http.StatusNoContent)
}

type pushTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required"`
}

// RegisterPushToken lets the device UI hand over the OS push token it
// resolved. Registration is idempotent server-side.
func (h *NotificationHandler) RegisterPushToken(c *gin.Context) {
	userID, ok := h.requireSession(c)
	if !ok {
		return
	}

	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push token payload"})
		return
	}

	h.registrar.SendToken(c.Request.Context(), userID, req.Token, req.Platform)
	h.registrar.MarkRegistered(c.Request.Context(), userID)
	c.Status(http.StatusNoContent)
}

type appStateRequest struct {
	State model.AppState `json:"state" binding:"required"`
}

func (h *NotificationHandler) AppState(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}

	var req appStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app state payload"})
		return
	}

	switch req.State {
	case model.AppStateActive, model.AppStateBackground, model.AppStateInactive:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown app state"})
		return
	}

	h.lifecycle.OnAppStateChange(c.Request.Context(), req.State)
	c.Status(http.StatusNoContent)
}
