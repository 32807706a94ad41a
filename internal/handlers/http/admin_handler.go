package http

import (
	"context"
	"net/http"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/internal/infrastructure/distributed"
	"connectsphere/internal/infrastructure/middleware"
	apperrors "connectsphere/pkg/errors"
	"connectsphere/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ClusterPresence answers which gateway instance holds a user.
type ClusterPresence interface {
	Lookup(ctx context.Context, userID domain.UserID) (*distributed.PresenceRecord, error)
}

type AdminHandler struct {
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	calls    ports.CallManager
	cluster  ClusterPresence
}

// NewAdminHandler accepts a nil cluster when redis is not configured.
func NewAdminHandler(registry ports.ConnectionRegistry, presence ports.PresenceTracker, calls ports.CallManager, cluster ClusterPresence) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		presence: presence,
		calls:    calls,
		cluster:  cluster,
	}
}

func (h *AdminHandler) SetupRoutes(router gin.IRouter, handlers ...gin.HandlerFunc) {
	api := router.Group("/api/v1", handlers...)
	{
		api.GET("/presence/:userId", h.GetPresence)
		api.GET("/calls/:sessionId", h.GetCall)
	}
}

type ClusterPresenceResponse struct {
	InstanceID string    `json:"instanceId"`
	Since      time.Time `json:"since"`
}

type PresenceResponse struct {
	UserID      domain.UserID            `json:"userId"`
	Status      domain.PresenceStatus    `json:"status"`
	Connections int                      `json:"connections"`
	Cluster     *ClusterPresenceResponse `json:"cluster,omitempty"`
}

func (h *AdminHandler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	if err := validation.ValidateIdentifier(userID, "userId"); err != nil {
		_ = c.Error(apperrors.NewValidationError(err.Error()))
		return
	}

	id := domain.UserID(userID)
	resp := PresenceResponse{
		UserID:      id,
		Status:      h.presence.Status(id),
		Connections: len(h.registry.ConnectionsFor(id)),
	}

	if h.cluster != nil {
		rec, err := h.cluster.Lookup(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "cluster presence unavailable", http.StatusServiceUnavailable))
			return
		}
		if rec != nil {
			resp.Cluster = &ClusterPresenceResponse{InstanceID: rec.InstanceID, Since: rec.Since}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetCall is limited to the session's participants.
func (h *AdminHandler) GetCall(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := validation.ValidateIdentifier(sessionID, "sessionId"); err != nil {
		_ = c.Error(apperrors.NewValidationError(err.Error()))
		return
	}

	session, ok := h.calls.Get(domain.CallSessionID(sessionID))
	if !ok {
		_ = c.Error(apperrors.FromDomain(domain.ErrSessionNotFound))
		return
	}

	caller, _ := middleware.UserID(c)
	if !session.IsParticipant(caller) {
		_ = c.Error(apperrors.FromDomain(domain.ErrNotParticipant))
		return
	}

	c.JSON(http.StatusOK, session)
}
