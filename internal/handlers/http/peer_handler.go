package http

import (
	"context"
	"net/http"
	"time"

	apperrors "callbox/pkg/errors"
	"callbox/pkg/logger"
	"callbox/pkg/tracing"
	"callbox/pkg/validation"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerHost accepts and tears down remote peer connections.
type PeerHost interface {
	Accept(ctx context.Context, offer webrtc.SessionDescription) (string, *webrtc.SessionDescription, error)
	Close(id string) error
}

type PeerHandler struct {
	peers              PeerHost
	negotiationTimeout time.Duration
	logger             *zap.SugaredLogger
}

func NewPeerHandler(peers PeerHost, negotiationTimeout time.Duration, logger *zap.SugaredLogger) *PeerHandler {
	return &PeerHandler{
		peers:              peers,
		negotiationTimeout: negotiationTimeout,
		logger:             logger,
	}
}

func (h *PeerHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/peers", h.CreatePeer)
		api.DELETE("/peers/:id", h.DeletePeer)
	}
}

func (h *PeerHandler) CreatePeer(c *gin.Context) {
	var req struct {
		SDP  string `json:"sdp" binding:"required"`
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("sdp and type are required"))
		return
	}
	if err := validation.ValidateOffer(req.Type, req.SDP); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.negotiationTimeout)
	defer cancel()
	ctx, span := tracing.TracePeer(ctx, "accept", "")
	defer span.End()

	id, answer, err := h.peers.Accept(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		h.logger.Warnw("failed to accept peer",
			"error", err,
			"request_id", logger.RequestID(c.Request.Context()),
		)
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "failed to negotiate: "+err.Error(), http.StatusBadRequest))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":   id,
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
}

func (h *PeerHandler) DeletePeer(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidatePeerID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	ctx, span := tracing.TracePeer(c.Request.Context(), "close", id)
	defer span.End()

	if err := h.peers.Close(id); err != nil {
		tracing.RecordError(ctx, err)
		c.Error(apperrors.Classify(err, controlErrors...))
		return
	}
	c.Status(http.StatusNoContent)
}
