package http

import (
	"net/http"

	"callbox/internal/core/domain"
	"callbox/internal/core/services"
	apperrors "callbox/pkg/errors"
	"callbox/pkg/tracing"
	"callbox/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// controlErrors maps pipeline sentinels onto HTTP responses.
var controlErrors = []apperrors.Rule{
	{Target: domain.ErrCaptureUnavailable, Code: apperrors.ErrCodeServiceUnavailable, HTTPStatus: http.StatusServiceUnavailable},
	{Target: domain.ErrPeerNotFound, Code: apperrors.ErrCodeNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrChannelExists, Code: apperrors.ErrCodeConflict, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrInvalidFrame, Code: apperrors.ErrCodeInvalidInput, HTTPStatus: http.StatusBadRequest},
	{Target: domain.ErrLayoutMismatch, Code: apperrors.ErrCodeInvalidInput, HTTPStatus: http.StatusBadRequest},
}

type ControlHandler struct {
	control *services.ControlService
}

func NewControlHandler(control *services.ControlService) *ControlHandler {
	return &ControlHandler{control: control}
}

// SetupRoutes registers the broadcast routes when this process hosts the
// sender and the capture routes when it hosts the graph.
func (h *ControlHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")

	if h.control.HasBroadcast() {
		broadcast := api.Group("/broadcast")
		{
			broadcast.POST("/start", h.StartBroadcast)
			broadcast.POST("/stop", h.StopBroadcast)
			broadcast.GET("/status", h.BroadcastStatus)
		}
	}

	if h.control.HasCapture() {
		capture := api.Group("/capture")
		{
			capture.PUT("/gain", h.SetGain)
			capture.POST("/enable", h.EnableCapture)
			capture.POST("/disable", h.DisableCapture)
			capture.GET("/status", h.CaptureStatus)
		}
	}
}

func (h *ControlHandler) StartBroadcast(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	// The body is optional; an empty name selects the configured default.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.NewInvalidInputError("invalid request body: " + err.Error()))
			return
		}
	}
	if err := validation.ValidateBroadcastName(req.Name); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	ctx, span := tracing.TraceBroadcast(c.Request.Context(), "start", req.Name)
	defer span.End()

	ok := h.control.StartBroadcast(ctx, req.Name)
	span.SetAttributes(attribute.Bool("broadcast.ok", ok))

	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *ControlHandler) StopBroadcast(c *gin.Context) {
	ctx, span := tracing.TraceBroadcast(c.Request.Context(), "stop", "")
	defer span.End()

	h.control.StopBroadcast(ctx)
	c.JSON(http.StatusOK, h.control.BroadcastStatus())
}

func (h *ControlHandler) BroadcastStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.BroadcastStatus())
}

func (h *ControlHandler) SetGain(c *gin.Context) {
	var req struct {
		Percent *int `json:"percent" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("percent is required"))
		return
	}
	if err := validation.ValidateGainPercent(*req.Percent); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("min", 0).WithContext("max", 100))
		return
	}

	if err := h.control.SetGain(c.Request.Context(), *req.Percent); err != nil {
		c.Error(apperrors.Classify(err, controlErrors...))
		return
	}
	h.respondCaptureStatus(c)
}

func (h *ControlHandler) EnableCapture(c *gin.Context) {
	if err := h.control.EnableCapture(c.Request.Context()); err != nil {
		c.Error(apperrors.Classify(err, controlErrors...))
		return
	}
	h.respondCaptureStatus(c)
}

func (h *ControlHandler) DisableCapture(c *gin.Context) {
	if err := h.control.DisableCapture(c.Request.Context()); err != nil {
		c.Error(apperrors.Classify(err, controlErrors...))
		return
	}
	h.respondCaptureStatus(c)
}

func (h *ControlHandler) CaptureStatus(c *gin.Context) {
	h.respondCaptureStatus(c)
}

func (h *ControlHandler) respondCaptureStatus(c *gin.Context) {
	status, err := h.control.CaptureStatus()
	if err != nil {
		c.Error(apperrors.Classify(err, controlErrors...))
		return
	}
	c.JSON(http.StatusOK, status)
}
