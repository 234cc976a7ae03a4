package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/sampler"
	"github.com/langchou/fieldtrack/internal/service"
)

// startRequest 开始追踪请求
type startRequest struct {
	SubjectID        string  `json:"subject_id"`
	SampleIntervalMS int64   `json:"sample_interval_ms"`
	VehicleID        *string `json:"vehicle_id"`
	RouteID          *string `json:"route_id"`
}

// incidentRequest 事件上报请求
type incidentRequest struct {
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// StartTracking 开始追踪
// POST /api/tracking/start
func (h *Handler) StartTracking(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if req.SubjectID == "" {
		req.SubjectID = h.defaultSubject
	}
	if req.SampleIntervalMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sample_interval_ms must be positive"})
		return
	}

	opts := service.StartOptions{
		SampleInterval: time.Duration(req.SampleIntervalMS) * time.Millisecond,
		VehicleID:      req.VehicleID,
		RouteID:        req.RouteID,
	}

	if err := h.tracker.Start(c.Request.Context(), req.SubjectID, opts); err != nil {
		if errors.Is(err, service.ErrInvalidSubject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject ID"})
			return
		}
		h.logger.Warn("Failed to start tracking", zap.String("subject_id", req.SubjectID), zap.Error(err))
		h.writeSensorError(c, err)
		return
	}

	h.logger.Info("Tracking started via API", zap.String("subject_id", req.SubjectID))
	c.JSON(http.StatusOK, gin.H{"data": h.tracker.Session()})
}

// StopTracking 停止追踪，总是成功
// POST /api/tracking/stop
func (h *Handler) StopTracking(c *gin.Context) {
	h.tracker.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Tracking stopped"})
}

// GetTrackingStatus 本机追踪状态
func (h *Handler) GetTrackingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"state":   h.tracker.State(),
			"session": h.tracker.Session(),
			"status":  h.tracker.LocalStatus(),
		},
	})
}

// GetCurrentLocation 按需定位
func (h *Handler) GetCurrentLocation(c *gin.Context) {
	sample, err := h.tracker.CurrentLocation(c.Request.Context())
	if err != nil {
		h.writeSensorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sample})
}

// ListActiveSubjects 正在追踪的对象
func (h *Handler) ListActiveSubjects(c *gin.Context) {
	subjects, err := h.tracker.ActiveSubjects(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list active subjects", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list active subjects"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subjects})
}

// GetSubjectStatus 对象状态
func (h *Handler) GetSubjectStatus(c *gin.Context) {
	status, err := h.tracker.TrackingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject ID"})
			return
		}
		h.logger.Error("Failed to get subject status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subject status"})
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No location data for subject"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// ReportIncident 上报事件。直接写入远端返回 201，进入离线队列返回 202
// POST /api/incidents
func (h *Handler) ReportIncident(c *gin.Context) {
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	inc, delivery, err := h.tracker.ReportIncident(c.Request.Context(), models.Incident{
		Category:    req.Category,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		if errors.Is(err, models.ErrEmptyIncident) ||
			errors.Is(err, models.ErrInvalidLatitude) ||
			errors.Is(err, models.ErrInvalidLongitude) ||
			errors.Is(err, service.ErrInvalidSubject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to report incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to report incident"})
		return
	}

	status := http.StatusCreated
	if delivery == service.DeliveredQueue {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": inc, "delivery": delivery})
}

// writeSensorError 定位错误转为响应，不同错误给出不同的处理建议
func (h *Handler) writeSensorError(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	code := "location_unavailable"
	switch {
	case errors.Is(err, sampler.ErrPermissionDenied):
		status = http.StatusForbidden
		code = "permission_denied"
	case errors.Is(err, sampler.ErrInsecureContext):
		status = http.StatusPreconditionFailed
		code = "insecure_context"
	case errors.Is(err, sampler.ErrSensorUnavailable):
		code = "sensor_unavailable"
	case errors.Is(err, sampler.ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "timeout"
	}

	c.JSON(status, gin.H{
		"error":   sampler.UserMessage(err),
		"code":    code,
		"details": err.Error(),
	})
}
