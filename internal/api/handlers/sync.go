package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/service"
)

// TriggerSync 手动同步离线队列
// POST /api/sync
func (h *Handler) TriggerSync(c *gin.Context) {
	summary, err := h.sync.Run(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrRemoteUnreachable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Remote store unreachable, records stay queued",
			"data":  summary,
		})
		return
	case err != nil:
		h.logger.Error("Sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
		return
	}

	if summary.Coalesced {
		c.JSON(http.StatusAccepted, gin.H{"message": "Sync already in progress", "data": summary})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// GetPendingCount 待同步记录数
func (h *Handler) GetPendingCount(c *gin.Context) {
	pending, err := h.sync.PendingCount(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count pending records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count pending records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pending": pending}})
}

// GetConnectivity 联网状态与待同步数量
func (h *Handler) GetConnectivity(c *gin.Context) {
	pending, err := h.sync.PendingCount(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to count pending records", zap.Error(err))
		pending = -1
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"state":        h.connectivity.State(),
			"pending_sync": pending,
		},
	})
}
